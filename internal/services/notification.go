package services

import (
	"fmt"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/tradeyard/api/internal/domain"
)

// FormatAmount renders a monetary amount with its currency symbol for human
// facing payloads. Unknown currency codes fall back to "<amount> <code>".
func FormatAmount(code string, amount float64) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Sprintf("%.2f %s", amount, code)
	}
	printer := message.NewPrinter(language.English)
	return printer.Sprintf("%v", currency.NarrowSymbol(unit.Amount(amount)))
}

// BuildOrderCreatedEvent assembles the notification payload for a committed
// order. The event carries denormalized line data so consumers never need to
// read the order back.
func BuildOrderCreatedEvent(order domain.Order) OrderEvent {
	lines := make([]OrderEventLine, 0, len(order.Items))
	for _, item := range order.Items {
		lineNet := item.LineSubtotal - item.LineDiscount
		lines = append(lines, OrderEventLine{
			ProductID:      item.ProductID,
			Name:           item.ProductName,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPriceFinal,
			LineTotal:      lineNet,
			TotalFormatted: FormatAmount(order.Currency, lineNet),
		})
	}
	return OrderEvent{
		Type:           orderEventCreated,
		OrderID:        order.ID,
		UserID:         order.UserID,
		StoreID:        order.StoreID,
		Currency:       order.Currency,
		Total:          order.Total,
		TotalFormatted: FormatAmount(order.Currency, order.Total),
		Lines:          lines,
		OccurredAt:     order.CreatedAt,
	}
}
