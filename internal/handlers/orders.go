package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/platform/auth"
	"github.com/tradeyard/api/internal/platform/httpx"
	"github.com/tradeyard/api/internal/platform/pagination"
	"github.com/tradeyard/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes order read endpoints for authenticated buyers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:    strings.TrimSpace(identity.UID),
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(identity.UID), orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID        string  `json:"id"`
	StoreID   string  `json:"store_id"`
	Status    string  `json:"status"`
	Currency  string  `json:"currency"`
	Total     float64 `json:"total"`
	CreatedAt string  `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string                   `json:"id"`
	UserID           string                   `json:"user_id"`
	StoreID          string                   `json:"store_id"`
	Status           string                   `json:"status"`
	Currency         string                   `json:"currency"`
	Totals           orderTotalsPayload       `json:"totals"`
	ShippingMethodID string                   `json:"shipping_method_id,omitempty"`
	PromotionID      string                   `json:"promotion_id,omitempty"`
	PromotionCode    string                   `json:"promotion_code,omitempty"`
	Adjustments      []priceAdjustmentPayload `json:"adjustments,omitempty"`
	Items            []orderItemPayload       `json:"items"`
	ShippingAddress  *addressPayload          `json:"shipping_address,omitempty"`
	CreatedAt        string                   `json:"created_at"`
	UpdatedAt        string                   `json:"updated_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

type priceAdjustmentPayload struct {
	ID     string  `json:"id,omitempty"`
	Code   string  `json:"code,omitempty"`
	Label  string  `json:"label,omitempty"`
	Type   string  `json:"type,omitempty"`
	Scope  string  `json:"scope"`
	Value  float64 `json:"value,omitempty"`
	Amount float64 `json:"amount"`
}

type orderItemPayload struct {
	ProductID      string  `json:"product_id"`
	ProductName    string  `json:"product_name,omitempty"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	UnitPriceFinal float64 `json:"unit_price_final"`
	LineSubtotal   float64 `json:"line_subtotal"`
	LineDiscount   float64 `json:"line_discount,omitempty"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:        order.ID,
		StoreID:   order.StoreID,
		Status:    string(order.Status),
		Currency:  order.Currency,
		Total:     order.Total,
		CreatedAt: formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		UserID:           order.UserID,
		StoreID:          order.StoreID,
		Status:           string(order.Status),
		Currency:         order.Currency,
		ShippingMethodID: order.ShippingMethodID,
		PromotionID:      order.PromotionID,
		PromotionCode:    order.PromotionCodeUsed,
		Totals: orderTotalsPayload{
			Subtotal: order.Subtotal,
			Discount: order.DiscountTotal,
			Tax:      order.TaxTotal,
			Shipping: order.ShippingTotal,
			Total:    order.Total,
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}

	for _, adj := range order.PriceAdjustments {
		payload.Adjustments = append(payload.Adjustments, priceAdjustmentPayload{
			ID:     adj.ID,
			Code:   adj.Code,
			Label:  adj.Label,
			Type:   adj.Type,
			Scope:  string(adj.Scope),
			Value:  adj.Value,
			Amount: adj.Amount,
		})
	}

	payload.Items = make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			UnitPriceFinal: item.UnitPriceFinal,
			LineSubtotal:   item.LineSubtotal,
			LineDiscount:   item.LineDiscount,
		})
	}

	if order.ShippingAddress != nil {
		payload.ShippingAddress = &addressPayload{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		}
	}

	return payload
}
