package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tradeyard/api/internal/domain"
	fs "github.com/tradeyard/api/internal/platform/firestore"
	"github.com/tradeyard/api/internal/platform/pagination"
)

const collectionOrders = "orders"

type orderItemDoc struct {
	ProductID      string  `firestore:"productId"`
	ProductName    string  `firestore:"productName"`
	Quantity       int     `firestore:"quantity"`
	UnitPrice      float64 `firestore:"unitPrice"`
	UnitPriceFinal float64 `firestore:"unitPriceFinal"`
	LineSubtotal   float64 `firestore:"lineSubtotal"`
	LineDiscount   float64 `firestore:"lineDiscount"`
}

type priceAdjustmentDoc struct {
	ID       string         `firestore:"id"`
	Code     string         `firestore:"code"`
	Label    string         `firestore:"label"`
	Type     string         `firestore:"type"`
	Scope    string         `firestore:"scope"`
	Value    float64        `firestore:"value"`
	Amount   float64        `firestore:"amount"`
	Metadata map[string]any `firestore:"metadata,omitempty"`
}

type addressDoc struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderDoc struct {
	UserID            string               `firestore:"userId"`
	StoreID           string               `firestore:"storeId"`
	Status            string               `firestore:"status"`
	Currency          string               `firestore:"currency"`
	Subtotal          float64              `firestore:"subtotal"`
	DiscountTotal     float64              `firestore:"discountTotal"`
	TaxTotal          float64              `firestore:"taxTotal"`
	ShippingTotal     float64              `firestore:"shippingTotal"`
	Total             float64              `firestore:"total"`
	ShippingMethodID  string               `firestore:"shippingMethodId"`
	PromotionID       string               `firestore:"promotionId"`
	PromotionCodeUsed string               `firestore:"promotionCodeUsed"`
	PriceAdjustments  []priceAdjustmentDoc `firestore:"priceAdjustments"`
	Items             []orderItemDoc       `firestore:"items"`
	ShippingAddress   *addressDoc          `firestore:"shippingAddress,omitempty"`
	CreatedAt         time.Time            `firestore:"createdAt"`
	UpdatedAt         time.Time            `firestore:"updatedAt"`
}

// FirestoreOrderRepository persists orders. The checkout write path re-reads
// every product inside the transaction, so the stock check cannot race a
// concurrent checkout into overselling.
type FirestoreOrderRepository struct {
	provider *fs.Provider
	orders   *fs.BaseRepository[orderDoc]
}

// NewFirestoreOrderRepository binds the orders collection to the provider.
func NewFirestoreOrderRepository(provider *fs.Provider) (*FirestoreOrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &FirestoreOrderRepository{
		provider: provider,
		orders:   fs.NewBaseRepository[orderDoc](provider, collectionOrders, nil, nil),
	}, nil
}

// CreateWithStockDecrements writes the order and decrements product stock in
// one Firestore transaction. Any line failing the in-transaction stock
// re-check aborts the whole write.
func (r *FirestoreOrderRepository) CreateWithStockDecrements(ctx context.Context, order domain.Order, decrements []StockDecrement) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return NewOrderError(OrderErrorUnknown, "order id is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Reads first: Firestore transactions require all reads before writes.
		type pendingUpdate struct {
			ref   *firestore.DocumentRef
			stock int
		}
		updates := make([]pendingUpdate, 0, len(decrements))
		for _, dec := range decrements {
			productID := strings.TrimSpace(dec.ProductID)
			if productID == "" || dec.Quantity <= 0 {
				return NewOrderError(OrderErrorUnknown, fmt.Sprintf("invalid stock decrement for %q", dec.ProductID), nil)
			}
			ref := client.Collection(collectionProducts).Doc(productID)
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return NewOrderError(OrderErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var product productDoc
			if err := snap.DataTo(&product); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			if product.Stock < dec.Quantity {
				return NewOrderError(OrderErrorInsufficientStock,
					fmt.Sprintf("%s has %d left", product.Name, product.Stock), nil)
			}
			updates = append(updates, pendingUpdate{ref: ref, stock: product.Stock - dec.Quantity})
		}

		for _, upd := range updates {
			if err := tx.Update(upd.ref, []firestore.Update{
				{Path: "stock", Value: upd.stock},
				{Path: "updatedAt", Value: order.CreatedAt},
			}); err != nil {
				return err
			}
		}

		orderRef := client.Collection(collectionOrders).Doc(orderID)
		if err := tx.Create(orderRef, orderToDoc(order)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return NewOrderError(OrderErrorDuplicate, fmt.Sprintf("order %s already exists", orderID), err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		var orderErr *OrderError
		if errors.As(err, &orderErr) {
			return orderErr
		}
		return fs.WrapError("orders.create", err)
	}
	return nil
}

// FindByID fetches one order document.
func (r *FirestoreOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDoc(doc.ID, doc.Data), nil
}

// ListByUser pages one buyer's orders, newest first. Order ids are ULIDs, so
// descending document id order matches descending creation order and a plain
// id cursor survives across pages.
func (r *FirestoreOrderRepository) ListByUser(ctx context.Context, userID string, pageSize int, pageToken string) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, fs.NotFoundError("orders.list", "user id is required")
	}
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(pageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.
			Where("userId", "==", userID).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(pageSize + 1)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, orderFromDoc(doc.ID, doc.Data))
	}
	return page, nil
}

// CountByUserAndPromotion reports how many orders the buyer already placed
// with the given promotion. Only existence matters to callers, so the query
// fetches ids alone.
func (r *FirestoreOrderRepository) CountByUserAndPromotion(ctx context.Context, userID, promotionID string) (int, error) {
	userID = strings.TrimSpace(userID)
	promotionID = strings.TrimSpace(promotionID)
	if userID == "" || promotionID == "" {
		return 0, nil
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("userId", "==", userID).
			Where("promotionId", "==", promotionID).
			Select()
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func orderToDoc(order domain.Order) orderDoc {
	items := make([]orderItemDoc, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDoc{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			UnitPriceFinal: item.UnitPriceFinal,
			LineSubtotal:   item.LineSubtotal,
			LineDiscount:   item.LineDiscount,
		})
	}
	adjustments := make([]priceAdjustmentDoc, 0, len(order.PriceAdjustments))
	for _, adj := range order.PriceAdjustments {
		adjustments = append(adjustments, priceAdjustmentDoc{
			ID:       adj.ID,
			Code:     adj.Code,
			Label:    adj.Label,
			Type:     adj.Type,
			Scope:    string(adj.Scope),
			Value:    adj.Value,
			Amount:   adj.Amount,
			Metadata: adj.Metadata,
		})
	}
	doc := orderDoc{
		UserID:            order.UserID,
		StoreID:           order.StoreID,
		Status:            string(order.Status),
		Currency:          order.Currency,
		Subtotal:          order.Subtotal,
		DiscountTotal:     order.DiscountTotal,
		TaxTotal:          order.TaxTotal,
		ShippingTotal:     order.ShippingTotal,
		Total:             order.Total,
		ShippingMethodID:  order.ShippingMethodID,
		PromotionID:       order.PromotionID,
		PromotionCodeUsed: order.PromotionCodeUsed,
		PriceAdjustments:  adjustments,
		Items:             items,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
	if order.ShippingAddress != nil {
		doc.ShippingAddress = &addressDoc{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		}
	}
	return doc
}

func orderFromDoc(id string, doc orderDoc) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			UnitPriceFinal: item.UnitPriceFinal,
			LineSubtotal:   item.LineSubtotal,
			LineDiscount:   item.LineDiscount,
		})
	}
	adjustments := make([]domain.PriceAdjustment, 0, len(doc.PriceAdjustments))
	for _, adj := range doc.PriceAdjustments {
		adjustments = append(adjustments, domain.PriceAdjustment{
			ID:       adj.ID,
			Code:     adj.Code,
			Label:    adj.Label,
			Type:     adj.Type,
			Scope:    domain.AdjustmentScope(adj.Scope),
			Value:    adj.Value,
			Amount:   adj.Amount,
			Metadata: adj.Metadata,
		})
	}
	order := domain.Order{
		ID:                id,
		UserID:            doc.UserID,
		StoreID:           doc.StoreID,
		Status:            domain.OrderStatus(doc.Status),
		Currency:          doc.Currency,
		Subtotal:          doc.Subtotal,
		DiscountTotal:     doc.DiscountTotal,
		TaxTotal:          doc.TaxTotal,
		ShippingTotal:     doc.ShippingTotal,
		Total:             doc.Total,
		ShippingMethodID:  doc.ShippingMethodID,
		PromotionID:       doc.PromotionID,
		PromotionCodeUsed: doc.PromotionCodeUsed,
		PriceAdjustments:  adjustments,
		Items:             items,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if doc.ShippingAddress != nil {
		order.ShippingAddress = &domain.Address{
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			State:      doc.ShippingAddress.State,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
		}
	}
	return order
}

var _ OrderRepository = (*FirestoreOrderRepository)(nil)
