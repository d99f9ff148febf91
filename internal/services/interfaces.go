package services

import (
	"context"
	"time"

	domain "github.com/tradeyard/api/internal/domain"
)

// CheckoutLineItem is one product/quantity pair of a checkout request.
type CheckoutLineItem struct {
	ProductID string
	Quantity  int
}

// PlaceOrderCommand is the validated, strongly-typed checkout request handed
// to the orchestrator by the transport layer.
type PlaceOrderCommand struct {
	UserID           string
	StoreID          string
	Items            []CheckoutLineItem
	ShippingMethodID string
	PromotionCode    string
	ShippingAddress  *domain.Address
}

// CheckoutService runs the checkout pipeline: validation, pricing, and the
// atomic order write, followed by best-effort post-commit side effects.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error)
}

// OrderListFilter narrows order listings to one buyer.
type OrderListFilter struct {
	UserID    string
	PageSize  int
	PageToken string
}

// OrderService exposes read access to committed orders.
type OrderService interface {
	GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ResolvePromotionCommand asks for a promotion usable by one buyer at one
// store at the current time.
type ResolvePromotionCommand struct {
	StoreID string
	UserID  string
	Code    string
}

// PromotionService validates promotion codes for checkout.
type PromotionService interface {
	ResolveForCheckout(ctx context.Context, cmd ResolvePromotionCommand) (domain.Promotion, error)
}

// AwardCommand describes one loyalty accrual. Either Points or ActionKey must
// be set; a reference key makes the award idempotent under retries.
type AwardCommand struct {
	Points        int64
	ActionKey     string
	Multiplier    float64
	ReferenceType string
	ReferenceID   string
	Description   string
	Metadata      map[string]any
}

// AwardResult reports the ledger entry and updated account after an award.
type AwardResult struct {
	Transaction domain.LoyaltyTransaction
	Account     domain.LoyaltyAccount
	Skipped     bool
}

// RedeemResult reports the redemption row, its paired debit, and the account.
type RedeemResult struct {
	Redemption  domain.LoyaltyRedemption
	Transaction domain.LoyaltyTransaction
	Account     domain.LoyaltyAccount
}

// LoyaltyTransactionFilter pages through one account's ledger history.
type LoyaltyTransactionFilter struct {
	UserID    string
	PageSize  int
	PageToken string
}

// LoyaltyService maintains per-user point balances over an append-only ledger.
type LoyaltyService interface {
	EnsureAccount(ctx context.Context, userID string) (domain.LoyaltyAccount, error)
	Award(ctx context.Context, userID string, cmd AwardCommand) (AwardResult, error)
	Redeem(ctx context.Context, userID string, points int64, note string) (RedeemResult, error)
	AwardForOrder(ctx context.Context, order domain.Order) (AwardResult, error)
	ListTransactions(ctx context.Context, filter LoyaltyTransactionFilter) (domain.CursorPage[domain.LoyaltyTransaction], error)
}

// OrderEvent is published after a checkout transaction commits. It carries the
// plain data payload the external notification collaborator consumes.
type OrderEvent struct {
	Type           string           `json:"type"`
	OrderID        string           `json:"orderId"`
	UserID         string           `json:"userId"`
	StoreID        string           `json:"storeId"`
	Currency       string           `json:"currency"`
	Total          float64          `json:"total"`
	TotalFormatted string           `json:"totalFormatted"`
	Lines          []OrderEventLine `json:"lines"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

// OrderEventLine is one formatted line item of an order event payload.
type OrderEventLine struct {
	ProductID      string  `json:"productId"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unitPrice"`
	LineTotal      float64 `json:"lineTotal"`
	TotalFormatted string  `json:"totalFormatted"`
}

// OrderEventPublisher delivers order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}
