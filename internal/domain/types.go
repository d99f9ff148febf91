package domain

import "time"

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// StoreStatus enumerates the lifecycle states of a seller store.
type StoreStatus string

const (
	StoreStatusActive   StoreStatus = "active"
	StoreStatusInactive StoreStatus = "inactive"
)

// Store is a seller-owned storefront referenced by products and orders.
type Store struct {
	ID        string
	OwnerID   string
	Name      string
	Status    StoreStatus
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DiscountType distinguishes percentage and fixed-amount rules.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is a seller-configured price reduction linked from a product.
type Discount struct {
	ID       string
	StoreID  string
	Type     DiscountType
	Value    float64
	Priority int
	Status   string
}

// Tax is a tax rule attached to a product. Percentage rates are expressed in
// [0,100]; fixed rules carry an absolute per-unit amount.
type Tax struct {
	ID     string
	Label  string
	Type   DiscountType
	Rate   float64
	Status string
}

// Product is the catalog read model the checkout path consumes.
type Product struct {
	ID         string
	StoreID    string
	Name       string
	Price      float64
	PriceFinal float64
	Stock      int
	DiscountID string
	TaxIDs     []string
	IsDeleted  bool
	UpdatedAt  time.Time
}

// ShippingMethod belongs to a store and carries a flat cost.
type ShippingMethod struct {
	ID        string
	StoreID   string
	Label     string
	Cost      float64
	Status    string
	IsDeleted bool
}

// PromotionType distinguishes how a promotion discounts the cart.
type PromotionType string

const (
	PromotionTypePercentage PromotionType = "percentage"
	PromotionTypeFixed      PromotionType = "fixed"
	PromotionTypeShipping   PromotionType = "shipping"
	PromotionTypeCoupon     PromotionType = "coupon"
)

// Promotion is a store or marketplace level campaign, optionally gated behind
// a user-supplied code. Coupon-type promotions are single-use per buyer.
type Promotion struct {
	ID       string
	StoreID  string
	Type     PromotionType
	Value    float64
	MinTotal float64
	Code     string
	Status   string
	StartsAt time.Time
	EndsAt   time.Time
}

// OrderStatus enumerates the lifecycle of a committed order. Checkout always
// creates orders in pending status; later transitions happen elsewhere.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// OrderItem is one priced line of an order. Items are owned exclusively by
// their order and persisted together with it.
type OrderItem struct {
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPrice      float64
	UnitPriceFinal float64
	LineSubtotal   float64
	LineDiscount   float64
}

// Order is the aggregate written once, atomically, by checkout.
// Invariant: Total == Subtotal - DiscountTotal + TaxTotal + ShippingTotal
// within rounding tolerance.
type Order struct {
	ID                string
	UserID            string
	StoreID           string
	Status            OrderStatus
	Currency          string
	Subtotal          float64
	DiscountTotal     float64
	TaxTotal          float64
	ShippingTotal     float64
	Total             float64
	ShippingMethodID  string
	PromotionID       string
	PromotionCodeUsed string
	PriceAdjustments  []PriceAdjustment
	Items             []OrderItem
	ShippingAddress   *Address
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Address carries the shipping destination captured at checkout.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// LoyaltyAccount keeps one balance per user, created lazily on first use.
// Invariant: Balance == LifetimeEarned - LifetimeRedeemed, never negative.
type LoyaltyAccount struct {
	ID               string
	UserID           string
	Balance          int64
	LifetimeEarned   int64
	LifetimeRedeemed int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LoyaltyTransaction is an append-only ledger entry. When ReferenceType and
// ReferenceID are both set, at most one transaction may exist for that pair
// on a given account; the pair is the idempotency key for replayed awards.
type LoyaltyTransaction struct {
	ID            string
	AccountID     string
	UserID        string
	ActionID      string
	ReferenceType string
	ReferenceID   string
	Points        int64
	Description   string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// LoyaltyRedemption records a points-to-currency conversion. It is always
// paired 1:1 with a negative ledger transaction referencing the redemption id.
type LoyaltyRedemption struct {
	ID        string
	AccountID string
	UserID    string
	Points    int64
	Amount    float64
	Note      string
	CreatedAt time.Time
}
