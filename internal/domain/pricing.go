package domain

// AdjustmentScope identifies which level of the cart a price adjustment acted on.
type AdjustmentScope string

const (
	AdjustmentScopeProduct  AdjustmentScope = "product"
	AdjustmentScopeStore    AdjustmentScope = "store"
	AdjustmentScopeGlobal   AdjustmentScope = "global"
	AdjustmentScopeShipping AdjustmentScope = "shipping"
	AdjustmentScopeTax      AdjustmentScope = "tax"
)

// PriceAdjustment is the audit-trail record of one applied discount, tax, or
// promotion rule. Amounts are in the cart currency and already rounded.
type PriceAdjustment struct {
	ID       string
	Code     string
	Label    string
	Type     string
	Scope    AdjustmentScope
	Value    float64
	Amount   float64
	Metadata map[string]any
}

// DiscountRule is one discount applied during product pricing.
type DiscountRule struct {
	ID       string
	Label    string
	Type     DiscountType
	Value    float64
	Priority int
}

// TaxRule is one tax applied against the post-discount unit price.
type TaxRule struct {
	ID    string
	Label string
	Type  DiscountType
	Rate  float64
}

// ProductPricingInput is the immutable per-line input to the pricing engine,
// constructed fresh for every checkout.
type ProductPricingInput struct {
	ProductID     string
	StoreID       string
	BasePrice     float64
	Quantity      int
	DiscountRules []DiscountRule
	TaxRules      []TaxRule
	Precision     int
}

// ProductPricingResult is the per-line output of the pricing engine. Only the
// unit prices and line subtotal/discount are persisted as order item fields;
// the rest is derived data.
type ProductPricingResult struct {
	ProductID           string
	Quantity            int
	UnitPrice           float64
	UnitPriceFinal      float64
	UnitTax             float64
	LineSubtotal        float64
	LineTax             float64
	LineTotal           float64
	LineDiscount        float64
	DiscountAdjustments []PriceAdjustment
	TaxAdjustments      []PriceAdjustment
}

// StoreDiscountRule is a store-level discount gated by a minimum subtotal.
// MinTotal is always checked against the pre-discount subtotal.
type StoreDiscountRule struct {
	ID       string
	Label    string
	Type     DiscountType
	Value    float64
	MinTotal float64
	Priority int
}

// CartCoupon is the single optional code-gated discount applied last at the
// store level. Shipping-type coupons zero the shipping cost.
type CartCoupon struct {
	PromotionID string
	Code        string
	Type        PromotionType
	Value       float64
	MinTotal    float64
}

// StoreCartInput groups one store's priced line items with its cart-level
// discount rules, coupon, and shipping cost.
type StoreCartInput struct {
	StoreID        string
	Items          []ProductPricingInput
	StoreDiscounts []StoreDiscountRule
	Coupon         *CartCoupon
	ShippingCost   float64
}

// StoreCartResult aggregates a single store's priced items plus the store-level
// discount and coupon effects.
type StoreCartResult struct {
	StoreID                 string
	Items                   []ProductPricingResult
	SubtotalBeforeDiscounts float64
	SubtotalAfterDiscounts  float64
	DiscountTotal           float64
	TaxTotal                float64
	ShippingAmount          float64
	Adjustments             []PriceAdjustment
}

// GlobalPromotion is a marketplace-wide promotion applied across stores.
type GlobalPromotion struct {
	ID       string
	Label    string
	Type     PromotionType
	Value    float64
	MinTotal float64
}

// MarketplaceCartInput is the full input to cart total calculation.
type MarketplaceCartInput struct {
	Currency   string
	Precision  int
	Stores     []StoreCartInput
	Promotions []GlobalPromotion
}

// MarketplaceCartResult aggregates every store plus marketplace promotions
// into the grand totals and the canonical adjustment audit trail.
type MarketplaceCartResult struct {
	Currency        string
	Stores          []StoreCartResult
	Subtotal        float64
	DiscountTotal   float64
	TaxTotal        float64
	ShippingTotal   float64
	PromotionsTotal float64
	Total           float64
	Adjustments     []PriceAdjustment
}
