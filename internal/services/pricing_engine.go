package services

import (
	"errors"
	"fmt"
	"sort"

	domain "github.com/tradeyard/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad pricing data such as non-positive quantities.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// PricingEngine turns raw product, discount, tax, and promotion data into a
// priced cart. It performs no I/O and holds no mutable state; it is safe to
// share across any number of concurrent checkouts.
type PricingEngine struct {
	precision int
}

// NewPricingEngine constructs an engine with the given default monetary
// precision. Inputs may override the precision per cart.
func NewPricingEngine(precision int) *PricingEngine {
	return &PricingEngine{precision: domain.NormalizePrecision(precision)}
}

func (e *PricingEngine) resolvePrecision(precision int) int {
	if precision > 0 {
		return domain.NormalizePrecision(precision)
	}
	return e.precision
}

// ApplyProductDiscounts applies the product's discount rules to its base
// price. Percentage rules run first, each against the current running price,
// then fixed rules, each capped so the price never drops below zero. The
// returned adjustments carry one entry per applied rule in application order.
func (e *PricingEngine) ApplyProductDiscounts(in domain.ProductPricingInput) (float64, float64, []domain.PriceAdjustment, error) {
	if in.Quantity <= 0 {
		return 0, 0, nil, fmt.Errorf("%w: product %s quantity must be positive", ErrPricingInvalidInput, in.ProductID)
	}
	if in.BasePrice < 0 {
		return 0, 0, nil, fmt.Errorf("%w: product %s base price cannot be negative", ErrPricingInvalidInput, in.ProductID)
	}

	precision := e.resolvePrecision(in.Precision)
	price := domain.Round(in.BasePrice, precision)

	percentage := make([]domain.DiscountRule, 0, len(in.DiscountRules))
	fixed := make([]domain.DiscountRule, 0, len(in.DiscountRules))
	for _, rule := range in.DiscountRules {
		if rule.Value <= 0 {
			continue
		}
		switch rule.Type {
		case domain.DiscountTypePercentage:
			percentage = append(percentage, rule)
		case domain.DiscountTypeFixed:
			fixed = append(fixed, rule)
		}
	}
	sortDiscountRules(percentage)
	sortDiscountRules(fixed)

	adjustments := make([]domain.PriceAdjustment, 0, len(percentage)+len(fixed))
	discountTotal := 0.0

	for _, rule := range percentage {
		amount := domain.Round(price*rule.Value/100, precision)
		price = domain.Round(price-amount, precision)
		if price < 0 {
			price = 0
		}
		discountTotal = domain.Round(discountTotal+amount, precision)
		adjustments = append(adjustments, domain.PriceAdjustment{
			ID:     rule.ID,
			Label:  rule.Label,
			Type:   string(domain.DiscountTypePercentage),
			Scope:  domain.AdjustmentScopeProduct,
			Value:  rule.Value,
			Amount: amount,
		})
	}

	for _, rule := range fixed {
		amount := domain.Round(rule.Value, precision)
		if amount > price {
			amount = price
		}
		price = domain.Round(price-amount, precision)
		discountTotal = domain.Round(discountTotal+amount, precision)
		adjustments = append(adjustments, domain.PriceAdjustment{
			ID:     rule.ID,
			Label:  rule.Label,
			Type:   string(domain.DiscountTypeFixed),
			Scope:  domain.AdjustmentScopeProduct,
			Value:  rule.Value,
			Amount: amount,
		})
	}

	if price < 0 {
		price = 0
	}
	return price, discountTotal, adjustments, nil
}

// CalculateProductTax computes per-unit tax against the post-discount unit
// price. Percentage rates are clamped to [0,100]; fixed amounts below zero
// are treated as zero.
func (e *PricingEngine) CalculateProductTax(unitNetPrice float64, quantity int, rules []domain.TaxRule, precision int) (float64, float64, []domain.PriceAdjustment) {
	precision = e.resolvePrecision(precision)
	if unitNetPrice < 0 {
		unitNetPrice = 0
	}

	unitTax := 0.0
	adjustments := make([]domain.PriceAdjustment, 0, len(rules))
	for _, rule := range rules {
		var amount float64
		switch rule.Type {
		case domain.DiscountTypePercentage:
			rate := rule.Rate
			if rate < 0 {
				rate = 0
			}
			if rate > 100 {
				rate = 100
			}
			amount = domain.Round(unitNetPrice*rate/100, precision)
		case domain.DiscountTypeFixed:
			if rule.Rate <= 0 {
				continue
			}
			amount = domain.Round(rule.Rate, precision)
		default:
			continue
		}
		unitTax = domain.Round(unitTax+amount, precision)
		adjustments = append(adjustments, domain.PriceAdjustment{
			ID:     rule.ID,
			Label:  rule.Label,
			Type:   string(rule.Type),
			Scope:  domain.AdjustmentScopeTax,
			Value:  rule.Rate,
			Amount: amount,
		})
	}

	taxTotal := domain.Round(unitTax*float64(quantity), precision)
	return unitTax, taxTotal, adjustments
}

// PriceProduct runs discounts then tax for one line item and assembles the
// per-line result. Line-level adjustment amounts are scaled by quantity so the
// audit trail sums match the cart totals.
func (e *PricingEngine) PriceProduct(in domain.ProductPricingInput) (domain.ProductPricingResult, error) {
	precision := e.resolvePrecision(in.Precision)

	unitFinal, _, discountAdjustments, err := e.ApplyProductDiscounts(in)
	if err != nil {
		return domain.ProductPricingResult{}, err
	}

	unitPrice := domain.Round(in.BasePrice, precision)
	quantity := float64(in.Quantity)

	for idx := range discountAdjustments {
		discountAdjustments[idx].Amount = domain.Round(discountAdjustments[idx].Amount*quantity, precision)
	}

	unitTax, lineTax, taxAdjustments := e.CalculateProductTax(unitFinal, in.Quantity, in.TaxRules, precision)
	for idx := range taxAdjustments {
		taxAdjustments[idx].Amount = domain.Round(taxAdjustments[idx].Amount*quantity, precision)
	}

	lineSubtotal := domain.Round(unitPrice*quantity, precision)
	lineDiscount := domain.Round((unitPrice-unitFinal)*quantity, precision)
	if lineDiscount < 0 {
		lineDiscount = 0
	}
	lineNet := domain.Round(lineSubtotal-lineDiscount, precision)
	lineTotal := domain.Round(lineNet+lineTax, precision)

	return domain.ProductPricingResult{
		ProductID:           in.ProductID,
		Quantity:            in.Quantity,
		UnitPrice:           unitPrice,
		UnitPriceFinal:      unitFinal,
		UnitTax:             unitTax,
		LineSubtotal:        lineSubtotal,
		LineTax:             lineTax,
		LineTotal:           lineTotal,
		LineDiscount:        lineDiscount,
		DiscountAdjustments: discountAdjustments,
		TaxAdjustments:      taxAdjustments,
	}, nil
}

// ApplyStoreCartDiscounts prices every item of a store cart, then layers
// store-level discounts and the optional coupon on top. Store percentage
// rules run before fixed rules; each rule re-checks its minimum against the
// original pre-discount subtotal, never the running one.
func (e *PricingEngine) ApplyStoreCartDiscounts(in domain.StoreCartInput, precision int) (domain.StoreCartResult, error) {
	precision = e.resolvePrecision(precision)

	items := make([]domain.ProductPricingResult, 0, len(in.Items))
	original := 0.0
	taxTotal := 0.0
	for _, item := range in.Items {
		item.Precision = precision
		priced, err := e.PriceProduct(item)
		if err != nil {
			return domain.StoreCartResult{}, err
		}
		items = append(items, priced)
		net := domain.Round(priced.LineSubtotal-priced.LineDiscount, precision)
		original = domain.Round(original+net, precision)
		taxTotal = domain.Round(taxTotal+priced.LineTax, precision)
	}

	running := original
	discountTotal := 0.0
	adjustments := make([]domain.PriceAdjustment, 0, len(in.StoreDiscounts)+1)

	apply := func(id, label, code string, ruleType domain.DiscountType, value, minTotal float64) {
		if value <= 0 {
			return
		}
		if minTotal > 0 && original < minTotal {
			return
		}
		var amount float64
		switch ruleType {
		case domain.DiscountTypePercentage:
			amount = domain.Round(running*value/100, precision)
		case domain.DiscountTypeFixed:
			amount = domain.Round(value, precision)
			if amount > running {
				amount = running
			}
		default:
			return
		}
		running = domain.Round(running-amount, precision)
		if running < 0 {
			running = 0
		}
		discountTotal = domain.Round(discountTotal+amount, precision)
		adjustments = append(adjustments, domain.PriceAdjustment{
			ID:     id,
			Code:   code,
			Label:  label,
			Type:   string(ruleType),
			Scope:  domain.AdjustmentScopeStore,
			Value:  value,
			Amount: amount,
		})
	}

	percentage := make([]domain.StoreDiscountRule, 0, len(in.StoreDiscounts))
	fixed := make([]domain.StoreDiscountRule, 0, len(in.StoreDiscounts))
	for _, rule := range in.StoreDiscounts {
		switch rule.Type {
		case domain.DiscountTypePercentage:
			percentage = append(percentage, rule)
		case domain.DiscountTypeFixed:
			fixed = append(fixed, rule)
		}
	}
	sortStoreDiscountRules(percentage)
	sortStoreDiscountRules(fixed)

	for _, rule := range percentage {
		apply(rule.ID, rule.Label, "", domain.DiscountTypePercentage, rule.Value, rule.MinTotal)
	}
	for _, rule := range fixed {
		apply(rule.ID, rule.Label, "", domain.DiscountTypeFixed, rule.Value, rule.MinTotal)
	}

	shipping := domain.Round(in.ShippingCost, precision)
	if shipping < 0 {
		shipping = 0
	}

	// The coupon is always the last store-level tier.
	if coupon := in.Coupon; coupon != nil {
		switch coupon.Type {
		case domain.PromotionTypeShipping:
			if shipping > 0 {
				discountTotal = domain.Round(discountTotal+shipping, precision)
				adjustments = append(adjustments, domain.PriceAdjustment{
					ID:     coupon.PromotionID,
					Code:   coupon.Code,
					Label:  "free shipping",
					Type:   string(domain.PromotionTypeShipping),
					Scope:  domain.AdjustmentScopeShipping,
					Amount: shipping,
				})
				shipping = 0
			}
		case domain.PromotionTypePercentage:
			apply(coupon.PromotionID, "coupon", coupon.Code, domain.DiscountTypePercentage, coupon.Value, coupon.MinTotal)
		case domain.PromotionTypeFixed, domain.PromotionTypeCoupon:
			apply(coupon.PromotionID, "coupon", coupon.Code, domain.DiscountTypeFixed, coupon.Value, coupon.MinTotal)
		}
	}

	return domain.StoreCartResult{
		StoreID:                 in.StoreID,
		Items:                   items,
		SubtotalBeforeDiscounts: original,
		SubtotalAfterDiscounts:  running,
		DiscountTotal:           discountTotal,
		TaxTotal:                taxTotal,
		ShippingAmount:          shipping,
		Adjustments:             adjustments,
	}, nil
}

// ApplyGlobalPromotions applies marketplace-wide promotions against the sum of
// every store's discounted subtotal, tax, and shipping. Eligibility is gated
// on the original base; application mirrors product discount stacking by
// shrinking a running base promotion by promotion.
func (e *PricingEngine) ApplyGlobalPromotions(promotions []domain.GlobalPromotion, storeResults []domain.StoreCartResult, precision int) (float64, []domain.PriceAdjustment) {
	precision = e.resolvePrecision(precision)

	base := 0.0
	for _, store := range storeResults {
		base = domain.Round(base+store.SubtotalAfterDiscounts+store.TaxTotal+store.ShippingAmount, precision)
	}

	running := base
	total := 0.0
	adjustments := make([]domain.PriceAdjustment, 0, len(promotions))
	for _, promo := range promotions {
		if promo.Value <= 0 {
			continue
		}
		if promo.MinTotal > 0 && base < promo.MinTotal {
			continue
		}
		var amount float64
		switch promo.Type {
		case domain.PromotionTypePercentage:
			amount = domain.Round(running*promo.Value/100, precision)
		case domain.PromotionTypeFixed:
			amount = domain.Round(promo.Value, precision)
			if amount > running {
				amount = running
			}
		default:
			continue
		}
		running = domain.Round(running-amount, precision)
		if running < 0 {
			running = 0
		}
		total = domain.Round(total+amount, precision)
		adjustments = append(adjustments, domain.PriceAdjustment{
			ID:     promo.ID,
			Label:  promo.Label,
			Type:   string(promo.Type),
			Scope:  domain.AdjustmentScopeGlobal,
			Value:  promo.Value,
			Amount: amount,
		})
	}

	return total, adjustments
}

// CalculateCartTotals runs the full pipeline: per-store pricing, marketplace
// promotions, then grand totals and the unified adjustment list. Adjustment
// ordering is canonical: per-item discounts, per-item taxes, store-level
// adjustments, then global promotions. Reproducible output depends on it.
func (e *PricingEngine) CalculateCartTotals(in domain.MarketplaceCartInput) (domain.MarketplaceCartResult, error) {
	precision := e.resolvePrecision(in.Precision)

	storeResults := make([]domain.StoreCartResult, 0, len(in.Stores))
	subtotal := 0.0
	discountTotal := 0.0
	taxTotal := 0.0
	shippingTotal := 0.0

	for _, store := range in.Stores {
		result, err := e.ApplyStoreCartDiscounts(store, precision)
		if err != nil {
			return domain.MarketplaceCartResult{}, err
		}
		storeResults = append(storeResults, result)

		for _, item := range result.Items {
			subtotal = domain.Round(subtotal+item.LineSubtotal, precision)
			discountTotal = domain.Round(discountTotal+item.LineDiscount, precision)
		}
		discountTotal = domain.Round(discountTotal+result.DiscountTotal, precision)
		taxTotal = domain.Round(taxTotal+result.TaxTotal, precision)
		// Shipping is charged at the method's cost; a shipping coupon shows up
		// in the discount total instead of zeroing this charge, keeping
		// total == subtotal - discounts + tax + shipping.
		cost := domain.Round(store.ShippingCost, precision)
		if cost < 0 {
			cost = 0
		}
		shippingTotal = domain.Round(shippingTotal+cost, precision)
	}

	promotionsTotal, promoAdjustments := e.ApplyGlobalPromotions(in.Promotions, storeResults, precision)
	discountTotal = domain.Round(discountTotal+promotionsTotal, precision)

	total := domain.Round(subtotal-discountTotal+taxTotal+shippingTotal, precision)
	if total < 0 {
		total = 0
	}

	adjustments := make([]domain.PriceAdjustment, 0, 8)
	for _, store := range storeResults {
		for _, item := range store.Items {
			adjustments = append(adjustments, item.DiscountAdjustments...)
		}
		for _, item := range store.Items {
			adjustments = append(adjustments, item.TaxAdjustments...)
		}
		adjustments = append(adjustments, store.Adjustments...)
	}
	adjustments = append(adjustments, promoAdjustments...)

	return domain.MarketplaceCartResult{
		Currency:        in.Currency,
		Stores:          storeResults,
		Subtotal:        subtotal,
		DiscountTotal:   discountTotal,
		TaxTotal:        taxTotal,
		ShippingTotal:   shippingTotal,
		PromotionsTotal: promotionsTotal,
		Total:           total,
		Adjustments:     adjustments,
	}, nil
}

func sortDiscountRules(rules []domain.DiscountRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

func sortStoreDiscountRules(rules []domain.StoreDiscountRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}
