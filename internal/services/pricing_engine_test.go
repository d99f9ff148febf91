package services

import (
	"errors"
	"math"
	"testing"

	domain "github.com/tradeyard/api/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestApplyProductDiscountsPercentageBeforeFixed(t *testing.T) {
	engine := NewPricingEngine(2)

	price, discountTotal, adjustments, err := engine.ApplyProductDiscounts(domain.ProductPricingInput{
		ProductID: "prd_1",
		BasePrice: 100,
		Quantity:  1,
		DiscountRules: []domain.DiscountRule{
			{ID: "dsc_fixed", Type: domain.DiscountTypeFixed, Value: 5, Priority: 1},
			{ID: "dsc_pct", Type: domain.DiscountTypePercentage, Value: 10, Priority: 2},
		},
	})
	if err != nil {
		t.Fatalf("ApplyProductDiscounts: %v", err)
	}
	if !almostEqual(price, 85) {
		t.Fatalf("final price = %v, want 85", price)
	}
	if !almostEqual(discountTotal, 15) {
		t.Fatalf("discount total = %v, want 15", discountTotal)
	}
	if len(adjustments) != 2 {
		t.Fatalf("adjustments = %d, want 2", len(adjustments))
	}
	if adjustments[0].ID != "dsc_pct" || adjustments[1].ID != "dsc_fixed" {
		t.Fatalf("adjustment order = %s, %s; want percentage before fixed", adjustments[0].ID, adjustments[1].ID)
	}
}

func TestApplyProductDiscountsRoundsHalfUp(t *testing.T) {
	engine := NewPricingEngine(2)

	// 50% of 39.99 is 19.995, which must round up to 20.00.
	price, discountTotal, _, err := engine.ApplyProductDiscounts(domain.ProductPricingInput{
		ProductID:     "prd_1",
		BasePrice:     39.99,
		Quantity:      1,
		DiscountRules: []domain.DiscountRule{{Type: domain.DiscountTypePercentage, Value: 50}},
	})
	if err != nil {
		t.Fatalf("ApplyProductDiscounts: %v", err)
	}
	if !almostEqual(discountTotal, 20.00) {
		t.Fatalf("discount total = %v, want 20.00", discountTotal)
	}
	if !almostEqual(price, 19.99) {
		t.Fatalf("final price = %v, want 19.99", price)
	}
}

func TestApplyProductDiscountsFixedCappedAtPrice(t *testing.T) {
	engine := NewPricingEngine(2)

	price, discountTotal, _, err := engine.ApplyProductDiscounts(domain.ProductPricingInput{
		ProductID:     "prd_1",
		BasePrice:     10,
		Quantity:      1,
		DiscountRules: []domain.DiscountRule{{Type: domain.DiscountTypeFixed, Value: 25}},
	})
	if err != nil {
		t.Fatalf("ApplyProductDiscounts: %v", err)
	}
	if !almostEqual(price, 0) {
		t.Fatalf("final price = %v, want 0", price)
	}
	if !almostEqual(discountTotal, 10) {
		t.Fatalf("discount total = %v, want 10 (capped)", discountTotal)
	}
}

func TestApplyProductDiscountsNeverIncreasesPrice(t *testing.T) {
	engine := NewPricingEngine(2)

	rules := []domain.DiscountRule{
		{Type: domain.DiscountTypePercentage, Value: 33.3},
		{Type: domain.DiscountTypePercentage, Value: -10},
		{Type: domain.DiscountTypeFixed, Value: 7.77},
		{Type: domain.DiscountTypeFixed, Value: 0},
	}
	running := 49.99
	for i := 1; i <= len(rules); i++ {
		price, _, _, err := engine.ApplyProductDiscounts(domain.ProductPricingInput{
			ProductID:     "prd_1",
			BasePrice:     49.99,
			Quantity:      1,
			DiscountRules: rules[:i],
		})
		if err != nil {
			t.Fatalf("ApplyProductDiscounts(%d rules): %v", i, err)
		}
		if price > running+1e-9 {
			t.Fatalf("price increased from %v to %v after rule %d", running, price, i)
		}
		if price < 0 {
			t.Fatalf("price went negative: %v", price)
		}
		running = price
	}
}

func TestApplyProductDiscountsRejectsBadInput(t *testing.T) {
	engine := NewPricingEngine(2)

	if _, _, _, err := engine.ApplyProductDiscounts(domain.ProductPricingInput{ProductID: "prd_1", BasePrice: 10, Quantity: 0}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("zero quantity error = %v, want ErrPricingInvalidInput", err)
	}
	if _, _, _, err := engine.ApplyProductDiscounts(domain.ProductPricingInput{ProductID: "prd_1", BasePrice: -1, Quantity: 1}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("negative price error = %v, want ErrPricingInvalidInput", err)
	}
}

func TestCalculateProductTaxClampsPercentageRate(t *testing.T) {
	engine := NewPricingEngine(2)

	unitTax, taxTotal, adjustments := engine.CalculateProductTax(50, 2, []domain.TaxRule{
		{ID: "tax_over", Type: domain.DiscountTypePercentage, Rate: 150},
		{ID: "tax_under", Type: domain.DiscountTypePercentage, Rate: -5},
		{ID: "tax_fixed_neg", Type: domain.DiscountTypeFixed, Rate: -1},
	}, 2)

	// 150% clamps to 100%, -5% clamps to 0%, negative fixed is skipped.
	if !almostEqual(unitTax, 50) {
		t.Fatalf("unit tax = %v, want 50", unitTax)
	}
	if !almostEqual(taxTotal, 100) {
		t.Fatalf("tax total = %v, want 100", taxTotal)
	}
	if len(adjustments) != 2 {
		t.Fatalf("adjustments = %d, want 2", len(adjustments))
	}
}

func TestPriceProductFullPipeline(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.PriceProduct(domain.ProductPricingInput{
		ProductID: "prd_1",
		BasePrice: 100,
		Quantity:  2,
		DiscountRules: []domain.DiscountRule{
			{Type: domain.DiscountTypePercentage, Value: 10, Priority: 1},
			{Type: domain.DiscountTypeFixed, Value: 5, Priority: 2},
		},
		TaxRules: []domain.TaxRule{{Type: domain.DiscountTypePercentage, Rate: 10}},
	})
	if err != nil {
		t.Fatalf("PriceProduct: %v", err)
	}

	if !almostEqual(result.UnitPriceFinal, 85) {
		t.Fatalf("unit final = %v, want 85", result.UnitPriceFinal)
	}
	if !almostEqual(result.UnitTax, 8.5) {
		t.Fatalf("unit tax = %v, want 8.5", result.UnitTax)
	}
	if !almostEqual(result.LineSubtotal, 200) {
		t.Fatalf("line subtotal = %v, want 200", result.LineSubtotal)
	}
	if !almostEqual(result.LineDiscount, 30) {
		t.Fatalf("line discount = %v, want 30", result.LineDiscount)
	}
	if !almostEqual(result.LineTax, 17) {
		t.Fatalf("line tax = %v, want 17", result.LineTax)
	}
	if !almostEqual(result.LineTotal, 187) {
		t.Fatalf("line total = %v, want 187", result.LineTotal)
	}
}

func TestApplyStoreCartDiscountsMinimumChecksOriginalSubtotal(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.ApplyStoreCartDiscounts(domain.StoreCartInput{
		StoreID: "str_1",
		Items: []domain.ProductPricingInput{
			{ProductID: "prd_1", BasePrice: 100, Quantity: 1},
		},
		StoreDiscounts: []domain.StoreDiscountRule{
			{ID: "sd_1", Type: domain.DiscountTypeFixed, Value: 30, MinTotal: 90, Priority: 1},
			// Running subtotal is 70 here, but eligibility checks the original 100.
			{ID: "sd_2", Type: domain.DiscountTypeFixed, Value: 20, MinTotal: 90, Priority: 2},
		},
	}, 2)
	if err != nil {
		t.Fatalf("ApplyStoreCartDiscounts: %v", err)
	}

	if !almostEqual(result.SubtotalBeforeDiscounts, 100) {
		t.Fatalf("original subtotal = %v, want 100", result.SubtotalBeforeDiscounts)
	}
	if !almostEqual(result.DiscountTotal, 50) {
		t.Fatalf("discount total = %v, want 50", result.DiscountTotal)
	}
	if !almostEqual(result.SubtotalAfterDiscounts, 50) {
		t.Fatalf("subtotal after discounts = %v, want 50", result.SubtotalAfterDiscounts)
	}
}

func TestApplyStoreCartDiscountsCouponAppliesLast(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.ApplyStoreCartDiscounts(domain.StoreCartInput{
		StoreID: "str_1",
		Items: []domain.ProductPricingInput{
			{ProductID: "prd_1", BasePrice: 200, Quantity: 1},
		},
		StoreDiscounts: []domain.StoreDiscountRule{
			{ID: "sd_1", Type: domain.DiscountTypeFixed, Value: 50},
		},
		Coupon: &domain.CartCoupon{PromotionID: "prm_1", Code: "TEN", Type: domain.PromotionTypePercentage, Value: 10},
	}, 2)
	if err != nil {
		t.Fatalf("ApplyStoreCartDiscounts: %v", err)
	}

	// Coupon percentage runs against the running subtotal after store rules:
	// 200 - 50 = 150, then 10% of 150 = 15.
	if !almostEqual(result.DiscountTotal, 65) {
		t.Fatalf("discount total = %v, want 65", result.DiscountTotal)
	}
	last := result.Adjustments[len(result.Adjustments)-1]
	if last.Code != "TEN" {
		t.Fatalf("last adjustment code = %q, want coupon TEN", last.Code)
	}
}

func TestCalculateCartTotalsShippingCouponKeepsInvariant(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.CalculateCartTotals(domain.MarketplaceCartInput{
		Currency:  "USD",
		Precision: 2,
		Stores: []domain.StoreCartInput{{
			StoreID:      "str_1",
			Items:        []domain.ProductPricingInput{{ProductID: "prd_1", BasePrice: 100, Quantity: 2}},
			ShippingCost: 50,
			Coupon:       &domain.CartCoupon{PromotionID: "prm_ship", Code: "FREESHIP", Type: domain.PromotionTypeShipping},
		}},
	})
	if err != nil {
		t.Fatalf("CalculateCartTotals: %v", err)
	}

	// The shipping charge stays in ShippingTotal and the coupon credit lands in
	// DiscountTotal, so the order invariant holds.
	if !almostEqual(result.ShippingTotal, 50) {
		t.Fatalf("shipping total = %v, want 50", result.ShippingTotal)
	}
	if !almostEqual(result.DiscountTotal, 50) {
		t.Fatalf("discount total = %v, want 50", result.DiscountTotal)
	}
	if !almostEqual(result.Total, 200) {
		t.Fatalf("total = %v, want 200", result.Total)
	}
	want := result.Subtotal - result.DiscountTotal + result.TaxTotal + result.ShippingTotal
	if !almostEqual(result.Total, want) {
		t.Fatalf("total invariant broken: total=%v, components=%v", result.Total, want)
	}
}

func TestCalculateCartTotalsEndToEnd(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.CalculateCartTotals(domain.MarketplaceCartInput{
		Currency:  "USD",
		Precision: 2,
		Stores: []domain.StoreCartInput{{
			StoreID: "str_1",
			Items: []domain.ProductPricingInput{{
				ProductID: "prd_1",
				BasePrice: 100,
				Quantity:  2,
				DiscountRules: []domain.DiscountRule{
					{Type: domain.DiscountTypePercentage, Value: 10, Priority: 1},
					{Type: domain.DiscountTypeFixed, Value: 5, Priority: 2},
				},
				TaxRules: []domain.TaxRule{{Type: domain.DiscountTypePercentage, Rate: 10}},
			}},
		}},
	})
	if err != nil {
		t.Fatalf("CalculateCartTotals: %v", err)
	}

	if !almostEqual(result.Subtotal, 200) {
		t.Fatalf("subtotal = %v, want 200", result.Subtotal)
	}
	if !almostEqual(result.DiscountTotal, 30) {
		t.Fatalf("discount total = %v, want 30", result.DiscountTotal)
	}
	if !almostEqual(result.TaxTotal, 17) {
		t.Fatalf("tax total = %v, want 17", result.TaxTotal)
	}
	if !almostEqual(result.Total, 187) {
		t.Fatalf("total = %v, want 187", result.Total)
	}
}

func TestApplyGlobalPromotionsGatesOnOriginalBase(t *testing.T) {
	engine := NewPricingEngine(2)

	stores := []domain.StoreCartResult{
		{SubtotalAfterDiscounts: 100, TaxTotal: 10, ShippingAmount: 5},
		{SubtotalAfterDiscounts: 50},
	}
	total, adjustments := engine.ApplyGlobalPromotions([]domain.GlobalPromotion{
		{ID: "gp_1", Type: domain.PromotionTypePercentage, Value: 10, MinTotal: 150},
		// Running base is 148.50 after the first promotion, but the 150 gate
		// checks the original 165.
		{ID: "gp_2", Type: domain.PromotionTypeFixed, Value: 20, MinTotal: 150},
	}, stores, 2)

	if !almostEqual(total, 36.5) {
		t.Fatalf("promotions total = %v, want 36.5", total)
	}
	if len(adjustments) != 2 {
		t.Fatalf("adjustments = %d, want 2", len(adjustments))
	}
}

func TestCalculateCartTotalsAdjustmentOrderingIsCanonical(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.CalculateCartTotals(domain.MarketplaceCartInput{
		Currency:  "USD",
		Precision: 2,
		Stores: []domain.StoreCartInput{{
			StoreID: "str_1",
			Items: []domain.ProductPricingInput{{
				ProductID:     "prd_1",
				BasePrice:     100,
				Quantity:      1,
				DiscountRules: []domain.DiscountRule{{Type: domain.DiscountTypePercentage, Value: 10}},
				TaxRules:      []domain.TaxRule{{Type: domain.DiscountTypePercentage, Rate: 5}},
			}},
			StoreDiscounts: []domain.StoreDiscountRule{{Type: domain.DiscountTypeFixed, Value: 5}},
		}},
		Promotions: []domain.GlobalPromotion{{Type: domain.PromotionTypeFixed, Value: 2}},
	})
	if err != nil {
		t.Fatalf("CalculateCartTotals: %v", err)
	}

	want := []domain.AdjustmentScope{
		domain.AdjustmentScopeProduct,
		domain.AdjustmentScopeTax,
		domain.AdjustmentScopeStore,
		domain.AdjustmentScopeGlobal,
	}
	if len(result.Adjustments) != len(want) {
		t.Fatalf("adjustments = %d, want %d", len(result.Adjustments), len(want))
	}
	for i, scope := range want {
		if result.Adjustments[i].Scope != scope {
			t.Fatalf("adjustment %d scope = %s, want %s", i, result.Adjustments[i].Scope, scope)
		}
	}
}

func TestCalculateCartTotalsFloorsAtZero(t *testing.T) {
	engine := NewPricingEngine(2)

	result, err := engine.CalculateCartTotals(domain.MarketplaceCartInput{
		Currency:  "USD",
		Precision: 2,
		Stores: []domain.StoreCartInput{{
			StoreID:        "str_1",
			Items:          []domain.ProductPricingInput{{ProductID: "prd_1", BasePrice: 10, Quantity: 1}},
			StoreDiscounts: []domain.StoreDiscountRule{{Type: domain.DiscountTypeFixed, Value: 500}},
		}},
	})
	if err != nil {
		t.Fatalf("CalculateCartTotals: %v", err)
	}
	if result.Total < 0 {
		t.Fatalf("total = %v, want >= 0", result.Total)
	}
	if !almostEqual(result.DiscountTotal, 10) {
		t.Fatalf("discount total = %v, want capped at 10", result.DiscountTotal)
	}
}

func TestRoundHalfUpAtPrecision(t *testing.T) {
	cases := []struct {
		value     float64
		precision int
		want      float64
	}{
		{19.995, 2, 20.00},
		{19.994, 2, 19.99},
		{2.5, 0, 3},
		{1.005, 2, 1.01},
		{-0.0, 2, 0},
	}
	for _, tc := range cases {
		if got := domain.Round(tc.value, tc.precision); !almostEqual(got, tc.want) {
			t.Fatalf("Round(%v, %d) = %v, want %v", tc.value, tc.precision, got, tc.want)
		}
	}
}
