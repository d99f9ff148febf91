package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	orderEventCreated = "order.created"

	manualOverrideDiscountLabel = "manual price override"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied a malformed cart.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotFound indicates a referenced store, product, shipping method, or promotion is absent.
	ErrCheckoutNotFound = errors.New("checkout: not found")
	// ErrCheckoutInsufficientStock indicates a line item requests more units than are available.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutPromotionRejected indicates the promotion code is expired, foreign, or already used.
	ErrCheckoutPromotionRejected = errors.New("checkout: promotion rejected")
	// ErrCheckoutNonPositiveTotal indicates discounts drove the cart subtotal to zero or below.
	ErrCheckoutNonPositiveTotal = errors.New("checkout: non-positive total")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently failing.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// CheckoutServiceDeps wires the collaborators required by the checkout orchestrator.
type CheckoutServiceDeps struct {
	Stores          repositories.StoreRepository
	Products        repositories.ProductRepository
	Discounts       repositories.DiscountRepository
	Taxes           repositories.TaxRepository
	ShippingMethods repositories.ShippingMethodRepository
	Orders          repositories.OrderRepository
	Promotions      PromotionService
	Pricing         *PricingEngine
	Loyalty         LoyaltyService
	Events          OrderEventPublisher
	Currency        string
	Precision       int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	stores          repositories.StoreRepository
	products        repositories.ProductRepository
	discounts       repositories.DiscountRepository
	taxes           repositories.TaxRepository
	shippingMethods repositories.ShippingMethodRepository
	orders          repositories.OrderRepository
	promotions      PromotionService
	pricing         *PricingEngine
	loyalty         LoyaltyService
	events          OrderEventPublisher
	currency        string
	precision       int
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Stores == nil {
		return nil, errors.New("checkout service: store repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &checkoutService{
		stores:          deps.Stores,
		products:        deps.Products,
		discounts:       deps.Discounts,
		taxes:           deps.Taxes,
		shippingMethods: deps.ShippingMethods,
		orders:          deps.Orders,
		promotions:      deps.Promotions,
		pricing:         deps.Pricing,
		loyalty:         deps.Loyalty,
		events:          deps.Events,
		currency:        currency,
		precision:       domain.NormalizePrecision(deps.Precision),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder runs one checkout attempt through validation, pricing, and the
// atomic write. Stock is re-checked and decremented inside the same
// transaction that inserts the order, so concurrent checkouts against the
// same product cannot oversell. Post-commit side effects are best-effort and
// never roll back the committed order.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	if err := validatePlaceOrderCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	// Validating: resolve every referenced entity, failing fast with no writes.
	store, err := s.resolveStore(ctx, cmd.StoreID)
	if err != nil {
		return domain.Order{}, err
	}

	shippingCost := 0.0
	methodID := strings.TrimSpace(cmd.ShippingMethodID)
	if methodID != "" {
		method, err := s.resolveShippingMethod(ctx, store.ID, methodID)
		if err != nil {
			return domain.Order{}, err
		}
		shippingCost = method.Cost
	}

	products, err := s.resolveProducts(ctx, store.ID, cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}

	var promotion *domain.Promotion
	if code := strings.TrimSpace(cmd.PromotionCode); code != "" {
		resolved, err := s.resolvePromotion(ctx, store.ID, cmd.UserID, code)
		if err != nil {
			return domain.Order{}, err
		}
		promotion = &resolved
	}

	// Pricing: build the cart input from live product data and run the engine.
	cartInput, err := s.buildCartInput(ctx, store.ID, cmd.Items, products, promotion, shippingCost)
	if err != nil {
		return domain.Order{}, err
	}

	priced, err := s.pricing.CalculateCartTotals(cartInput)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	storeResult := priced.Stores[0]
	if storeResult.SubtotalAfterDiscounts <= 0 {
		return domain.Order{}, fmt.Errorf("%w: cart subtotal after discounts is %.2f", ErrCheckoutNonPositiveTotal, storeResult.SubtotalAfterDiscounts)
	}

	// Persisting: one transaction decrements stock and inserts the order.
	order := s.buildOrder(cmd, store.ID, priced, products, promotion, methodID)
	decrements := make([]repositories.StockDecrement, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		decrements = append(decrements, repositories.StockDecrement{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	if err := s.orders.CreateWithStockDecrements(ctx, order, decrements); err != nil {
		return domain.Order{}, s.translateOrderWriteError(ctx, err)
	}

	s.dispatchPostCommit(ctx, order)

	return order, nil
}

func validatePlaceOrderCommand(cmd PlaceOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one line item is required", ErrCheckoutInvalidInput)
	}
	seen := make(map[string]bool, len(cmd.Items))
	for _, line := range cmd.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return fmt.Errorf("%w: line item product id is required", ErrCheckoutInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for product %s must be positive", ErrCheckoutInvalidInput, productID)
		}
		if seen[productID] {
			return fmt.Errorf("%w: duplicate line item for product %s", ErrCheckoutInvalidInput, productID)
		}
		seen[productID] = true
	}
	return nil
}

func (s *checkoutService) resolveStore(ctx context.Context, storeID string) (domain.Store, error) {
	store, err := s.stores.FindByID(ctx, strings.TrimSpace(storeID))
	if err != nil {
		return domain.Store{}, s.translateLookupError(err, fmt.Sprintf("store %s", storeID))
	}
	if store.IsDeleted || store.Status != domain.StoreStatusActive {
		return domain.Store{}, fmt.Errorf("%w: store %s", ErrCheckoutNotFound, storeID)
	}
	return store, nil
}

func (s *checkoutService) resolveShippingMethod(ctx context.Context, storeID, methodID string) (domain.ShippingMethod, error) {
	if s.shippingMethods == nil {
		return domain.ShippingMethod{}, fmt.Errorf("%w: shipping method %s unavailable", ErrCheckoutNotFound, methodID)
	}
	method, err := s.shippingMethods.FindByID(ctx, methodID)
	if err != nil {
		return domain.ShippingMethod{}, s.translateLookupError(err, fmt.Sprintf("shipping method %s", methodID))
	}
	if method.StoreID != storeID || method.IsDeleted || !strings.EqualFold(method.Status, "active") {
		return domain.ShippingMethod{}, fmt.Errorf("%w: shipping method %s unavailable", ErrCheckoutNotFound, methodID)
	}
	return method, nil
}

func (s *checkoutService) resolveProducts(ctx context.Context, storeID string, items []CheckoutLineItem) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(items))
	for _, line := range items {
		productID := strings.TrimSpace(line.ProductID)
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			return nil, s.translateLookupError(err, fmt.Sprintf("product %s", productID))
		}
		if product.IsDeleted || product.StoreID != storeID {
			return nil, fmt.Errorf("%w: product %s does not belong to store %s", ErrCheckoutNotFound, productID, storeID)
		}
		if product.Stock < line.Quantity {
			return nil, fmt.Errorf("%w: %s has %d left", ErrCheckoutInsufficientStock, product.Name, product.Stock)
		}
		products[productID] = product
	}
	return products, nil
}

func (s *checkoutService) resolvePromotion(ctx context.Context, storeID, userID, code string) (domain.Promotion, error) {
	if s.promotions == nil {
		return domain.Promotion{}, fmt.Errorf("%w: promotion %s", ErrCheckoutNotFound, code)
	}
	promotion, err := s.promotions.ResolveForCheckout(ctx, ResolvePromotionCommand{
		StoreID: storeID,
		UserID:  userID,
		Code:    code,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrPromotionNotFound):
			return domain.Promotion{}, fmt.Errorf("%w: promotion %s", ErrCheckoutNotFound, code)
		case errors.Is(err, ErrPromotionNotEligible), errors.Is(err, ErrPromotionAlreadyUsed):
			return domain.Promotion{}, fmt.Errorf("%w: %v", ErrCheckoutPromotionRejected, err)
		default:
			return domain.Promotion{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return promotion, nil
}

func (s *checkoutService) buildCartInput(ctx context.Context, storeID string, items []CheckoutLineItem, products map[string]domain.Product, promotion *domain.Promotion, shippingCost float64) (domain.MarketplaceCartInput, error) {
	pricingItems := make([]domain.ProductPricingInput, 0, len(items))
	for _, line := range items {
		product := products[strings.TrimSpace(line.ProductID)]

		discountRules, err := s.resolveDiscountRules(ctx, product)
		if err != nil {
			return domain.MarketplaceCartInput{}, err
		}
		taxRules, err := s.resolveTaxRules(ctx, product)
		if err != nil {
			return domain.MarketplaceCartInput{}, err
		}

		pricingItems = append(pricingItems, domain.ProductPricingInput{
			ProductID:     product.ID,
			StoreID:       storeID,
			BasePrice:     product.Price,
			Quantity:      line.Quantity,
			DiscountRules: discountRules,
			TaxRules:      taxRules,
			Precision:     s.precision,
		})
	}

	storeInput := domain.StoreCartInput{
		StoreID:      storeID,
		Items:        pricingItems,
		ShippingCost: shippingCost,
	}
	if promotion != nil {
		storeInput.Coupon = &domain.CartCoupon{
			PromotionID: promotion.ID,
			Code:        promotion.Code,
			Type:        promotion.Type,
			Value:       promotion.Value,
			MinTotal:    promotion.MinTotal,
		}
	}

	return domain.MarketplaceCartInput{
		Currency:  s.currency,
		Precision: s.precision,
		Stores:    []domain.StoreCartInput{storeInput},
	}, nil
}

// resolveDiscountRules loads the product's linked discount when it is active.
// A product whose final price was lowered by hand without a linked discount
// gets a synthetic fixed rule covering the price gap, so pricing output and
// the displayed catalog price stay reconciled.
func (s *checkoutService) resolveDiscountRules(ctx context.Context, product domain.Product) ([]domain.DiscountRule, error) {
	if discountID := strings.TrimSpace(product.DiscountID); discountID != "" && s.discounts != nil {
		discount, err := s.discounts.FindByID(ctx, discountID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if strings.EqualFold(discount.Status, "active") {
			return []domain.DiscountRule{{
				ID:       discount.ID,
				Type:     discount.Type,
				Value:    discount.Value,
				Priority: discount.Priority,
			}}, nil
		}
		return nil, nil
	}

	if product.PriceFinal > 0 && product.PriceFinal < product.Price {
		return []domain.DiscountRule{{
			Label: manualOverrideDiscountLabel,
			Type:  domain.DiscountTypeFixed,
			Value: domain.Round(product.Price-product.PriceFinal, s.precision),
		}}, nil
	}
	return nil, nil
}

func (s *checkoutService) resolveTaxRules(ctx context.Context, product domain.Product) ([]domain.TaxRule, error) {
	if len(product.TaxIDs) == 0 || s.taxes == nil {
		return nil, nil
	}
	taxes, err := s.taxes.FindByIDs(ctx, product.TaxIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	rules := make([]domain.TaxRule, 0, len(taxes))
	for _, tax := range taxes {
		if !strings.EqualFold(tax.Status, "active") {
			continue
		}
		rules = append(rules, domain.TaxRule{
			ID:    tax.ID,
			Label: tax.Label,
			Type:  tax.Type,
			Rate:  tax.Rate,
		})
	}
	return rules, nil
}

func (s *checkoutService) buildOrder(cmd PlaceOrderCommand, storeID string, priced domain.MarketplaceCartResult, products map[string]domain.Product, promotion *domain.Promotion, methodID string) domain.Order {
	now := s.clock()
	storeResult := priced.Stores[0]

	items := make([]domain.OrderItem, 0, len(storeResult.Items))
	for _, line := range storeResult.Items {
		items = append(items, domain.OrderItem{
			ProductID:      line.ProductID,
			ProductName:    products[line.ProductID].Name,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			UnitPriceFinal: line.UnitPriceFinal,
			LineSubtotal:   line.LineSubtotal,
			LineDiscount:   line.LineDiscount,
		})
	}

	// Zero-amount adjustments carry no audit value and are dropped.
	adjustments := make([]domain.PriceAdjustment, 0, len(priced.Adjustments))
	for _, adj := range priced.Adjustments {
		if adj.Amount == 0 {
			continue
		}
		adjustments = append(adjustments, adj)
	}

	order := domain.Order{
		ID:               orderIDPrefix + s.newID(),
		UserID:           strings.TrimSpace(cmd.UserID),
		StoreID:          storeID,
		Status:           domain.OrderStatusPending,
		Currency:         priced.Currency,
		Subtotal:         priced.Subtotal,
		DiscountTotal:    priced.DiscountTotal,
		TaxTotal:         priced.TaxTotal,
		ShippingTotal:    priced.ShippingTotal,
		Total:            priced.Total,
		ShippingMethodID: methodID,
		PriceAdjustments: adjustments,
		Items:            items,
		ShippingAddress:  cmd.ShippingAddress,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if promotion != nil {
		order.PromotionID = promotion.ID
		order.PromotionCodeUsed = promotion.Code
	}
	return order
}

// translateLookupError maps repository failures on the validation reads into
// the caller-facing taxonomy: a missing document names the subject, anything
// else is a backend fault.
func (s *checkoutService) translateLookupError(err error, subject string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrCheckoutNotFound, subject)
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func (s *checkoutService) translateOrderWriteError(ctx context.Context, err error) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrCheckoutInsufficientStock, orderErr.Message)
		case repositories.OrderErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrCheckoutNotFound, orderErr.Message)
		}
	}
	s.logger(ctx, "checkout.persist_failed", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

// dispatchPostCommit fires the order event and the loyalty award after the
// write transaction committed. Both run detached from the request context and
// neither can affect the commit outcome; failures are logged and swallowed.
func (s *checkoutService) dispatchPostCommit(ctx context.Context, order domain.Order) {
	detached := context.WithoutCancel(ctx)

	go func() {
		if s.events != nil {
			event := BuildOrderCreatedEvent(order)
			if _, err := s.events.PublishOrderEvent(detached, event); err != nil {
				s.logger(detached, "checkout.notify_failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
		}
		if s.loyalty != nil {
			if _, err := s.loyalty.AwardForOrder(detached, order); err != nil {
				s.logger(detached, "checkout.loyalty_award_failed", map[string]any{
					"orderId": order.ID,
					"error":   err.Error(),
				})
			}
		}
	}()
}
