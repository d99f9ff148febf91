package repositories

import (
	"context"

	domain "github.com/tradeyard/api/internal/domain"
)

// RepositoryError classifies persistence failures so services can translate
// them into the caller-facing error taxonomy without knowing the backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StoreRepository reads seller store records.
type StoreRepository interface {
	FindByID(ctx context.Context, storeID string) (domain.Store, error)
}

// ProductRepository reads catalog products referenced by checkout.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// DiscountRepository reads discount rules linked from products.
type DiscountRepository interface {
	FindByID(ctx context.Context, discountID string) (domain.Discount, error)
}

// TaxRepository reads the tax rules attached to a product.
type TaxRepository interface {
	FindByIDs(ctx context.Context, taxIDs []string) ([]domain.Tax, error)
}

// ShippingMethodRepository reads store shipping methods.
type ShippingMethodRepository interface {
	FindByID(ctx context.Context, methodID string) (domain.ShippingMethod, error)
}

// PromotionRepository reads promotions by code.
type PromotionRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
}

// StockDecrement is one product stock mutation performed inside the checkout
// transaction.
type StockDecrement struct {
	ProductID string
	Quantity  int
}

// OrderRepository persists orders. CreateWithStockDecrements must re-check and
// decrement stock inside the same transaction that inserts the order; the
// entire write aborts if any line has insufficient stock.
type OrderRepository interface {
	CreateWithStockDecrements(ctx context.Context, order domain.Order, decrements []StockDecrement) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pageSize int, pageToken string) (domain.CursorPage[domain.Order], error)
	CountByUserAndPromotion(ctx context.Context, userID, promotionID string) (int, error)
}

// LoyaltyLedgerWrite couples a ledger transaction with the account counter
// deltas it implies; the repository applies both atomically. When Redemption
// is set, its row commits in the same write, so a redemption can never exist
// without its paired debit.
type LoyaltyLedgerWrite struct {
	Transaction   domain.LoyaltyTransaction
	BalanceDelta  int64
	EarnedDelta   int64
	RedeemedDelta int64
	Redemption    *domain.LoyaltyRedemption
}

// LoyaltyRepository owns loyalty accounts, the append-only transaction ledger,
// and redemption rows. AppendTransaction must reject a write whose transaction
// carries a reference key already present on the account.
type LoyaltyRepository interface {
	GetOrCreateAccount(ctx context.Context, userID string) (domain.LoyaltyAccount, error)
	AppendTransaction(ctx context.Context, write LoyaltyLedgerWrite) (domain.LoyaltyTransaction, domain.LoyaltyAccount, error)
	ListTransactions(ctx context.Context, accountID string, pageSize int, pageToken string) (domain.CursorPage[domain.LoyaltyTransaction], error)
}
