package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tradeyard/api/internal/domain"
	fs "github.com/tradeyard/api/internal/platform/firestore"
)

const (
	collectionStores          = "stores"
	collectionProducts        = "products"
	collectionDiscounts       = "discounts"
	collectionTaxes           = "taxes"
	collectionShippingMethods = "shippingMethods"
)

type storeDoc struct {
	OwnerID   string    `firestore:"ownerId"`
	Name      string    `firestore:"name"`
	Status    string    `firestore:"status"`
	IsDeleted bool      `firestore:"isDeleted"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type productDoc struct {
	StoreID    string    `firestore:"storeId"`
	Name       string    `firestore:"name"`
	Price      float64   `firestore:"price"`
	PriceFinal float64   `firestore:"priceFinal"`
	Stock      int       `firestore:"stock"`
	DiscountID string    `firestore:"discountId"`
	TaxIDs     []string  `firestore:"taxIds"`
	IsDeleted  bool      `firestore:"isDeleted"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

type discountDoc struct {
	StoreID  string  `firestore:"storeId"`
	Type     string  `firestore:"type"`
	Value    float64 `firestore:"value"`
	Priority int     `firestore:"priority"`
	Status   string  `firestore:"status"`
}

type taxDoc struct {
	Label  string  `firestore:"label"`
	Type   string  `firestore:"type"`
	Rate   float64 `firestore:"rate"`
	Status string  `firestore:"status"`
}

type shippingMethodDoc struct {
	StoreID   string  `firestore:"storeId"`
	Label     string  `firestore:"label"`
	Cost      float64 `firestore:"cost"`
	Status    string  `firestore:"status"`
	IsDeleted bool    `firestore:"isDeleted"`
}

// FirestoreCatalogRepository serves the read side of checkout: stores,
// products, discounts, taxes, and shipping methods. It implements
// StoreRepository, ProductRepository, DiscountRepository, TaxRepository, and
// ShippingMethodRepository.
type FirestoreCatalogRepository struct {
	stores    *fs.BaseRepository[storeDoc]
	products  *fs.BaseRepository[productDoc]
	discounts *fs.BaseRepository[discountDoc]
	taxes     *fs.BaseRepository[taxDoc]
	shipping  *fs.BaseRepository[shippingMethodDoc]
}

// NewFirestoreCatalogRepository binds the catalog collections to the provider.
func NewFirestoreCatalogRepository(provider *fs.Provider) (*FirestoreCatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository: firestore provider is required")
	}
	return &FirestoreCatalogRepository{
		stores:    fs.NewBaseRepository[storeDoc](provider, collectionStores, nil, nil),
		products:  fs.NewBaseRepository[productDoc](provider, collectionProducts, nil, nil),
		discounts: fs.NewBaseRepository[discountDoc](provider, collectionDiscounts, nil, nil),
		taxes:     fs.NewBaseRepository[taxDoc](provider, collectionTaxes, nil, nil),
		shipping:  fs.NewBaseRepository[shippingMethodDoc](provider, collectionShippingMethods, nil, nil),
	}, nil
}

// FindByID fetches one store document.
func (r *FirestoreCatalogRepository) FindByID(ctx context.Context, storeID string) (domain.Store, error) {
	doc, err := r.stores.Get(ctx, strings.TrimSpace(storeID))
	if err != nil {
		return domain.Store{}, err
	}
	return storeFromDoc(doc.ID, doc.Data), nil
}

// FindProductByID fetches one product document.
func (r *FirestoreCatalogRepository) FindProductByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return productFromDoc(doc.ID, doc.Data), nil
}

// FindDiscountByID fetches one discount document.
func (r *FirestoreCatalogRepository) FindDiscountByID(ctx context.Context, discountID string) (domain.Discount, error) {
	doc, err := r.discounts.Get(ctx, strings.TrimSpace(discountID))
	if err != nil {
		return domain.Discount{}, err
	}
	return discountFromDoc(doc.ID, doc.Data), nil
}

// FindTaxesByIDs fetches the tax documents for the given ids, skipping any
// that no longer exist.
func (r *FirestoreCatalogRepository) FindTaxesByIDs(ctx context.Context, taxIDs []string) ([]domain.Tax, error) {
	out := make([]domain.Tax, 0, len(taxIDs))
	for _, id := range taxIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		doc, err := r.taxes.Get(ctx, id)
		if err != nil {
			var repoErr RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out = append(out, taxFromDoc(doc.ID, doc.Data))
	}
	return out, nil
}

// FindShippingMethodByID fetches one shipping method document.
func (r *FirestoreCatalogRepository) FindShippingMethodByID(ctx context.Context, methodID string) (domain.ShippingMethod, error) {
	doc, err := r.shipping.Get(ctx, strings.TrimSpace(methodID))
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	return shippingMethodFromDoc(doc.ID, doc.Data), nil
}

// Products narrows the catalog repository to the ProductRepository interface.
func (r *FirestoreCatalogRepository) Products() ProductRepository {
	return productRepositoryFunc{repo: r}
}

// Discounts narrows the catalog repository to the DiscountRepository interface.
func (r *FirestoreCatalogRepository) Discounts() DiscountRepository {
	return discountRepositoryFunc{repo: r}
}

// Taxes narrows the catalog repository to the TaxRepository interface.
func (r *FirestoreCatalogRepository) Taxes() TaxRepository {
	return taxRepositoryFunc{repo: r}
}

// ShippingMethods narrows the catalog repository to the ShippingMethodRepository interface.
func (r *FirestoreCatalogRepository) ShippingMethods() ShippingMethodRepository {
	return shippingMethodRepositoryFunc{repo: r}
}

type productRepositoryFunc struct{ repo *FirestoreCatalogRepository }

func (f productRepositoryFunc) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return f.repo.FindProductByID(ctx, productID)
}

type discountRepositoryFunc struct{ repo *FirestoreCatalogRepository }

func (f discountRepositoryFunc) FindByID(ctx context.Context, discountID string) (domain.Discount, error) {
	return f.repo.FindDiscountByID(ctx, discountID)
}

type taxRepositoryFunc struct{ repo *FirestoreCatalogRepository }

func (f taxRepositoryFunc) FindByIDs(ctx context.Context, taxIDs []string) ([]domain.Tax, error) {
	return f.repo.FindTaxesByIDs(ctx, taxIDs)
}

type shippingMethodRepositoryFunc struct{ repo *FirestoreCatalogRepository }

func (f shippingMethodRepositoryFunc) FindByID(ctx context.Context, methodID string) (domain.ShippingMethod, error) {
	return f.repo.FindShippingMethodByID(ctx, methodID)
}

func storeFromDoc(id string, doc storeDoc) domain.Store {
	return domain.Store{
		ID:        id,
		OwnerID:   doc.OwnerID,
		Name:      doc.Name,
		Status:    domain.StoreStatus(doc.Status),
		IsDeleted: doc.IsDeleted,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func productFromDoc(id string, doc productDoc) domain.Product {
	return domain.Product{
		ID:         id,
		StoreID:    doc.StoreID,
		Name:       doc.Name,
		Price:      doc.Price,
		PriceFinal: doc.PriceFinal,
		Stock:      doc.Stock,
		DiscountID: doc.DiscountID,
		TaxIDs:     doc.TaxIDs,
		IsDeleted:  doc.IsDeleted,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func discountFromDoc(id string, doc discountDoc) domain.Discount {
	return domain.Discount{
		ID:       id,
		StoreID:  doc.StoreID,
		Type:     domain.DiscountType(doc.Type),
		Value:    doc.Value,
		Priority: doc.Priority,
		Status:   doc.Status,
	}
}

func taxFromDoc(id string, doc taxDoc) domain.Tax {
	return domain.Tax{
		ID:     id,
		Label:  doc.Label,
		Type:   domain.DiscountType(doc.Type),
		Rate:   doc.Rate,
		Status: doc.Status,
	}
}

func shippingMethodFromDoc(id string, doc shippingMethodDoc) domain.ShippingMethod {
	return domain.ShippingMethod{
		ID:        id,
		StoreID:   doc.StoreID,
		Label:     doc.Label,
		Cost:      doc.Cost,
		Status:    doc.Status,
		IsDeleted: doc.IsDeleted,
	}
}

var _ StoreRepository = (*FirestoreCatalogRepository)(nil)
