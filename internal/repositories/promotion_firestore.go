package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tradeyard/api/internal/domain"
	fs "github.com/tradeyard/api/internal/platform/firestore"
)

const collectionPromotions = "promotions"

type promotionDoc struct {
	StoreID  string    `firestore:"storeId"`
	Type     string    `firestore:"type"`
	Value    float64   `firestore:"value"`
	MinTotal float64   `firestore:"minTotal"`
	Code     string    `firestore:"code"`
	Status   string    `firestore:"status"`
	StartsAt time.Time `firestore:"startsAt"`
	EndsAt   time.Time `firestore:"endsAt"`
}

// FirestorePromotionRepository resolves promotions by their redemption code.
type FirestorePromotionRepository struct {
	promotions *fs.BaseRepository[promotionDoc]
}

// NewFirestorePromotionRepository binds the promotions collection to the provider.
func NewFirestorePromotionRepository(provider *fs.Provider) (*FirestorePromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository: firestore provider is required")
	}
	return &FirestorePromotionRepository{
		promotions: fs.NewBaseRepository[promotionDoc](provider, collectionPromotions, nil, nil),
	}, nil
}

// FindByCode returns the promotion whose code matches exactly. Codes are
// stored uppercase; callers normalize before querying.
func (r *FirestorePromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Promotion{}, fs.WrapError("promotions.find_by_code", errors.New("code is required"))
	}

	docs, err := r.promotions.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, fs.NotFoundError("promotions.find_by_code", "promotion "+code)
	}

	doc := docs[0]
	return domain.Promotion{
		ID:       doc.ID,
		StoreID:  doc.Data.StoreID,
		Type:     domain.PromotionType(doc.Data.Type),
		Value:    doc.Data.Value,
		MinTotal: doc.Data.MinTotal,
		Code:     doc.Data.Code,
		Status:   doc.Data.Status,
		StartsAt: doc.Data.StartsAt,
		EndsAt:   doc.Data.EndsAt,
	}, nil
}

var _ PromotionRepository = (*FirestorePromotionRepository)(nil)
