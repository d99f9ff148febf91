package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tradeyard/api/internal/domain"
)

// notFoundError satisfies repositories.RepositoryError for lookup misses.
type notFoundError struct{ msg string }

func (e notFoundError) Error() string       { return e.msg }
func (e notFoundError) IsNotFound() bool    { return true }
func (e notFoundError) IsConflict() bool    { return false }
func (e notFoundError) IsUnavailable() bool { return false }

type fakePromotionRepo struct {
	promotions map[string]domain.Promotion
}

func (f *fakePromotionRepo) FindByCode(_ context.Context, code string) (domain.Promotion, error) {
	promotion, ok := f.promotions[code]
	if !ok {
		return domain.Promotion{}, notFoundError{msg: "promotion not found"}
	}
	return promotion, nil
}

type fakeOrderCounter struct {
	fakeOrderRepo
	used map[string]int
}

func (f *fakeOrderCounter) CountByUserAndPromotion(_ context.Context, userID, promotionID string) (int, error) {
	return f.used[userID+"/"+promotionID], nil
}

func newPromotionServiceForTest(t *testing.T, promotions map[string]domain.Promotion, used map[string]int) PromotionService {
	t.Helper()
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: &fakePromotionRepo{promotions: promotions},
		Orders:     &fakeOrderCounter{used: used},
		Clock:      func() time.Time { return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	return svc
}

func TestResolveForCheckoutUppercasesCode(t *testing.T) {
	svc := newPromotionServiceForTest(t, map[string]domain.Promotion{
		"SAVE10": {ID: "prm_1", StoreID: "str_1", Type: domain.PromotionTypePercentage, Value: 10, Code: "SAVE10", Status: "active"},
	}, nil)

	promotion, err := svc.ResolveForCheckout(context.Background(), ResolvePromotionCommand{
		StoreID: "str_1",
		UserID:  "usr_1",
		Code:    "  save10 ",
	})
	if err != nil {
		t.Fatalf("ResolveForCheckout: %v", err)
	}
	if promotion.ID != "prm_1" {
		t.Fatalf("promotion id = %s, want prm_1", promotion.ID)
	}
}

func TestResolveForCheckoutUnknownCode(t *testing.T) {
	svc := newPromotionServiceForTest(t, nil, nil)

	if _, err := svc.ResolveForCheckout(context.Background(), ResolvePromotionCommand{Code: "NOPE"}); !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("error = %v, want ErrPromotionNotFound", err)
	}
}

func TestResolveForCheckoutInactivePromotion(t *testing.T) {
	svc := newPromotionServiceForTest(t, map[string]domain.Promotion{
		"OLD": {ID: "prm_1", Code: "OLD", Status: "archived"},
	}, nil)

	if _, err := svc.ResolveForCheckout(context.Background(), ResolvePromotionCommand{Code: "OLD"}); !errors.Is(err, ErrPromotionNotEligible) {
		t.Fatalf("error = %v, want ErrPromotionNotEligible", err)
	}
}

func TestResolveForCheckoutForeignStore(t *testing.T) {
	svc := newPromotionServiceForTest(t, map[string]domain.Promotion{
		"SAVE10": {ID: "prm_1", StoreID: "str_other", Code: "SAVE10", Status: "active"},
	}, nil)

	if _, err := svc.ResolveForCheckout(context.Background(), ResolvePromotionCommand{StoreID: "str_1", Code: "SAVE10"}); !errors.Is(err, ErrPromotionNotEligible) {
		t.Fatalf("error = %v, want ErrPromotionNotEligible", err)
	}
}

func TestResolveForCheckoutOutsideWindow(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	svc := newPromotionServiceForTest(t, map[string]domain.Promotion{
		"EARLY": {ID: "prm_1", Code: "EARLY", Status: "active", StartsAt: now.Add(24 * time.Hour)},
		"LATE":  {ID: "prm_2", Code: "LATE", Status: "active", EndsAt: now.Add(-24 * time.Hour)},
	}, nil)

	if _, err := svc.ResolveForCheckout(context.Background(), ResolvePromotionCommand{Code: "EARLY"}); !errors.Is(err, ErrPromotionNotEligible) {
		t.Fatalf("not-started error = %v, want ErrPromotionNotEligible", err)
	}
	if _, err := svc.ResolveForCheckout(context.Background(), ResolvePromotionCommand{Code: "LATE"}); !errors.Is(err, ErrPromotionNotEligible) {
		t.Fatalf("expired error = %v, want ErrPromotionNotEligible", err)
	}
}

func TestResolveForCheckoutCouponSingleUse(t *testing.T) {
	promotions := map[string]domain.Promotion{
		"ONCE": {ID: "prm_1", StoreID: "str_1", Type: domain.PromotionTypeCoupon, Value: 5, Code: "ONCE", Status: "active"},
	}

	fresh := newPromotionServiceForTest(t, promotions, nil)
	if _, err := fresh.ResolveForCheckout(context.Background(), ResolvePromotionCommand{StoreID: "str_1", UserID: "usr_1", Code: "ONCE"}); err != nil {
		t.Fatalf("first use: %v", err)
	}

	used := newPromotionServiceForTest(t, promotions, map[string]int{"usr_1/prm_1": 1})
	if _, err := used.ResolveForCheckout(context.Background(), ResolvePromotionCommand{StoreID: "str_1", UserID: "usr_1", Code: "ONCE"}); !errors.Is(err, ErrPromotionAlreadyUsed) {
		t.Fatalf("second use error = %v, want ErrPromotionAlreadyUsed", err)
	}
}
