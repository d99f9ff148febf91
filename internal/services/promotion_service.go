package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/repositories"
)

var (
	// ErrPromotionNotFound indicates no promotion exists for the supplied code.
	ErrPromotionNotFound = errors.New("promotion: not found")
	// ErrPromotionNotEligible indicates the promotion cannot be used for this checkout.
	ErrPromotionNotEligible = errors.New("promotion: not eligible")
	// ErrPromotionAlreadyUsed indicates the buyer already redeemed this coupon.
	ErrPromotionAlreadyUsed = errors.New("promotion: already used")
	// ErrPromotionUnavailable indicates the promotion backend is unreachable.
	ErrPromotionUnavailable = errors.New("promotion: unavailable")
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Orders     repositories.OrderRepository
	Clock      func() time.Time
}

type promotionService struct {
	promotions repositories.PromotionRepository
	orders     repositories.OrderRepository
	clock      func() time.Time
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, errors.New("promotion service: promotion repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("promotion service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &promotionService{
		promotions: deps.Promotions,
		orders:     deps.Orders,
		clock:      func() time.Time { return clock().UTC() },
	}, nil
}

// ResolveForCheckout validates a promotion code for one buyer at one store.
// Coupon-type promotions enforce single use per buyer by counting the buyer's
// prior orders referencing the promotion; under concurrent checkouts this
// check is advisory only.
func (s *promotionService) ResolveForCheckout(ctx context.Context, cmd ResolvePromotionCommand) (domain.Promotion, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return domain.Promotion{}, fmt.Errorf("%w: code is required", ErrPromotionNotFound)
	}

	promotion, err := s.promotions.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Promotion{}, fmt.Errorf("%w: %s", ErrPromotionNotFound, code)
		}
		return domain.Promotion{}, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}

	if !strings.EqualFold(strings.TrimSpace(promotion.Status), "active") {
		return domain.Promotion{}, fmt.Errorf("%w: promotion %s is not active", ErrPromotionNotEligible, code)
	}
	if storeID := strings.TrimSpace(cmd.StoreID); storeID != "" && promotion.StoreID != "" && promotion.StoreID != storeID {
		return domain.Promotion{}, fmt.Errorf("%w: promotion %s belongs to another store", ErrPromotionNotEligible, code)
	}

	now := s.clock()
	if !promotion.StartsAt.IsZero() && now.Before(promotion.StartsAt) {
		return domain.Promotion{}, fmt.Errorf("%w: promotion %s has not started", ErrPromotionNotEligible, code)
	}
	if !promotion.EndsAt.IsZero() && now.After(promotion.EndsAt) {
		return domain.Promotion{}, fmt.Errorf("%w: promotion %s has expired", ErrPromotionNotEligible, code)
	}

	if promotion.Type == domain.PromotionTypeCoupon {
		userID := strings.TrimSpace(cmd.UserID)
		if userID == "" {
			return domain.Promotion{}, fmt.Errorf("%w: coupon %s requires a buyer", ErrPromotionNotEligible, code)
		}
		used, err := s.orders.CountByUserAndPromotion(ctx, userID, promotion.ID)
		if err != nil {
			return domain.Promotion{}, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
		}
		if used > 0 {
			return domain.Promotion{}, fmt.Errorf("%w: coupon %s", ErrPromotionAlreadyUsed, code)
		}
	}

	return promotion, nil
}
