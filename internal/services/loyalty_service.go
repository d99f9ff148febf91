package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/repositories"
)

const (
	loyaltyTransactionIDPrefix = "ltx_"
	loyaltyRedemptionIDPrefix  = "red_"

	// loyaltyReferenceTypeOrder ties an award to the order that earned it.
	loyaltyReferenceTypeOrder = "order"
	// loyaltyReferenceTypeRedemption ties the debit to its redemption row.
	loyaltyReferenceTypeRedemption = "redemption"

	defaultAwardPointsPerUnit  = 1.0
	defaultRedeemPointsPerUnit = 100
)

var (
	// ErrLoyaltyInvalidInput signals a malformed award or redeem request.
	ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")
	// ErrLoyaltyUnknownAction indicates the named accrual action is not configured.
	ErrLoyaltyUnknownAction = errors.New("loyalty: unknown action")
	// ErrLoyaltyDuplicateReference indicates a ledger entry already exists for the reference key.
	ErrLoyaltyDuplicateReference = errors.New("loyalty: duplicate reference")
	// ErrLoyaltyInsufficientBalance indicates the account cannot cover the redemption.
	ErrLoyaltyInsufficientBalance = errors.New("loyalty: insufficient balance")
	// ErrLoyaltyUnavailable indicates the ledger backend is unreachable.
	ErrLoyaltyUnavailable = errors.New("loyalty: unavailable")
)

// LoyaltyServiceDeps bundles collaborators required to construct the ledger service.
type LoyaltyServiceDeps struct {
	Ledger              repositories.LoyaltyRepository
	Actions             map[string]int64
	AwardPointsPerUnit  float64
	RedeemPointsPerUnit int64
	Precision           int
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type loyaltyService struct {
	ledger        repositories.LoyaltyRepository
	actions       map[string]int64
	awardPerUnit  float64
	redeemPerUnit int64
	precision     int
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewLoyaltyService wires dependencies into a LoyaltyService implementation.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("loyalty service: ledger repository is required")
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
	awardPerUnit := deps.AwardPointsPerUnit
	if awardPerUnit <= 0 {
		awardPerUnit = defaultAwardPointsPerUnit
	}
	redeemPerUnit := deps.RedeemPointsPerUnit
	if redeemPerUnit <= 0 {
		redeemPerUnit = defaultRedeemPointsPerUnit
	}

	return &loyaltyService{
		ledger:        deps.Ledger,
		actions:       deps.Actions,
		awardPerUnit:  awardPerUnit,
		redeemPerUnit: redeemPerUnit,
		precision:     domain.NormalizePrecision(deps.Precision),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// EnsureAccount is the idempotent get-or-create for the per-user account.
func (s *loyaltyService) EnsureAccount(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.LoyaltyAccount{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}
	account, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return domain.LoyaltyAccount{}, s.translateLedgerError(err, 0)
	}
	return account, nil
}

// Award appends one ledger entry and updates the account counters atomically.
// When the command carries a reference key, a second call for the same key is
// rejected with ErrLoyaltyDuplicateReference; this is the exactly-once
// guarantee for order-triggered awards under retry.
func (s *loyaltyService) Award(ctx context.Context, userID string, cmd AwardCommand) (AwardResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AwardResult{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}

	points, err := s.resolvePoints(cmd)
	if err != nil {
		return AwardResult{}, err
	}
	if points <= 0 {
		return AwardResult{}, fmt.Errorf("%w: award must grant a positive point amount", ErrLoyaltyInvalidInput)
	}

	refType := strings.TrimSpace(cmd.ReferenceType)
	refID := strings.TrimSpace(cmd.ReferenceID)
	if (refType == "") != (refID == "") {
		return AwardResult{}, fmt.Errorf("%w: reference type and id must be set together", ErrLoyaltyInvalidInput)
	}

	account, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return AwardResult{}, s.translateLedgerError(err, points)
	}

	now := s.clock()
	write := repositories.LoyaltyLedgerWrite{
		Transaction: domain.LoyaltyTransaction{
			ID:            loyaltyTransactionIDPrefix + s.newID(),
			AccountID:     account.ID,
			UserID:        userID,
			ActionID:      strings.TrimSpace(cmd.ActionKey),
			ReferenceType: refType,
			ReferenceID:   refID,
			Points:        points,
			Description:   strings.TrimSpace(cmd.Description),
			Metadata:      cmd.Metadata,
			CreatedAt:     now,
		},
		BalanceDelta: points,
		EarnedDelta:  points,
	}

	transaction, updated, err := s.ledger.AppendTransaction(ctx, write)
	if err != nil {
		return AwardResult{}, s.translateLedgerError(err, points)
	}

	s.logger(ctx, "loyalty.award", map[string]any{
		"userId":        userID,
		"points":        points,
		"referenceType": refType,
		"referenceId":   refID,
	})

	return AwardResult{Transaction: transaction, Account: updated}, nil
}

// Redeem converts points into a cash-equivalent amount. The redemption row
// and its debit transaction commit in one ledger write, so neither can land
// without the other, and the balance re-check inside that write closes the
// race against concurrent debits.
func (s *loyaltyService) Redeem(ctx context.Context, userID string, points int64, note string) (RedeemResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RedeemResult{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}
	if points <= 0 {
		return RedeemResult{}, fmt.Errorf("%w: redemption points must be positive", ErrLoyaltyInvalidInput)
	}

	account, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return RedeemResult{}, s.translateLedgerError(err, points)
	}
	if points > account.Balance {
		return RedeemResult{}, fmt.Errorf("%w: balance %d cannot cover %d points", ErrLoyaltyInsufficientBalance, account.Balance, points)
	}

	now := s.clock()
	redemption := domain.LoyaltyRedemption{
		ID:        loyaltyRedemptionIDPrefix + s.newID(),
		AccountID: account.ID,
		UserID:    userID,
		Points:    points,
		Amount:    domain.Round(float64(points)/float64(s.redeemPerUnit), s.precision),
		Note:      strings.TrimSpace(note),
		CreatedAt: now,
	}

	write := repositories.LoyaltyLedgerWrite{
		Transaction: domain.LoyaltyTransaction{
			ID:            loyaltyTransactionIDPrefix + s.newID(),
			AccountID:     account.ID,
			UserID:        userID,
			ReferenceType: loyaltyReferenceTypeRedemption,
			ReferenceID:   redemption.ID,
			Points:        -points,
			Description:   "points redemption",
			CreatedAt:     now,
		},
		BalanceDelta:  -points,
		RedeemedDelta: points,
		Redemption:    &redemption,
	}

	transaction, updated, err := s.ledger.AppendTransaction(ctx, write)
	if err != nil {
		return RedeemResult{}, s.translateLedgerError(err, -points)
	}

	s.logger(ctx, "loyalty.redeem", map[string]any{
		"userId":       userID,
		"points":       points,
		"amount":       redemption.Amount,
		"redemptionId": redemption.ID,
	})

	return RedeemResult{
		Redemption:  redemption,
		Transaction: transaction,
		Account:     updated,
	}, nil
}

// AwardForOrder accrues points from an order's total. A zero-value order is
// not a failure; the award is skipped.
func (s *loyaltyService) AwardForOrder(ctx context.Context, order domain.Order) (AwardResult, error) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return AwardResult{}, fmt.Errorf("%w: order id is required", ErrLoyaltyInvalidInput)
	}

	points := int64(math.Floor(order.Total * s.awardPerUnit))
	if points <= 0 {
		return AwardResult{Skipped: true}, nil
	}

	return s.Award(ctx, strings.TrimSpace(order.UserID), AwardCommand{
		Points:        points,
		ReferenceType: loyaltyReferenceTypeOrder,
		ReferenceID:   orderID,
		Description:   fmt.Sprintf("points for order %s", orderID),
	})
}

// ListTransactions pages through the account's ledger history, newest first.
func (s *loyaltyService) ListTransactions(ctx context.Context, filter LoyaltyTransactionFilter) (domain.CursorPage[domain.LoyaltyTransaction], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, fmt.Errorf("%w: user id is required", ErrLoyaltyInvalidInput)
	}

	account, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, s.translateLedgerError(err, 0)
	}

	page, err := s.ledger.ListTransactions(ctx, account.ID, filter.PageSize, filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, s.translateLedgerError(err, 0)
	}
	return page, nil
}

func (s *loyaltyService) resolvePoints(cmd AwardCommand) (int64, error) {
	if cmd.Points != 0 {
		return cmd.Points, nil
	}
	key := strings.TrimSpace(cmd.ActionKey)
	if key == "" {
		return 0, fmt.Errorf("%w: either points or an action key is required", ErrLoyaltyInvalidInput)
	}
	base, ok := s.actions[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrLoyaltyUnknownAction, key)
	}
	if cmd.Multiplier > 0 {
		// Truncate toward zero; partial points are never granted.
		return int64(float64(base) * cmd.Multiplier), nil
	}
	return base, nil
}

func (s *loyaltyService) translateLedgerError(err error, points int64) error {
	if err == nil {
		return nil
	}
	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Code {
		case repositories.LedgerErrorDuplicateReference:
			return fmt.Errorf("%w: %v", ErrLoyaltyDuplicateReference, err)
		case repositories.LedgerErrorBalanceBelowZero:
			return fmt.Errorf("%w: %v", ErrLoyaltyInsufficientBalance, err)
		case repositories.LedgerErrorAccountNotFound:
			return fmt.Errorf("%w: %v", ErrLoyaltyInvalidInput, err)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			if points < 0 {
				return fmt.Errorf("%w: %v", ErrLoyaltyInsufficientBalance, err)
			}
			return fmt.Errorf("%w: %v", ErrLoyaltyDuplicateReference, err)
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrLoyaltyInvalidInput, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
}
