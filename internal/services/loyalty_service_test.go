package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/repositories"
)

// fakeLedger is an in-memory LoyaltyRepository enforcing the same invariants
// as the real backend: one transaction per reference key and a non-negative
// balance.
type fakeLedger struct {
	accounts     map[string]domain.LoyaltyAccount
	transactions []domain.LoyaltyTransaction
	redemptions  []domain.LoyaltyRedemption
	appendCalls  int
	beforeAppend func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{accounts: map[string]domain.LoyaltyAccount{}}
}

func (f *fakeLedger) GetOrCreateAccount(_ context.Context, userID string) (domain.LoyaltyAccount, error) {
	if account, ok := f.accounts[userID]; ok {
		return account, nil
	}
	account := domain.LoyaltyAccount{ID: "acct_" + userID, UserID: userID}
	f.accounts[userID] = account
	return account, nil
}

func (f *fakeLedger) AppendTransaction(_ context.Context, write repositories.LoyaltyLedgerWrite) (domain.LoyaltyTransaction, domain.LoyaltyAccount, error) {
	f.appendCalls++
	if f.beforeAppend != nil {
		f.beforeAppend()
	}
	tx := write.Transaction

	account, ok := f.accounts[tx.UserID]
	if !ok {
		return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, repositories.NewLedgerError(repositories.LedgerErrorAccountNotFound, "account missing", nil)
	}
	if tx.ReferenceType != "" {
		for _, existing := range f.transactions {
			if existing.AccountID == tx.AccountID && existing.ReferenceType == tx.ReferenceType && existing.ReferenceID == tx.ReferenceID {
				return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, repositories.NewLedgerError(repositories.LedgerErrorDuplicateReference, "reference already recorded", nil)
			}
		}
	}
	if account.Balance+write.BalanceDelta < 0 {
		return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, repositories.NewLedgerError(repositories.LedgerErrorBalanceBelowZero, "balance would go negative", nil)
	}

	account.Balance += write.BalanceDelta
	account.LifetimeEarned += write.EarnedDelta
	account.LifetimeRedeemed += write.RedeemedDelta
	f.accounts[tx.UserID] = account
	f.transactions = append(f.transactions, tx)
	if write.Redemption != nil {
		f.redemptions = append(f.redemptions, *write.Redemption)
	}
	return tx, account, nil
}

func (f *fakeLedger) ListTransactions(_ context.Context, accountID string, _ int, _ string) (domain.CursorPage[domain.LoyaltyTransaction], error) {
	var items []domain.LoyaltyTransaction
	for _, tx := range f.transactions {
		if tx.AccountID == accountID {
			items = append(items, tx)
		}
	}
	return domain.CursorPage[domain.LoyaltyTransaction]{Items: items}, nil
}

func newLoyaltyServiceForTest(t *testing.T, ledger *fakeLedger, mutate func(*LoyaltyServiceDeps)) LoyaltyService {
	t.Helper()
	seq := 0
	deps := LoyaltyServiceDeps{
		Ledger:              ledger,
		Actions:             map[string]int64{"review": 50},
		RedeemPointsPerUnit: 100,
		Precision:           2,
		Clock:               func() time.Time { return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%026d", seq)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := NewLoyaltyService(deps)
	if err != nil {
		t.Fatalf("NewLoyaltyService: %v", err)
	}
	return svc
}

func TestLoyaltyAwardUpdatesBalanceAndLifetimeEarned(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	result, err := svc.Award(context.Background(), "usr_1", AwardCommand{Points: 120})
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if result.Account.Balance != 120 || result.Account.LifetimeEarned != 120 {
		t.Fatalf("account = %+v, want balance 120 and lifetimeEarned 120", result.Account)
	}
	if result.Transaction.Points != 120 {
		t.Fatalf("transaction points = %d, want 120", result.Transaction.Points)
	}
}

func TestLoyaltyAwardDuplicateReferenceIsRejected(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	cmd := AwardCommand{Points: 50, ReferenceType: "order", ReferenceID: "ord_1"}
	if _, err := svc.Award(context.Background(), "usr_1", cmd); err != nil {
		t.Fatalf("first Award: %v", err)
	}
	if _, err := svc.Award(context.Background(), "usr_1", cmd); !errors.Is(err, ErrLoyaltyDuplicateReference) {
		t.Fatalf("second Award error = %v, want ErrLoyaltyDuplicateReference", err)
	}

	account := ledger.accounts["usr_1"]
	if account.Balance != 50 {
		t.Fatalf("balance = %d, want 50 after replayed award", account.Balance)
	}
}

func TestLoyaltyAwardRequiresCompleteReferencePair(t *testing.T) {
	svc := newLoyaltyServiceForTest(t, newFakeLedger(), nil)

	if _, err := svc.Award(context.Background(), "usr_1", AwardCommand{Points: 10, ReferenceType: "order"}); !errors.Is(err, ErrLoyaltyInvalidInput) {
		t.Fatalf("error = %v, want ErrLoyaltyInvalidInput", err)
	}
}

func TestLoyaltyAwardResolvesActionWithMultiplier(t *testing.T) {
	svc := newLoyaltyServiceForTest(t, newFakeLedger(), nil)

	result, err := svc.Award(context.Background(), "usr_1", AwardCommand{ActionKey: "review", Multiplier: 1.5})
	if err != nil {
		t.Fatalf("Award: %v", err)
	}
	if result.Transaction.Points != 75 {
		t.Fatalf("points = %d, want 75 (50 * 1.5)", result.Transaction.Points)
	}

	if _, err := svc.Award(context.Background(), "usr_1", AwardCommand{ActionKey: "unknown"}); !errors.Is(err, ErrLoyaltyUnknownAction) {
		t.Fatalf("unknown action error = %v, want ErrLoyaltyUnknownAction", err)
	}
}

func TestLoyaltyRedeemConvertsPointsToAmount(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	if _, err := svc.Award(context.Background(), "usr_1", AwardCommand{Points: 800}); err != nil {
		t.Fatalf("seed Award: %v", err)
	}

	result, err := svc.Redeem(context.Background(), "usr_1", 500, "gift card")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if result.Redemption.Amount != 5.00 {
		t.Fatalf("amount = %v, want 5.00 at 100 points per unit", result.Redemption.Amount)
	}
	if result.Transaction.Points != -500 {
		t.Fatalf("debit points = %d, want -500", result.Transaction.Points)
	}
	if result.Transaction.ReferenceType != "redemption" || result.Transaction.ReferenceID != result.Redemption.ID {
		t.Fatalf("debit must reference its redemption, got %s/%s", result.Transaction.ReferenceType, result.Transaction.ReferenceID)
	}
	if result.Account.Balance != 300 || result.Account.LifetimeRedeemed != 500 {
		t.Fatalf("account = %+v, want balance 300 and lifetimeRedeemed 500", result.Account)
	}
}

func TestLoyaltyRedeemInsufficientBalance(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	if _, err := svc.Award(context.Background(), "usr_1", AwardCommand{Points: 100}); err != nil {
		t.Fatalf("seed Award: %v", err)
	}
	if _, err := svc.Redeem(context.Background(), "usr_1", 500, ""); !errors.Is(err, ErrLoyaltyInsufficientBalance) {
		t.Fatalf("error = %v, want ErrLoyaltyInsufficientBalance", err)
	}
	if len(ledger.redemptions) != 0 {
		t.Fatalf("redemptions = %d, want 0 after rejected redeem", len(ledger.redemptions))
	}
}

func TestLoyaltyRedeemConcurrentDrainLeavesNoRedemption(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	if _, err := svc.Award(context.Background(), "usr_1", AwardCommand{Points: 800}); err != nil {
		t.Fatalf("seed Award: %v", err)
	}

	// Drain the balance between the service's pre-check read and the ledger
	// write, the way a racing redemption would.
	ledger.beforeAppend = func() {
		account := ledger.accounts["usr_1"]
		account.Balance = 100
		ledger.accounts["usr_1"] = account
	}

	if _, err := svc.Redeem(context.Background(), "usr_1", 500, "gift card"); !errors.Is(err, ErrLoyaltyInsufficientBalance) {
		t.Fatalf("error = %v, want ErrLoyaltyInsufficientBalance", err)
	}
	if len(ledger.redemptions) != 0 {
		t.Fatalf("redemptions = %d, want 0 when the debit is rejected", len(ledger.redemptions))
	}
	if len(ledger.transactions) != 1 {
		t.Fatalf("transactions = %d, want only the seed award", len(ledger.transactions))
	}
}

func TestLoyaltyAwardForOrderFloorsPoints(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	result, err := svc.AwardForOrder(context.Background(), domain.Order{ID: "ord_1", UserID: "usr_1", Total: 187.50})
	if err != nil {
		t.Fatalf("AwardForOrder: %v", err)
	}
	if result.Transaction.Points != 187 {
		t.Fatalf("points = %d, want 187", result.Transaction.Points)
	}
	if result.Transaction.ReferenceID != "ord_1" {
		t.Fatalf("reference id = %s, want ord_1", result.Transaction.ReferenceID)
	}
}

func TestLoyaltyAwardForOrderSkipsZeroTotal(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	result, err := svc.AwardForOrder(context.Background(), domain.Order{ID: "ord_1", UserID: "usr_1", Total: 0.40})
	if err != nil {
		t.Fatalf("AwardForOrder: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("result = %+v, want Skipped", result)
	}
	if ledger.appendCalls != 0 {
		t.Fatalf("append calls = %d, want 0 for skipped award", ledger.appendCalls)
	}
}

func TestLoyaltyAwardForOrderIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	order := domain.Order{ID: "ord_1", UserID: "usr_1", Total: 100}
	if _, err := svc.AwardForOrder(context.Background(), order); err != nil {
		t.Fatalf("first AwardForOrder: %v", err)
	}
	if _, err := svc.AwardForOrder(context.Background(), order); !errors.Is(err, ErrLoyaltyDuplicateReference) {
		t.Fatalf("second AwardForOrder error = %v, want ErrLoyaltyDuplicateReference", err)
	}
	if got := ledger.accounts["usr_1"].Balance; got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
}

func TestLoyaltyEnsureAccountIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	svc := newLoyaltyServiceForTest(t, ledger, nil)

	first, err := svc.EnsureAccount(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("EnsureAccount: %v", err)
	}
	second, err := svc.EnsureAccount(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("EnsureAccount again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("account ids differ: %s vs %s", first.ID, second.ID)
	}
}
