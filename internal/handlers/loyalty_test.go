package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/services"
)

type fakeLoyaltyService struct {
	account      domain.LoyaltyAccount
	redeemResult services.RedeemResult
	page         domain.CursorPage[domain.LoyaltyTransaction]
	err          error

	lastRedeemPoints int64
	lastRedeemNote   string
}

func (f *fakeLoyaltyService) EnsureAccount(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	if f.err != nil {
		return domain.LoyaltyAccount{}, f.err
	}
	return f.account, nil
}

func (f *fakeLoyaltyService) Award(ctx context.Context, userID string, cmd services.AwardCommand) (services.AwardResult, error) {
	return services.AwardResult{}, f.err
}

func (f *fakeLoyaltyService) Redeem(ctx context.Context, userID string, points int64, note string) (services.RedeemResult, error) {
	f.lastRedeemPoints = points
	f.lastRedeemNote = note
	if f.err != nil {
		return services.RedeemResult{}, f.err
	}
	return f.redeemResult, nil
}

func (f *fakeLoyaltyService) AwardForOrder(ctx context.Context, order domain.Order) (services.AwardResult, error) {
	return services.AwardResult{}, f.err
}

func (f *fakeLoyaltyService) ListTransactions(ctx context.Context, filter services.LoyaltyTransactionFilter) (domain.CursorPage[domain.LoyaltyTransaction], error) {
	if f.err != nil {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, f.err
	}
	return f.page, nil
}

func newLoyaltyRouter(h *LoyaltyHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestGetLoyaltyAccountHandler(t *testing.T) {
	svc := &fakeLoyaltyService{
		account: domain.LoyaltyAccount{
			UserID:           "usr_1",
			Balance:          300,
			LifetimeEarned:   800,
			LifetimeRedeemed: 500,
			CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	handler := NewLoyaltyHandlers(nil, svc)

	req := authenticatedRequest(http.MethodGet, "/account", "", "usr_1")
	rr := httptest.NewRecorder()

	newLoyaltyRouter(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp loyaltyAccountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Account.Balance != 300 || resp.Account.LifetimeEarned != 800 {
		t.Fatalf("unexpected account payload %#v", resp.Account)
	}
}

func TestRedeemHandlerReturnsResult(t *testing.T) {
	svc := &fakeLoyaltyService{
		redeemResult: services.RedeemResult{
			Redemption: domain.LoyaltyRedemption{ID: "red_1", Points: 500, Amount: 5, Note: "gift card"},
			Transaction: domain.LoyaltyTransaction{
				ID: "ltx_1", Points: -500, ReferenceType: "redemption", ReferenceID: "red_1",
			},
			Account: domain.LoyaltyAccount{UserID: "usr_1", Balance: 300},
		},
	}
	handler := NewLoyaltyHandlers(nil, svc)

	req := authenticatedRequest(http.MethodPost, "/redeem", `{"points":500,"note":"gift card"}`, "usr_1")
	rr := httptest.NewRecorder()

	newLoyaltyRouter(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastRedeemPoints != 500 || svc.lastRedeemNote != "gift card" {
		t.Fatalf("unexpected redeem args points=%d note=%q", svc.lastRedeemPoints, svc.lastRedeemNote)
	}

	var resp redeemResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Redemption.Amount != 5 || resp.Transaction.Points != -500 {
		t.Fatalf("unexpected payload %#v", resp)
	}
	if resp.Account.Balance != 300 {
		t.Fatalf("expected balance 300, got %d", resp.Account.Balance)
	}
}

func TestRedeemHandlerInsufficientBalance(t *testing.T) {
	handler := NewLoyaltyHandlers(nil, &fakeLoyaltyService{err: services.ErrLoyaltyInsufficientBalance})

	req := authenticatedRequest(http.MethodPost, "/redeem", `{"points":1000}`, "usr_1")
	rr := httptest.NewRecorder()

	newLoyaltyRouter(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != "insufficient_balance" {
		t.Fatalf("expected insufficient_balance, got %v", payload["error"])
	}
}

func TestListLoyaltyTransactionsHandler(t *testing.T) {
	svc := &fakeLoyaltyService{
		page: domain.CursorPage[domain.LoyaltyTransaction]{
			Items: []domain.LoyaltyTransaction{
				{ID: "ltx_2", Points: -500, ReferenceType: "redemption"},
				{ID: "ltx_1", Points: 187, ReferenceType: "order", ReferenceID: "ord_1"},
			},
			NextPageToken: "token-2",
		},
	}
	handler := NewLoyaltyHandlers(nil, svc)

	req := authenticatedRequest(http.MethodGet, "/transactions", "", "usr_1")
	rr := httptest.NewRecorder()

	newLoyaltyRouter(handler).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp loyaltyTransactionListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 || resp.NextPageToken != "token-2" {
		t.Fatalf("unexpected page %#v", resp)
	}
	if resp.Items[1].ReferenceID != "ord_1" {
		t.Fatalf("expected order reference, got %#v", resp.Items[1])
	}
}

func TestLoyaltyHandlersRequireAuthentication(t *testing.T) {
	handler := NewLoyaltyHandlers(nil, &fakeLoyaltyService{})
	router := newLoyaltyRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
