package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/platform/auth"
	"github.com/tradeyard/api/internal/platform/httpx"
	"github.com/tradeyard/api/internal/platform/pagination"
	"github.com/tradeyard/api/internal/services"
)

const (
	defaultLoyaltyPageSize = 20
	maxLoyaltyPageSize     = 100
	maxRedeemBodySize      = 4 * 1024
)

type redeemRequest struct {
	Points int64  `json:"points"`
	Note   string `json:"note"`
}

// LoyaltyHandlers exposes the loyalty account, ledger, and redemption endpoints.
type LoyaltyHandlers struct {
	authn   *auth.Authenticator
	loyalty services.LoyaltyService
}

// NewLoyaltyHandlers constructs a new LoyaltyHandlers instance.
func NewLoyaltyHandlers(authn *auth.Authenticator, loyalty services.LoyaltyService) *LoyaltyHandlers {
	return &LoyaltyHandlers{
		authn:   authn,
		loyalty: loyalty,
	}
}

// Routes registers the /loyalty endpoints.
func (h *LoyaltyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/account", h.getAccount)
	r.Get("/transactions", h.listTransactions)
	r.Post("/redeem", h.redeem)
}

func (h *LoyaltyHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	account, err := h.loyalty.EnsureAccount(ctx, identity)
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, loyaltyAccountResponse{Account: buildLoyaltyAccount(account)})
}

func (h *LoyaltyHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultLoyaltyPageSize,
		MaxPageSize:     maxLoyaltyPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.loyalty.ListTransactions(ctx, services.LoyaltyTransactionFilter{
		UserID:    identity,
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}

	items := make([]loyaltyTransactionPayload, 0, len(page.Items))
	for _, txn := range page.Items {
		items = append(items, buildLoyaltyTransaction(txn))
	}

	writeJSONResponse(w, http.StatusOK, loyaltyTransactionListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *LoyaltyHandlers) redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxRedeemBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req redeemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	result, err := h.loyalty.Redeem(ctx, identity, req.Points, strings.TrimSpace(req.Note))
	if err != nil {
		writeLoyaltyError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, redeemResponse{
		Redemption:  buildLoyaltyRedemption(result.Redemption),
		Transaction: buildLoyaltyTransaction(result.Transaction),
		Account:     buildLoyaltyAccount(result.Account),
	})
}

func (h *LoyaltyHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func writeLoyaltyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLoyaltyInvalidInput), errors.Is(err, services.ErrLoyaltyUnknownAction):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLoyaltyDuplicateReference):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_reference", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLoyaltyInsufficientBalance):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_balance", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrLoyaltyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

type loyaltyAccountResponse struct {
	Account loyaltyAccountPayload `json:"account"`
}

type loyaltyAccountPayload struct {
	UserID           string `json:"user_id"`
	Balance          int64  `json:"balance"`
	LifetimeEarned   int64  `json:"lifetime_earned"`
	LifetimeRedeemed int64  `json:"lifetime_redeemed"`
	CreatedAt        string `json:"created_at,omitempty"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

type loyaltyTransactionListResponse struct {
	Items         []loyaltyTransactionPayload `json:"items"`
	NextPageToken string                      `json:"next_page_token,omitempty"`
}

type loyaltyTransactionPayload struct {
	ID            string `json:"id"`
	ActionID      string `json:"action_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Points        int64  `json:"points"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type redeemResponse struct {
	Redemption  loyaltyRedemptionPayload  `json:"redemption"`
	Transaction loyaltyTransactionPayload `json:"transaction"`
	Account     loyaltyAccountPayload     `json:"account"`
}

type loyaltyRedemptionPayload struct {
	ID        string  `json:"id"`
	Points    int64   `json:"points"`
	Amount    float64 `json:"amount"`
	Note      string  `json:"note,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func buildLoyaltyAccount(account domain.LoyaltyAccount) loyaltyAccountPayload {
	return loyaltyAccountPayload{
		UserID:           account.UserID,
		Balance:          account.Balance,
		LifetimeEarned:   account.LifetimeEarned,
		LifetimeRedeemed: account.LifetimeRedeemed,
		CreatedAt:        formatTime(account.CreatedAt),
		UpdatedAt:        formatTime(account.UpdatedAt),
	}
}

func buildLoyaltyTransaction(txn domain.LoyaltyTransaction) loyaltyTransactionPayload {
	return loyaltyTransactionPayload{
		ID:            txn.ID,
		ActionID:      txn.ActionID,
		ReferenceType: txn.ReferenceType,
		ReferenceID:   txn.ReferenceID,
		Points:        txn.Points,
		Description:   txn.Description,
		CreatedAt:     formatTime(txn.CreatedAt),
	}
}

func buildLoyaltyRedemption(redemption domain.LoyaltyRedemption) loyaltyRedemptionPayload {
	return loyaltyRedemptionPayload{
		ID:        redemption.ID,
		Points:    redemption.Points,
		Amount:    redemption.Amount,
		Note:      redemption.Note,
		CreatedAt: formatTime(redemption.CreatedAt),
	}
}
