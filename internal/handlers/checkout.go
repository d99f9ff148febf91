package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/platform/auth"
	"github.com/tradeyard/api/internal/platform/httpx"
	"github.com/tradeyard/api/internal/services"
)

const (
	maxCheckoutBodySize = 64 * 1024

	defaultCheckoutRateLimit  = 10
	defaultCheckoutRateWindow = time.Minute
)

type checkoutRequest struct {
	StoreID          string                  `json:"store_id"`
	Items            []checkoutItemRequest   `json:"items"`
	ShippingMethodID string                  `json:"shipping_method_id"`
	PromotionCode    string                  `json:"promotion_code"`
	ShippingAddress  *checkoutAddressRequest `json:"shipping_address"`
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutAddressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CheckoutHandlers exposes the order placement endpoint.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutHandlerOption customises CheckoutHandlers construction.
type CheckoutHandlerOption func(*CheckoutHandlers)

// WithCheckoutRateLimit bounds the checkout attempts per user within a window.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutHandlerOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, opts ...CheckoutHandlerOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newSimpleRateLimiter(defaultCheckoutRateLimit, defaultCheckoutRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	userID := strings.TrimSpace(identity.UID)

	if h.limiter != nil && !h.limiter.Allow(userID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
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

	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.PlaceOrderCommand{
		UserID:           userID,
		StoreID:          strings.TrimSpace(req.StoreID),
		ShippingMethodID: strings.TrimSpace(req.ShippingMethodID),
		PromotionCode:    strings.TrimSpace(req.PromotionCode),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CheckoutLineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	if req.ShippingAddress != nil {
		cmd.ShippingAddress = &domain.Address{
			Line1:      strings.TrimSpace(req.ShippingAddress.Line1),
			Line2:      strings.TrimSpace(req.ShippingAddress.Line2),
			City:       strings.TrimSpace(req.ShippingAddress.City),
			State:      strings.TrimSpace(req.ShippingAddress.State),
			PostalCode: strings.TrimSpace(req.ShippingAddress.PostalCode),
			Country:    strings.TrimSpace(req.ShippingAddress.Country),
		}
	}

	order, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_resource_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPromotionRejected):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_rejected", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNonPositiveTotal):
		httpx.WriteError(ctx, w, httpx.NewError("non_positive_total", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}
