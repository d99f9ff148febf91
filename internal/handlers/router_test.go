package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouterServesHealthEndpoints(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for /healthz, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
}

func TestRouterReadyzReportsFailingCheck(t *testing.T) {
	health := NewHealthHandlers(WithReadinessChecks(ReadinessCheck{
		Name:  "firestore",
		Check: func(ctx context.Context) error { return errors.New("dial timeout") },
	}))
	router := NewRouter(WithHealthHandlers(health))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for failing readiness, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode readyz payload: %v", err)
	}
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
}

func TestRouterUnknownRouteReturnsEnvelope(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != errorNotFoundCode {
		t.Fatalf("expected %s, got %v", errorNotFoundCode, payload["error"])
	}
}

func TestRouterUnconfiguredGroupIsNotImplemented(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for unconfigured group, got %d", rr.Code)
	}
}

func TestRouterMountsConfiguredGroups(t *testing.T) {
	checkout := NewCheckoutHandlers(nil, &fakeCheckoutService{err: nil})
	orders := NewOrderHandlers(nil, &fakeOrderService{})
	loyalty := NewLoyaltyHandlers(nil, &fakeLoyaltyService{})

	router := NewRouter(
		WithCheckoutRoutes(checkout.Routes),
		WithOrderRoutes(orders.Routes),
		WithLoyaltyRoutes(loyalty.Routes),
	)

	// Unauthenticated requests reach the handlers and are rejected there.
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from orders group, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/account", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 from loyalty group, got %d", rr.Code)
	}
}
