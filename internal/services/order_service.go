package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/tradeyard/api/internal/domain"
	"github.com/tradeyard/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates a malformed order query.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or belongs to another buyer.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the order backend is unreachable.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderServiceDeps bundles dependencies for the order read service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
}

type orderService struct {
	orders repositories.OrderRepository
}

// NewOrderService wires an OrderService backed by the order repository.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	return &orderService{orders: deps.Orders}, nil
}

// GetOrder fetches one order and verifies the caller owns it. Orders owned by
// another buyer are reported as not found rather than forbidden, so order ids
// cannot be probed.
func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (domain.Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// ListOrders pages through one buyer's orders, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	if pageSize > maxOrderPageSize {
		pageSize = maxOrderPageSize
	}

	page, err := s.orders.ListByUser(ctx, userID, pageSize, strings.TrimSpace(filter.PageToken))
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	return page, nil
}
