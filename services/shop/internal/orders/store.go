// Package orders caches the signed-in user's order history.
//
// Two cache rules apply. A refetch replaces the whole history, ordered by
// the fetch sequence the same way the catalog is. A successful submit
// prepends the new order locally without refetching.
package orders

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"storefront/pkg/domain"
	"storefront/services/shop/internal/apiclient"
	"storefront/services/shop/internal/seq"
)

const fetchFailedMessage = "Failed to fetch orders"

// API is the subset of the backend the order store needs.
type API interface {
	ListOrders(ctx context.Context, token string) ([]domain.Order, error)
	GetOrder(ctx context.Context, token string, id int64) (domain.Order, error)
	CreateOrder(ctx context.Context, token string, req domain.CreateOrderRequest) (domain.Order, error)
	UpdateOrderStatus(ctx context.Context, token string, id int64, status domain.OrderStatus) error
	DeleteOrder(ctx context.Context, token string, id int64) error
}

// TokenSource supplies the current session token.
type TokenSource interface {
	Token() string
}

// ErrInvalidStatus rejects a status the backend does not know.
var ErrInvalidStatus = errors.New("invalid order status")

// Snapshot is the last committed history state.
type Snapshot struct {
	Orders  []domain.Order
	Loading bool
	Error   string
}

type Store struct {
	api    API
	tokens TokenSource
	logger *slog.Logger

	mu     sync.RWMutex
	orders []domain.Order
	errMsg string
	seq    seq.Tracker
}

func NewStore(api API, tokens TokenSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:    api,
		tokens: tokens,
		logger: logger.With("store", "orders"),
		orders: []domain.Order{},
	}
}

func (s *Store) token() string {
	if s.tokens == nil {
		return ""
	}
	return s.tokens.Token()
}

// FetchHistory replaces the cached history. Failure keeps the previous list
// and records an error message; a canceled fetch changes nothing.
func (s *Store) FetchHistory(ctx context.Context) error {
	s.mu.Lock()
	n := s.seq.Begin()
	s.mu.Unlock()

	orders, err := s.api.ListOrders(ctx, s.token())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seq.Settle(n) {
		s.logger.Debug("discarding superseded fetch", "seq", n)
		return err
	}
	switch {
	case err == nil:
		s.orders = append([]domain.Order(nil), orders...)
		s.errMsg = ""
		s.logger.Debug("history refreshed", "seq", n, "count", len(orders))
	case errors.Is(err, context.Canceled):
		s.logger.Debug("fetch canceled", "seq", n)
	default:
		s.errMsg = apiclient.Message(err, fetchFailedMessage)
		s.logger.Warn("history fetch failed", "seq", n, "err", err)
	}
	return err
}

// Submit creates an order. On success the returned order is prepended to the
// cached history and any fetch still in flight is discarded, since it may
// predate the new order. Failures leave the cache and the store error
// untouched.
func (s *Store) Submit(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	order, err := s.api.CreateOrder(ctx, s.token(), req)
	if err != nil {
		s.logger.Info("order submission failed", "items", len(req.Items), "err", err)
		return domain.Order{}, err
	}
	s.mu.Lock()
	s.orders = append([]domain.Order{order}, s.orders...)
	s.supersedeLocked()
	s.mu.Unlock()
	s.logger.Info("order created", "order_id", order.ID, "total", order.TotalAmount)
	return order, nil
}

// Get fetches a single order and refreshes its cached copy when present.
func (s *Store) Get(ctx context.Context, id int64) (domain.Order, error) {
	order, err := s.api.GetOrder(ctx, s.token(), id)
	if err != nil {
		return domain.Order{}, err
	}
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.orders[i] = order
	}
	s.mu.Unlock()
	return order, nil
}

// UpdateStatus changes an order's status. The cached copy takes the new
// status once the backend accepts it.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	if err := s.api.UpdateOrderStatus(ctx, s.token(), id, status); err != nil {
		return err
	}
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.orders[i].Status = status
		s.orders[i].UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	s.mu.Unlock()
	s.logger.Info("order status updated", "order_id", id, "status", status)
	return nil
}

// Delete removes an order on the backend and then from the cache.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.api.DeleteOrder(ctx, s.token(), id); err != nil {
		return err
	}
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.orders = append(s.orders[:i:i], s.orders[i+1:]...)
	}
	s.mu.Unlock()
	s.logger.Info("order deleted", "order_id", id)
	return nil
}

// Reset drops the cached history and discards in-flight fetches, e.g. on
// logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.orders = []domain.Order{}
	s.errMsg = ""
	s.supersedeLocked()
	s.mu.Unlock()
}

func (s *Store) supersedeLocked() {
	s.seq.Settle(s.seq.Begin())
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Orders:  append([]domain.Order(nil), s.orders...),
		Loading: s.seq.Pending(),
		Error:   s.errMsg,
	}
}

func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Order(nil), s.orders...)
}

func (s *Store) indexLocked(id int64) int {
	for i, o := range s.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}
