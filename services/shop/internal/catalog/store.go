// Package catalog caches the product list fetched from the backend.
//
// Overlapping FetchAll calls run independently. Each call takes a sequence
// number and only commits if no later-issued call has settled yet, so the
// cached list always reflects the most recently issued fetch that finished.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"storefront/pkg/domain"
	"storefront/services/shop/internal/apiclient"
	"storefront/services/shop/internal/seq"
)

const fetchFailedMessage = "Failed to fetch products"

// Lister fetches the full product list or a single product.
type Lister interface {
	ListProducts(ctx context.Context, token string) ([]domain.Product, error)
	GetProduct(ctx context.Context, token string, id int64) (domain.Product, error)
}

// TokenSource supplies the current session token.
type TokenSource interface {
	Token() string
}

// Snapshot is the last committed catalog state.
type Snapshot struct {
	Products []domain.Product
	Loading  bool
	Error    string
}

// Store is the Catalog Store.
type Store struct {
	api    Lister
	tokens TokenSource
	logger *slog.Logger

	mu       sync.RWMutex
	products []domain.Product
	errMsg   string
	seq      seq.Tracker
}

// NewStore builds an empty catalog.
func NewStore(api Lister, tokens TokenSource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:      api,
		tokens:   tokens,
		logger:   logger.With("store", "catalog"),
		products: []domain.Product{},
	}
}

// FetchAll replaces the cached list with a fresh copy from the backend.
// On failure the previous list is kept and an error message is recorded.
// A canceled fetch settles without touching the list or the error.
func (s *Store) FetchAll(ctx context.Context) error {
	s.mu.Lock()
	n := s.seq.Begin()
	s.mu.Unlock()

	token := ""
	if s.tokens != nil {
		token = s.tokens.Token()
	}
	products, err := s.api.ListProducts(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seq.Settle(n) {
		s.logger.Debug("discarding superseded fetch", "seq", n)
		return err
	}
	switch {
	case err == nil:
		s.products = append([]domain.Product(nil), products...)
		s.errMsg = ""
		s.logger.Debug("catalog refreshed", "seq", n, "count", len(products))
	case errors.Is(err, context.Canceled):
		s.logger.Debug("fetch canceled", "seq", n)
	default:
		s.errMsg = apiclient.Message(err, fetchFailedMessage)
		s.logger.Warn("catalog fetch failed", "seq", n, "err", err)
	}
	return err
}

// Snapshot returns the last committed state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Products: append([]domain.Product(nil), s.products...),
		Loading:  s.seq.Pending(),
		Error:    s.errMsg,
	}
}

// Products returns a copy of the cached list.
func (s *Store) Products() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Product(nil), s.products...)
}

// Product looks up id in the cached list.
func (s *Store) Product(id int64) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Product{}, false
}

// Lookup returns product id from the cache, asking the backend when the
// cached list does not have it. A fetched product is added to the cache.
func (s *Store) Lookup(ctx context.Context, id int64) (domain.Product, error) {
	if p, ok := s.Product(id); ok {
		return p, nil
	}
	token := ""
	if s.tokens != nil {
		token = s.tokens.Token()
	}
	p, err := s.api.GetProduct(ctx, token, id)
	if err != nil {
		return domain.Product{}, err
	}
	s.mu.Lock()
	if i := s.indexLocked(id); i >= 0 {
		s.products[i] = p
	} else {
		s.products = append(s.products, p)
	}
	s.mu.Unlock()
	s.logger.Debug("product looked up", "product_id", id)
	return p, nil
}

func (s *Store) indexLocked(id int64) int {
	for i, p := range s.products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Search filters the cached list by a case-insensitive substring of the name
// or description. An empty term returns everything.
func (s *Store) Search(term string) []domain.Product {
	term = strings.ToLower(strings.TrimSpace(term))
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if term == "" ||
			strings.Contains(strings.ToLower(p.Name), term) ||
			strings.Contains(strings.ToLower(p.Description), term) {
			out = append(out, p)
		}
	}
	return out
}
