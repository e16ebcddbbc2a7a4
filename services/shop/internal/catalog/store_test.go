package catalog

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"storefront/pkg/domain"
	"storefront/services/shop/internal/apiclient"
)

type result struct {
	products []domain.Product
	err      error
}

// gatedLister hands out one gate per call; each call blocks until its gate
// receives a result or the context ends.
type gatedLister struct {
	mu     sync.Mutex
	gates  []chan result
	tokens []string
	calls  chan int

	byID     map[int64]domain.Product
	getCalls int
}

func newGatedLister() *gatedLister {
	return &gatedLister{calls: make(chan int, 16)}
}

func (g *gatedLister) ListProducts(ctx context.Context, token string) ([]domain.Product, error) {
	gate := make(chan result, 1)
	g.mu.Lock()
	g.gates = append(g.gates, gate)
	g.tokens = append(g.tokens, token)
	idx := len(g.gates) - 1
	g.mu.Unlock()
	g.calls <- idx
	select {
	case r := <-gate:
		return r.products, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedLister) GetProduct(_ context.Context, _ string, id int64) (domain.Product, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	p, ok := g.byID[id]
	if !ok {
		return domain.Product{}, &apiclient.APIError{Status: http.StatusNotFound, Message: "Product not found"}
	}
	return p, nil
}

func (g *gatedLister) release(t *testing.T, idx int, r result) {
	t.Helper()
	g.mu.Lock()
	gate := g.gates[idx]
	g.mu.Unlock()
	gate <- r
}

func (g *gatedLister) waitCall(t *testing.T) int {
	t.Helper()
	select {
	case idx := <-g.calls:
		return idx
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch never reached the backend")
		return -1
	}
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

func products(names ...string) []domain.Product {
	out := make([]domain.Product, 0, len(names))
	for i, n := range names {
		out = append(out, domain.Product{ID: int64(i + 1), Name: n, Price: "1000.00", Stock: 5})
	}
	return out
}

func TestFetchAllReplacesListAndClearsError(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, staticToken("tok"), nil)

	done := make(chan error, 1)
	go func() { done <- s.FetchAll(context.Background()) }()
	idx := api.waitCall(t)
	if !s.Snapshot().Loading {
		t.Fatalf("expected loading while fetch in flight")
	}
	api.release(t, idx, result{products: products("Kopi", "Teh")})
	if err := <-done; err != nil {
		t.Fatalf("fetch: %v", err)
	}

	snap := s.Snapshot()
	if snap.Loading || snap.Error != "" || len(snap.Products) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if api.tokens[0] != "tok" {
		t.Fatalf("token not forwarded: %q", api.tokens[0])
	}
}

func TestFetchFailureKeepsPreviousList(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)

	go func() { _ = s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{products: products("Kopi")})
	waitSettled(t, s)

	done := make(chan error, 1)
	go func() { done <- s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{err: &apiclient.APIError{Status: http.StatusServiceUnavailable, Message: "Database unavailable"}})
	if err := <-done; err == nil {
		t.Fatalf("expected error")
	}

	snap := s.Snapshot()
	if snap.Error != "Database unavailable" {
		t.Fatalf("error = %q", snap.Error)
	}
	if len(snap.Products) != 1 || snap.Products[0].Name != "Kopi" {
		t.Fatalf("previous list should be preserved: %+v", snap.Products)
	}
	if snap.Loading {
		t.Fatalf("loading must end on failure")
	}

	// A later success clears the error.
	go func() { _ = s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{products: products("Kopi", "Teh")})
	waitSettled(t, s)
	if snap := s.Snapshot(); snap.Error != "" || len(snap.Products) != 2 {
		t.Fatalf("unexpected snapshot after recovery: %+v", snap)
	}
}

func TestTransportFailureUsesGenericMessage(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)
	go func() { _ = s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{err: errors.New("dial tcp: connection refused")})
	waitSettled(t, s)
	if got := s.Snapshot().Error; got != "Failed to fetch products" {
		t.Fatalf("error = %q", got)
	}
}

func TestLaterIssuedFetchWinsWhenEarlierResolvesLast(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- s.FetchAll(context.Background()) }()
	firstIdx := api.waitCall(t)
	go func() { second <- s.FetchAll(context.Background()) }()
	secondIdx := api.waitCall(t)

	api.release(t, secondIdx, result{products: products("second")})
	<-second
	api.release(t, firstIdx, result{products: products("first")})
	<-first

	got := s.Products()
	if len(got) != 1 || got[0].Name != "second" {
		t.Fatalf("expected the later-issued response, got %+v", got)
	}
	if s.Snapshot().Loading {
		t.Fatalf("nothing should be loading")
	}
}

func TestLateFailureOfSupersededFetchIsIgnored(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)

	first := make(chan error, 1)
	go func() { first <- s.FetchAll(context.Background()) }()
	firstIdx := api.waitCall(t)
	go func() { _ = s.FetchAll(context.Background()) }()
	secondIdx := api.waitCall(t)

	api.release(t, secondIdx, result{products: products("fresh")})
	waitSettled(t, s)
	api.release(t, firstIdx, result{err: errors.New("boom")})
	<-first

	snap := s.Snapshot()
	if snap.Error != "" || len(snap.Products) != 1 || snap.Products[0].Name != "fresh" {
		t.Fatalf("stale failure leaked into state: %+v", snap)
	}
}

func TestCanceledFetchDoesNotMutateState(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)
	go func() { _ = s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{products: products("Kopi")})
	waitSettled(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.FetchAll(ctx) }()
	api.waitCall(t)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	snap := s.Snapshot()
	if snap.Loading || snap.Error != "" || len(snap.Products) != 1 {
		t.Fatalf("canceled fetch mutated state: %+v", snap)
	}
}

func TestSearchAndLookup(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)
	go func() { _ = s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{products: []domain.Product{
		{ID: 1, Name: "Kopi Gayo", Description: "Arabica beans", Price: "85000.00", Stock: 3},
		{ID: 2, Name: "Teh Melati", Description: "Jasmine tea", Price: "20000.00", Stock: 0},
	}})
	waitSettled(t, s)

	if got := s.Search("ARABICA"); len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("search by description: %+v", got)
	}
	if got := s.Search("teh"); len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("search by name: %+v", got)
	}
	if got := s.Search("  "); len(got) != 2 {
		t.Fatalf("blank search should return all: %+v", got)
	}
	if p, ok := s.Product(2); !ok || p.Name != "Teh Melati" {
		t.Fatalf("lookup: %+v %v", p, ok)
	}
	if _, ok := s.Product(99); ok {
		t.Fatalf("unknown id should not be found")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	api := newGatedLister()
	s := NewStore(api, nil, nil)
	go func() { _ = s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{products: products("Kopi")})
	waitSettled(t, s)

	snap := s.Snapshot()
	snap.Products[0].Stock = 0
	if p, _ := s.Product(1); p.Stock != 5 {
		t.Fatalf("external mutation leaked into the store")
	}
}

func waitSettled(t *testing.T, s *Store) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Snapshot().Loading {
		if time.Now().After(deadline) {
			t.Fatalf("store never settled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLookupFallsBackToBackend(t *testing.T) {
	api := newGatedLister()
	api.byID = map[int64]domain.Product{9: {ID: 9, Name: "Sambal Roa", Price: "45000.00", Stock: 3}}
	s := NewStore(api, staticToken("tok"), nil)

	done := make(chan error, 1)
	go func() { done <- s.FetchAll(context.Background()) }()
	api.release(t, api.waitCall(t), result{products: products("Kopi")})
	if err := <-done; err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if p, err := s.Lookup(context.Background(), 1); err != nil || p.Name != "Kopi" {
		t.Fatalf("cached lookup = %+v, %v", p, err)
	}
	if api.getCalls != 0 {
		t.Fatalf("cached product must not hit the backend")
	}
	p, err := s.Lookup(context.Background(), 9)
	if err != nil || p.Name != "Sambal Roa" {
		t.Fatalf("backend lookup = %+v, %v", p, err)
	}
	if _, ok := s.Product(9); !ok {
		t.Fatalf("looked up product not cached")
	}
	if _, err := s.Lookup(context.Background(), 77); err == nil {
		t.Fatalf("expected not found")
	}
	if api.getCalls != 2 {
		t.Fatalf("get calls = %d", api.getCalls)
	}
}
