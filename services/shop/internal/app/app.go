// Package app wires the storefront stores together. Each store is built
// once here and shared by reference.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"storefront/internal/metrics"
	"storefront/internal/ratelimit"
	"storefront/pkg/kv"
	"storefront/services/shop/internal/apiclient"
	"storefront/services/shop/internal/cart"
	"storefront/services/shop/internal/catalog"
	"storefront/services/shop/internal/checkout"
	"storefront/services/shop/internal/orders"
	"storefront/services/shop/internal/session"
)

// Config holds runtime configuration for the client core.
type Config struct {
	APIBaseURL        string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client

	// StorageDir selects the file-backed session store; RedisAddr selects
	// Redis instead. Storage overrides both.
	StorageDir     string
	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string
	Storage        kv.Store

	// LoginAttemptsPerMinute > 0 throttles logins through Redis at RedisAddr.
	// LoginLimiter overrides it.
	LoginAttemptsPerMinute int
	LoginLimiter           ratelimit.Limiter

	SuccessDelay time.Duration
	Metrics      metrics.Recorder
	Logger       *slog.Logger
}

// App is the client core: session, catalog, cart, order history and
// checkout over one backend client.
type App struct {
	client   *apiclient.Client
	session  *session.Store
	catalog  *catalog.Store
	orders   *orders.Store
	cart     *cart.Cart
	checkout *checkout.Orchestrator
	logger   *slog.Logger

	closers     []io.Closer
	unsubscribe func()
}

// New constructs the application. Nothing touches the network until Start.
func New(cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("api base URL required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	a := &App{logger: logger}

	storage := cfg.Storage
	if storage == nil {
		switch {
		case cfg.StorageDir != "":
			fileStore, err := kv.NewFileStore(cfg.StorageDir)
			if err != nil {
				return nil, fmt.Errorf("init file session storage: %w", err)
			}
			storage = fileStore
		case cfg.RedisAddr != "":
			redisStore, err := kv.NewRedisStore(kv.RedisConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				Prefix:   cfg.RedisKeyPrefix,
			})
			if err != nil {
				return nil, fmt.Errorf("init redis session storage: %w", err)
			}
			a.closers = append(a.closers, redisStore)
			storage = redisStore
		default:
			return nil, errors.New("session storage required (storageDir or redisAddr)")
		}
	}

	limiter := cfg.LoginLimiter
	if limiter == nil && cfg.LoginAttemptsPerMinute > 0 {
		fw, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   "storefront:shop:ratelimit",
			Limit:    cfg.LoginAttemptsPerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
		a.closers = append(a.closers, fw)
		limiter = fw
	}

	a.client = apiclient.NewClient(cfg.APIBaseURL, apiclient.Options{
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Metrics:           rec,
		HTTPClient:        cfg.HTTPClient,
	})
	a.session = session.NewStore(a.client, storage, session.Options{Limiter: limiter, Logger: logger})
	a.catalog = catalog.NewStore(a.client, a.session, logger)
	a.orders = orders.NewStore(a.client, a.session, logger)
	a.cart = cart.New()
	a.checkout = checkout.New(a.catalog, a.orders, a.cart, checkout.Options{
		SuccessDelay: cfg.SuccessDelay,
		Logger:       logger,
		Metrics:      rec,
	})
	a.unsubscribe = a.session.Subscribe(a.onSessionChange)
	return a, nil
}

func (a *App) Session() *session.Store          { return a.session }
func (a *App) Catalog() *catalog.Store          { return a.catalog }
func (a *App) Orders() *orders.Store            { return a.orders }
func (a *App) Cart() *cart.Cart                 { return a.cart }
func (a *App) Checkout() *checkout.Orchestrator { return a.checkout }

// Start restores the persisted session and, when signed in, loads the
// catalog and the order history concurrently.
func (a *App) Start(ctx context.Context) (session.Status, error) {
	status, err := a.session.Restore(ctx)
	if err != nil {
		a.logger.Warn("session restore failed", "err", err)
	}
	if status != session.Authenticated {
		return status, nil
	}
	return status, a.Warm(ctx)
}

// Warm fetches the catalog and the order history. Both fetches run to
// completion; the first error is returned and each store keeps its own
// error state.
func (a *App) Warm(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.catalog.FetchAll(ctx) })
	g.Go(func() error { return a.orders.FetchHistory(ctx) })
	return g.Wait()
}

// onSessionChange drops per-user state when the user signs out.
func (a *App) onSessionChange(t session.Transition) {
	if t.From != session.Authenticated || t.To != session.Anonymous {
		return
	}
	a.checkout.Reset()
	a.orders.Reset()
	a.cart.Clear()
	a.logger.Debug("per-user state cleared after sign out")
}

// Close waits for background catalog refreshes and releases connections.
func (a *App) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.checkout != nil {
		a.checkout.Reset()
		a.checkout.Wait()
	}
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
