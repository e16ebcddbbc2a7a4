// Package shell is the interactive terminal front end. It renders store
// snapshots, turns commands into store calls and carries out the navigation
// decisions the route guard and the checkout flow produce.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"storefront/pkg/money"
	"storefront/services/shop/internal/app"
	"storefront/services/shop/internal/checkout"
	"storefront/services/shop/internal/nav"
	"storefront/services/shop/internal/session"
)

const (
	defaultRegisterDelay = 2 * time.Second
	prompt               = "> "
)

type Options struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	// RegisterDelay is how long the registration notice stays before the
	// shell moves to the login page.
	RegisterDelay time.Duration
	// Location renders order dates; nil means local time.
	Location *time.Location
}

type Shell struct {
	app           *app.App
	in            io.Reader
	out           io.Writer
	logger        *slog.Logger
	registerDelay time.Duration
	loc           *time.Location

	outMu sync.Mutex

	mu         sync.Mutex
	base       context.Context
	route      string
	view       context.Context
	cancelView context.CancelFunc
	redirect   *time.Timer
	detachFns  []func()
}

func New(a *app.App, opts Options) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := opts.RegisterDelay
	if delay <= 0 {
		delay = defaultRegisterDelay
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Shell{
		app:           a,
		in:            opts.In,
		out:           opts.Out,
		logger:        logger.With("component", "shell"),
		registerDelay: delay,
		loc:           loc,
		base:          context.Background(),
	}
}

// Run restores the session, shows the first page and reads commands until
// quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	s.attach(ctx)
	defer s.detach()

	s.navigate(nav.Root)
	if _, err := s.app.Start(ctx); err != nil {
		s.logger.Warn("startup fetch failed", "err", err)
	}
	s.open(nav.Root, false)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		s.printf("%s", prompt)
		select {
		case <-ctx.Done():
			s.printf("\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				s.printf("\n")
				return nil
			}
			if quit := s.exec(line); quit {
				return nil
			}
		}
	}
}

// attach binds the shell to ctx and the stores' notifications.
func (s *Shell) attach(ctx context.Context) {
	unsubSession := s.app.Session().Subscribe(s.onSession)
	unsubCheckout := s.app.Checkout().Subscribe(s.onCheckout)
	s.mu.Lock()
	s.base = ctx
	s.detachFns = append(s.detachFns, unsubSession, unsubCheckout)
	s.mu.Unlock()
}

func (s *Shell) detach() {
	s.mu.Lock()
	fns := s.detachFns
	s.detachFns = nil
	if s.cancelView != nil {
		s.cancelView()
		s.cancelView = nil
	}
	s.stopRedirectLocked()
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Route returns the page currently shown.
func (s *Shell) Route() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// viewContext is cancelled when the current page closes. Commands run under
// it so their requests stop once another page opens.
func (s *Shell) viewContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == nil {
		return s.base
	}
	return s.view
}

// navigate shows route, fetching whatever the page needs.
func (s *Shell) navigate(route string) {
	s.open(route, true)
}

// open closes the current page and shows route as the guard allows. The
// previous page's context is cancelled, so its in-flight fetches commit
// nothing.
func (s *Shell) open(route string, fetch bool) {
	final, decision := nav.Resolve(s.app.Session().Status(), route)

	s.mu.Lock()
	if s.cancelView != nil {
		s.cancelView()
	}
	s.stopRedirectLocked()
	ctx, cancel := context.WithCancel(s.base)
	s.view = ctx
	s.cancelView = cancel
	s.route = final
	s.mu.Unlock()

	s.app.Checkout().Reset()
	if decision.Action == nav.Loading {
		s.printf("Loading...\n")
		return
	}
	s.printf("== %s ==\n", final)
	s.render(ctx, final, fetch)
}

func (s *Shell) render(ctx context.Context, route string, fetch bool) {
	switch route {
	case nav.Login:
		s.printf("Sign in with: login <email> <password>\n")
	case nav.Register:
		s.printf("Create an account with: register <email> <password> <name>\n")
	case nav.Products:
		if fetch {
			if err := s.app.Catalog().FetchAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug("catalog fetch failed", "err", err)
			}
		}
		if ctx.Err() == nil {
			snap := s.app.Catalog().Snapshot()
			s.printProducts(snap.Products, snap.Error)
		}
	case nav.Orders:
		if fetch {
			if err := s.app.Orders().FetchHistory(ctx); err != nil && ctx.Err() == nil {
				s.logger.Debug("order history fetch failed", "err", err)
			}
		}
		if ctx.Err() == nil {
			snap := s.app.Orders().Snapshot()
			s.printOrders(snap.Orders, snap.Error)
		}
	case nav.NewOrder:
		s.printCart()
		s.printf("Run 'checkout' to place the order.\n")
	}
}

// onSession re-applies the guard to the current page after a sign in or
// sign out. The startup transition is handled by Run.
func (s *Shell) onSession(t session.Transition) {
	if t.From == session.Unknown {
		return
	}
	s.navigate(s.Route())
}

func (s *Shell) onCheckout(ev checkout.Event) {
	switch ev.State {
	case checkout.Submitting:
		s.printf("Placing order...\n")
	case checkout.Failed:
		s.printf("Error: %s\n", ev.Message)
		fields := make([]string, 0, len(ev.Errors))
		for f := range ev.Errors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			s.printf("  %s: %s\n", f, ev.Errors[f])
		}
	case checkout.Succeeded:
		if ev.Navigate != "" {
			s.navigate(ev.Navigate)
			return
		}
		s.printf("%s\n", ev.Message)
		if ev.Order != nil {
			s.printf("Order #%d  total %s  %s\n", ev.Order.ID, money.FormatPrice(ev.Order.TotalAmount), statusLabel(ev.Order.Status))
		}
	}
}

// scheduleRedirect moves to route after d unless another page opens first.
func (s *Shell) scheduleRedirect(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRedirectLocked()
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		current := s.redirect == t
		if current {
			s.redirect = nil
		}
		s.mu.Unlock()
		if current {
			s.navigate(route)
		}
	})
	s.redirect = t
}

func (s *Shell) stopRedirectLocked() {
	if s.redirect != nil {
		s.redirect.Stop()
		s.redirect = nil
	}
}

func (s *Shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}
