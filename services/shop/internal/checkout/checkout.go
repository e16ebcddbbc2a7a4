// Package checkout turns a quick order or the whole cart into a submitted
// order.
//
// A run moves Idle -> Validating -> Submitting -> Succeeded or Failed and
// reports each step as an Event. Validation against the stock snapshot is
// advisory; the backend decides whether stock suffices, and an
// insufficient-stock rejection is handled like any other failure.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"storefront/internal/metrics"
	"storefront/pkg/domain"
	"storefront/pkg/money"
	"storefront/pkg/validation"
	"storefront/services/shop/internal/apiclient"
	"storefront/services/shop/internal/cart"
	"storefront/services/shop/internal/notify"
)

const (
	// DefaultSuccessDelay is how long the success message stays up before
	// navigating to the order history.
	DefaultSuccessDelay = 1500 * time.Millisecond

	OrdersRoute    = "/orders"
	successMessage = "Order placed successfully!"
	failedMessage  = "Failed to place order"
)

// ErrInProgress rejects a checkout while another one is submitting.
var ErrInProgress = errors.New("checkout already in progress")

type State int

const (
	Idle State = iota
	Validating
	Submitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Event is one output of the orchestrator. Navigate is set only on the
// delayed event that follows a success.
type Event struct {
	State    State
	Message  string
	Order    *domain.Order
	Errors   validation.Errors
	Navigate string
}

// Catalog is the stock snapshot and refresher.
type Catalog interface {
	Product(id int64) (domain.Product, bool)
	FetchAll(ctx context.Context) error
}

// Submitter creates orders.
type Submitter interface {
	Submit(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error)
}

// Cart is the part of the cart checkout reads and empties.
type Cart interface {
	Lines() []cart.Line
	Deduct(ordered []cart.Line)
}

type Options struct {
	SuccessDelay time.Duration
	Logger       *slog.Logger
	Metrics      metrics.Recorder
}

type Orchestrator struct {
	catalog Catalog
	orders  Submitter
	cart    Cart
	delay   time.Duration
	logger  *slog.Logger
	metrics metrics.Recorder

	refreshes sync.WaitGroup
	events    notify.Queue[Event]

	mu       sync.Mutex
	state    State
	gen      uint64
	inFlight bool
	timer    *time.Timer
}

func New(catalog Catalog, orders Submitter, c Cart, opts Options) *Orchestrator {
	delay := opts.SuccessDelay
	if delay <= 0 {
		delay = DefaultSuccessDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Orchestrator{
		catalog: catalog,
		orders:  orders,
		cart:    c,
		delay:   delay,
		logger:  logger.With("component", "checkout"),
		metrics: rec,
	}
}

// Subscribe registers fn for events. Delivery is synchronous and ordered.
func (o *Orchestrator) Subscribe(fn func(Event)) (unsubscribe func()) {
	return o.events.Subscribe(fn)
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns to Idle and cancels a pending navigation. The shell calls it
// whenever a checkout view opens or closes. A submission still in flight
// keeps running but its outcome no longer produces events.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.stopTimerLocked()
	o.gen++
	changed := o.state != Idle
	o.state = Idle
	if changed {
		o.events.Enqueue(Event{State: Idle})
	}
	o.mu.Unlock()
	o.events.Flush()
}

// Estimate is the display total of a quick order. The backend computes the
// authoritative amount.
func Estimate(product domain.Product, quantity int) (decimal.Decimal, error) {
	return money.LineTotal(product.Price, quantity)
}

// QuickOrder orders quantity units of a single product. The cart is not
// touched.
func (o *Orchestrator) QuickOrder(ctx context.Context, product domain.Product, quantity int) (domain.Order, error) {
	lines := []cart.Line{{Product: product, Quantity: quantity}}
	return o.run(ctx, "quick", lines, false)
}

// CheckoutCart orders every cart line and, on success, takes the ordered
// lines out of the cart.
func (o *Orchestrator) CheckoutCart(ctx context.Context) (domain.Order, error) {
	return o.run(ctx, "cart", o.cart.Lines(), true)
}

// Wait blocks until catalog refreshes triggered by successful checkouts
// have finished.
func (o *Orchestrator) Wait() {
	o.refreshes.Wait()
}

func (o *Orchestrator) run(ctx context.Context, kind string, lines []cart.Line, fromCart bool) (domain.Order, error) {
	gen, err := o.begin()
	if err != nil {
		return domain.Order{}, err
	}
	defer o.finish()
	logger := o.logger.With("kind", kind, "lines", len(lines))

	req, err := o.validate(lines)
	if err != nil {
		fe, _ := validation.AsErrors(err)
		msg := fe.First()
		if msg == "" {
			msg = err.Error()
		}
		o.emit(gen, Event{State: Failed, Message: msg, Errors: fe})
		o.metrics.RecordCheckout("invalid")
		logger.Info("checkout rejected before submit", "err", err)
		return domain.Order{}, err
	}

	o.emit(gen, Event{State: Submitting})
	order, err := o.orders.Submit(ctx, req)
	if err != nil {
		o.emit(gen, Event{State: Failed, Message: apiclient.Message(err, failedMessage)})
		o.metrics.RecordCheckout("failed")
		logger.Warn("checkout failed", "err", err)
		return domain.Order{}, err
	}

	// The order exists now, so the cart and catalog follow it even if the
	// view was reset meanwhile.
	if fromCart {
		o.cart.Deduct(lines)
	}
	o.refreshCatalog(ctx)
	placed := order
	o.emit(gen, Event{State: Succeeded, Message: successMessage, Order: &placed})
	o.scheduleNavigate(gen)
	o.metrics.RecordCheckout("succeeded")
	logger.Info("checkout succeeded", "order_id", order.ID)
	return order, nil
}

func (o *Orchestrator) begin() (uint64, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return 0, ErrInProgress
	}
	o.inFlight = true
	o.stopTimerLocked()
	o.gen++
	gen := o.gen
	o.state = Validating
	o.events.Enqueue(Event{State: Validating})
	o.mu.Unlock()
	o.events.Flush()
	return gen, nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.inFlight = false
	o.mu.Unlock()
}

// emit commits ev.State and publishes ev unless a Reset or a newer run has
// superseded gen.
func (o *Orchestrator) emit(gen uint64, ev Event) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.state = ev.State
	o.events.Enqueue(ev)
	o.mu.Unlock()
	o.events.Flush()
}

// validate builds the order request. Stock is checked against the freshest
// catalog snapshot for each product, falling back to the line's own.
func (o *Orchestrator) validate(lines []cart.Line) (domain.CreateOrderRequest, error) {
	form := validation.OrderForm{Items: make([]validation.OrderItemForm, 0, len(lines))}
	for _, l := range lines {
		form.Items = append(form.Items, validation.OrderItemForm{ProductID: l.Product.ID, Quantity: l.Quantity})
	}
	if err := validation.Validate(form); err != nil {
		return domain.CreateOrderRequest{}, err
	}

	stockErrs := validation.Errors{}
	req := domain.CreateOrderRequest{Items: make([]domain.OrderLine, 0, len(lines))}
	for i, l := range lines {
		product := l.Product
		if fresh, ok := o.catalog.Product(product.ID); ok {
			product = fresh
		}
		if l.Quantity > product.Stock {
			stockErrs[fmt.Sprintf("items[%d].quantity", i)] = insufficientStock(product)
		}
		req.Items = append(req.Items, domain.OrderLine{ProductID: l.Product.ID, Quantity: l.Quantity})
	}
	if len(stockErrs) > 0 {
		return domain.CreateOrderRequest{}, stockErrs
	}
	return req, nil
}

func insufficientStock(p domain.Product) string {
	if p.Stock <= 0 {
		return fmt.Sprintf("%s is out of stock", p.Name)
	}
	return fmt.Sprintf("Only %d units of %s available", p.Stock, p.Name)
}

// refreshCatalog refetches products in the background so the new stock shows
// up. It outlives ctx's cancellation.
func (o *Orchestrator) refreshCatalog(ctx context.Context) {
	refreshCtx := context.WithoutCancel(ctx)
	o.refreshes.Add(1)
	go func() {
		defer o.refreshes.Done()
		if err := o.catalog.FetchAll(refreshCtx); err != nil {
			o.logger.Warn("catalog refresh after checkout failed", "err", err)
		}
	}()
}

func (o *Orchestrator) scheduleNavigate(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.stopTimerLocked()
	o.timer = time.AfterFunc(o.delay, func() {
		o.mu.Lock()
		if gen != o.gen || o.state != Succeeded {
			o.mu.Unlock()
			return
		}
		o.timer = nil
		o.events.Enqueue(Event{State: Succeeded, Navigate: OrdersRoute})
		o.mu.Unlock()
		o.events.Flush()
	})
}

func (o *Orchestrator) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}
