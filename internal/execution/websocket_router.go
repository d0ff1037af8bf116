package execution

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type queuedKind int

const (
	queuedFill queuedKind = iota
	queuedStatus
)

type queuedCallback struct {
	kind        queuedKind
	price       decimal.Decimal
	incremental decimal.Decimal
	status      OrderStatus
	totalFilled decimal.Decimal
}

// WebsocketRouter installs batch-scoped fill/status hooks on each
// participating venue and fans callbacks out to the registered
// OrderContext by order_id. Orders that register before a
// callback for their id ever arrives see it applied immediately; orders
// whose first callback arrives before registration have it buffered and
// flushed at registration time.
type WebsocketRouter struct {
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]*OrderContext
	pending  map[string][]queuedCallback

	installed map[string]installedHooks
}

type installedHooks struct {
	venue        VenueClient
	previousFill FillCallback
	previousStat StatusCallback
}

// NewWebsocketRouter creates an empty router.
func NewWebsocketRouter(logger *zap.Logger) *WebsocketRouter {
	return &WebsocketRouter{
		logger:    logger,
		contexts:  make(map[string]*OrderContext),
		pending:   make(map[string][]queuedCallback),
		installed: make(map[string]installedHooks),
	}
}

// Install hooks this router's callbacks onto venue, capturing the
// previously installed hooks so Restore can put them back.
func (r *WebsocketRouter) Install(venue VenueClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.installed[venue.Name()]; ok {
		return
	}

	prevFill := venue.OnOrderFill(r.handleFill)
	prevStat := venue.OnOrderStatus(r.handleStatus)
	r.installed[venue.Name()] = installedHooks{venue: venue, previousFill: prevFill, previousStat: prevStat}
}

// Restore reinstalls every captured previous hook. Safe to call more than
// once and safe to defer unconditionally at batch exit.
func (r *WebsocketRouter) Restore() {
	r.mu.Lock()
	hooks := make([]installedHooks, 0, len(r.installed))
	for _, h := range r.installed {
		hooks = append(hooks, h)
	}
	r.installed = make(map[string]installedHooks)
	r.mu.Unlock()

	for _, h := range hooks {
		h.venue.OnOrderFill(h.previousFill)
		h.venue.OnOrderStatus(h.previousStat)
	}
}

// Register associates orderID with ctx, replaying any callbacks that were
// queued for this id before registration.
func (r *WebsocketRouter) Register(orderID string, ctx *OrderContext) {
	r.mu.Lock()
	r.contexts[orderID] = ctx
	queued := r.pending[orderID]
	delete(r.pending, orderID)
	r.mu.Unlock()

	for _, q := range queued {
		r.apply(ctx, q)
	}
}

// Unregister drops the mapping for orderID, e.g. once a context completes.
func (r *WebsocketRouter) Unregister(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contexts, orderID)
}

func (r *WebsocketRouter) handleFill(orderID string, price decimal.Decimal, incrementalFilled decimal.Decimal, seq int64) {
	defer r.recoverAndLog("fill callback", orderID)

	r.mu.Lock()
	ctx, ok := r.contexts[orderID]
	if !ok {
		r.pending[orderID] = append(r.pending[orderID], queuedCallback{
			kind: queuedFill, price: price, incremental: incrementalFilled,
		})
		r.mu.Unlock()
		WebsocketQueuedCallbacksTotal.Inc()
		if r.logger != nil {
			r.logger.Debug("websocket-fill-queued", zap.String("order_id", orderID), zap.Int64("seq", seq))
		}
		return
	}
	r.mu.Unlock()

	ctx.OnWebsocketFill(incrementalFilled, price)
}

func (r *WebsocketRouter) handleStatus(orderID string, status OrderStatus, totalFilled decimal.Decimal, price decimal.Decimal) {
	defer r.recoverAndLog("status callback", orderID)

	r.mu.Lock()
	ctx, ok := r.contexts[orderID]
	if !ok {
		r.pending[orderID] = append(r.pending[orderID], queuedCallback{
			kind: queuedStatus, status: status, totalFilled: totalFilled, price: price,
		})
		r.mu.Unlock()
		WebsocketQueuedCallbacksTotal.Inc()
		if r.logger != nil {
			r.logger.Debug("websocket-status-queued", zap.String("order_id", orderID), zap.String("status", string(status)))
		}
		return
	}
	r.mu.Unlock()

	ctx.OnWebsocketStatus(status, totalFilled, price)
}

func (r *WebsocketRouter) apply(ctx *OrderContext, q queuedCallback) {
	switch q.kind {
	case queuedFill:
		ctx.OnWebsocketFill(q.incremental, q.price)
	case queuedStatus:
		ctx.OnWebsocketStatus(q.status, q.totalFilled, q.price)
	}
}

// recoverAndLog ensures a panicking callback can never escape into venue
// adapter code.
func (r *WebsocketRouter) recoverAndLog(what, orderID string) {
	if rec := recover(); rec != nil && r.logger != nil {
		r.logger.Error("websocket-callback-panic", zap.String("what", what), zap.String("order_id", orderID), zap.Any("recover", rec))
	}
}
