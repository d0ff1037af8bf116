// Package simvenue is a reference VenueClient used by integration tests and
// the `cmd run` demo. It is not a real exchange adapter — it is test/demo
// infrastructure standing in for one.
//
// Fills and status transitions are delivered asynchronously over a local
// gorilla/websocket connection rather than invoked synchronously in-process,
// so WebsocketRouter integration tests observe genuine callback races
// instead of synchronous stubs. A small resty-backed REST client is used
// for the forced-refresh GetOrderInfo path, simulating the REST-poll
// fallback a real adapter would need alongside its websocket feed.
package simvenue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/atomic-exec/internal/execution"
)

// Config configures a reference Venue.
type Config struct {
	Name       string
	Tick       decimal.Decimal
	Step       decimal.Decimal
	Multiplier int64

	Bid, Ask decimal.Decimal
	Balance  decimal.Decimal

	// FillLatency delays the asynchronous fill push after placement,
	// simulating venue matching latency. Defaults to 25ms.
	FillLatency time.Duration

	// RejectionReason, when non-empty, makes every placement fail
	// immediately with this cancel reason, for exercising
	// retryable vs fatal placement failures in integration tests.
	RejectionReason string

	Logger *zap.Logger
}

type wsEvent struct {
	Kind        string          `json:"kind"` // "fill" or "status"
	OrderID     string          `json:"order_id"`
	Price       decimal.Decimal `json:"price"`
	Incremental decimal.Decimal `json:"incremental,omitempty"`
	Status      string          `json:"status,omitempty"`
	TotalFilled decimal.Decimal `json:"total_filled,omitempty"`
}

// Venue is an in-process reference VenueClient implementation.
type Venue struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	orders  map[string]*execution.OrderInfo
	nextID  int
	closed  bool

	fillCb   execution.FillCallback
	statusCb execution.StatusCallback

	httpServer *http.Server
	listener   net.Listener
	baseURL    string
	restClient *resty.Client

	hubMu sync.Mutex
	conns map[*websocket.Conn]struct{}

	wg sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New starts a reference Venue: a local HTTP/websocket server for the push
// and REST-poll paths, plus a websocket client goroutine consuming its own
// server's push feed.
func New(cfg Config) (*Venue, error) {
	if cfg.Tick.IsZero() {
		cfg.Tick = decimal.NewFromFloat(0.01)
	}
	if cfg.Step.IsZero() {
		cfg.Step = decimal.NewFromFloat(0.001)
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 1
	}
	if cfg.FillLatency == 0 {
		cfg.FillLatency = 25 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	v := &Venue{
		cfg:     cfg,
		logger:  cfg.Logger,
		orders:  make(map[string]*execution.OrderInfo),
		conns:   make(map[*websocket.Conn]struct{}),
		listener: listener,
		baseURL: "http://" + listener.Addr().String(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/orders/", v.handleGetOrder)
	mux.HandleFunc("/stream", v.handleStream)
	v.httpServer = &http.Server{Handler: mux}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		_ = v.httpServer.Serve(listener)
	}()

	v.restClient = resty.New().
		SetBaseURL(v.baseURL).
		SetTimeout(2 * time.Second).
		SetJSONMarshaler(gojson.Marshal).
		SetJSONUnmarshaler(gojson.Unmarshal)

	v.wg.Add(1)
	go v.consumeOwnFeed()

	return v, nil
}

func (v *Venue) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/orders/")

	v.mu.Lock()
	info, ok := v.orders[id]
	var cp execution.OrderInfo
	if ok {
		cp = *info
	}
	v.mu.Unlock()

	if !ok {
		http.Error(w, "unknown order", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cp)
}

func (v *Venue) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.logger.Warn("simvenue-upgrade-failed", zap.Error(err))
		return
	}

	v.hubMu.Lock()
	v.conns[conn] = struct{}{}
	v.hubMu.Unlock()

	go func() {
		defer func() {
			v.hubMu.Lock()
			delete(v.conns, conn)
			v.hubMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// consumeOwnFeed dials the venue's own websocket stream and dispatches
// decoded events to whatever FillCallback/StatusCallback are currently
// installed, mirroring how a real adapter's read loop feeds the
// WebsocketRouter.
func (v *Venue) consumeOwnFeed() {
	defer v.wg.Done()

	url := "ws://" + v.listener.Addr().String() + "/stream"

	var conn *websocket.Conn
	for i := 0; i < 50; i++ {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			conn = c
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if conn == nil {
		v.logger.Error("simvenue-feed-dial-failed")
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var evt wsEvent
		if err := gojson.Unmarshal(data, &evt); err != nil {
			v.logger.Warn("simvenue-feed-decode-failed", zap.Error(err))
			continue
		}

		v.mu.Lock()
		fillCb := v.fillCb
		statusCb := v.statusCb
		v.mu.Unlock()

		switch evt.Kind {
		case "fill":
			if fillCb != nil {
				fillCb(evt.OrderID, evt.Price, evt.Incremental, -1)
			}
		case "status":
			if statusCb != nil {
				statusCb(evt.OrderID, execution.OrderStatus(evt.Status), evt.TotalFilled, evt.Price)
			}
		}
	}
}

func (v *Venue) broadcast(evt wsEvent) {
	data, err := gojson.Marshal(evt)
	if err != nil {
		v.logger.Warn("simvenue-broadcast-encode-failed", zap.Error(err))
		return
	}

	v.hubMu.Lock()
	defer v.hubMu.Unlock()
	for conn := range v.conns {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// Close shuts down the reference venue's HTTP/websocket server and its own
// feed-consumer goroutine.
func (v *Venue) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = v.httpServer.Shutdown(ctx)

	v.hubMu.Lock()
	for conn := range v.conns {
		conn.Close()
	}
	v.hubMu.Unlock()

	v.wg.Wait()
	return nil
}

var _ execution.VenueClient = (*Venue)(nil)
