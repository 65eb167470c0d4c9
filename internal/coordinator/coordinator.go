// Package coordinator reconciles the push stream with periodically fetched
// snapshots. All state is owned by one event loop goroutine; stream
// callbacks, timers, user actions and fetch completions reach it as events.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradedash/internal/apperr"
	"tradedash/internal/channel"
	"tradedash/internal/metrics"
	"tradedash/internal/quotes"
	"tradedash/internal/snapshot"
	"tradedash/logger"
	"tradedash/models"
	"tradedash/reader"
)

const component = "sync_coordinator"

var (
	ErrNotRunning     = errors.New("coordinator is not running")
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// Stream is the push channel lifecycle the coordinator drives.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// OrderSubmitter posts orders to the venue.
type OrderSubmitter interface {
	Submit(ctx context.Context, req models.OrderRequest) (models.OrderReceipt, error)
}

type Config struct {
	RefreshInterval time.Duration
	// FailureThreshold is the number of consecutive failed refreshes at which
	// a PersistentFetchFailure is surfaced: the failure that brings the streak
	// to FailureThreshold is the first one reported. Defaults to 3.
	FailureThreshold    int
	RefreshOnTradeEvent bool
	EventBuffer         int
}

// Deps are the collaborators. NewStream is called once by Start with the
// handlers that feed the event loop, so the coordinator is the only holder
// of the stream.
type Deps struct {
	Source    snapshot.Source
	Orders    OrderSubmitter
	NewStream func(reader.Handlers) Stream
}

type Coordinator struct {
	cfg  Config
	deps Deps
	log  *logger.Log

	events *channel.Queue[event]
	table  *quotes.Table
	cache  *snapshot.Cache

	// owned by the loop goroutine
	connection    models.ConnectionState
	refreshing    bool
	pending       bool
	failures      int
	persistent    *apperr.PersistentFetchFailure
	lastRefresh   time.Time
	lastOrderErr  error
	lastStreamErr error
	version       uint64

	view atomic.Pointer[View]

	subsMu  sync.RWMutex
	subs    map[SubscriptionID]func(View)
	nextSub SubscriptionID

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	stream      Stream
	wg          sync.WaitGroup
}

func New(cfg Config, deps Deps) *Coordinator {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	c := &Coordinator{
		cfg:    cfg,
		deps:   deps,
		log:    logger.GetLogger(),
		events: channel.NewQueue[event]("coordinator_events", cfg.EventBuffer),
		table:  quotes.NewTable(),
		cache:  snapshot.NewCache(),
		subs:   make(map[SubscriptionID]func(View)),
	}
	c.view.Store(&View{Quotes: []models.Tick{}, Positions: []models.Position{}, UpdatedAt: time.Now().UTC()})
	return c
}

// Start runs the event loop, opens the stream and requests one immediate
// snapshot refresh.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	log := c.log.WithComponent(component)

	c.wg.Add(1)
	go c.loop()

	c.events.StartMetricsReporting(c.ctx, 30*time.Second)

	if c.deps.NewStream != nil {
		c.stream = c.deps.NewStream(c.streamHandlers())
		if err := c.stream.Connect(c.ctx); err != nil {
			log.WithError(err).Warn("failed to open push channel")
		}
	}

	c.enqueue(event{kind: evRefresh, reason: "start"})
	log.WithFields(logger.Fields{
		"refresh_interval":  c.cfg.RefreshInterval.String(),
		"failure_threshold": c.cfg.FailureThreshold,
	}).Info("sync coordinator started")
	return nil
}

// Stop disconnects the stream, cancels the reconnect timer and in-flight
// fetches and waits for the loop to exit. Results arriving later are
// discarded. Stop is idempotent.
func (c *Coordinator) Stop() {
	c.lifecycleMu.Lock()
	if !c.started || c.stopped {
		c.lifecycleMu.Unlock()
		return
	}
	c.stopped = true
	c.lifecycleMu.Unlock()

	// Not held past this point: subscribers on the loop may call running().
	c.cancel()
	if c.stream != nil {
		c.stream.Disconnect()
	}
	c.events.Close()
	c.wg.Wait()

	// The loop has exited; the final projection reports the closed stream.
	c.connection = models.Disconnected
	c.publishView(false)
	c.log.WithComponent(component).Info("sync coordinator stopped")
}

func (c *Coordinator) running() bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.started && !c.stopped
}

// OnTick feeds a tick into the loop. Stream handlers call it; tests may too.
func (c *Coordinator) OnTick(t models.Tick) {
	c.enqueue(event{kind: evTick, tick: t})
}

// RefreshSnapshot asks for a snapshot refresh. Requests made while one is in
// flight collapse into a single follow-up.
func (c *Coordinator) RefreshSnapshot() error {
	if !c.running() {
		return ErrNotRunning
	}
	if !c.enqueue(event{kind: evRefresh, reason: "manual"}) {
		return ErrNotRunning
	}
	return nil
}

// SubmitOrder posts an order on the caller's goroutine. Success triggers
// exactly one snapshot refresh; failure triggers none and is recorded in the
// status.
func (c *Coordinator) SubmitOrder(ctx context.Context, symbol string, side models.Side, quantity float64) (models.OrderReceipt, error) {
	if !c.running() {
		return models.OrderReceipt{}, ErrNotRunning
	}
	if c.deps.Orders == nil {
		return models.OrderReceipt{}, fmt.Errorf("order submission is not configured")
	}

	req := models.OrderRequest{Symbol: symbol, Side: side, Quantity: quantity}
	receipt, err := c.deps.Orders.Submit(ctx, req)
	metrics.ObserveOrder(side, err)
	logger.RecordOrder(err == nil)

	fields := logger.Fields{"symbol": symbol, "side": string(side)}
	if err != nil {
		metrics.EmitMetric(c.log, component, "order_failed", 1, "counter", fields)
	} else {
		metrics.EmitMetric(c.log, component, "order_submitted", 1, "counter", fields)
	}

	c.enqueue(event{kind: evOrderResult, err: err, order: req})
	return receipt, err
}

// View returns the latest published projection.
func (c *Coordinator) View() View {
	return *c.view.Load()
}

func (c *Coordinator) Quotes() []models.Tick {
	return c.View().Quotes
}

func (c *Coordinator) Positions() []models.Position {
	return c.View().Positions
}

func (c *Coordinator) Account() models.Account {
	return c.View().Account
}

func (c *Coordinator) Connection() models.ConnectionState {
	return c.View().Connection
}

func (c *Coordinator) Status() Status {
	return c.View().Status
}

// Subscribe registers fn to receive every published view. fn runs on the
// loop goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(View)) SubscriptionID {
	if fn == nil {
		return 0
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.nextSub++
	c.subs[c.nextSub] = fn
	return c.nextSub
}

func (c *Coordinator) Unsubscribe(id SubscriptionID) {
	c.subsMu.Lock()
	delete(c.subs, id)
	c.subsMu.Unlock()
}

func (c *Coordinator) streamHandlers() reader.Handlers {
	return reader.Handlers{
		OnTick: c.OnTick,
		OnTrade: func(e models.TradeExecution) {
			if c.cfg.RefreshOnTradeEvent {
				c.enqueue(event{kind: evRefresh, reason: "trade_executed"})
			}
		},
		OnState: func(s models.ConnectionState) {
			c.enqueue(event{kind: evState, state: s})
		},
		OnError: func(err error) {
			// Best effort: a full queue drops the status update, not stream data.
			if !c.events.TrySend(event{kind: evStreamError, err: err}) {
				c.log.WithComponent(component).WithError(err).Debug("stream error not queued")
			}
		},
	}
}

func (c *Coordinator) enqueue(ev event) bool {
	ctx := c.ctx
	if ctx == nil {
		return false
	}
	return c.events.Send(ctx, ev)
}
