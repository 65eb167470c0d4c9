package reader

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tradedash/internal/apperr"
	"tradedash/internal/metrics"
	"tradedash/logger"
	"tradedash/models"
)

const component = "stream_manager"

// Config controls the push channel connection.
type Config struct {
	URL              string
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	BackoffFactor    float64
}

// Handlers receive everything the manager produces. Any of them may be nil.
// They are called from the manager's goroutine and must not block.
type Handlers struct {
	OnTick      func(models.Tick)
	OnTrade     func(models.TradeExecution)
	OnState     func(models.ConnectionState)
	OnError     func(error)
	OnReconnect func(delay time.Duration)
}

// Manager owns the single push channel connection: connect, receive,
// disconnect and the backoff driven reconnect.
type Manager struct {
	cfg      Config
	dialer   Dialer
	handlers Handlers
	log      *logger.Log
	backoff  *backoff.Backoff

	// emitMu keeps state notifications in transition order.
	emitMu sync.Mutex

	mu     sync.Mutex
	state  models.ConnectionState
	cancel context.CancelFunc
	conn   Conn
	kick   chan struct{}
	wg     sync.WaitGroup
}

func NewManager(cfg Config, dialer Dialer, handlers Handlers) *Manager {
	if dialer == nil {
		dialer = NewWSDialer(cfg.HandshakeTimeout, "")
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		handlers: handlers,
		log:      logger.GetLogger(),
		backoff:  newBackoff(cfg),
		state:    models.Disconnected,
	}
}

func newBackoff(cfg Config) *backoff.Backoff {
	min := cfg.BackoffMin
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 30 * time.Second
	}
	if max < min {
		max = min
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	return &backoff.Backoff{Min: min, Max: max, Factor: factor, Jitter: false}
}

// State reports the current connection state.
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the connection. It is a no-op while a connection is being
// established or is up. When called during a reconnect wait the pending
// attempt is made immediately.
func (m *Manager) Connect(ctx context.Context) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.cancel != nil {
		if m.state == models.Disconnected {
			select {
			case m.kick <- struct{}{}:
			default:
			}
		}
		m.mu.Unlock()
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.kick = make(chan struct{}, 1)
	state, _ := next(m.state, inputConnect)
	m.state = state
	m.backoff.Reset()
	m.wg.Add(1)
	m.mu.Unlock()

	m.log.WithComponent(component).WithFields(logger.Fields{"url": m.cfg.URL}).Info("connecting to push channel")
	m.notifyState(state)

	go m.run(sessionCtx)
	return nil
}

// Disconnect tears the session down: the pending reconnect wait and any
// in-flight dial are cancelled, the connection is closed and the manager's
// goroutines have exited when it returns. No reconnect follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	if cancel != nil {
		cancel()
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.wg.Wait()

	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	m.cancel = nil
	m.conn = nil
	state, changed := next(m.state, inputDisconnect)
	m.state = state
	m.mu.Unlock()

	if changed {
		m.notifyState(state)
	}
	if cancel != nil {
		m.log.WithComponent(component).Info("push channel disconnected")
	}
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	log := m.log.WithComponent(component).WithFields(logger.Fields{"url": m.cfg.URL})

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := m.dialer.Dial(ctx, m.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to connect push channel")
			m.transition(ctx, inputClosed)
			m.reportError(&apperr.ConnectionError{Op: "dial", URL: m.cfg.URL, Err: err})
		} else {
			if !m.attach(ctx, conn) {
				_ = conn.Close()
				return
			}
			log.Info("push channel connected")

			readErr := m.readLoop(ctx, conn)
			m.detach(conn)
			if ctx.Err() != nil {
				return
			}
			log.WithError(readErr).Warn("push channel closed unexpectedly")
			m.transition(ctx, inputClosed)
			m.reportError(&apperr.ConnectionError{Op: "read", URL: m.cfg.URL, Err: readErr})
		}

		delay := m.backoff.Duration()
		log.WithFields(logger.Fields{"delay_ms": delay.Milliseconds(), "attempt": int(m.backoff.Attempt())}).Info("scheduling reconnect")
		metrics.ObserveReconnect(delay)
		metrics.EmitMetric(m.log, component, "stream_reconnect", delay.Seconds(), "gauge", logger.Fields{"unit": "seconds"})
		logger.RecordReconnect()
		if m.handlers.OnReconnect != nil {
			m.handlers.OnReconnect(delay)
		}

		if !m.wait(ctx, delay) {
			return
		}
		if !m.transition(ctx, inputConnect) {
			return
		}
	}
}

// wait sleeps for delay unless the session ends or Connect asks to skip it.
func (m *Manager) wait(ctx context.Context, delay time.Duration) bool {
	m.mu.Lock()
	kick := m.kick
	m.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-kick:
		return true
	}
}

// transition applies in unless the session has already been cancelled, so
// nothing changes after Disconnect.
func (m *Manager) transition(ctx context.Context, in input) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	state, changed := next(m.state, in)
	m.state = state
	m.mu.Unlock()

	if changed {
		m.notifyState(state)
	}
	return true
}

func (m *Manager) attach(ctx context.Context, conn Conn) bool {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	state, changed := next(m.state, inputOpened)
	m.state = state
	m.mu.Unlock()

	m.backoff.Reset()
	if changed {
		m.notifyState(state)
	}
	return true
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	if m.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		})
	}

	done := make(chan struct{})
	defer close(done)
	if m.cfg.PingInterval > 0 {
		m.wg.Add(1)
		go m.keepalive(conn, done)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if m.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		}
		m.processMessage(msg)
	}
}

func (m *Manager) keepalive(conn Conn, done <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.cfg.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.log.WithComponent(component).WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

// processMessage decodes one frame. It reports whether the frame carried
// data the core consumes.
func (m *Manager) processMessage(msg []byte) bool {
	var env models.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		m.reportDecode("envelope", err)
		return false
	}
	if env.Type == "" {
		m.reportDecode("envelope", errors.New("missing message type"))
		return false
	}

	switch env.Type {
	case models.MessageTypeMarketData:
		tick, err := models.DecodeTick(env.Data)
		if err != nil {
			m.reportDecode(models.MessageTypeMarketData, err)
			return false
		}
		logger.RecordTick(len(msg))
		metrics.ObserveTick(tick.Symbol)
		if m.handlers.OnTick != nil {
			m.handlers.OnTick(tick)
		}
		return true
	case models.MessageTypeTradeExecuted:
		var exec models.TradeExecution
		if err := json.Unmarshal(env.Data, &exec); err != nil {
			m.reportDecode(models.MessageTypeTradeExecuted, err)
			return false
		}
		m.log.WithComponent(component).WithFields(logger.Fields{
			"trade_id": exec.TradeID,
			"symbol":   exec.Symbol,
			"side":     exec.Side,
		}).Debug("trade executed")
		if m.handlers.OnTrade != nil {
			m.handlers.OnTrade(exec)
		}
		return true
	default:
		m.log.WithComponent(component).WithFields(logger.Fields{"type": env.Type}).Debug("ignoring message type")
		return false
	}
}

func (m *Manager) reportDecode(source string, err error) {
	decodeErr := &apperr.DecodeError{Source: source, Err: err}
	m.log.WithComponent(component).WithError(decodeErr).Warn("dropping malformed frame")
	metrics.ObserveDecodeError(source)
	logger.RecordDecodeError()
	m.reportError(decodeErr)
}

func (m *Manager) reportError(err error) {
	if m.handlers.OnError != nil {
		m.handlers.OnError(err)
	}
}

func (m *Manager) notifyState(state models.ConnectionState) {
	metrics.SetConnectionState(state)
	if m.handlers.OnState != nil {
		m.handlers.OnState(state)
	}
}
