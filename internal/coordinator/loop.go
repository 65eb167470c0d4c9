package coordinator

import (
	"time"

	"tradedash/internal/apperr"
	"tradedash/internal/metrics"
	"tradedash/internal/snapshot"
	"tradedash/logger"
	"tradedash/models"
)

type eventKind int

const (
	evTick eventKind = iota
	evState
	evStreamError
	evRefresh
	evRefreshResult
	evOrderResult
)

type event struct {
	kind   eventKind
	tick   models.Tick
	state  models.ConnectionState
	err    error
	reason string
	snap   snapshot.Snapshot
	order  models.OrderRequest
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.events.Done():
			return
		case <-tick:
			c.requestRefresh("interval")
		case ev := <-c.events.Recv():
			if c.ctx.Err() != nil {
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev.kind {
	case evTick:
		c.table.Apply(ev.tick)
		c.publish()
	case evState:
		c.connection = ev.state
		if ev.state == models.Connected {
			c.lastStreamErr = nil
		}
		c.publish()
	case evStreamError:
		c.lastStreamErr = ev.err
		c.publish()
	case evRefresh:
		c.requestRefresh(ev.reason)
	case evRefreshResult:
		c.completeRefresh(ev.snap, ev.err)
	case evOrderResult:
		c.lastOrderErr = ev.err
		if ev.err == nil {
			c.requestRefresh("order")
		} else {
			c.log.WithComponent(component).WithError(ev.err).WithFields(logger.Fields{
				"symbol":   ev.order.Symbol,
				"side":     string(ev.order.Side),
				"quantity": ev.order.Quantity,
			}).Warn("order submission failed")
		}
		c.publish()
	}
}

func (c *Coordinator) requestRefresh(reason string) {
	if c.refreshing {
		c.pending = true
		return
	}
	c.startRefresh(reason)
}

func (c *Coordinator) startRefresh(reason string) {
	if c.deps.Source == nil {
		return
	}
	c.refreshing = true
	ctx := c.ctx
	c.log.WithComponent(component).WithFields(logger.Fields{"reason": reason}).Debug("refreshing snapshot")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		snap, err := c.deps.Source.Fetch(ctx)
		if ctx.Err() != nil {
			// Stopped meanwhile; the result is discarded.
			return
		}
		c.events.Send(ctx, event{kind: evRefreshResult, snap: snap, err: err})
	}()
}

func (c *Coordinator) completeRefresh(snap snapshot.Snapshot, err error) {
	c.refreshing = false
	log := c.log.WithComponent(component)

	if err == nil {
		c.cache.Apply(snap)
		c.lastRefresh = snap.FetchedAt
		logger.LogDataFlowEntry(log, "venue_rest", "snapshot_cache", len(snap.Positions), "positions")
		if c.persistent != nil {
			log.WithFields(logger.Fields{"failures": c.failures}).Info("snapshot refresh recovered")
		}
		c.failures = 0
		c.persistent = nil
	} else {
		c.failures++
		fields := logger.Fields{"failures": c.failures, "threshold": c.cfg.FailureThreshold}
		if c.failures >= c.cfg.FailureThreshold {
			c.persistent = &apperr.PersistentFetchFailure{Consecutive: c.failures, Last: err}
			log.WithError(err).WithFields(fields).Error("snapshot refresh failing persistently")
			metrics.EmitMetric(c.log, component, "snapshot_persistent_failure", float64(c.failures), "gauge", fields)
		} else {
			log.WithError(err).WithFields(fields).Warn("snapshot refresh failed")
			metrics.EmitMetric(c.log, component, "snapshot_refresh_failure", 1, "counter", fields)
		}
	}
	observed := err
	if err != nil && c.persistent != nil {
		observed = c.persistent
	}
	metrics.ObserveRefresh(observed, c.failures)
	logger.RecordRefresh(err == nil)
	c.publish()

	if c.pending {
		c.pending = false
		c.startRefresh("coalesced")
	}
}

func (c *Coordinator) publish() {
	c.publishView(true)
}

// publishView builds a new View from loop state and hands it to subscribers.
func (c *Coordinator) publishView(running bool) {
	c.version++
	snap := c.cache.Snapshot()

	status := Status{
		Running:        running,
		Connection:     c.connection.Public(),
		SnapshotLoaded: c.cache.Loaded(),
		failure:        c.persistent,
	}
	if !c.lastRefresh.IsZero() {
		t := c.lastRefresh
		status.LastRefresh = &t
	}
	if c.persistent != nil {
		status.PersistentFailure = c.persistent.Error()
	}
	if c.lastOrderErr != nil {
		status.LastOrderError = c.lastOrderErr.Error()
	}
	if c.lastStreamErr != nil {
		status.LastStreamError = c.lastStreamErr.Error()
	}

	positions := snap.Positions
	if positions == nil {
		positions = []models.Position{}
	}
	v := &View{
		Version:    c.version,
		Quotes:     c.table.Snapshot(),
		Positions:  positions,
		Account:    snap.Account,
		Connection: c.connection.Public(),
		Status:     status,
		UpdatedAt:  time.Now().UTC(),
	}
	c.view.Store(v)

	c.subsMu.RLock()
	subs := make([]func(View), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.RUnlock()
	for _, fn := range subs {
		fn(*v)
	}
}
