package metrics

import (
	"testing"
	"time"

	"tradedash/logger"
)

func resetMetricHandlers() {
	handlersMu.Lock()
	handlers = make(map[MetricHandlerID]MetricHandler)
	nextHandlerID = 0
	handlersMu.Unlock()
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}
	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
}

func TestRegisterMetricHandlerNil(t *testing.T) {
	resetMetricHandlers()

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) { events <- m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	fields := logger.Fields{"side": "BUY", "unit": "count"}
	EmitMetric(logger.Logger(), "sync_coordinator", "order_submitted", 1, "", fields)

	select {
	case event := <-events:
		if event.Component != "sync_coordinator" || event.Name != "order_submitted" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Type != "counter" {
			t.Fatalf("expected default metric type to be counter, got %s", event.Type)
		}
		if _, ok := fields["metric"]; ok {
			t.Fatalf("original fields mutated: %v", fields)
		}
		if _, ok := event.Fields["metric"]; ok {
			t.Fatalf("event fields should not contain metric key: %v", event.Fields)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("metric handler not invoked")
	}
}

func TestEmitMetricWithoutName(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) { events <- m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	EmitMetric(nil, "component", "", 1, "counter", nil)

	select {
	case <-events:
		t.Fatal("handler should not receive metrics without a name")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUnregisterStopsDispatch(t *testing.T) {
	resetMetricHandlers()

	calls := 0
	id := RegisterMetricHandler(func(Metric) { calls++ })
	EmitMetric(nil, "c", "n", 1, "gauge", nil)
	UnregisterMetricHandler(id)
	EmitMetric(nil, "c", "n", 1, "gauge", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
