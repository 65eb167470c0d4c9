// Registers:
//
//	#tradedash_ticks_total
//	#tradedash_decode_errors_total
//	#tradedash_stream_connected
//	#tradedash_stream_reconnects_total
//	#tradedash_snapshot_refresh_total
//	#tradedash_orders_total
//	#go_* and process_* system metrics
//
// Served by the dashboard on /metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradedash/internal/apperr"
	"tradedash/models"
)

var (
	once sync.Once

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedash_ticks_total",
			Help: "Market data ticks received from the push channel",
		},
		[]string{"symbol"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedash_decode_errors_total",
			Help: "Frames or response bodies dropped because they could not be decoded",
		},
		[]string{"source"},
	)
	streamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedash_stream_connected",
			Help: "1 while the push channel is connected",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradedash_stream_reconnects_total",
			Help: "Reconnect attempts scheduled after an unexpected close or failed dial",
		},
	)
	reconnectDelay = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedash_stream_reconnect_delay_seconds",
			Help: "Backoff delay of the most recently scheduled reconnect",
		},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedash_snapshot_refresh_total",
			Help: "Snapshot refresh outcomes",
		},
		[]string{"result"},
	)
	refreshFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedash_snapshot_consecutive_failures",
			Help: "Consecutive failed snapshot refreshes",
		},
	)
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedash_orders_total",
			Help: "Order submissions by side and result",
		},
		[]string{"side", "result"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedash_event_queue_depth",
			Help: "Events waiting in the coordinator queue",
		},
	)
)

// Init registers the collectors with the default registry.
func Init() {
	once.Do(func() {
		_ = prometheus.Register(ticksTotal)
		_ = prometheus.Register(decodeErrors)
		_ = prometheus.Register(streamConnected)
		_ = prometheus.Register(reconnectsTotal)
		_ = prometheus.Register(reconnectDelay)
		_ = prometheus.Register(refreshTotal)
		_ = prometheus.Register(refreshFailures)
		_ = prometheus.Register(ordersTotal)
		_ = prometheus.Register(queueDepth)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveTick(symbol string) {
	ticksTotal.WithLabelValues(symbol).Inc()
}

func ObserveDecodeError(source string) {
	decodeErrors.WithLabelValues(source).Inc()
}

func ObserveReconnect(delay time.Duration) {
	reconnectsTotal.Inc()
	reconnectDelay.Set(delay.Seconds())
}

func SetConnectionState(state models.ConnectionState) {
	if state == models.Connected {
		streamConnected.Set(1)
		return
	}
	streamConnected.Set(0)
}

// ObserveRefresh records a refresh outcome and the current failure streak.
func ObserveRefresh(err error, consecutive int) {
	refreshFailures.Set(float64(consecutive))
	if err == nil {
		refreshTotal.WithLabelValues("success").Inc()
		return
	}
	var pf *apperr.PersistentFetchFailure
	if errors.As(err, &pf) {
		refreshTotal.WithLabelValues("persistent_failure").Inc()
		return
	}
	refreshTotal.WithLabelValues("failure").Inc()
}

func ObserveOrder(side models.Side, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ordersTotal.WithLabelValues(string(side), result).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
