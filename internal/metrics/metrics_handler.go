package metrics

import (
	"sync"
	"time"

	"tradedash/logger"
)

// Metric is a low frequency event (reconnect, refresh outcome, order) that is
// logged, handed to registered handlers and optionally sent to CloudWatch.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     float64       `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// MetricHandler consumes emitted metrics. Handlers run on the emitting goroutine.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler. Zero is never issued.
type MetricHandlerID uint64

var (
	handlersMu    sync.RWMutex
	handlers      = make(map[MetricHandlerID]MetricHandler)
	nextHandlerID MetricHandlerID
)

// RegisterMetricHandler adds handler and returns its id, or zero for nil.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	handlersMu.Lock()
	defer handlersMu.Unlock()
	nextHandlerID++
	handlers[nextHandlerID] = handler
	return nextHandlerID
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlersMu.Lock()
	delete(handlers, id)
	handlersMu.Unlock()
}

func recordMetric(log *logger.Log, component, name string, value float64, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	own := make(logger.Fields, len(fields))
	for k, v := range fields {
		own[k] = v
	}

	logFields := make(logger.Fields, len(own)+3)
	for k, v := range own {
		logFields[k] = v
	}
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	m := Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    own,
	}
	dispatch(m)
	return m, true
}

func dispatch(m Metric) {
	handlersMu.RLock()
	if len(handlers) == 0 {
		handlersMu.RUnlock()
		return
	}
	list := make([]MetricHandler, 0, len(handlers))
	for _, h := range handlers {
		list = append(list, h)
	}
	handlersMu.RUnlock()

	for _, h := range list {
		h(m)
	}
}
