package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Report is one sample of the runtime counters logged by StartReport.
type Report struct {
	Ticks         int64
	TickBytes     int64
	Reconnects    int64
	DecodeErrors  int64
	RefreshOK     int64
	RefreshFailed int64
	OrdersOK      int64
	OrdersFailed  int64
	Warns         map[string]int64
	Errors        map[string]int64
	Goroutines    int
	CPUPercent    float64
	MemoryUsedMB  float64
	MemoryPercent float64
}

var (
	ticks         int64
	tickBytes     int64
	reconnects    int64
	decodeErrors  int64
	refreshOK     int64
	refreshFailed int64
	ordersOK      int64
	ordersFailed  int64

	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map

	sinkMu sync.RWMutex
	sink   func(Report)
)

func recordWarn(component string) {
	bump(&warnCounts, component)
}

func recordError(component string) {
	bump(&errorCounts, component)
}

func bump(m *sync.Map, component string) {
	component = strings.TrimSpace(component)
	if component == "" {
		return
	}
	v, _ := m.LoadOrStore(component, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func RecordTick(size int) {
	atomic.AddInt64(&ticks, 1)
	atomic.AddInt64(&tickBytes, int64(size))
}

func RecordReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func RecordDecodeError() {
	atomic.AddInt64(&decodeErrors, 1)
}

func RecordRefresh(ok bool) {
	if ok {
		atomic.AddInt64(&refreshOK, 1)
		return
	}
	atomic.AddInt64(&refreshFailed, 1)
}

func RecordOrder(ok bool) {
	if ok {
		atomic.AddInt64(&ordersOK, 1)
		return
	}
	atomic.AddInt64(&ordersFailed, 1)
}

// SetReportSink installs fn to receive every report sample in addition to the
// log line. Passing nil removes it.
func SetReportSink(fn func(Report)) {
	sinkMu.Lock()
	sink = fn
	sinkMu.Unlock()
}

// StartReport logs runtime and traffic counters every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log, Collect())
			}
		}
	}()
}

// Collect samples the counters and host statistics.
func Collect() Report {
	r := Report{
		Ticks:         atomic.LoadInt64(&ticks),
		TickBytes:     atomic.LoadInt64(&tickBytes),
		Reconnects:    atomic.LoadInt64(&reconnects),
		DecodeErrors:  atomic.LoadInt64(&decodeErrors),
		RefreshOK:     atomic.LoadInt64(&refreshOK),
		RefreshFailed: atomic.LoadInt64(&refreshFailed),
		OrdersOK:      atomic.LoadInt64(&ordersOK),
		OrdersFailed:  atomic.LoadInt64(&ordersFailed),
		Warns:         snapshotCounts(&warnCounts),
		Errors:        snapshotCounts(&errorCounts),
		Goroutines:    runtime.NumGoroutine(),
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		r.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		r.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		r.MemoryPercent = vm.UsedPercent
	}
	return r
}

func snapshotCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func logReport(log *Log, r Report) {
	log.WithComponent("report").WithFields(Fields{
		"ticks":          r.Ticks,
		"tick_bytes":     r.TickBytes,
		"reconnects":     r.Reconnects,
		"decode_errors":  r.DecodeErrors,
		"refresh_ok":     r.RefreshOK,
		"refresh_failed": r.RefreshFailed,
		"orders_ok":      r.OrdersOK,
		"orders_failed":  r.OrdersFailed,
		"warns":          r.Warns,
		"errors":         r.Errors,
		"goroutines":     r.Goroutines,
		"cpu_percent":    r.CPUPercent,
		"memory_mb":      r.MemoryUsedMB,
	}).Info("runtime report")

	sinkMu.RLock()
	fn := sink
	sinkMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}
