package channel

import (
	"context"
	"sync"
	"time"

	"tradedash/internal/metrics"
	"tradedash/logger"
)

type QueueStats struct {
	Sent     int64
	Dropped  int64
	Rejected int64
}

// Queue is a bounded FIFO feeding a single consumer. Items are delivered in
// the order Send accepted them. The data channel is never closed, so senders
// racing with Close cannot panic; they observe Done instead.
type Queue[T any] struct {
	name  string
	items chan T
	done  chan struct{}
	once  sync.Once

	stats      QueueStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewQueue[T any](name string, size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	log := logger.GetLogger()
	q := &Queue[T]{
		name:  name,
		items: make(chan T, size),
		done:  make(chan struct{}),
		log:   log,
	}
	log.WithComponent("event_queue").WithFields(logger.Fields{"queue": name, "buffer_size": size}).Info("queue initialized")
	return q
}

// Send blocks until v is queued, ctx is done or the queue is closed.
func (q *Queue[T]) Send(ctx context.Context, v T) bool {
	select {
	case <-q.done:
		q.increment(&q.stats.Rejected)
		return false
	default:
	}
	select {
	case q.items <- v:
		q.increment(&q.stats.Sent)
		return true
	case <-ctx.Done():
		q.increment(&q.stats.Rejected)
		return false
	case <-q.done:
		q.increment(&q.stats.Rejected)
		return false
	}
}

// TrySend queues v only if there is room right now.
func (q *Queue[T]) TrySend(v T) bool {
	select {
	case <-q.done:
		q.increment(&q.stats.Rejected)
		return false
	default:
	}
	select {
	case q.items <- v:
		q.increment(&q.stats.Sent)
		return true
	default:
		q.increment(&q.stats.Dropped)
		return false
	}
}

// Recv is the consumer side.
func (q *Queue[T]) Recv() <-chan T {
	return q.items
}

// Done is closed by Close.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.done)
		q.log.WithComponent("event_queue").WithFields(logger.Fields{"queue": q.name}).Info("queue closed")
	})
}

func (q *Queue[T]) increment(field *int64) {
	q.statsMutex.Lock()
	*field++
	q.statsMutex.Unlock()
}

func (q *Queue[T]) GetStats() QueueStats {
	q.statsMutex.RLock()
	defer q.statsMutex.RUnlock()
	return q.stats
}

// StartMetricsReporting logs queue statistics and publishes the queue depth
// every interval until ctx is done or the queue is closed.
func (q *Queue[T]) StartMetricsReporting(ctx context.Context, interval time.Duration) {
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
			case <-q.done:
				return
			case <-ticker.C:
				stats := q.GetStats()
				metrics.SetQueueDepth(q.Len())
				q.log.WithComponent("event_queue").WithFields(logger.Fields{
					"queue":    q.name,
					"sent":     stats.Sent,
					"dropped":  stats.Dropped,
					"rejected": stats.Rejected,
					"len":      q.Len(),
					"cap":      cap(q.items),
				}).Debug("queue statistics")
			}
		}
	}()
}
