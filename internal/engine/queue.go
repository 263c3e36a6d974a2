package engine

import (
	"log/slog"
	"sync"
)

// DefaultQueueSize is the ingestion queue capacity when none is configured.
const DefaultQueueSize = 8192

// queue is a bounded FIFO of executions awaiting ingestion.
// When full it drops the oldest entry, not the newest, and it warns once
// each time it crosses 75% capacity.
type queue struct {
	mu            sync.Mutex
	items         []Execution
	maxSize       int
	logger        *slog.Logger
	warnThreshold int
	warned        bool
	totalDropped  int64
	totalEnqueued int64

	// ready receives a token whenever the queue becomes non-empty.
	ready chan struct{}
}

func newQueue(maxSize int, logger *slog.Logger) *queue {
	if maxSize <= 0 {
		maxSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &queue{
		items:         make([]Execution, 0, min(maxSize, 1024)),
		maxSize:       maxSize,
		logger:        logger,
		warnThreshold: (maxSize * 3) / 4,
		ready:         make(chan struct{}, 1),
	}
}

// push appends ex and reports whether an older entry was dropped.
func (q *queue) push(ex Execution) bool {
	q.mu.Lock()
	dropped := false
	if len(q.items) >= q.maxSize {
		q.items = q.items[1:]
		q.totalDropped++
		dropped = true
		q.logger.Warn("ingestion queue full, dropping oldest execution",
			"queue_size", q.maxSize,
			"total_dropped", q.totalDropped,
		)
	}
	q.items = append(q.items, ex)
	q.totalEnqueued++

	if len(q.items) >= q.warnThreshold && !q.warned {
		q.warned = true
		q.logger.Warn("ingestion queue exceeds 75% capacity",
			"current_size", len(q.items),
			"max_size", q.maxSize,
		)
	} else if len(q.items) < q.warnThreshold {
		q.warned = false
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// popN removes and returns up to n of the oldest entries.
func (q *queue) popN(n int) []Execution {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	n = min(n, len(q.items))
	batch := make([]Execution, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	if len(q.items) < q.warnThreshold {
		q.warned = false
	}
	return batch
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueStats reports ingestion queue counters.
type QueueStats struct {
	CurrentSize   int   `json:"currentSize"`
	MaxSize       int   `json:"maxSize"`
	TotalEnqueued int64 `json:"totalEnqueued"`
	TotalDropped  int64 `json:"totalDropped"`
}

func (q *queue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		CurrentSize:   len(q.items),
		MaxSize:       q.maxSize,
		TotalEnqueued: q.totalEnqueued,
		TotalDropped:  q.totalDropped,
	}
}
