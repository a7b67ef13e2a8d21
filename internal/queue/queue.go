// Package queue implements a bounded-memory, disk-spilling FIFO.
//
// Items above a configured resident threshold are written to disk as
// JSON files and lazily re-materialized on Pop.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Queue is a thread-safe FIFO of T. Push never blocks; Pop blocks until an
// item is available or ctx is done.
type Queue[T any] struct {
	mu        sync.Mutex
	resident  []T
	spillIDs  []string
	notEmpty  chan struct{}
	threshold int
	dir       string
	nextSpill uint64
}

// Config controls disk-spill behavior.
type Config struct {
	// SpillThreshold is the number of resident items above which new
	// pushes spill to disk instead of growing the in-memory deque.
	SpillThreshold int
	// SpillDir is the directory spilled items are written under. It is
	// created if missing. Left empty, the queue never spills.
	SpillDir string
}

// New constructs a Queue per cfg.
func New[T any](cfg Config) (*Queue[T], error) {
	if cfg.SpillDir != "" {
		if err := os.MkdirAll(cfg.SpillDir, 0o750); err != nil {
			return nil, fmt.Errorf("create queue spill dir %s: %w", cfg.SpillDir, err)
		}
	}
	threshold := cfg.SpillThreshold
	if threshold <= 0 {
		threshold = 1 << 30 // effectively unbounded; never spills
	}
	return &Queue[T]{
		notEmpty:  make(chan struct{}, 1),
		threshold: threshold,
		dir:       cfg.SpillDir,
	}, nil
}

// Push appends item to the tail of the queue. It never blocks and never
// drops: once the resident threshold is exceeded, items spill to disk, and
// they keep spilling while earlier items are still on disk so that Pop
// returns everything in submission order.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dir != "" && (len(q.resident) >= q.threshold || len(q.spillIDs) > 0) {
		id, err := q.spill(item)
		if err != nil {
			return fmt.Errorf("spill queue item: %w", err)
		}
		q.spillIDs = append(q.spillIDs, id)
	} else {
		q.resident = append(q.resident, item)
	}
	q.signal()
	return nil
}

// Pop removes and returns the head of the queue in submission order,
// blocking until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		item, ok, err := q.tryPop()
		q.mu.Unlock()
		if err != nil {
			var zero T
			return zero, fmt.Errorf("pop queue item: %w", err)
		}
		if ok {
			return item, nil
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("pop canceled: %w", ctx.Err())
		case <-q.waitChan():
		}
	}
}

// Clear discards all in-memory items and deletes their on-disk backing
// files. Safe to call during shutdown.
func (q *Queue[T]) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.resident = nil
	var firstErr error
	for _, id := range q.spillIDs {
		if err := os.Remove(q.spillPath(id)); err != nil && firstErr == nil && !os.IsNotExist(err) {
			firstErr = fmt.Errorf("remove spilled queue file %s: %w", id, err)
		}
	}
	q.spillIDs = nil
	if firstErr != nil {
		return firstErr
	}
	return nil
}

// Len reports the number of items currently queued, resident plus spilled.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.resident) + len(q.spillIDs)
}

// tryPop must be called with q.mu held. When it pops an item while other
// items remain, it re-signals so a second blocked waiter keeps making
// progress instead of starving behind the single-slot wake channel.
func (q *Queue[T]) tryPop() (T, bool, error) {
	if len(q.resident) > 0 {
		item := q.resident[0]
		q.resident = q.resident[1:]
		q.signalIfNonEmpty()
		return item, true, nil
	}
	if len(q.spillIDs) > 0 {
		id := q.spillIDs[0]
		q.spillIDs = q.spillIDs[1:]
		item, err := q.unspill(id)
		if err != nil {
			var zero T
			return zero, false, err
		}
		q.signalIfNonEmpty()
		return item, true, nil
	}
	var zero T
	return zero, false, nil
}

func (q *Queue[T]) signalIfNonEmpty() {
	if len(q.resident) > 0 || len(q.spillIDs) > 0 {
		q.signal()
	}
}

func (q *Queue[T]) spill(item T) (string, error) {
	q.nextSpill++
	id := fmt.Sprintf("%d", q.nextSpill)
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal spilled item: %w", err)
	}
	if err := os.WriteFile(q.spillPath(id), payload, 0o600); err != nil {
		return "", fmt.Errorf("write spill file: %w", err)
	}
	return id, nil
}

func (q *Queue[T]) unspill(id string) (T, error) {
	var item T
	payload, err := os.ReadFile(q.spillPath(id))
	if err != nil {
		return item, fmt.Errorf("read spill file: %w", err)
	}
	if err := json.Unmarshal(payload, &item); err != nil {
		return item, fmt.Errorf("unmarshal spilled item: %w", err)
	}
	if err := os.Remove(q.spillPath(id)); err != nil && !os.IsNotExist(err) {
		return item, fmt.Errorf("remove consumed spill file: %w", err)
	}
	return item, nil
}

func (q *Queue[T]) spillPath(id string) string {
	return filepath.Join(q.dir, "queue-"+id+".json")
}

// signal must be called with q.mu held; it wakes one blocked Pop.
func (q *Queue[T]) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) waitChan() <-chan struct{} {
	return q.notEmpty
}
