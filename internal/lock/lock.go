// Package lock implements an in-process lock table keyed by arbitrary values.
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/erazemk/zaloga/internal/model"
)

// Table hands out exclusive locks per key. Several keys are always taken in
// the order given by the table's compare function, so two callers locking
// the same keys cannot deadlock.
type Table[K comparable] struct {
	compare func(a, b K) int
	timeout time.Duration

	mu    sync.Mutex
	slots map[K]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewTable returns a lock table. Acquisitions that wait longer than timeout
// fail with *model.ContentionError.
func NewTable[K comparable](compare func(a, b K) int, timeout time.Duration) *Table[K] {
	return &Table[K]{
		compare: compare,
		timeout: timeout,
		slots:   make(map[K]*slot),
	}
}

// Acquire locks every key and returns a function that releases them. Duplicate
// keys are locked once. On failure nothing stays locked.
func (t *Table[K]) Acquire(ctx context.Context, keys ...K) (func(), error) {
	keys = slices.Clone(keys)
	slices.SortFunc(keys, t.compare)
	keys = slices.CompactFunc(keys, func(a, b K) bool { return t.compare(a, b) == 0 })

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	held := make([]K, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.unlock(held[i])
		}
	}

	for _, k := range keys {
		s := t.ref(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, k)
		case <-timer.C:
			t.unref(k)
			release()
			return nil, &model.ContentionError{Resource: fmt.Sprintf("%v", k)}
		case <-ctx.Done():
			t.unref(k)
			release()
			return nil, fmt.Errorf("waiting for lock on %v: %w", k, ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// ref returns the slot for k, creating it if needed, and counts the caller.
func (t *Table[K]) ref(k K) *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[k]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		t.slots[k] = s
	}
	s.refs++
	return s
}

func (t *Table[K]) unref(k K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots[k]
	s.refs--
	if s.refs == 0 {
		delete(t.slots, k)
	}
}

func (t *Table[K]) unlock(k K) {
	t.mu.Lock()
	s := t.slots[k]
	t.mu.Unlock()
	<-s.ch
	t.unref(k)
}

// Len returns the number of keys currently held or waited on.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
