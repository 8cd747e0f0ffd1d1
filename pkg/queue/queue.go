// Package queue implements the bounded byte queue that carries serial data
// between USB interrupt handlers and the application.
//
// A Queue has exactly one producer and one consumer. The producer only
// stores tail and the consumer only stores head; each reads the other's
// index as a boundary. Indices are atomic, so every index update is a single
// store the other side observes in order.
//
// Methods come in two forms. The plain form (suffix Locked) assumes the
// caller is already in interrupt context, or otherwise cannot be preempted
// by the handler that shares the queue. The unsuffixed form wraps the plain
// form in an [irq] critical section and is meant for application code.
package queue

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/softftdi/pkg"
	"github.com/ardnew/softftdi/pkg/irq"
)

// MinCapacity is the smallest backing array that can hold one byte.
const MinCapacity = 2

// Queue is a single-producer, single-consumer ring of bytes.
// One slot is always left empty, so a queue of capacity N holds N-1 bytes.
type Queue struct {
	data []byte
	head atomic.Uint32 // next slot to read; written by the consumer
	tail atomic.Uint32 // next slot to write; written by the producer
}

// New returns an empty queue backed by capacity bytes.
func New(capacity int) (*Queue, error) {
	if capacity < MinCapacity {
		return nil, fmt.Errorf("queue capacity %d: %w", capacity, pkg.ErrInvalidParameter)
	}
	return &Queue{data: make([]byte, capacity)}, nil
}

// Cap returns the number of bytes the queue can hold.
func (q *Queue) Cap() int {
	return len(q.data) - 1
}

func (q *Queue) next(i uint32) uint32 {
	i++
	if int(i) == len(q.data) {
		return 0
	}
	return i
}

// TryPutLocked appends b unless the queue is full.
func (q *Queue) TryPutLocked(b byte) bool {
	tail := q.tail.Load()
	next := q.next(tail)
	if next == q.head.Load() {
		return false
	}
	q.data[tail] = b
	q.tail.Store(next)
	return true
}

// TryGetLocked removes the oldest byte unless the queue is empty.
func (q *Queue) TryGetLocked() (byte, bool) {
	head := q.head.Load()
	if head == q.tail.Load() {
		return 0, false
	}
	b := q.data[head]
	q.head.Store(q.next(head))
	return b, true
}

// LenLocked returns the number of queued bytes.
func (q *Queue) LenLocked() int {
	n := int(q.tail.Load()) - int(q.head.Load())
	if n < 0 {
		n += len(q.data)
	}
	return n
}

// FreeLocked returns the number of bytes that can still be queued.
func (q *Queue) FreeLocked() int {
	return len(q.data) - 1 - q.LenLocked()
}

// CanGetLocked reports whether TryGetLocked would succeed.
func (q *Queue) CanGetLocked() bool {
	return q.head.Load() != q.tail.Load()
}

// CanPutLocked reports whether TryPutLocked would succeed.
func (q *Queue) CanPutLocked() bool {
	return q.next(q.tail.Load()) != q.head.Load()
}

// PurgeLocked discards every queued byte and returns how many were dropped.
// It drains through the consumer path, so only the consumer side (or a
// caller that excludes it) may purge.
func (q *Queue) PurgeLocked() int {
	n := 0
	for {
		if _, ok := q.TryGetLocked(); !ok {
			return n
		}
		n++
	}
}

// TryPut is TryPutLocked inside a critical section.
func (q *Queue) TryPut(b byte) bool {
	s := irq.Disable()
	defer irq.Restore(s)
	return q.TryPutLocked(b)
}

// TryGet is TryGetLocked inside a critical section.
func (q *Queue) TryGet() (byte, bool) {
	s := irq.Disable()
	defer irq.Restore(s)
	return q.TryGetLocked()
}

// Len is LenLocked inside a critical section.
func (q *Queue) Len() int {
	s := irq.Disable()
	defer irq.Restore(s)
	return q.LenLocked()
}

// Free is FreeLocked inside a critical section.
func (q *Queue) Free() int {
	s := irq.Disable()
	defer irq.Restore(s)
	return q.FreeLocked()
}

// CanGet is CanGetLocked inside a critical section.
func (q *Queue) CanGet() bool {
	s := irq.Disable()
	defer irq.Restore(s)
	return q.CanGetLocked()
}

// CanPut is CanPutLocked inside a critical section.
func (q *Queue) CanPut() bool {
	s := irq.Disable()
	defer irq.Restore(s)
	return q.CanPutLocked()
}

// Purge is PurgeLocked inside a critical section.
func (q *Queue) Purge() int {
	s := irq.Disable()
	defer irq.Restore(s)
	n := q.PurgeLocked()
	if n > 0 {
		pkg.LogDebug(pkg.ComponentQueue, "queue purged", "bytes", n)
	}
	return n
}
