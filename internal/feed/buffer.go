package feed

import (
	"sync"
)

// GrowableBuffer is a FIFO ring that doubles its capacity once it fills
// past 70%, so producers never block and never drop. Consumers may poll
// with TryReceive/DrainTo or block on Receive.
type GrowableBuffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	enqueued int64
	dequeued int64
	grows    int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &GrowableBuffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item, growing the ring first if it would pass the
// threshold. Returns false once the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.enqueued++
	b.cond.Signal()
	return true
}

// Receive pops the oldest item, blocking while the buffer is empty.
// Returns the zero value and false once the buffer is closed and drained.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryReceive pops the oldest item without blocking.
// Returns the zero value and false when the buffer is empty.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// Requeue inserts items at the head of the ring so they drain before
// anything queued later. Used to put messages back after a failed flush.
func (b *GrowableBuffer[T]) Requeue(items []T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(items) == 0 {
		return
	}

	for {
		threshold := (b.capacity * 70) / 100
		if threshold < 1 {
			threshold = 1
		}
		if b.count+len(items) < threshold {
			break
		}
		b.grow()
	}

	for i := len(items) - 1; i >= 0; i-- {
		b.head = (b.head - 1 + b.capacity) % b.capacity
		b.buf[b.head] = items[i]
		b.count++
		b.enqueued++
	}
	b.cond.Broadcast()
}

// DrainTo removes up to max items in FIFO order; max <= 0 drains everything.
// Returns nil when empty.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.pop()
	}
	return result
}

// Close marks the buffer closed. Sends are rejected afterwards; items
// already buffered remain drainable, and blocked receivers wake up.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// BufferStats describes buffer throughput and sizing.
type BufferStats struct {
	Count    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Grows    int
}

// Stats returns a snapshot of buffer counters.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:    b.count,
		Capacity: b.capacity,
		Enqueued: b.enqueued,
		Dequeued: b.dequeued,
		Grows:    b.grows,
	}
}

// pop removes and returns the head item. Caller must hold mu and have
// checked count > 0.
func (b *GrowableBuffer[T]) pop() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // drop the reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.dequeued++
	return item
}

// grow doubles capacity and compacts the ring to the front. Caller must
// hold mu.
func (b *GrowableBuffer[T]) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.grows++
}
