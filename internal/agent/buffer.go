package agent

import "sync"

// ringBuffer is a bounded FIFO queue that drops its oldest item when a new
// one arrives while full. Safe for concurrent use.
type ringBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	dropped uint64
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer[T]{items: make([]T, capacity)}
}

// Push appends item. It returns true if the oldest item was dropped to make room.
func (b *ringBuffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := false
	if b.size == len(b.items) {
		var zero T
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.size--
		b.dropped++
		dropped = true
	}
	b.items[(b.head+b.size)%len(b.items)] = item
	b.size++
	return dropped
}

// PushFront puts item back at the head of the queue, for an item that was
// popped but could not be delivered. When full, the item is dropped instead
// since it is older than everything queued.
func (b *ringBuffer[T]) PushFront(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.items) {
		b.dropped++
		return true
	}
	b.head = (b.head - 1 + len(b.items)) % len(b.items)
	b.items[b.head] = item
	b.size++
	return false
}

// Pop removes and returns the oldest item.
func (b *ringBuffer[T]) Pop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return item, true
}

// Len returns the number of queued items.
func (b *ringBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns how many items were discarded because the buffer was full.
func (b *ringBuffer[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
