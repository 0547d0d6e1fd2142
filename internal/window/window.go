package window

import "github.com/loqalabs/loqa-sign/internal/landmark"

// DefaultSize is the number of frames sent to the recognizer in one dispatch.
const DefaultSize = 30

// Buffer is a fixed-capacity FIFO of feature vectors, oldest first.
// It is not safe for concurrent use; the owning pipeline serializes access.
type Buffer struct {
	items []landmark.Vector
	head  int
	size  int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultSize
	}
	return &Buffer{items: make([]landmark.Vector, capacity)}
}

// Push appends v, evicting the oldest vector when the buffer is at capacity.
func (b *Buffer) Push(v landmark.Vector) {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % capacity
}

func (b *Buffer) Len() int { return b.size }

func (b *Buffer) Cap() int { return len(b.items) }

func (b *Buffer) Full() bool { return b.size == len(b.items) }

// Drain returns the buffered vectors oldest first and empties the buffer.
func (b *Buffer) Drain() []landmark.Vector {
	out := make([]landmark.Vector, b.size)
	capacity := len(b.items)
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % capacity
		out[i] = b.items[idx]
		b.items[idx] = nil
	}
	b.head = 0
	b.size = 0
	return out
}

// Clear drops every buffered vector.
func (b *Buffer) Clear() {
	for i := range b.items {
		b.items[i] = nil
	}
	b.head = 0
	b.size = 0
}
