// Package queue is the bounded hand-off between the per-source subscription
// readers and the single writer that applies upserts to the index store.
// Payloads ride in pooled buffers; consumers must call Item.Done() exactly
// once after processing.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

const defaultQueueCapacity = 16 * 1024
const fallbackQueueCapacity = 1024

// maxPooledBuffer bounds the size of buffers returned to the pool so one
// oversized event does not pin memory forever.
var maxPooledBuffer = 1 << 20

var (
	ErrQueueFull   = errors.New("ingest queue full")
	ErrQueueClosed = errors.New("ingest queue closed")
)

// Op is one event received from an upstream source, reduced to the fields
// the writer needs. Payload is the raw serialized event and may be backed by
// a pooled buffer.
type Op struct {
	Source    string
	Kind      int
	Pubkey    string
	CreatedAt int64
	Content   string
	Payload   []byte
}

var opPool = sync.Pool{New: func() any { return new(Op) }}

// Item wraps an Op and owns its pooled buffer, if any.
type Item struct {
	Op *Op

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) <= maxPooledBuffer {
				bytebufferpool.Put(it.buf)
			}
			it.buf = nil
		}
		if it.Op != nil {
			*it.Op = Op{}
			opPool.Put(it.Op)
			it.Op = nil
		}
	})
}

// Queue is a threadsafe, fixed-size in-memory queue of Items.
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
	closed   int32

	closeOnce sync.Once
}

// New creates a bounded Queue of the given capacity; non-positive sizes fall
// back to a small default.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// NewDefault creates a Queue with the default capacity.
func NewDefault() *Queue { return New(defaultQueueCapacity) }

// SetMaxPooledBuffer overrides the pooled buffer size cap when positive.
func SetMaxPooledBuffer(n int) {
	if n > 0 {
		maxPooledBuffer = n
	}
}

// Out exposes items for the consumer (do not close).
func (q *Queue) Out() <-chan *Item { return q.ch }

func (q *Queue) newItem(op *Op) *Item {
	newOp := opPool.Get().(*Op)
	*newOp = *op
	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}
	return &Item{Op: newOp, buf: bb}
}

// TryEnqueue enqueues op without blocking; returns ErrQueueFull when full.
func (q *Queue) TryEnqueue(op *Op) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	it := q.newItem(op)
	select {
	case q.ch <- it:
		return nil
	default:
		it.Done()
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Enqueue blocks until op is enqueued or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	if atomic.LoadInt32(&q.closed) == 1 {
		return ErrQueueClosed
	}
	it := q.newItem(op)
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		it.Done()
		return ctx.Err()
	}
}

// Close closes the queue channel; pending items stay readable from Out.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		close(q.ch)
	})
}

// Dropped returns the number of items rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }
