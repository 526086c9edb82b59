package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"draftwire/pkg/models"
)

// Submission is an inbound raw packet from one connection, destined for the
// relay processor. Payload may be backed by a pooled ByteBuffer; consumers
// must call Item.Done() when finished.
type Submission struct {
	Sender  models.UserID
	Payload []byte
	// TS is the server receive timestamp (unix microseconds).
	TS int64
	// EnqSeq is a monotonic enqueue sequence assigned when the submission
	// is accepted into the queue.
	EnqSeq uint64
}

var (
	// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
	ErrQueueFull = errors.New("relay queue full")
)

// Item wraps a Submission and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Sub *Submission

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases internal pooled resources back to the pool.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			// avoid retaining huge buffers in the pool
			if cap(it.buf.B) > maxPooledBuffer {
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Sub != nil {
			it.Sub.Payload = nil
			subPool.Put(it.Sub)
			it.Sub = nil
		}
	})
}

// Queue is the bounded inbound queue between connection read loops and the
// relay processor. Safe for concurrent producers; a single consumer ranges
// over Out().
type Queue struct {
	ch       chan *Item
	capacity int
	dropped  uint64
}

var subPool = sync.Pool{New: func() any { return &Submission{} }}

var enqSeq uint64

// maxPooledBuffer controls the largest buffer that will be returned to the
// pool. Larger buffers are dropped so GC can reclaim the array.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// NewQueue creates a bounded Queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{ch: make(chan *Item, capacity), capacity: capacity}
}

// Out returns the read-only consumer channel. Do not close it from callers.
func (q *Queue) Out() <-chan *Item { return q.ch }

// TryEnqueue copies payload into a pooled buffer and enqueues a submission
// for sender. If the queue is full ErrQueueFull is returned and the caller
// may choose to drop or backpressure the connection.
func (q *Queue) TryEnqueue(sender models.UserID, payload []byte, ts int64) error {
	sub := subPool.Get().(*Submission)
	sub.Sender = sender
	sub.TS = ts
	sub.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], payload...)
		sub.Payload = bb.B[:len(payload)]
	} else {
		sub.Payload = nil
	}

	it := &Item{Sub: sub, buf: bb}

	select {
	case q.ch <- it:
		return nil
	default:
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		sub.Payload = nil
		subPool.Put(sub)
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, sender models.UserID, payload []byte, ts int64) error {
	sub := subPool.Get().(*Submission)
	sub.Sender = sender
	sub.TS = ts
	sub.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], payload...)
		sub.Payload = bb.B[:len(payload)]
	} else {
		sub.Payload = nil
	}

	it := &Item{Sub: sub, buf: bb}

	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		sub.Payload = nil
		subPool.Put(sub)
		atomic.AddUint64(&q.dropped, 1)
		return ctx.Err()
	}
}

// CloseAndDrain closes the queue and drains remaining items, releasing
// their resources.
func (q *Queue) CloseAndDrain() {
	close(q.ch)
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns the number of submissions dropped due to a full queue or
// context cancellation during enqueue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
