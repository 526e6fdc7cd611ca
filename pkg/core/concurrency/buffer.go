package concurrency

import (
	"context"
	"sync"
)

const (
	// MinBufferCapacity is the smallest capacity that leaves one usable slot.
	MinBufferCapacity = 2
)

// BoundedBuffer is a fixed-capacity FIFO of ints shared by one producer and
// one consumer. Put blocks while the buffer is full, Take blocks while it is
// empty. The two sides wait on separate conditions so a put never wakes
// another putter and a take never wakes another taker.
//
// The ring keeps one slot as a sentinel, so a buffer built with capacity n
// holds at most n-1 items.
type BoundedBuffer struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	items []int
	head  int // next slot to take
	tail  int // next slot to put
	count int

	opts options
}

// NewBoundedBuffer creates a buffer with the given capacity.
// Capacities below MinBufferCapacity are raised to it.
func NewBoundedBuffer(capacity int, opts ...Option) *BoundedBuffer {
	o := buildOptions("bounded-buffer", opts)
	if capacity < MinBufferCapacity {
		o.logger.Infof("%s: capacity %d raised to %d", o.name, capacity, MinBufferCapacity)
		capacity = MinBufferCapacity
	}

	b := &BoundedBuffer{
		items: make([]int, capacity),
		opts:  o,
	}
	b.notFull = sync.NewCond(&b.mu)
	b.notEmpty = sync.NewCond(&b.mu)
	return b
}

// Put appends item, waiting while the buffer is full.
// It returns ctx.Err() if ctx is cancelled before space frees up; the item is
// not added in that case.
func (b *BoundedBuffer) Put(ctx context.Context, item int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opts.logger.Debugf("%s: put %d", b.opts.name, item)
	if b.full() {
		stop := b.wakeOnDone(ctx, b.notFull)
		defer stop()

		for b.full() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.opts.logger.Debugf("%s: full, put waiting", b.opts.name)
			b.opts.observer.BufferWait(b.opts.name, "put")
			b.notFull.Wait()
		}
	}

	b.items[b.tail] = item
	b.tail = (b.tail + 1) % len(b.items)
	b.count++
	b.opts.observer.BufferLen(b.opts.name, b.count)

	if b.count == 1 {
		b.opts.logger.Debugf("%s: broadcast not-empty", b.opts.name)
		b.notEmpty.Broadcast()
	}
	return nil
}

// Take removes and returns the oldest item, waiting while the buffer is empty.
// It returns ctx.Err() if ctx is cancelled before an item arrives.
func (b *BoundedBuffer) Take(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		stop := b.wakeOnDone(ctx, b.notEmpty)
		defer stop()

		for b.count == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			b.opts.logger.Debugf("%s: empty, take waiting", b.opts.name)
			b.opts.observer.BufferWait(b.opts.name, "take")
			b.notEmpty.Wait()
		}
	}

	item := b.items[b.head]
	b.items[b.head] = 0
	b.head = (b.head + 1) % len(b.items)
	b.count--
	b.opts.observer.BufferLen(b.opts.name, b.count)

	// Only the full -> not-full transition can have a parked putter.
	if b.count == len(b.items)-2 {
		b.opts.logger.Debugf("%s: broadcast not-full", b.opts.name)
		b.notFull.Broadcast()
	}
	return item, nil
}

// Len returns the number of buffered items.
func (b *BoundedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the ring size the buffer was built with.
func (b *BoundedBuffer) Capacity() int {
	return len(b.items)
}

// Slots returns how many items fit, which is Capacity()-1.
func (b *BoundedBuffer) Slots() int {
	return len(b.items) - 1
}

// full reports whether every usable slot is taken. Caller holds b.mu.
func (b *BoundedBuffer) full() bool {
	return b.count == len(b.items)-1
}

// wakeOnDone arranges for cond to be broadcast when ctx is done, so a waiter
// can observe the cancellation. The broadcast takes b.mu, which means it can
// only land while the waiter is parked in cond.Wait.
func (b *BoundedBuffer) wakeOnDone(ctx context.Context, cond *sync.Cond) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		cond.Broadcast()
	})
}
