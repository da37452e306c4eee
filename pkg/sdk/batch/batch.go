package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicktill/tinybeacon/pkg/sdk/transport"
)

// SendTimeout bounds one delivery of a batch.
const SendTimeout = 5 * time.Second

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize int
	FlushEvery   time.Duration

	// MaxQueue caps buffered events while deliveries are failing or slow.
	// The oldest events are dropped first. Zero means 10 x MaxBatchSize.
	MaxQueue int

	// OnError receives delivery failures. Nil discards them.
	OnError func(error)
}

// Batcher batches events and sends them periodically
type Batcher struct {
	config    Config
	transport transport.Transport

	events  []transport.Event
	dropped atomic.Int64
	mu      sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup

	flushing atomic.Bool // at most one background flush at a time
}

// New creates a new batcher
func New(t transport.Transport, config Config) *Batcher {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 100
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 5 * time.Second
	}
	if config.MaxQueue <= 0 {
		config.MaxQueue = 10 * config.MaxBatchSize
	}
	return &Batcher{
		config:    config,
		transport: t,
		events:    make([]transport.Event, 0, config.MaxBatchSize),
		ctx:       context.Background(),
	}
}

// Start starts the flush loop
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go b.flushLoop()
	return nil
}

// Add queues an event. A full batch is flushed in the background.
func (b *Batcher) Add(ev transport.Event) {
	b.mu.Lock()
	if len(b.events) >= b.config.MaxQueue {
		// Shift down in place so the backing array is reused.
		n := copy(b.events, b.events[1:])
		b.events[n] = transport.Event{}
		b.events = b.events[:n]
		b.dropped.Add(1)
	}
	b.events = append(b.events, ev)
	shouldFlush := len(b.events) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Pending returns the number of queued events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Batcher) Dropped() int64 {
	return b.dropped.Load()
}

// Flush sends all pending events and returns the delivery error.
func (b *Batcher) Flush() error {
	events := b.take()
	if len(events) == 0 {
		return nil
	}
	return b.send(events)
}

// Stop stops the flush loop, waits for background flushes and sends what
// is left.
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.inflight.Wait()

	events := b.take()
	if len(events) == 0 {
		return nil
	}
	// The loop context is gone; the final flush gets its own deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), SendTimeout)
	defer cancel()
	return b.transport.Send(ctx, events)
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush sends pending events, reporting failures to OnError.
func (b *Batcher) flush() {
	events := b.take()
	if len(events) == 0 {
		return
	}
	if err := b.send(events); err != nil && b.config.OnError != nil {
		b.config.OnError(err)
	}
}

func (b *Batcher) take() []transport.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	events := make([]transport.Event, len(b.events))
	copy(events, b.events)
	clear(b.events)
	b.events = b.events[:0]
	return events
}

func (b *Batcher) send(events []transport.Event) error {
	ctx, cancel := context.WithTimeout(b.ctx, SendTimeout)
	defer cancel()

	return b.transport.Send(ctx, events)
}
