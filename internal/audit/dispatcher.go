package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config controls buffering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops and counts events when the buffer is full. Otherwise
	// Emit waits for room or for ctx.
	DropIfFull bool
	// Logger receives sink panics. The zero value discards them.
	Logger zerolog.Logger
}

// Dispatcher relays events to a Sink from one background goroutine, so a
// slow sink never holds up the request that produced the event.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	logger     zerolog.Logger

	// mu guards queue against close while senders are inside Emit.
	mu     sync.RWMutex
	closed bool
	queue  chan Event

	dropped  atomic.Uint64
	drained  chan struct{}
	shutdown sync.Once
}

// NewDispatcher starts a dispatcher. It returns nil when cfg is disabled;
// every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = SinkFunc(nil)
	}
	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		logger:     cfg.Logger,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		drained:    make(chan struct{}),
	}
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer close(d.drained)
	for ev := range d.queue {
		d.emitOne(ev)
	}
}

func (d *Dispatcher) emitOne(ev Event) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error().
				Interface("panic", p).
				Str("event", ev.EventType).
				Msg("audit sink panicked")
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. After Close it is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events, delivers what is already queued and waits
// for the sink to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.shutdown.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		<-d.drained
	})
}

// Dropped counts events lost to a full buffer or an expired context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
