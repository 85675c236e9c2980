package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/onnwee/twitch-viewer/telemetry"
)

// Source yields messages in order. *Stream implements it.
type Source interface {
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Sink receives each message. For the UI it is the thread-safe handoff into the
// UI event loop, never UI code itself.
type Sink func(Message)

// Chain delivers every message to each sink in turn.
func Chain(sinks ...Sink) Sink {
	return func(m Message) {
		for _, s := range sinks {
			if s != nil {
				s(m)
			}
		}
	}
}

// Queue runs a slow Sink on its own goroutine so it cannot hold up the worker
// or the sinks chained with it. Send never blocks: when the buffer is full the
// message is dropped and counted.
type Queue struct {
	sink Sink
	ch   chan Message
	done chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewQueue starts the goroutine draining into sink.
func NewQueue(sink Sink, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	q := &Queue{sink: sink, ch: make(chan Message, size), done: make(chan struct{})}
	go func() {
		defer close(q.done)
		for m := range q.ch {
			q.sink(m)
		}
	}()
	return q
}

// Send is a Sink.
func (q *Queue) Send(m Message) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- m:
	default:
		if q.dropped.Add(1) == 1 {
			slog.Warn("chat sink queue full, dropping messages", slog.Uint64("seq", m.Seq), slog.String("component", "chat_worker"))
		}
		telemetry.Inc(telemetry.SinkDropped)
	}
}

// Dropped counts messages Send discarded.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close stops accepting messages and waits until the queued ones reached the sink.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}

// Worker drains one Source on its own goroutine.
type Worker struct {
	Source  Source
	Sink    Sink
	ErrSink func(error)

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker returns a worker for src. errSink may be nil.
func NewWorker(src Source, sink Sink, errSink func(error)) *Worker {
	return &Worker{Source: src, Sink: sink, ErrSink: errSink, done: make(chan struct{})}
}

func (w *Worker) lazyInit() {
	if w.done == nil {
		w.done = make(chan struct{})
	}
}

// Start launches the receive loop. Later calls, and calls after Stop, are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lazyInit()
	if w.started || w.stopped {
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat_worker"))
	log.Debug("chat worker started")
	for {
		m, err := w.Source.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				log.Debug("chat worker stopped")
				return
			}
			log.Error("chat worker ended", slog.Any("err", err))
			if w.ErrSink != nil {
				w.ErrSink(err)
			}
			return
		}
		if w.Sink != nil {
			w.Sink(m)
		}
		telemetry.Inc(telemetry.MessagesReceived)
	}
}

// Stop closes the source and waits for the loop to exit. It is safe to call
// more than once, and before Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.lazyInit()
	first := !w.stopped
	w.stopped = true
	cancel := w.cancel
	if first && !w.started {
		close(w.done)
	}
	done := w.done
	w.mu.Unlock()

	if first {
		if cancel != nil {
			cancel()
		}
		if err := w.Source.Close(); err != nil {
			slog.Debug("chat worker close source", slog.Any("err", err), slog.String("component", "chat_worker"))
		}
	}
	<-done
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lazyInit()
	return w.done
}
