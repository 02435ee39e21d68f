// Package threadbridge lets any goroutine run work synchronously on the single
// goroutine that owns the scripting runtime.
//
// Key properties:
//   - The runtime goroutine is locked to one OS thread for its whole life.
//   - At most one unit of work is pending at a time. Submitters are
//     serialized by a mutex, so work runs in submission order and never
//     interleaves.
//   - A Submit issued from the runtime goroutine itself runs inline, which is
//     what keeps script → host → script call chains from deadlocking on the
//     single slot.
//   - There is no cancellation. A work unit that never returns stalls the
//     bridge permanently.
//
// Usage:
//
//	b := threadbridge.New(threadbridge.WithLogger(logger))
//	defer b.Shutdown()
//
//	var result int64
//	err := b.Submit(func() { result = compute() })
package threadbridge

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/goja-hostbridge/internal/bridgeerr"
	"github.com/joeycumines/goja-hostbridge/internal/goroutineid"
)

// Bridge owns the runtime goroutine and the single-slot work queue.
type Bridge struct {
	logger *slog.Logger

	// mu admits one submitter at a time; it is held for the full
	// ready/done handshake.
	mu sync.Mutex
	// closed is set once Shutdown has completed. Guarded by mu.
	closed bool

	// ready and done are the two semaphores of the handshake.
	ready chan struct{}
	done  chan struct{}

	// pending and failure are written by the submitter before signalling
	// ready, and by the loop before signalling done.
	pending func()
	failure error

	stop     atomic.Bool
	loopID   atomic.Int64
	threadID atomic.Int64
	exited   chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for loop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func noop() {}

// New starts the runtime goroutine and returns once it is ready to accept
// work.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger:  slog.Default(),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}, 1),
		pending: noop,
		exited:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	started := make(chan struct{})
	go b.loop(started)
	<-started
	return b
}

func (b *Bridge) loop(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(b.exited)

	b.loopID.Store(goroutineid.Get())
	b.threadID.Store(int64(currentThreadID()))
	b.logger.Debug("runtime thread started",
		slog.Int64("goroutine", b.loopID.Load()),
		slog.Int64("tid", b.threadID.Load()))
	close(started)

	for !b.stop.Load() {
		<-b.ready
		work := b.pending
		b.pending = noop
		b.failure = b.execute(work)
		b.done <- struct{}{}
	}

	b.logger.Debug("runtime thread stopped")
}

// execute runs one unit of work, converting a panic into an error so the
// loop survives it.
func (b *Bridge) execute(work func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bridgeerr.FromPanic(bridgeerr.KindInvocation, "threadbridge.work", r)
			b.logger.Error("work unit panicked", slog.Any("panic", r))
		}
	}()
	work()
	return nil
}

// OnRuntimeThread reports whether the caller is the runtime goroutine.
func (b *Bridge) OnRuntimeThread() bool {
	id := b.loopID.Load()
	return id != 0 && goroutineid.Get() == id
}

// ThreadID returns the OS thread id the runtime goroutine is pinned to, or 0
// where the platform does not expose one.
func (b *Bridge) ThreadID() int {
	return int(b.threadID.Load())
}

// Done is closed once the runtime goroutine has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.exited
}

// Submit runs work on the runtime goroutine and blocks until it returns.
//
// Called from the runtime goroutine, work runs inline. After Shutdown, Submit
// from any other goroutine fails with a protocol violation instead of
// blocking. A panic inside work is returned as an error; any other failure
// must be captured by the closure itself.
func (b *Bridge) Submit(work func()) error {
	if b.OnRuntimeThread() {
		return b.executeInline(work)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bridgeerr.ProtocolViolation("threadbridge.Submit", nil, "bridge has been shut down")
	}
	return b.handoff(work)
}

// handoff performs the ready/done handshake. Must be called with mu held.
func (b *Bridge) handoff(work func()) error {
	b.pending = work
	b.ready <- struct{}{}
	<-b.done
	err := b.failure
	b.failure = nil
	return err
}

func (b *Bridge) executeInline(work func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bridgeerr.FromPanic(bridgeerr.KindInvocation, "threadbridge.work", r)
			b.logger.Error("inline work unit panicked", slog.Any("panic", r))
		}
	}()
	work()
	return nil
}

// Shutdown stops the runtime goroutine. It sets the stop flag and submits a
// final no-op so the loop wakes, observes the flag, and exits. Safe to call
// more than once; calling it from the runtime goroutine is a protocol
// violation.
func (b *Bridge) Shutdown() error {
	if b.OnRuntimeThread() {
		return bridgeerr.ProtocolViolation("threadbridge.Shutdown", nil, "cannot shut down from the runtime thread")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.stop.Store(true)
	_ = b.handoff(noop)
	b.closed = true
	<-b.exited
	return nil
}

// Call runs fn on the runtime goroutine and returns its result. The result and
// error are captured inside the submitted closure and read after Submit
// returns.
func Call[T any](b *Bridge, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	if subErr := b.Submit(func() { result, err = fn() }); subErr != nil {
		var zero T
		return zero, subErr
	}
	return result, err
}
