package reckless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vermosen/reckless/format"
	"github.com/vermosen/reckless/internal/dispatch"
	"github.com/vermosen/reckless/internal/queue"
	"github.com/vermosen/reckless/internal/ring"
	"github.com/vermosen/reckless/internal/wakeup"
	"github.com/vermosen/reckless/output"
)

// Option configures a Logger at Initialize time. This mirrors the C++
// original's two dlog::initialize overloads (with and without an
// explicit max_output_buffer_size) as Go functional options.
type Option func(*Config)

// WithMaxOutputBufferSize overrides Config.MaxOutputBufferSize.
func WithMaxOutputBufferSize(n int) Option {
	return func(c *Config) { c.MaxOutputBufferSize = n }
}

// WithTLSInputBufferSize overrides Config.TLSInputBufferSize.
func WithTLSInputBufferSize(n uint64) Option {
	return func(c *Config) { c.TLSInputBufferSize = n }
}

// WithFrameAlignment overrides Config.FrameAlignment.
func WithFrameAlignment(n uint64) Option {
	return func(c *Config) { c.FrameAlignment = n }
}

// WithLogger sets the zerolog.Logger the core uses for its own
// operational diagnostics (a frame with an unknown dispatch tag, a
// frame decode error; consumer panics, a writer giving up and
// allocation failures are not logged) — distinct from the
// opaque bytes the core ships to the application's Writer. Defaults to
// a no-op logger, so the core stays silent unless the embedder opts in.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.diagLogger = l }
}

// WithRetentionPolicy sets how the output buffer handles bytes retained
// after a writer returns ErrorTryLater (SPEC_FULL.md §B).
func WithRetentionPolicy(p output.RetentionPolicy, maxRetained int) Option {
	return func(c *Config) {
		c.retention = p
		c.maxRetained = maxRetained
	}
}

// Logger is the process-wide logging core: the consumer goroutine, the
// shared handoff queue, the two wakeup events, and the output buffer,
// all reached through this handle per spec.md §9's "wrap them in a
// logger handle owned by the application".
type Logger struct {
	cfg Config

	nonEmpty *wakeup.Event
	consumed *wakeup.Event
	q        *queue.Queue
	out      *output.Buffer

	producers sync.Map // uuid.UUID -> *Producer, for Cleanup's drain pass

	diag zerolog.Logger

	flushCount int
	shrinkEach int

	done chan struct{}
}

// Initialize starts the background consumer and returns a Logger
// handle. The caller owns the handle's lifetime and must call Cleanup
// before the process exits, per spec.md §6.
func Initialize(writer output.Writer, opts ...Option) (*Logger, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxOutputBufferSize <= 0 {
		return nil, errors.New("reckless: max output buffer size must be positive")
	}

	nonEmpty := &wakeup.Event{}
	consumed := &wakeup.Event{}
	q := queue.New(cfg.HandoffQueueCapacity, nonEmpty, consumed)
	out := output.NewBuffer(writer, cfg.MaxOutputBufferSize)

	l := &Logger{
		cfg:        cfg,
		nonEmpty:   nonEmpty,
		consumed:   consumed,
		q:          q,
		out:        out,
		diag:       cfg.diagLogger,
		shrinkEach: 1000,
		done:       make(chan struct{}),
	}

	go l.run()
	return l, nil
}

// run is the consumer worker loop, spec.md §4.5, unchanged in
// structure from the original dlog::detail::output_worker: pop an
// extent (backing off exponentially while the queue is empty), signal
// the consumed event, walk every frame up to the extent's commit point
// dispatching each into the output buffer, then flush.
func (l *Logger) run() {
	defer close(l.done)
	for {
		ce := l.q.Pop(l.cfg.ConsumerBackoffCap)
		if ce.Buffer == nil {
			l.out.Flush()
			return
		}

		ib := ce.Buffer.(*ring.InputBuffer)
		p := ib.InputStart()
		for p != ce.CommitEnd {
			frame := ib.FrameAt(p)
			tag := dispatch.ReadTag(frame)
			if tag == dispatch.WraparoundMarker {
				p = ib.Wraparound()
				frame = ib.FrameAt(p)
				tag = dispatch.ReadTag(frame)
			}

			fn, ok := dispatch.Lookup(tag)
			if !ok {
				// Per dispatch.go: "should be impossible in practice".
				// There is no safe way to know this frame's size without
				// a decoder, so the remainder of this extent is
				// abandoned rather than risk reading garbage as a size.
				l.diag.Error().Uint64("tag", tag).Str("buffer", ib.ID.String()).
					Msg("reckless: unknown dispatch tag, abandoning remainder of extent")
				break
			}

			size, err := fn(l.out, frame)
			if err != nil {
				l.diag.Error().Err(err).Str("buffer", ib.ID.String()).
					Msg("reckless: frame decode error, record dropped")
			}
			p = ib.DiscardFrame(uint64(size))
		}

		l.out.Flush()
		if l.cfg.retention == output.DiscardOldest {
			l.out.ApplyRetention(output.DiscardOldest, l.cfg.maxRetained)
		}
		l.maybeShrink()
	}
}

func (l *Logger) maybeShrink() {
	l.flushCount++
	if l.flushCount%l.shrinkEach == 0 {
		l.out.Shrink(64*1024, l.cfg.MaxOutputBufferSize)
	}
}

// Cleanup commits every producer's pending frames, enqueues the
// shutdown sentinel, and blocks until the consumer has drained
// everything and exited — spec.md §5's shutdown protocol.
func (l *Logger) Cleanup() error {
	l.producers.Range(func(_, v any) bool {
		v.(*Producer).ib.Drain()
		return true
	})
	l.q.Push(queue.Extent{Buffer: nil})
	<-l.done
	return nil
}

// Sync commits every currently-attached producer's pending frames and
// blocks until the consumer has caught up to each of them, without
// shutting the consumer down. This is a supplemented feature
// (SPEC_FULL.md §B) generalizing the input buffer's drain-on-destruct
// behaviour into a reusable, non-destructive primitive.
func (l *Logger) Sync(ctx context.Context) error {
	type waiter struct {
		ib *ring.InputBuffer
	}
	var waiters []waiter
	l.producers.Range(func(_, v any) bool {
		p := v.(*Producer)
		p.ib.Commit()
		waiters = append(waiters, waiter{ib: p.ib})
		return true
	})

	for _, w := range waiters {
		for {
			gen := l.consumed.Gen()
			if w.ib.Empty() {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			l.consumed.WaitFrom(gen, l.cfg.ConsumerBackoffCap)
		}
	}
	return nil
}

// Producer is one goroutine's handle onto its own thread-local-style
// input buffer. Per spec.md §9, Go has no language-scoped thread
// locals, so a Producer is an explicit handle the caller keeps — either
// directly, or threaded through a context.Context via Attach/Detach —
// rather than magic goroutine-local storage.
type Producer struct {
	logger *Logger
	ib     *ring.InputBuffer
}

// NewProducer lazily creates a new input buffer bound to this handle.
// Call it once per goroutine that will log, and keep the returned
// handle for the goroutine's lifetime; call Detach before the
// goroutine exits.
func (l *Logger) NewProducer() *Producer {
	id := uuid.New()
	ib := ring.New(id, l.cfg.TLSInputBufferSize, l.cfg.FrameAlignment, l.q, l.nonEmpty, l.consumed)
	p := &Producer{logger: l, ib: ib}
	l.producers.Store(id, p)
	return p
}

// Detach drains this producer's input buffer (blocking until the
// consumer has decoded every frame committed so far into the output
// buffer; the flush to the writer that follows may still be pending
// when Detach returns) and removes it
// from the logger's registry. This is the Go-idiomatic stand-in for
// the C++ original's input_buffer destructor, per spec.md §9's note
// that "where thread-exit hooks are unavailable, require the
// application to call a per-thread detach before the thread exits."
func (p *Producer) Detach() {
	p.ib.Drain()
	p.logger.producers.Delete(p.ib.ID)
}

type producerKey struct{}

// Attach lazily creates a Producer and returns a context carrying it,
// for callers that prefer threading the handle through a
// context.Context rather than holding it directly — spec.md §9's
// explicit-context alternative to thread-local storage.
func (l *Logger) Attach(ctx context.Context) context.Context {
	return context.WithValue(ctx, producerKey{}, l.NewProducer())
}

// DetachContext drains and removes whatever Producer ctx carries, if
// any. It is a no-op if ctx was never Attach-ed.
func (l *Logger) DetachContext(ctx context.Context) {
	if p, ok := ctx.Value(producerKey{}).(*Producer); ok {
		p.Detach()
	}
}

// Log resolves ctx's attached Producer and logs through it. If ctx was
// never Attach-ed, it lazily creates a one-off Producer for this single
// call — mirroring spec.md §6's "obtains the current thread's input
// buffer (lazily creating it)" exactly, just without a context that
// persists across calls to amortize that creation.
func (l *Logger) Log(ctx context.Context, fmtStr string, args ...interface{}) error {
	p, ok := ctx.Value(producerKey{}).(*Producer)
	if !ok {
		p = l.NewProducer()
	}
	return p.Log(fmtStr, args...)
}

// Log formats fmtStr against args and commits the resulting frame to
// this producer's input buffer — the log entry function spec.md §6
// describes: reserve a frame, write the dispatch pointer and payload,
// commit. It never blocks on the writer; it can only block on this
// producer's own ring or on the shared handoff queue being full, per
// spec.md §5's suspension points.
func (p *Producer) Log(fmtStr string, args ...interface{}) error {
	payload, err := format.Build(fmtStr, args...)
	if err != nil {
		return fmt.Errorf("reckless: %w", err)
	}

	rawSize := uint64(dispatch.TagSize) + uint64(len(payload))
	total := p.ib.Align(rawSize)

	frame, err := p.ib.AllocateFrame(total)
	if err != nil {
		return fmt.Errorf("reckless: %w", err)
	}

	dispatch.PutTag(frame, format.Tag)
	copy(frame[dispatch.TagSize:], payload)
	format.PatchFrameSize(frame, total)

	p.ib.Commit()
	return nil
}

// DebugState is a diagnostic snapshot of one producer's ring, used by
// cmd/recklessctl and exposed for applications that want their own
// health checks, grounded on the teacher's ShmRing.DebugState.
type DebugState struct {
	ID         string
	Capacity   uint64
	InputStart uint64
	Alignment  uint64
}

// DebugState returns p's current ring state.
func (p *Producer) DebugState() DebugState {
	return DebugState{
		ID:         p.ib.ID.String(),
		Capacity:   p.ib.Capacity(),
		InputStart: p.ib.InputStart(),
		Alignment:  p.ib.Alignment(),
	}
}

// QueueDepth reports how many commit extents are currently queued
// between producers and the consumer, for diagnostics.
func (l *Logger) QueueDepth() int { return l.q.Len() }

var _ io.Closer = (*closerAdapter)(nil)

// closerAdapter lets any Logger be used where an io.Closer is expected
// (e.g. registered with an application's shutdown sequence) without
// exporting Cleanup under two names.
type closerAdapter struct{ l *Logger }

func (c *closerAdapter) Close() error { return c.l.Cleanup() }

// Closer adapts l.Cleanup to the io.Closer interface.
func (l *Logger) Closer() io.Closer { return &closerAdapter{l: l} }
