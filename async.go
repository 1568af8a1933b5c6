package framegear

import (
	"context"
	"iter"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// AsyncGear runs one background task per gear that owns the socket. On
// the receive side the task decodes frames into a bounded queue consumed
// through the Handle; on the send side it drains the source, or frames
// queued with Send, and ends the stream when they run out.
type AsyncGear struct {
	opts      options
	role      Role
	transport Transport
	logger    Logger
	decoder   *decodeGuard

	frames chan *Frame // decoded frames waiting for the consumer
	outbox chan *Frame // frames queued by Send; nil marks the end

	state     atomic.Int32
	ended     bool // end marker queued by Send or Close; guarded by mu
	mu        sync.Mutex
	cancel    context.CancelFunc
	handle    *Handle
	closeOnce sync.Once
}

// NewAsync creates an asynchronous gear.
func NewAsync(opt ...Option) (*AsyncGear, error) {
	opts, err := newOptions(opt)
	if err != nil {
		return nil, err
	}
	return newAsyncGear(opts, newSession(opts)), nil
}

func newAsyncGear(opts options, transport Transport) *AsyncGear {
	return &AsyncGear{
		opts:      opts,
		role:      roleOf(opts.receiveMode),
		transport: transport,
		logger:    opts.logger,
		decoder:   newDecodeGuard(opts),
		frames:    make(chan *Frame, opts.bufferSize),
		outbox:    make(chan *Frame, opts.bufferSize),
	}
}

// Handle is returned by Launch. Wait joins the background task; Next and
// Frames consume received frames.
type Handle struct {
	gear *AsyncGear
	done chan struct{}
	err  error
}

// Launch opens the socket, starts the source and spawns the background
// task. The task stops when ctx is canceled, the stream ends, or Close is
// called.
func (g *AsyncGear) Launch(ctx context.Context) (*Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state.Load() {
	case gearLaunched:
		return g.handle, nil
	case gearClosed:
		return nil, opError("launch", ErrClosed, nil)
	}

	if err := g.transport.Open(ctx); err != nil {
		return nil, err
	}
	if g.opts.source != nil {
		if err := g.opts.source.Start(); err != nil {
			_ = g.transport.Close(true)
			return nil, errors.Wrap(err, "start source")
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	group, child := errgroup.WithContext(taskCtx)
	if g.role == RecvRole {
		group.Go(func() error {
			return g.recvLoop(child)
		})
	} else {
		group.Go(func() error {
			return g.sendLoop(child)
		})
	}

	h := &Handle{gear: g, done: make(chan struct{})}
	go func() {
		h.err = group.Wait()
		cancel()
		close(h.done)
	}()

	g.cancel = cancel
	g.handle = h
	g.state.Store(gearLaunched)
	g.logger.Debug("async gear launched", "role", g.role, "pattern", g.opts.pattern)
	return h, nil
}

// recvLoop moves decoded frames into the consumer queue until the stream
// ends. Closing the queue is what ends the consumer's sequence.
func (g *AsyncGear) recvLoop(ctx context.Context) error {
	defer close(g.frames)

	for {
		payload, status, err := g.transport.RecvRaw(ctx, g.opts.timeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		switch status {
		case Timeout:
			continue
		case Closed:
			g.logger.Debug("stream ended")
			return nil
		}

		frame, err := g.decoder.decode(payload)
		if err != nil {
			return err
		}
		if frame == nil {
			continue
		}

		select {
		case g.frames <- frame:
		case <-ctx.Done():
			return nil
		}
	}
}

// sendLoop sends frames from the source or the outbox, then ends the stream.
func (g *AsyncGear) sendLoop(ctx context.Context) error {
	for {
		frame, ok := g.nextOutgoing(ctx)
		if !ok {
			return nil
		}
		if frame == nil {
			g.logger.Debug("frames exhausted, ending stream")
			return g.send(ctx, nil)
		}

		payload, err := g.opts.codec.Encode(frame)
		if err != nil {
			return err
		}
		if err := g.send(ctx, payload); err != nil {
			return err
		}
	}
}

// nextOutgoing returns the next frame to send; nil means the end of the
// stream and ok is false when the task must stop.
func (g *AsyncGear) nextOutgoing(ctx context.Context) (*Frame, bool) {
	if g.opts.source != nil {
		frame := g.opts.source.Read()
		if ctx.Err() != nil {
			return nil, false
		}
		return frame, true
	}

	select {
	case frame := <-g.outbox:
		return frame, true
	case <-ctx.Done():
		return nil, false
	}
}

func (g *AsyncGear) send(ctx context.Context, payload []byte) error {
	err := g.transport.SendRaw(ctx, payload)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Send queues frame for the background task without blocking. It returns
// ErrBufferFull when the queue is full. A nil frame ends the stream once
// the frames queued before it are sent; later calls fail with ErrClosed.
func (g *AsyncGear) Send(frame *Frame) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.check("send", SendRole); err != nil {
		return err
	}
	if g.opts.source != nil {
		return opError("send", ErrConfig, errors.New("gear is fed by its source"))
	}
	if g.ended {
		return opError("send", ErrClosed, errors.New("stream already ended"))
	}

	select {
	case g.outbox <- frame:
		g.ended = frame == nil
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the background task and releases the socket. Without
// skipLoop a send gear first sends the frames Send accepted and ends the
// stream, bounded by the timeout. With skipLoop it only tears resources
// down and does not join the task, for callers whose task owner has
// already gone away. Safe to call multiple times.
func (g *AsyncGear) Close(skipLoop bool) error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.state.Store(gearClosed)
		cancel, h := g.cancel, g.handle
		ended := g.ended
		g.ended = true
		g.mu.Unlock()

		if h != nil && !skipLoop && g.role == SendRole && g.opts.source == nil {
			g.drain(h, ended)
		}
		if cancel != nil {
			cancel()
		}
		// Stopping the source wakes a task waiting for the next frame.
		if g.opts.source != nil {
			if err := g.opts.source.Stop(); err != nil {
				g.logger.Debug("source stop error", "error", err)
			}
		}
		if h != nil && !skipLoop {
			select {
			case <-h.done:
			case <-time.After(g.opts.timeout):
				g.logger.Warn("background task did not stop in time")
			}
		}
		if err := g.transport.Close(skipLoop); err != nil {
			g.logger.Debug("transport close error", "error", err)
		}
	})
	return nil
}

// drain lets the send task flush the frames Send accepted and end the
// stream, bounded by the timeout.
func (g *AsyncGear) drain(h *Handle, ended bool) {
	timer := time.NewTimer(g.opts.timeout)
	defer timer.Stop()

	if !ended {
		select {
		case g.outbox <- nil:
		case <-h.done:
			return
		case <-timer.C:
			g.logger.Warn("send queue did not drain before close")
			return
		}
	}

	select {
	case <-h.done:
	case <-timer.C:
		g.logger.Warn("send queue did not drain before close")
	}
}

// Addr returns the session address, or nil if unknown.
func (g *AsyncGear) Addr() net.Addr {
	if a, ok := g.transport.(interface{ Addr() net.Addr }); ok {
		return a.Addr()
	}
	return nil
}

// Stats returns the session counters.
func (g *AsyncGear) Stats() Stats {
	if s, ok := g.transport.(interface{ Stats() Stats }); ok {
		return s.Stats()
	}
	return Stats{Pattern: g.opts.pattern, Role: g.role}
}

func (g *AsyncGear) check(op string, role Role) error {
	if err := checkRole(op, g.role, role); err != nil {
		return err
	}
	switch g.state.Load() {
	case gearCreated:
		return opError(op, ErrNotLaunched, nil)
	case gearClosed:
		return opError(op, ErrClosed, nil)
	}
	return nil
}

// Wait blocks until the background task returns and reports its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done is closed when the background task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task error once the task has returned, nil before.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Next blocks until a frame is ready and returns it. It returns (nil, nil)
// once the stream is over; the error of a failed task is returned by Err.
func (h *Handle) Next(ctx context.Context) (*Frame, error) {
	if err := checkRole("recv", h.gear.role, RecvRole); err != nil {
		return nil, err
	}

	select {
	case frame, ok := <-h.gear.frames:
		if !ok {
			return nil, nil
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Frames returns the received frames as a sequence that ends with the
// stream. It can be consumed once; ranging over it again after it ended
// yields nothing. Check Err afterwards to tell a failure from a clean end.
func (h *Handle) Frames(ctx context.Context) iter.Seq[*Frame] {
	return func(yield func(*Frame) bool) {
		for {
			frame, err := h.Next(ctx)
			if err != nil || frame == nil {
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}
