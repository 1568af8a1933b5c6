package framegear

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const (
	gearCreated int32 = iota
	gearLaunched
	gearClosed
)

// Gear is the blocking frame transport. Every call runs on the caller's
// goroutine: Send returns once the pattern lets it, Recv returns the next
// frame or nil when the stream has ended.
//
// Lifecycle: New -> Launch -> Send/Recv ... -> Close.
type Gear struct {
	opts      options
	role      Role
	transport Transport
	logger    Logger
	decoder   *decodeGuard

	state atomic.Int32
}

// New creates a gear. Conflicting options, such as a source on a
// receive-mode gear, fail with ErrConfig.
func New(opt ...Option) (*Gear, error) {
	opts, err := newOptions(opt)
	if err != nil {
		return nil, err
	}
	return newGear(opts, newSession(opts)), nil
}

func newGear(opts options, transport Transport) *Gear {
	return &Gear{
		opts:      opts,
		role:      roleOf(opts.receiveMode),
		transport: transport,
		logger:    opts.logger,
		decoder:   newDecodeGuard(opts),
	}
}

// Launch opens the socket and starts the configured source, if any.
// It does not read from the source: a send gear with a source streams
// its frames only once Serve is called, on the caller's goroutine.
// Calling Launch again after success does nothing.
func (g *Gear) Launch(ctx context.Context) error {
	switch g.state.Load() {
	case gearLaunched:
		return nil
	case gearClosed:
		return opError("launch", ErrClosed, nil)
	}

	if err := g.transport.Open(ctx); err != nil {
		return err
	}
	if g.opts.source != nil {
		if err := g.opts.source.Start(); err != nil {
			_ = g.transport.Close(true)
			return errors.Wrap(err, "start source")
		}
	}

	if !g.state.CompareAndSwap(gearCreated, gearLaunched) {
		return opError("launch", ErrClosed, nil)
	}
	g.logger.Debug("gear launched", "role", g.role, "pattern", g.opts.pattern)
	return nil
}

// Serve pulls frames from the configured source and sends them until the
// source is exhausted, then ends the stream.
func (g *Gear) Serve(ctx context.Context) error {
	if err := g.check("serve", SendRole); err != nil {
		return err
	}
	if g.opts.source == nil {
		return opError("serve", ErrConfig, errors.New("no source configured"))
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame := g.opts.source.Read()
		if err := g.Send(ctx, frame); err != nil {
			return err
		}
		if frame == nil {
			return nil
		}
	}
}

// Send encodes frame and hands it to the socket. A nil frame ends the
// stream; the peer's Recv then returns nil.
func (g *Gear) Send(ctx context.Context, frame *Frame) error {
	if err := g.check("send", SendRole); err != nil {
		return err
	}
	if frame == nil {
		return g.transport.SendRaw(ctx, nil)
	}

	payload, err := g.opts.codec.Encode(frame)
	if err != nil {
		return err
	}
	return g.transport.SendRaw(ctx, payload)
}

// Recv blocks until a frame arrives and returns it. It returns (nil, nil)
// exactly when the stream has ended, so callers can loop until nil.
// Frames that fail to decode are skipped; see MaxDecodeFailuresOption.
func (g *Gear) Recv(ctx context.Context) (*Frame, error) {
	for {
		frame, status, err := g.TryRecv(ctx, g.opts.timeout)
		if err != nil {
			return nil, err
		}
		switch status {
		case Received:
			if frame != nil {
				return frame, nil
			}
		case Closed:
			return nil, nil
		}
	}
}

// TryRecv waits at most timeout for one payload. A Received status with a
// nil frame means the payload was dropped by the decode policy.
func (g *Gear) TryRecv(ctx context.Context, timeout time.Duration) (*Frame, RecvStatus, error) {
	if err := g.check("recv", RecvRole); err != nil {
		return nil, Closed, err
	}

	payload, status, err := g.transport.RecvRaw(ctx, timeout)
	if err != nil || status != Received {
		return nil, status, err
	}

	frame, err := g.decoder.decode(payload)
	if err != nil {
		return nil, Closed, err
	}
	return frame, Received, nil
}

// Close stops the source and releases the socket. With skipWait the
// pending sends are discarded instead of flushed. Safe to call multiple
// times; any other call after Close fails with ErrClosed.
func (g *Gear) Close(skipWait bool) error {
	if g.state.Swap(gearClosed) == gearClosed {
		return nil
	}
	if g.opts.source != nil {
		if err := g.opts.source.Stop(); err != nil {
			g.logger.Debug("source stop error", "error", err)
		}
	}
	return g.transport.Close(skipWait)
}

// Addr returns the session address, or nil if unknown.
func (g *Gear) Addr() net.Addr {
	if a, ok := g.transport.(interface{ Addr() net.Addr }); ok {
		return a.Addr()
	}
	return nil
}

// Stats returns the session counters.
func (g *Gear) Stats() Stats {
	if s, ok := g.transport.(interface{ Stats() Stats }); ok {
		return s.Stats()
	}
	return Stats{Pattern: g.opts.pattern, Role: g.role}
}

func (g *Gear) check(op string, role Role) error {
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

// decodeGuard applies the decode failure policy shared by both gears.
type decodeGuard struct {
	codec    FrameCodec
	pattern  Pattern
	logger   Logger
	onError  func(error) ErrorAction
	max      int
	failures int
}

func newDecodeGuard(opts options) *decodeGuard {
	return &decodeGuard{
		codec:   opts.codec,
		pattern: opts.pattern,
		logger:  opts.logger,
		onError: opts.onDecodeError,
		max:     opts.maxDecodeFailures,
	}
}

// decode returns (nil, nil) when the payload is dropped and an error
// when the failure ends the stream.
func (d *decodeGuard) decode(payload []byte) (*Frame, error) {
	frame, err := d.codec.Decode(payload)
	if err == nil {
		d.failures = 0
		return frame, nil
	}

	d.failures++
	recordDecodeError(d.pattern)
	d.logger.Warn("dropping undecodable frame", "error", err, "consecutive_failures", d.failures)

	if d.onError != nil {
		if d.onError(err) == Disconnect {
			return nil, opError("decode", ErrDecode, err)
		}
		return nil, nil
	}
	if d.failures > d.max {
		return nil, opError("decode", ErrDecode, errors.Wrapf(err, "%d consecutive failures", d.failures))
	}
	return nil, nil
}
