// Package framegear streams video frames between two processes over a TCP
// socket. A send-side gear dials a receive-side gear and moves frames under
// one of three patterns: request-reply, publish-subscribe or push-pull.
//
// Gear is the blocking API and AsyncGear runs a background task feeding a
// frame sequence. Both sit on the same Transport, implemented by Session.
package framegear

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RecvStatus is the outcome of a raw receive.
type RecvStatus int

const (
	// Received means a payload was returned.
	Received RecvStatus = iota
	// Timeout means nothing arrived within the window. Callers may retry.
	Timeout
	// Closed means the stream ended, either at the peer's request or
	// because the link went away.
	Closed
)

func (s RecvStatus) String() string {
	switch s {
	case Received:
		return "received"
	case Timeout:
		return "timeout"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the capability set both gears are built on. An empty
// payload passed to SendRaw ends the stream.
type Transport interface {
	Open(ctx context.Context) error
	SendRaw(ctx context.Context, payload []byte) error
	RecvRaw(ctx context.Context, timeout time.Duration) ([]byte, RecvStatus, error)
	Close(skipWait bool) error
}

var _ Transport = (*Session)(nil)

const (
	stateCreated int32 = iota
	stateOpen
	stateClosed
)

const (
	dialRetryInterval = 50 * time.Millisecond
	readBufferSize    = 64 * 1024
)

// Stats is a snapshot of a session's counters.
type Stats struct {
	ID       string
	Pattern  Pattern
	Role     Role
	Sent     uint64
	Received uint64
	Dropped  uint64
	Open     bool
}

// Session owns one socket for its whole lifetime. The receive side binds
// and accepts a single peer; the send side dials. Reads and writes run in
// their own goroutines; callers exchange payloads with them through
// bounded queues.
type Session struct {
	id     string
	opts   options
	role   Role
	logger Logger

	ln      *listener
	rawConn *net.TCPConn
	reader  *bufio.Reader

	sendMsg chan message
	recvMsg chan []byte
	replies chan struct{}

	connected chan struct{} // closed once rawConn is set
	stopRecv  chan struct{} // closed when Close starts
	done      chan struct{} // closed when the link is down

	openMu  sync.Mutex
	state   atomic.Int32
	endSent atomic.Bool
	cancel  context.CancelFunc

	errMu sync.Mutex
	err   error

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewSession creates an unopened session from the given options.
func NewSession(opt ...Option) (*Session, error) {
	opts, err := newOptions(opt)
	if err != nil {
		return nil, err
	}
	return newSession(opts), nil
}

func newSession(opts options) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		opts:      opts,
		role:      roleOf(opts.receiveMode),
		logger:    withAttrs(opts.logger, "session", id),
		sendMsg:   make(chan message, opts.bufferSize),
		recvMsg:   make(chan []byte, opts.bufferSize),
		replies:   make(chan struct{}, 1),
		connected: make(chan struct{}),
		stopRecv:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Open binds (receive side) or dials and handshakes (send side). It
// returns only once the endpoint is usable. Calling Open on an open
// session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	switch s.state.Load() {
	case stateOpen:
		return nil
	case stateClosed:
		return opError("open", ErrClosed, nil)
	}

	if s.role == RecvRole {
		ln, err := listen(s.opts.host, s.opts.port, s.opts.pattern, s.logger)
		if err != nil {
			return err
		}
		s.ln = ln
		s.logger.Info("session listening", "addr", ln.Addr(),
			"pattern", s.opts.pattern, "role", s.role)
	} else {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.attach(conn)
		s.logger.Info("session connected", "addr", conn.RemoteAddr(),
			"pattern", s.opts.pattern, "role", s.role)
	}

	s.logger.Debug("session options",
		"buffer_size", s.opts.bufferSize,
		"max_message_size", s.opts.maxMessageSize,
		"timeout", s.opts.timeout)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state.Store(stateOpen)
	sessionsActive.Inc()

	go s.serve(loopCtx)
	return nil
}

// dial connects to the receive side, retrying until the connect timeout
// so the two ends can be launched in any order.
func (s *Session) dial(ctx context.Context) (*net.TCPConn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.connectTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.opts.host, strconv.Itoa(s.opts.port))
	var (
		dialer  net.Dialer
		lastErr error
	)
	for {
		c, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn := c.(*net.TCPConn)
			_ = conn.SetNoDelay(true)
			if err = s.handshake(conn); err == nil {
				return conn, nil
			}
			_ = conn.Close()
			if errors.Is(err, errPatternMismatch) {
				return nil, opError("connect", ErrConnect, err)
			}
		}
		lastErr = err
		s.logger.Debug("dial attempt failed", "addr", addr, "error", err)

		select {
		case <-ctx.Done():
			return nil, opError("connect", ErrConnect, lastErr)
		case <-time.After(dialRetryInterval):
		}
	}
}

// handshake announces our pattern and checks the receiver's answer.
func (s *Session) handshake(conn *net.TCPConn) error {
	_ = conn.SetDeadline(time.Now().Add(s.opts.timeout))
	defer conn.SetDeadline(time.Time{})

	if err := writeMessage(conn, helloMessage(s.opts.pattern)); err != nil {
		return err
	}
	m, err := readMessage(conn, 1)
	if err != nil {
		return err
	}
	if m.kind != kindHello || len(m.body) != 1 {
		return errors.Errorf("expected hello, got %s", m.kind)
	}
	if peer := Pattern(m.body[0]); peer != s.opts.pattern {
		return errors.Wrapf(errPatternMismatch, "peer uses %s, we use %s", peer, s.opts.pattern)
	}
	return nil
}

func (s *Session) attach(conn *net.TCPConn) {
	s.rawConn = conn
	s.reader = bufio.NewReaderSize(conn, readBufferSize)
	close(s.connected)
}

// serve waits for the peer (receive side) and runs the link until it goes down.
func (s *Session) serve(ctx context.Context) {
	defer close(s.done)
	defer close(s.recvMsg)

	if s.ln != nil {
		conn, err := s.ln.accept(ctx, s.opts.timeout)
		_ = s.ln.close()
		if err != nil {
			if ctx.Err() == nil {
				s.fail(err)
			}
			return
		}
		s.attach(conn)
		s.logger.Info("peer connected", "addr", conn.RemoteAddr())
	}

	err := s.run(ctx)
	if err == nil || errors.Is(err, errPeerEnded) || errors.Is(err, context.Canceled) {
		s.logger.Info("link closed", "addr", s.rawConn.RemoteAddr())
		return
	}
	s.fail(err)
	s.logger.Info("link closed with error", "addr", s.rawConn.RemoteAddr(), "error", err)
}

// run starts the read and write loops and blocks until both are done.
// The socket is closed when run returns.
func (s *Session) run(ctx context.Context) error {
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.readLoop(child)
	})

	group.Go(func() error {
		return s.writeLoop(child)
	})

	group.Go(func() error {
		<-child.Done()
		// Unblocks a read or write parked on the socket.
		_ = s.rawConn.Close()
		return nil
	})

	return group.Wait()
}

// readLoop reads messages until the peer ends the stream or the link fails.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		m, err := readMessage(s.reader, s.opts.maxMessageSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A clean EOF between messages ends the stream like an end message.
			if errors.Is(err, io.EOF) {
				return errPeerEnded
			}
			s.logger.Debug("read error", "error", err)
			return opError("read", ErrTransport, err)
		}

		switch m.kind {
		case kindFrame:
			if s.role != RecvRole {
				return opError("read", ErrTransport, errors.New("frame sent to a send-side session"))
			}
			if err := s.deliver(ctx, m.body); err != nil {
				return err
			}
		case kindReply:
			select {
			case s.replies <- struct{}{}:
			default:
			}
		case kindEnd:
			s.logger.Debug("peer ended the stream")
			return errPeerEnded
		default:
			return opError("read", ErrTransport, errors.Errorf("unexpected %s message", m.kind))
		}
	}
}

// deliver hands a payload to the receive queue according to the pattern.
func (s *Session) deliver(ctx context.Context, body []byte) error {
	if s.opts.pattern.recvPolicy() == dropWhenFull {
		select {
		case s.recvMsg <- body:
		default:
			s.dropped.Add(1)
			recordDropped(s.opts.pattern, s.role)
			s.logger.Debug("receive queue full, frame dropped")
		}
		return nil
	}

	select {
	case s.recvMsg <- body:
		return nil
	case <-s.stopRecv:
		// Nobody will consume it.
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop writes queued messages in order. After the end message it
// half-closes the socket and stops.
func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.sendMsg:
			if err := writeMessage(s.rawConn, m); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Debug("write error", "error", err)
				return opError("write", ErrTransport, err)
			}
			if m.kind == kindEnd {
				_ = s.rawConn.CloseWrite()
				return nil
			}
		}
	}
}

// SendRaw transmits one payload. Blocking depends on the pattern:
// request-reply waits for the reply, push-pull waits for queue space and
// publish-subscribe drops the payload when the queue is full. An empty
// payload ends the stream.
func (s *Session) SendRaw(ctx context.Context, payload []byte) error {
	if err := s.ready("send", SendRole); err != nil {
		return err
	}
	if s.endSent.Load() {
		return opError("send", ErrClosed, errors.New("stream already ended"))
	}
	if len(payload) == 0 {
		return s.end(ctx)
	}
	if len(payload) > s.opts.maxMessageSize {
		return opError("send", ErrMessageTooLarge, errors.Errorf("%d > %d", len(payload), s.opts.maxMessageSize))
	}
	if err := s.linkErr("send"); err != nil {
		return err
	}

	m := message{kind: kindFrame, body: payload}
	switch s.opts.pattern.sendPolicy() {
	case dropWhenFull:
		select {
		case s.sendMsg <- m:
		default:
			s.dropped.Add(1)
			recordDropped(s.opts.pattern, s.role)
			s.logger.Debug("send queue full, frame dropped")
			return nil
		}
	case blockWhenFull:
		if err := s.enqueue(ctx, m); err != nil {
			return err
		}
	case awaitReply:
		if err := s.enqueue(ctx, m); err != nil {
			return err
		}
		if err := s.awaitReply(ctx); err != nil {
			return err
		}
	}

	s.sent.Add(1)
	recordSent(s.opts.pattern, len(payload))
	return nil
}

func (s *Session) end(ctx context.Context) error {
	if !s.endSent.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug("ending stream", "sent", s.sent.Load())
	return s.enqueue(ctx, message{kind: kindEnd})
}

func (s *Session) enqueue(ctx context.Context, m message) error {
	select {
	case s.sendMsg <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.linkErr("send")
	}
}

// awaitReply waits for the answer to the request just queued. A missing
// reply breaks the alternation, so the link is torn down.
func (s *Session) awaitReply(ctx context.Context) error {
	timer := time.NewTimer(s.opts.timeout)
	defer timer.Stop()

	select {
	case <-s.replies:
		return nil
	case <-timer.C:
		err := opError("send", ErrTransport, errors.Wrapf(ErrTimeout, "no reply within %s", s.opts.timeout))
		s.fail(err)
		s.cancel()
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.linkErr("send")
	}
}

// RecvRaw returns the next payload, or a Timeout status when nothing
// arrives within timeout (zero waits until ctx is done). Once the peer
// ends the stream and the queue is drained it reports Closed.
// Request-reply receivers answer each request as it is returned.
func (s *Session) RecvRaw(ctx context.Context, timeout time.Duration) ([]byte, RecvStatus, error) {
	if err := s.ready("recv", RecvRole); err != nil {
		return nil, Closed, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case body, ok := <-s.recvMsg:
		if !ok {
			return nil, Closed, s.failure()
		}
		s.received.Add(1)
		recordReceived(s.opts.pattern, len(body))
		if s.opts.pattern.replies() {
			// The payload is already ours; a link that went down only loses the reply.
			if err := s.enqueue(ctx, message{kind: kindReply}); err != nil {
				s.logger.Debug("reply not sent", "error", err)
			}
		}
		return body, Received, nil
	case <-expired:
		return nil, Timeout, nil
	case <-ctx.Done():
		return nil, Timeout, ctx.Err()
	}
}

// Close releases the socket. Unless skipWait is set, queued payloads are
// flushed and the end message is written first, bounded by the timeout.
// Teardown errors are logged, not returned. Safe to call multiple times.
func (s *Session) Close(skipWait bool) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	prev := s.state.Swap(stateClosed)
	if prev == stateClosed {
		return nil
	}
	close(s.stopRecv)
	if prev == stateCreated {
		return nil
	}

	if !skipWait {
		s.flush()
	}

	s.cancel()
	if s.ln != nil {
		if err := s.ln.close(); err != nil {
			s.logger.Debug("listener close error", "error", err)
		}
	}
	select {
	case <-s.connected:
		if err := s.rawConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("socket close error", "error", err)
		}
	default:
	}

	select {
	case <-s.done:
	case <-time.After(s.opts.timeout):
		s.logger.Warn("session loops did not stop in time")
	}

	sessionsActive.Dec()
	s.logger.Info("session closed",
		"sent", s.sent.Load(),
		"received", s.received.Load(),
		"dropped", s.dropped.Load())
	return nil
}

// flush queues the end message behind pending payloads and waits for the
// peer to close its side.
func (s *Session) flush() {
	select {
	case <-s.connected:
	default:
		return
	}

	timer := time.NewTimer(s.opts.timeout)
	defer timer.Stop()

	if s.endSent.CompareAndSwap(false, true) {
		select {
		case s.sendMsg <- message{kind: kindEnd}:
		case <-s.done:
			return
		case <-timer.C:
			s.logger.Warn("send queue did not drain before close")
			return
		}
	}

	select {
	case <-s.done:
	case <-timer.C:
		s.logger.Debug("peer did not close the link in time")
	}
}

// ready checks role and state before a send or receive.
func (s *Session) ready(op string, role Role) error {
	if err := checkRole(op, s.role, role); err != nil {
		return err
	}
	switch s.state.Load() {
	case stateCreated:
		return opError(op, ErrNotLaunched, nil)
	case stateClosed:
		return opError(op, ErrClosed, nil)
	}
	return nil
}

// linkErr returns nil while the link is up and the reason it went down otherwise.
func (s *Session) linkErr(op string) error {
	select {
	case <-s.done:
	default:
		return nil
	}
	if err := s.failure(); err != nil {
		return err
	}
	return opError(op, ErrTransport, errPeerEnded)
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Addr returns the bound address on the receive side and the peer address
// on the send side.
func (s *Session) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	select {
	case <-s.connected:
		return s.rawConn.RemoteAddr()
	default:
		return nil
	}
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		ID:       s.id,
		Pattern:  s.opts.pattern,
		Role:     s.role,
		Sent:     s.sent.Load(),
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
		Open:     s.state.Load() == stateOpen,
	}
}
