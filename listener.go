package framegear

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// listener is the receive side's bound endpoint. It hands out exactly one
// peer: the first one that completes the handshake with a matching pattern.
type listener struct {
	ln      *net.TCPListener
	pattern Pattern
	logger  Logger

	mu       sync.Mutex
	shutdown bool
	closed   bool
}

// listen binds host:port. Failures are reported as ErrBind.
func listen(host string, port int, pattern Pattern, logger Logger) (*listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, opError("listen", ErrBind, err)
	}

	ln, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, opError("listen", ErrBind, err)
	}

	return &listener{
		ln:      ln,
		pattern: pattern,
		logger:  logger,
	}, nil
}

// accept blocks until a peer completes the handshake or ctx is canceled.
// Peers announcing another pattern are told ours and dropped.
func (l *listener) accept(ctx context.Context, handshakeTimeout time.Duration) (*net.TCPConn, error) {
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.shutdown = true
			l.mu.Unlock()
			// Set a deadline to unblock Accept
			_ = l.ln.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		conn, err := l.ln.AcceptTCP()
		if err != nil {
			l.mu.Lock()
			isShutdown := l.shutdown
			l.mu.Unlock()

			if isShutdown {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, net.ErrClosed
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, opError("accept", ErrTransport, err)
		}

		l.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		if err := l.handshake(conn, handshakeTimeout); err != nil {
			l.logger.Warn("handshake failed", "remote_addr", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			continue
		}
		return conn, nil
	}
}

// handshake reads the sender's hello and answers with our pattern code.
func (l *listener) handshake(conn *net.TCPConn, timeout time.Duration) error {
	_ = conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	m, err := readMessage(conn, 1)
	if err != nil {
		return err
	}
	if m.kind != kindHello || len(m.body) != 1 {
		return errors.Errorf("expected hello, got %s", m.kind)
	}

	if err := writeMessage(conn, helloMessage(l.pattern)); err != nil {
		return err
	}
	if peer := Pattern(m.body[0]); peer != l.pattern {
		return errors.Wrapf(errPatternMismatch, "peer uses %s, we use %s", peer, l.pattern)
	}
	return nil
}

func helloMessage(p Pattern) message {
	return message{kind: kindHello, body: []byte{byte(p)}}
}

// close stops accepting. Safe to call multiple times.
func (l *listener) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.shutdown = true
	l.mu.Unlock()
	return l.ln.Close()
}

// Addr returns the listener's network address.
func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}
