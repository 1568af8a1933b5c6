package framegear

import (
	"time"

	"github.com/pkg/errors"
)

// ErrorAction defines the action to take when a frame fails to decode.
type ErrorAction int

const (
	// Disconnect ends the stream with the decode error.
	Disconnect ErrorAction = iota
	// Continue drops the offending frame and keeps receiving.
	Continue
)

// Default configuration values.
const (
	defaultHost              = "127.0.0.1"
	defaultPort              = 5555
	defaultBufferSize        = 16
	defaultMaxMessageSize    = 64 * 1024 * 1024
	defaultTimeout           = 2 * time.Second
	defaultConnectTimeout    = 10 * time.Second
	defaultMaxDecodeFailures = 10
)

// options holds the configuration of a gear. It is fixed once the gear
// is constructed.
type options struct {
	host        string
	port        int
	receiveMode bool
	pattern     Pattern

	logging bool
	logger  Logger

	source      Source
	codec       FrameCodec
	compression Compression

	// onDecodeError decides what happens to a frame that fails to decode.
	// Without it, frames are dropped until maxDecodeFailures consecutive
	// failures end the stream.
	onDecodeError     func(error) ErrorAction
	maxDecodeFailures int

	bufferSize     int           // capacity of the send and receive queues
	maxMessageSize int           // maximum size of a single wire message
	timeout        time.Duration // per-receive window, reply wait and flush bound
	connectTimeout time.Duration // how long the send side keeps dialing
}

// Option is a function that configures gear options.
type Option func(*options)

func newOptions(opt []Option) (options, error) {
	opts := options{
		host:    defaultHost,
		port:    defaultPort,
		pattern: PushPull,
	}
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return options{}, err
	}
	return opts, nil
}

// checkOptions validates and sets default values for gear options.
func checkOptions(opts *options) error {
	if !opts.pattern.valid() {
		return errors.Wrapf(ErrConfig, "unknown pattern code %d", int(opts.pattern))
	}

	if opts.source != nil && opts.receiveMode {
		return errors.Wrap(ErrConfig, "a source cannot feed a receive-mode gear")
	}

	if opts.host == "" {
		return errors.Wrap(ErrConfig, "empty host")
	}

	// Port 0 lets the receive side pick a free port; the send side needs a real one.
	if opts.port < 0 || opts.port > 65535 || (opts.port == 0 && !opts.receiveMode) {
		return errors.Wrapf(ErrConfig, "invalid port %d", opts.port)
	}

	switch opts.compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return errors.Wrapf(ErrConfig, "unknown compression %s", opts.compression)
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.timeout <= 0 {
		opts.timeout = defaultTimeout
	}

	if opts.connectTimeout <= 0 {
		opts.connectTimeout = defaultConnectTimeout
	}

	if opts.maxDecodeFailures <= 0 {
		opts.maxDecodeFailures = defaultMaxDecodeFailures
	}

	if opts.codec == nil {
		opts.codec = NewCodec(opts.compression)
	}

	switch {
	case !opts.logging:
		opts.logger = discardLogger()
	case opts.logger == nil:
		opts.logger = defaultLogger()
	}

	return nil
}

// AddressOption sets the host and port. The receive side binds it, the
// send side dials it.
func AddressOption(host string, port int) Option {
	return func(o *options) {
		o.host = host
		o.port = port
	}
}

// ReceiveModeOption selects the receive role when true.
func ReceiveModeOption(receive bool) Option {
	return func(o *options) {
		o.receiveMode = receive
	}
}

// PatternOption sets the pattern. Both ends must use the same one.
func PatternOption(p Pattern) Option {
	return func(o *options) {
		o.pattern = p
	}
}

// LoggingOption switches logging on or off. Logging is off by default.
func LoggingOption(enabled bool) Option {
	return func(o *options) {
		o.logging = enabled
	}
}

// LoggerOption sets the logger and switches logging on.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
		o.logging = true
	}
}

// SourceOption attaches a frame source to a send-side gear.
func SourceOption(src Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// CustomCodecOption replaces the default frame codec.
func CustomCodecOption(codec FrameCodec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// CompressionOption sets the compression of the default codec.
func CompressionOption(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// BufferSizeOption sets the capacity of the send and receive queues.
// A larger buffer absorbs longer bursts before backpressure or drops kick in.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// MessageMaxSize sets the maximum size of a single wire message.
// Frames larger than this size cannot be received.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// TimeoutOption sets the receive window, the reply wait of request-reply
// senders and the bound on draining at close.
func TimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// ConnectTimeoutOption sets how long the send side retries dialing.
func ConnectTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = timeout
	}
}

// MaxDecodeFailuresOption sets how many consecutive decode failures are
// tolerated before receiving fails with ErrDecode.
func MaxDecodeFailuresOption(n int) Option {
	return func(o *options) {
		o.maxDecodeFailures = n
	}
}

// OnDecodeErrorOption sets the decode error callback.
// Return Disconnect to end the stream, or Continue to drop the frame.
func OnDecodeErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onDecodeError = cb
	}
}
