package framegear

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Start() error { return nil }
func (stubSource) Read() *Frame { return nil }
func (stubSource) Stop() error  { return nil }

func TestCustomCodecOption(t *testing.T) {
	codec := NewCodec(CompressionZstd)

	var opts options
	CustomCodecOption(codec)(&opts)
	assert.Same(t, codec, opts.codec)
}

func TestBufferSizeOption(t *testing.T) {
	var opts options
	BufferSizeOption(100)(&opts)
	assert.Equal(t, 100, opts.bufferSize)
}

func TestMessageMaxSize(t *testing.T) {
	var opts options
	MessageMaxSize(4096)(&opts)
	assert.Equal(t, 4096, opts.maxMessageSize)
}

func TestOnDecodeErrorOption(t *testing.T) {
	called := false
	var opts options
	OnDecodeErrorOption(func(err error) ErrorAction {
		called = true
		return Continue
	})(&opts)

	require.NotNil(t, opts.onDecodeError)
	assert.Equal(t, Continue, opts.onDecodeError(ErrDecode))
	assert.True(t, called)
}

func TestNewOptions_Defaults(t *testing.T) {
	opts, err := newOptions(nil)
	require.NoError(t, err)

	assert.Equal(t, defaultHost, opts.host)
	assert.Equal(t, defaultPort, opts.port)
	assert.Equal(t, PushPull, opts.pattern)
	assert.False(t, opts.receiveMode)
	assert.Equal(t, defaultBufferSize, opts.bufferSize)
	assert.Equal(t, defaultMaxMessageSize, opts.maxMessageSize)
	assert.Equal(t, defaultTimeout, opts.timeout)
	assert.Equal(t, defaultConnectTimeout, opts.connectTimeout)
	assert.Equal(t, defaultMaxDecodeFailures, opts.maxDecodeFailures)
	assert.NotNil(t, opts.codec)
	assert.NotNil(t, opts.logger)
}

func TestNewOptions_MultipleOptions(t *testing.T) {
	opts, err := newOptions([]Option{
		AddressOption("localhost", 6000),
		ReceiveModeOption(true),
		PatternOption(RequestReply),
		CompressionOption(CompressionLZ4),
		BufferSizeOption(4),
		TimeoutOption(time.Second),
		ConnectTimeoutOption(3 * time.Second),
		MaxDecodeFailuresOption(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "localhost", opts.host)
	assert.Equal(t, 6000, opts.port)
	assert.True(t, opts.receiveMode)
	assert.Equal(t, RequestReply, opts.pattern)
	assert.Equal(t, CompressionLZ4, opts.compression)
	assert.Equal(t, 4, opts.bufferSize)
	assert.Equal(t, time.Second, opts.timeout)
	assert.Equal(t, 3*time.Second, opts.connectTimeout)
	assert.Equal(t, 2, opts.maxDecodeFailures)
}

func TestNewOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"source on receive side", []Option{ReceiveModeOption(true), SourceOption(stubSource{})}},
		{"unknown pattern", []Option{PatternOption(Pattern(7))}},
		{"empty host", []Option{AddressOption("", 5555)}},
		{"negative port", []Option{AddressOption("127.0.0.1", -1)}},
		{"port too large", []Option{AddressOption("127.0.0.1", 70000)}},
		{"port zero on send side", []Option{AddressOption("127.0.0.1", 0)}},
		{"unknown compression", []Option{CompressionOption(Compression(9))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newOptions(tt.opts)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestNewOptions_PortZeroOnReceiveSide(t *testing.T) {
	_, err := newOptions([]Option{ReceiveModeOption(true), AddressOption("127.0.0.1", 0)})
	assert.NoError(t, err)
}

func TestErrorAction(t *testing.T) {
	assert.Equal(t, ErrorAction(0), Disconnect)
	assert.Equal(t, ErrorAction(1), Continue)
}
