package framegear

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
address: 0.0.0.0
port: 6000
receive_mode: true
pattern: publish-subscribe
compression: zstd
buffer_size: 32
timeout: 500ms
connect_timeout: 3s
max_decode_failures: 4
logging: true
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Address)
	assert.Equal(t, 6000, cfg.Port)
	assert.True(t, cfg.ReceiveMode)
	require.NotNil(t, cfg.Pattern)
	assert.Equal(t, PublishSubscribe, *cfg.Pattern)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)

	opts, err := newOptions(cfg.Options())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", opts.host)
	assert.Equal(t, 6000, opts.port)
	assert.True(t, opts.receiveMode)
	assert.Equal(t, PublishSubscribe, opts.pattern)
	assert.Equal(t, CompressionZstd, opts.compression)
	assert.Equal(t, 32, opts.bufferSize)
	assert.Equal(t, 500*time.Millisecond, opts.timeout)
	assert.Equal(t, 3*time.Second, opts.connectTimeout)
	assert.Equal(t, 4, opts.maxDecodeFailures)
	assert.True(t, opts.logging)
}

func TestParseConfig_PatternCode(t *testing.T) {
	cfg, err := ParseConfig([]byte("pattern: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, RequestReply, *cfg.Pattern)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)

	opts, err := newOptions(cfg.Options())
	require.NoError(t, err)
	assert.Equal(t, defaultHost, opts.host)
	assert.Equal(t, defaultPort, opts.port)
	assert.Equal(t, PushPull, opts.pattern)
	assert.Equal(t, defaultTimeout, opts.timeout)
	assert.False(t, opts.logging)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown pattern name", "pattern: broadcast"},
		{"unknown pattern code", "pattern: 5"},
		{"unknown compression", "compression: gzip"},
		{"bad port", "port: 70000"},
		{"bad duration", "timeout: soon"},
		{"negative timeout", "timeout: -1s"},
		{"not yaml", "port: [1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gear.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\npattern: request-reply\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, RequestReply, *cfg.Pattern)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPattern_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(map[string]Pattern{"pattern": PushPull})
	require.NoError(t, err)
	assert.Equal(t, "pattern: push-pull\n", string(out))
}
