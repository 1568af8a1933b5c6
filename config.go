package framegear

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the gear options. Zero fields keep the
// option defaults.
type Config struct {
	Address           string        `yaml:"address"`
	Port              int           `yaml:"port"`
	ReceiveMode       bool          `yaml:"receive_mode"`
	Pattern           *Pattern      `yaml:"pattern"`
	Compression       string        `yaml:"compression"`
	BufferSize        int           `yaml:"buffer_size"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	Timeout           time.Duration `yaml:"timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	MaxDecodeFailures int           `yaml:"max_decode_failures"`
	Logging           bool          `yaml:"logging"`
}

// LoadConfig loads a configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration and validates it.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(ErrConfig, "parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that options cannot default.
func (c *Config) Validate() error {
	if c.Pattern != nil && !c.Pattern.valid() {
		return errors.Wrapf(ErrConfig, "unknown pattern code %d", int(*c.Pattern))
	}
	if _, err := ParseCompression(c.Compression); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.Wrapf(ErrConfig, "invalid port %d", c.Port)
	}
	if c.Timeout < 0 || c.ConnectTimeout < 0 {
		return errors.Wrap(ErrConfig, "negative timeout")
	}
	return nil
}

// Options converts the configuration into gear options. Options passed
// after these to New override them.
func (c *Config) Options() []Option {
	var opts []Option

	if c.Address != "" || c.Port != 0 {
		host, port := c.Address, c.Port
		if host == "" {
			host = defaultHost
		}
		if port == 0 && !c.ReceiveMode {
			port = defaultPort
		}
		opts = append(opts, AddressOption(host, port))
	}
	opts = append(opts, ReceiveModeOption(c.ReceiveMode))
	if c.Pattern != nil {
		opts = append(opts, PatternOption(*c.Pattern))
	}
	if comp, err := ParseCompression(c.Compression); err == nil {
		opts = append(opts, CompressionOption(comp))
	}
	opts = append(opts,
		BufferSizeOption(c.BufferSize),
		MessageMaxSize(c.MaxMessageSize),
		TimeoutOption(c.Timeout),
		ConnectTimeoutOption(c.ConnectTimeout),
		MaxDecodeFailuresOption(c.MaxDecodeFailures),
		LoggingOption(c.Logging),
	)
	return opts
}

// UnmarshalYAML accepts a pattern code (0, 1, 2) or its name.
func (p *Pattern) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: pattern must be a scalar", value.Line)
	}

	if code, err := strconv.Atoi(value.Value); err == nil {
		parsed, err := ParsePattern(code)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	for _, candidate := range []Pattern{RequestReply, PublishSubscribe, PushPull} {
		if candidate.String() == value.Value {
			*p = candidate
			return nil
		}
	}
	return errors.Errorf("line %d: unknown pattern %q", value.Line, value.Value)
}

// MarshalYAML writes the pattern name.
func (p Pattern) MarshalYAML() (any, error) {
	return p.String(), nil
}
