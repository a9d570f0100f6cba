package wirechan

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the file-backed channel configuration: the network surface,
// the shared secret, the codec stage toggles, and the transport tuning
// knobs. The core consumes it; whoever deploys the process owns it.
type Config struct {
	Addr            string   `toml:"addr"`
	Secret          string   `toml:"secret"`
	Compress        bool     `toml:"compress"`
	Encrypt         bool     `toml:"encrypt"`
	BufferCapacity  int      `toml:"buffer_capacity"`
	MaxFrameLength  int      `toml:"max_frame_length"`
	KeepAlive       Duration `toml:"keep_alive"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Duration is a time.Duration that unmarshals from a TOML string like
// "30s" or "2m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns the configuration used when a key is absent
// from the file: both codec stages on, 64KB read buffers, 1MB frames.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:7600",
		Compress:       true,
		Encrypt:        true,
		BufferCapacity: defaultBufferCapacity,
		MaxFrameLength: defaultMaxFrameLength,
		KeepAlive:      Duration(defaultKeepAlive),
	}
}

// LoadConfig reads a TOML configuration file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants the rest of the module relies on.
func (c Config) Validate() error {
	if c.Encrypt && c.Secret == "" {
		return ErrInvalidSecret
	}
	if c.BufferCapacity <= 0 {
		return errors.New("buffer_capacity must be positive")
	}
	if c.MaxFrameLength <= 0 {
		return errors.New("max_frame_length must be positive")
	}
	return nil
}

// Pipeline builds the codec pipeline described by the configuration.
func (c Config) Pipeline() (*Pipeline, error) {
	return NewPipeline(c.Secret, c.Compress, c.Encrypt)
}

// ConnOptions returns the connection options described by the
// configuration, ready to pass to NewConn or Dial alongside the
// caller's handlers.
func (c Config) ConnOptions() ([]Option, error) {
	pipeline, err := c.Pipeline()
	if err != nil {
		return nil, err
	}
	return []Option{
		PipelineOption(pipeline),
		BufferPoolOption(NewBufferPool(c.BufferCapacity)),
		MaxFrameLengthOption(c.MaxFrameLength),
		KeepAliveOption(time.Duration(c.KeepAlive)),
	}, nil
}
