package wirechan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "wirechan.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
addr = "127.0.0.1:9001"
secret = "from-the-file"
compress = false
buffer_capacity = 8192
max_frame_length = 32768
keep_alive = "15s"
shutdown_timeout = "2s"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Addr != "127.0.0.1:9001" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Secret != "from-the-file" {
		t.Errorf("Secret = %q", cfg.Secret)
	}
	if cfg.Compress {
		t.Error("Compress = true, want false from file")
	}
	if !cfg.Encrypt {
		t.Error("Encrypt = false, want default true")
	}
	if cfg.BufferCapacity != 8192 {
		t.Errorf("BufferCapacity = %d", cfg.BufferCapacity)
	}
	if cfg.MaxFrameLength != 32768 {
		t.Errorf("MaxFrameLength = %d", cfg.MaxFrameLength)
	}
	if time.Duration(cfg.KeepAlive) != 15*time.Second {
		t.Errorf("KeepAlive = %v", time.Duration(cfg.KeepAlive))
	}
	if time.Duration(cfg.ShutdownTimeout) != 2*time.Second {
		t.Errorf("ShutdownTimeout = %v", time.Duration(cfg.ShutdownTimeout))
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, `secret = "just-a-secret"`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := DefaultConfig()
	if cfg.BufferCapacity != want.BufferCapacity {
		t.Errorf("BufferCapacity = %d, want %d", cfg.BufferCapacity, want.BufferCapacity)
	}
	if cfg.MaxFrameLength != want.MaxFrameLength {
		t.Errorf("MaxFrameLength = %d, want %d", cfg.MaxFrameLength, want.MaxFrameLength)
	}
	if !cfg.Compress || !cfg.Encrypt {
		t.Error("codec stages default off, want on")
	}
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	path := writeConfigFile(t, `encrypt = true`)

	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("err = %v, want ErrInvalidSecret", err)
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfigFile(t, `
secret = "s"
keep_alive = "not a duration"
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig succeeded with malformed duration")
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with secret", func(c *Config) { c.Secret = "s" }, false},
		{"encrypt without secret", func(c *Config) {}, true},
		{"plaintext without secret", func(c *Config) { c.Encrypt = false }, false},
		{"zero buffer capacity", func(c *Config) { c.Secret = "s"; c.BufferCapacity = 0 }, true},
		{"zero frame length", func(c *Config) { c.Secret = "s"; c.MaxFrameLength = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("Validate succeeded, want error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
		})
	}
}

func TestConfig_ConnOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Secret = "opts-secret"
	cfg.BufferCapacity = 2048
	cfg.MaxFrameLength = 4096
	cfg.KeepAlive = Duration(time.Second)

	connOpts, err := cfg.ConnOptions()
	if err != nil {
		t.Fatalf("ConnOptions failed: %v", err)
	}

	var opts options
	for _, o := range connOpts {
		o(&opts)
	}

	if opts.pipeline == nil {
		t.Error("pipeline not configured")
	}
	if opts.pool == nil || opts.pool.Size() != 2048 {
		t.Error("pool not configured from buffer_capacity")
	}
	if opts.maxFrameLength != 4096 {
		t.Errorf("maxFrameLength = %d, want 4096", opts.maxFrameLength)
	}
	if opts.keepAlive != time.Second {
		t.Errorf("keepAlive = %v, want 1s", opts.keepAlive)
	}
}
