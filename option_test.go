package wirechan

import (
	"testing"
	"time"
)

func TestPipelineOption(t *testing.T) {
	pipeline, err := NewPipeline("secret", true, true)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	opt := PipelineOption(pipeline)

	var opts options
	opt(&opts)

	if opts.pipeline != pipeline {
		t.Error("pipeline not set correctly")
	}
}

func TestRegistryOption(t *testing.T) {
	registry := NewRegistry()
	opt := RegistryOption(registry)

	var opts options
	opt(&opts)

	if opts.registry != registry {
		t.Error("registry not set correctly")
	}
}

func TestBufferPoolOption(t *testing.T) {
	pool := NewBufferPool(512)
	opt := BufferPoolOption(pool)

	var opts options
	opt(&opts)

	if opts.pool != pool {
		t.Error("pool not set correctly")
	}
}

func TestMaxFrameLengthOption(t *testing.T) {
	opt := MaxFrameLengthOption(4096)

	var opts options
	opt(&opts)

	if opts.maxFrameLength != 4096 {
		t.Errorf("maxFrameLength = %d, want 4096", opts.maxFrameLength)
	}
}

func TestKeepAliveOption(t *testing.T) {
	interval := time.Minute * 5
	opt := KeepAliveOption(interval)

	var opts options
	opt(&opts)

	if opts.keepAlive != interval {
		t.Errorf("keepAlive = %v, want %v", opts.keepAlive, interval)
	}
}

func TestOnPacketOption(t *testing.T) {
	called := false
	opt := OnPacketOption(func(*Conn, Packet) error {
		called = true
		return nil
	})

	var opts options
	opt(&opts)

	if opts.onPacket == nil {
		t.Fatal("onPacket is nil")
	}

	opts.onPacket(nil, nil)
	if !called {
		t.Error("onPacket callback not called")
	}
}

func TestOnSentOption(t *testing.T) {
	called := false
	opt := OnSentOption(func(*Conn, Packet, int, []byte) {
		called = true
	})

	var opts options
	opt(&opts)

	if opts.onSent == nil {
		t.Fatal("onSent is nil")
	}

	opts.onSent(nil, nil, 0, nil)
	if !called {
		t.Error("onSent callback not called")
	}
}

func TestOnStateChangeOption(t *testing.T) {
	called := false
	opt := OnStateChangeOption(func(*Conn, bool) {
		called = true
	})

	var opts options
	opt(&opts)

	if opts.onStateChange == nil {
		t.Fatal("onStateChange is nil")
	}

	opts.onStateChange(nil, true)
	if !called {
		t.Error("onStateChange callback not called")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_Defaults(t *testing.T) {
	pipeline, err := NewPipeline("secret", true, true)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	opts := options{
		pipeline: pipeline,
		onPacket: func(*Conn, Packet) error { return nil },
	}
	if err := checkOptions(&opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.registry == nil {
		t.Error("registry default not applied")
	}
	if opts.pool == nil {
		t.Error("pool default not applied")
	}
	if opts.maxFrameLength != defaultMaxFrameLength {
		t.Errorf("maxFrameLength = %d, want %d", opts.maxFrameLength, defaultMaxFrameLength)
	}
	if opts.keepAlive != defaultKeepAlive {
		t.Errorf("keepAlive = %v, want %v", opts.keepAlive, defaultKeepAlive)
	}
	if opts.logger == nil {
		t.Error("logger default not applied")
	}
}

func TestCheckOptions_KeepAliveDisabled(t *testing.T) {
	pipeline, err := NewPipeline("", false, false)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}

	opts := options{
		pipeline:  pipeline,
		onPacket:  func(*Conn, Packet) error { return nil },
		keepAlive: -1,
	}
	if err := checkOptions(&opts); err != nil {
		t.Fatalf("checkOptions failed: %v", err)
	}

	if opts.keepAlive >= 0 {
		t.Errorf("keepAlive = %v, want disabled", opts.keepAlive)
	}
}
