package wirechan

import (
	"time"
)

// Default configuration values.
const (
	// defaultBufferCapacity is the fixed capacity of pooled read buffers (64KB).
	defaultBufferCapacity = 64 * 1024
	// defaultMaxFrameLength is the default maximum payload size of a single frame (1MB).
	defaultMaxFrameLength = 1024 * 1024
	// defaultKeepAlive is the default keepalive probe interval.
	defaultKeepAlive = 30 * time.Second
)

// options holds the configuration for a connection.
type options struct {
	pipeline *Pipeline
	registry *Registry
	pool     *BufferPool
	logger   Logger

	onPacket func(conn *Conn, packet Packet) error
	// onSent is called after a frame is written, with the packet, its
	// encoded wire length, and the full frame bytes.
	onSent func(conn *Conn, packet Packet, wireLen int, frame []byte)
	// onStateChange is called once when the connection comes up and
	// once when it goes down.
	onStateChange func(conn *Conn, connected bool)

	maxFrameLength int           // maximum payload size of a single frame
	keepAlive      time.Duration // keepalive probe interval; read deadlines are 2x this
}

// Option is a function that configures connection options.
type Option func(*options)

// PipelineOption returns an Option that sets the payload codec
// pipeline. The pipeline is required and must be provided before
// creating a connection.
func PipelineOption(pipeline *Pipeline) Option {
	return func(o *options) {
		o.pipeline = pipeline
	}
}

// RegistryOption returns an Option that sets the packet registry.
// If not set, a registry holding only the built-in packets is used.
func RegistryOption(registry *Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// BufferPoolOption returns an Option that sets the read buffer pool.
// Connections sharing a host should share one pool.
func BufferPoolOption(pool *BufferPool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// MaxFrameLengthOption returns an Option that sets the maximum payload
// size of a single frame. Frames announcing a larger payload are
// treated as stream corruption and disconnect the peer.
func MaxFrameLengthOption(size int) Option {
	return func(o *options) {
		o.maxFrameLength = size
	}
}

// KeepAliveOption returns an Option that sets the keepalive probe
// interval. Read deadlines are stamped at twice this interval. A
// non-positive value disables both the probe loop and the idle read
// deadline, so a quiet peer is never timed out.
func KeepAliveOption(interval time.Duration) Option {
	return func(o *options) {
		o.keepAlive = interval
	}
}

// OnPacketOption returns an Option that sets the packet handler
// callback. This callback is required and is invoked for each received
// packet; returning an error disconnects the peer.
func OnPacketOption(cb func(conn *Conn, packet Packet) error) Option {
	return func(o *options) {
		o.onPacket = cb
	}
}

// OnSentOption returns an Option that sets the sent-frame observer.
func OnSentOption(cb func(conn *Conn, packet Packet, wireLen int, frame []byte)) Option {
	return func(o *options) {
		o.onSent = cb
	}
}

// OnStateChangeOption returns an Option that sets the connectivity
// observer. The disconnected notification fires exactly once no matter
// how many paths race to close the connection.
func OnStateChangeOption(cb func(conn *Conn, connected bool)) Option {
	return func(o *options) {
		o.onStateChange = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
