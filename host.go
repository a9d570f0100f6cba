package wirechan

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Host accepts raw streams, wraps each in a Conn sharing the host's
// buffer pool, registry, and codec pipeline, and tracks live
// connections until they disconnect.
type Host struct {
	listener *net.TCPListener
	logger   Logger

	pipeline *Pipeline
	registry *Registry
	pool     *BufferPool
	connOpts []Option

	shutdownTimeout time.Duration

	mu          sync.Mutex
	conns       map[string]*Conn
	shutdown    bool
	closing     bool          // global teardown in progress; skip per-conn removal
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout
}

// HostOption configures a Host.
type HostOption func(*Host)

// HostLoggerOption sets the logger for the host.
func HostLoggerOption(logger Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// HostRegistryOption sets the packet registry shared by all
// connections. Defaults to a registry holding the built-in packets.
func HostRegistryOption(registry *Registry) HostOption {
	return func(h *Host) {
		h.registry = registry
	}
}

// HostBufferPoolOption sets the read buffer pool shared by all
// connections.
func HostBufferPoolOption(pool *BufferPool) HostOption {
	return func(h *Host) {
		h.pool = pool
	}
}

// HostConnOptions appends connection options applied to every accepted
// connection, e.g. OnPacketOption or KeepAliveOption.
func HostConnOptions(opts ...Option) HostOption {
	return func(h *Host) {
		h.connOpts = append(h.connOpts, opts...)
	}
}

// HostShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context is canceled, the host will wait up to this duration
// before closing the listener. This gives existing connections time to
// complete. Default is 0 (immediate shutdown). Call Close() to bypass
// the remaining timeout.
func HostShutdownTimeoutOption(timeout time.Duration) HostOption {
	return func(h *Host) {
		h.shutdownTimeout = timeout
	}
}

// NewHost creates a host bound to the specified address. All accepted
// connections share the given pipeline. Returns an error if the address
// cannot be bound.
func NewHost(addr *net.TCPAddr, pipeline *Pipeline, opts ...HostOption) (*Host, error) {
	if pipeline == nil {
		return nil, ErrInvalidPipeline
	}

	listener, err := net.ListenTCP(addr.Network(), addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	h := &Host{
		listener:    listener,
		logger:      defaultLogger(),
		pipeline:    pipeline,
		conns:       make(map[string]*Conn),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.registry == nil {
		h.registry = NewRegistry()
	}
	if h.pool == nil {
		h.pool = NewBufferPool(defaultBufferCapacity)
	}

	return h, nil
}

// Addr returns the listener's network address.
func (h *Host) Addr() net.Addr {
	return h.listener.Addr()
}

// Registry returns the packet registry shared by all connections.
func (h *Host) Registry() *Registry {
	return h.registry
}

// Pool returns the buffer pool shared by all connections.
func (h *Host) Pool() *BufferPool {
	return h.pool
}

// Len returns the number of live connections.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Conn returns a live connection by id.
func (h *Host) Conn(id string) (*Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[id]
	return conn, ok
}

// Serve accepts connections until the context is canceled or an
// unrecoverable error occurs. Each accepted stream gets its own Conn
// run on its own goroutine; the connection is dropped from the registry
// when its run ends, unless the host itself is tearing down.
func (h *Host) Serve(ctx context.Context) error {
	h.logger.Info("host started", "addr", h.listener.Addr())

	// Unblock Accept when the context is canceled.
	go func() {
		<-ctx.Done()

		if h.shutdownTimeout > 0 {
			h.logger.Info("graceful shutdown initiated", "timeout", h.shutdownTimeout)
			select {
			case <-time.After(h.shutdownTimeout):
			case <-h.shutdownNow:
				h.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		h.mu.Lock()
		h.shutdown = true
		h.mu.Unlock()
		_ = h.listener.SetDeadline(time.Now())
	}()

	for {
		raw, err := h.listener.AcceptTCP()
		if err != nil {
			h.mu.Lock()
			isShutdown := h.shutdown
			h.mu.Unlock()

			if isShutdown {
				h.logger.Info("host stopped", "addr", h.listener.Addr())
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			h.logger.Error("accept error", "error", err)
			return err
		}

		h.logger.Debug("accepted connection", "remote_addr", raw.RemoteAddr())
		_ = raw.SetNoDelay(true)

		conn, err := h.newConn(raw)
		if err != nil {
			h.logger.Error("connection setup failed", "remote_addr", raw.RemoteAddr(), "error", err)
			raw.Close()
			continue
		}

		h.track(conn)
		go func() {
			_ = conn.Run(ctx)
			h.removeConn(conn.ID())
		}()
	}
}

// newConn builds a connection wired to the host's shared resources.
// Options passed via HostConnOptions come last so callers can override
// the keepalive or logger, but not the shared pool or pipeline.
func (h *Host) newConn(raw net.Conn) (*Conn, error) {
	opts := []Option{
		LoggerOption(h.logger),
	}
	opts = append(opts, h.connOpts...)
	opts = append(opts,
		PipelineOption(h.pipeline),
		RegistryOption(h.registry),
		BufferPoolOption(h.pool),
	)
	return NewConn(raw, opts...)
}

func (h *Host) track(conn *Conn) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()
}

// removeConn drops a terminally disconnected connection. During global
// teardown removal is skipped: Close is already walking the collection.
func (h *Host) removeConn(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	delete(h.conns, id)
}

// Close tears the host down: it stops accepting, closes every live
// connection, and aggregates their close errors. If a shutdown timeout
// is configured, Close bypasses the remaining timeout.
func (h *Host) Close() error {
	h.mu.Lock()
	h.shutdown = true
	h.closing = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	select {
	case h.shutdownNow <- struct{}{}:
	default:
	}

	var result *multierror.Error
	if err := h.listener.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	h.mu.Lock()
	h.conns = make(map[string]*Conn)
	h.closing = false
	h.mu.Unlock()

	return result.ErrorOrNil()
}
