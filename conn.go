// Package wirechan implements a persistent, encrypted, compressed,
// length-prefixed binary messaging channel between a host process and
// many concurrent connections. Frames are carved out of the byte stream
// by an incremental decoder that tolerates arbitrary read
// fragmentation, payloads pass through a compress-then-encrypt
// pipeline, and decoded bodies dispatch through a runtime-extensible
// packet registry.
package wirechan

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidPipeline is returned when no codec pipeline is provided.
	ErrInvalidPipeline = errors.New("invalid codec pipeline")
	// ErrInvalidOnPacket is returned when no packet handler is provided.
	ErrInvalidOnPacket = errors.New("invalid on packet callback")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn represents one end of a framed messaging channel. It owns the
// underlying duplex stream, a read buffer leased from the shared pool,
// and the framing state machine for the inbound byte stream. Outbound
// writes are serialized under a per-connection lock so concurrent Send
// calls never interleave bytes of two frames.
type Conn struct {
	id      string
	rawConn net.Conn
	logger  Logger

	opts options

	// readMu guards the leased buffer and the framing state against
	// concurrent access between the read loop and close/reset paths.
	readMu  sync.Mutex
	readBuf []byte
	decoder *frameDecoder

	writeMu sync.Mutex

	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
}

// NewConn creates a new connection wrapper around the given stream.
// It applies the provided options and validates them before returning.
// The read buffer lease is taken here and returned exactly once on
// disconnect. Returns an error if required options (pipeline, onPacket)
// are missing.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, errors.Wrap(err, "generate connection id")
	}

	return &Conn{
		id:      id,
		rawConn: conn,
		logger:  opts.logger,
		opts:    opts,
		readBuf: opts.pool.Lease(),
		decoder: newFrameDecoder(opts.maxFrameLength),
	}, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.pipeline == nil {
		return ErrInvalidPipeline
	}

	if opts.onPacket == nil {
		return ErrInvalidOnPacket
	}

	if opts.registry == nil {
		opts.registry = NewRegistry()
	}

	if opts.pool == nil {
		opts.pool = NewBufferPool(defaultBufferCapacity)
	}

	if opts.maxFrameLength <= 0 {
		opts.maxFrameLength = defaultMaxFrameLength
	}

	if opts.keepAlive == 0 {
		opts.keepAlive = defaultKeepAlive
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// Dial connects to a wirechan host and returns the client connection.
// The caller still runs it with Run.
func Dial(addr string, opt ...Option) (*Conn, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	conn, err := NewConn(raw, opt...)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// PendingBytes reports how many bytes of the frame currently being
// reassembled have arrived, header included. Diagnostic only; it takes
// the same lock as the read loop's framing step.
func (c *Conn) PendingBytes() int {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if c.decoder.state == awaitingPayload {
		return HeaderSize + c.decoder.filled
	}
	return c.decoder.headerLen
}

// Run starts the connection's read loop and, when a keepalive interval
// is configured, its probe loop. It blocks until a terminal fault
// occurs or the context is canceled. The connection is closed and its
// buffer lease returned when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	// Claim the buffer handoff before checking closed: disconnect does
	// the reverse (sets closed, then checks running), so one side always
	// observes the other and the lease is never released under a loop
	// about to read into it.
	c.running.Store(true)
	if c.closed.Load() {
		c.running.Store(false)
		c.releaseRead()
		return ErrConnectionClosed
	}

	c.logger.Info("connection established", "id", c.id, "addr", c.Addr())
	c.logger.Debug("connection options", "id", c.id,
		"max_frame_length", c.opts.maxFrameLength,
		"keep_alive", c.opts.keepAlive)

	if c.opts.onStateChange != nil {
		c.opts.onStateChange(c, true)
	}

	ctx, c.cancel = context.WithCancel(ctx)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	if c.opts.keepAlive > 0 {
		group.Go(func() error {
			return c.keepAliveLoop(child)
		})
	}

	err := group.Wait()
	c.running.Store(false)
	c.Close()
	c.releaseRead()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "id", c.id, "addr", c.Addr(), "error", err)
		return err
	}
	c.logger.Info("connection closed", "id", c.id, "addr", c.Addr())
	return nil
}

// Send serializes a packet, encodes it through the pipeline, and writes
// it as exactly one frame. Concurrent calls are serialized by the write
// lock. Any failure, whether serializing, encoding, or writing, is
// terminal and closes the connection; the state change is the error
// signal alongside the returned error.
func (c *Conn) Send(packet Packet) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	plain, err := c.opts.registry.Encode(packet)
	if err != nil {
		c.disconnect()
		return err
	}

	wire, err := c.opts.pipeline.Encode(plain)
	if err != nil {
		c.disconnect()
		return err
	}
	frame := EncodeFrame(wire)

	c.writeMu.Lock()
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	_, err = c.rawConn.Write(frame)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Debug("write error", "id", c.id, "addr", c.Addr(), "error", err)
		c.disconnect()
		return errors.Wrap(err, "write frame")
	}

	if c.opts.onSent != nil {
		c.opts.onSent(c, packet, len(wire), frame)
	}
	return nil
}

// Close closes the connection. It is idempotent: only the first call
// closes the stream and fires the disconnected notification. The read
// loop terminates because its pending read fails once the stream is
// closed; no new read is armed afterwards.
func (c *Conn) Close() error {
	return c.disconnect()
}

func (c *Conn) disconnect() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	if c.cancel != nil {
		c.cancel()
	}
	err := c.rawConn.Close()

	// When Run never started there is no read loop to hand the lease
	// back; return it here instead.
	if !c.running.Load() {
		c.releaseRead()
	}

	if c.opts.onStateChange != nil {
		c.opts.onStateChange(c, false)
	}
	return err
}

// releaseRead returns the buffer lease and resets framing state.
// Safe to call more than once; only the first call releases.
func (c *Conn) releaseRead() {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.readBuf == nil {
		return
	}
	if err := c.opts.pool.Release(c.readBuf); err != nil {
		c.logger.Error("buffer release failed", "id", c.id, "error", err)
	}
	c.readBuf = nil
	c.decoder.reset()
}

// readLoop pulls bytes from the stream into the leased buffer and
// drives the framing state machine. There is at most one outstanding
// read at any time, and all framing state is touched only from this
// loop. Any transport, framing, or codec fault returns and tears the
// connection down.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Idle deadlines only make sense when probe traffic is
			// expected; without keepalives a quiet peer is healthy.
			if c.opts.keepAlive > 0 {
				_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.keepAlive * 2))
			} else {
				_ = c.rawConn.SetReadDeadline(time.Time{})
			}

			n, err := c.rawConn.Read(c.readBuf)
			if err != nil {
				c.logger.Debug("read error", "id", c.id, "addr", c.Addr(), "error", err)
				return errors.Wrap(err, "read")
			}
			if n == 0 {
				return errors.Wrap(io.EOF, "zero-length read")
			}

			c.readMu.Lock()
			err = c.decoder.feed(c.readBuf[:n], c.handlePayload)
			c.readMu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

// handlePayload runs one complete frame payload through the pipeline
// and the registry, then emits the packet event. Decode failures are
// terminal; a desynchronized or corrupt stream cannot be resumed
// mid-frame.
func (c *Conn) handlePayload(payload []byte) error {
	plain, err := c.opts.pipeline.Decode(payload)
	if err != nil {
		return errors.Wrap(err, "decode frame")
	}
	if len(plain) == 0 {
		return nil
	}

	packet, err := c.opts.registry.Decode(plain)
	if err != nil {
		return err
	}

	c.logger.Debug("packet received", "id", c.id, "packet", packet.PacketName(), "wire_len", len(payload))
	return c.opts.onPacket(c, packet)
}

// keepAliveLoop sends a Ping on every interval tick. A failed probe has
// already closed the connection via Send's failure path.
func (c *Conn) keepAliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.keepAlive)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seq++
			if err := c.Send(&Ping{Seq: seq, SentAt: time.Now()}); err != nil {
				return errors.Wrap(err, "keepalive")
			}
		}
	}
}

func (c *Conn) writeTimeout() time.Duration {
	if c.opts.keepAlive > 0 {
		return c.opts.keepAlive * 2
	}
	return defaultKeepAlive * 2
}
