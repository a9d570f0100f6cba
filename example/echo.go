package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgewire/wirechan"
)

// chat is a minimal application packet: a sender name and a line of
// text, encoded as tagged fields so either side can grow the schema.
type chat struct {
	From string
	Text string
}

const (
	chatFieldFrom = 1
	chatFieldText = 2
)

func (p *chat) PacketName() string { return "example.chat" }

func (p *chat) MarshalPacket() ([]byte, error) {
	var w wirechan.FieldWriter
	w.PutString(chatFieldFrom, p.From)
	w.PutString(chatFieldText, p.Text)
	return w.Bytes(), nil
}

func (p *chat) UnmarshalPacket(data []byte) error {
	r := wirechan.NewFieldReader(data)
	for {
		tag, value, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch tag {
		case chatFieldFrom:
			p.From = string(value)
		case chatFieldText:
			p.Text = string(value)
		}
	}
}

// Apply echoes the line back to whoever sent it.
func (p *chat) Apply(session wirechan.Session) error {
	if r, ok := session.(wirechan.Responder); ok {
		return r.Send(&chat{From: "echo", Text: p.Text})
	}
	return nil
}

func main() {
	cfg := wirechan.DefaultConfig()
	cfg.Secret = "example-shared-secret"

	pipeline, err := cfg.Pipeline()
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		return
	}

	registry := wirechan.NewRegistry()
	registry.Register(func() wirechan.Packet { return &chat{} })

	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		panic(err)
	}

	host, err := wirechan.NewHost(addr, pipeline,
		wirechan.HostRegistryOption(registry),
		wirechan.HostBufferPoolOption(wirechan.NewBufferPool(cfg.BufferCapacity)),
		wirechan.HostConnOptions(
			wirechan.KeepAliveOption(time.Duration(cfg.KeepAlive)),
			wirechan.OnPacketOption(func(conn *wirechan.Conn, packet wirechan.Packet) error {
				// The connection is its own session: chat packets echo
				// back, pings answer with pongs.
				return packet.Apply(conn)
			}),
		),
	)
	if err != nil {
		slog.Error("failed to create host", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down host...")
		cancel()
		host.Close()
	}()

	slog.Info("host start", "addr", addr.String())
	if err := host.Serve(ctx); err != nil && err != context.Canceled {
		slog.Error("host error", "error", err)
	}
}
