package wirechan

import "time"

// Session is the application context a packet executes against. The
// core never inspects it and never calls Apply; whoever receives the
// packet event decides when to run the packet's effect.
type Session interface{}

// Responder is implemented by sessions that can send packets back to
// the peer. *Conn satisfies it, so a connection can serve as its own
// session for simple protocols.
type Responder interface {
	Send(Packet) error
}

// Packet is one typed message variant carried over the channel.
// Marshal and Unmarshal deal only in the body bytes; the kind id
// discriminator is managed by the Registry.
type Packet interface {
	// PacketName identifies the concrete variant for registration.
	// It must be unique and stable across peers.
	PacketName() string
	// MarshalPacket encodes the variant's fields.
	MarshalPacket() ([]byte, error)
	// UnmarshalPacket decodes the variant's fields. It must tolerate
	// unknown field tags.
	UnmarshalPacket(data []byte) error
	// Apply executes the packet's effect against a session context.
	Apply(session Session) error
}

// UnknownPacket stands in for a kind id with no registered variant.
// The raw body is preserved so the packet can be logged or forwarded.
// Receiving one does not desynchronize the stream.
type UnknownPacket struct {
	Kind uint16
	Raw  []byte
}

func (p *UnknownPacket) PacketName() string { return "wirechan.unknown" }

func (p *UnknownPacket) MarshalPacket() ([]byte, error) { return p.Raw, nil }

func (p *UnknownPacket) UnmarshalPacket(data []byte) error {
	p.Raw = append([]byte(nil), data...)
	return nil
}

// Apply is a no-op; there is nothing meaningful to execute.
func (p *UnknownPacket) Apply(Session) error { return nil }

// Field tags for the keepalive packets.
const (
	pingFieldSeq    = 1
	pingFieldSentAt = 2
)

// Ping is the keepalive probe each connection sends on its configured
// interval. Applying it against a Responder session answers with a Pong
// echoing the sequence number.
type Ping struct {
	Seq    uint64
	SentAt time.Time
}

func (p *Ping) PacketName() string { return "wirechan.ping" }

func (p *Ping) MarshalPacket() ([]byte, error) {
	var w FieldWriter
	w.PutUint(pingFieldSeq, p.Seq)
	w.PutUint(pingFieldSentAt, uint64(p.SentAt.UnixNano()))
	return w.Bytes(), nil
}

func (p *Ping) UnmarshalPacket(data []byte) error {
	return unmarshalKeepalive(data, &p.Seq, &p.SentAt)
}

func (p *Ping) Apply(session Session) error {
	if r, ok := session.(Responder); ok {
		return r.Send(&Pong{Seq: p.Seq, SentAt: time.Now()})
	}
	return nil
}

// Pong answers a Ping with the same sequence number.
type Pong struct {
	Seq    uint64
	SentAt time.Time
}

func (p *Pong) PacketName() string { return "wirechan.pong" }

func (p *Pong) MarshalPacket() ([]byte, error) {
	var w FieldWriter
	w.PutUint(pingFieldSeq, p.Seq)
	w.PutUint(pingFieldSentAt, uint64(p.SentAt.UnixNano()))
	return w.Bytes(), nil
}

func (p *Pong) UnmarshalPacket(data []byte) error {
	return unmarshalKeepalive(data, &p.Seq, &p.SentAt)
}

// Apply is a no-op; the keepalive loop only needs the bytes to flow.
func (p *Pong) Apply(Session) error { return nil }

func unmarshalKeepalive(data []byte, seq *uint64, sentAt *time.Time) error {
	r := NewFieldReader(data)
	for {
		tag, value, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch tag {
		case pingFieldSeq:
			v, err := FieldUint(value)
			if err != nil {
				return err
			}
			*seq = v
		case pingFieldSentAt:
			v, err := FieldUint(value)
			if err != nil {
				return err
			}
			*sentAt = time.Unix(0, int64(v))
		}
	}
}
