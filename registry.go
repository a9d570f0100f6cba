package wirechan

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// Errors returned by registry operations.
var (
	// ErrUnregisteredPacket is returned when encoding a variant that was
	// never registered.
	ErrUnregisteredPacket = errors.New("packet variant not registered")
	// ErrShortEnvelope is returned when a payload is too short to carry
	// a kind id discriminator.
	ErrShortEnvelope = errors.New("payload shorter than kind id")
)

// kindIDSize is the width of the kind id discriminator prefix.
const kindIDSize = 2

// Registry maps kind ids to packet variants. Variants are registered
// explicitly by factory, keyed by their PacketName; registering the
// same variant again is a no-op returning the existing id. Kind ids are
// assigned monotonically and are stable for the process lifetime, so
// peers built from the same registration sequence agree on the mapping.
//
// Decode reconstructs a variant but never executes it; Apply is the
// caller's step.
type Registry struct {
	mu      sync.RWMutex
	factory map[uint16]func() Packet
	kinds   map[string]uint16
	next    uint16
}

// NewRegistry creates a registry with the built-in keepalive packets
// already registered.
func NewRegistry() *Registry {
	r := &Registry{
		factory: make(map[uint16]func() Packet),
		kinds:   make(map[string]uint16),
		next:    1,
	}
	r.Register(func() Packet { return &Ping{} })
	r.Register(func() Packet { return &Pong{} })
	return r
}

// Register binds the variant produced by factory to a kind id and
// returns it. If the variant is already registered the existing id is
// returned unchanged.
func (r *Registry) Register(factory func() Packet) uint16 {
	name := factory().PacketName()

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind, ok := r.kinds[name]; ok {
		return kind
	}
	kind := r.next
	r.next++
	r.kinds[name] = kind
	r.factory[kind] = factory
	return kind
}

// Kind reports the kind id assigned to a registered variant name.
func (r *Registry) Kind(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.kinds[name]
	return kind, ok
}

// Encode serializes a packet as its kind id discriminator followed by
// the variant's body. An UnknownPacket re-encodes under its original
// kind id, so unrecognized packets can be forwarded verbatim.
func (r *Registry) Encode(p Packet) ([]byte, error) {
	var kind uint16
	if u, ok := p.(*UnknownPacket); ok {
		kind = u.Kind
	} else {
		id, ok := r.Kind(p.PacketName())
		if !ok {
			return nil, errors.Wrap(ErrUnregisteredPacket, p.PacketName())
		}
		kind = id
	}

	body, err := p.MarshalPacket()
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", p.PacketName())
	}

	out := make([]byte, kindIDSize+len(body))
	binary.LittleEndian.PutUint16(out, kind)
	copy(out[kindIDSize:], body)
	return out, nil
}

// Decode reads the discriminator and reconstructs the matching variant.
// An unknown kind id yields an UnknownPacket rather than an error; the
// frame was well formed, so the stream stays aligned for the next one.
func (r *Registry) Decode(data []byte) (Packet, error) {
	if len(data) < kindIDSize {
		return nil, ErrShortEnvelope
	}
	kind := binary.LittleEndian.Uint16(data)
	body := data[kindIDSize:]

	r.mu.RLock()
	factory, ok := r.factory[kind]
	r.mu.RUnlock()

	if !ok {
		u := &UnknownPacket{Kind: kind}
		if err := u.UnmarshalPacket(body); err != nil {
			return nil, err
		}
		return u, nil
	}

	p := factory()
	if err := p.UnmarshalPacket(body); err != nil {
		return nil, errors.Wrapf(err, "unmarshal kind %d", kind)
	}
	return p, nil
}
