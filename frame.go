package wirechan

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the number of bytes in a frame header: a little-endian
// uint32 holding the byte count of the payload that follows.
const HeaderSize = 4

// ErrFrameTooLarge is returned when a frame header announces a payload
// larger than the configured limit. A length this implausible means the
// stream is desynchronized or hostile, so the length must never be used
// as an allocation size.
var ErrFrameTooLarge = errors.New("frame length exceeds limit")

// AppendFrame appends a complete frame (header plus payload) to dst and
// returns the extended slice.
func AppendFrame(dst, payload []byte) []byte {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// EncodeFrame returns the wire bytes for a single frame carrying payload.
func EncodeFrame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// frameDecoder carves complete payloads out of an append-only byte
// stream delivered in arbitrarily sized chunks. Partial header bytes
// are staged in a fixed array across chunk boundaries; discarding them
// would desynchronize the stream permanently. Payloads spanning several
// reads accumulate into a per-frame buffer until complete.
//
// The decoder holds no reference to fed chunks after feed returns, so
// callers may reuse their read buffer immediately.
type frameDecoder struct {
	maxFrame int

	state     frameState
	header    [HeaderSize]byte
	headerLen int

	payload []byte
	filled  int
}

type frameState int

const (
	awaitingHeader frameState = iota
	awaitingPayload
)

func newFrameDecoder(maxFrame int) *frameDecoder {
	return &frameDecoder{maxFrame: maxFrame}
}

// feed consumes one chunk and invokes emit once per completed payload,
// in stream order. A single chunk may complete any number of frames.
// The slice passed to emit is freshly allocated and owned by the callee.
// Any error, from a bad header or from emit, leaves the decoder
// unusable until reset.
func (d *frameDecoder) feed(chunk []byte, emit func(payload []byte) error) error {
	for {
		switch d.state {
		case awaitingHeader:
			n := copy(d.header[d.headerLen:], chunk)
			d.headerLen += n
			chunk = chunk[n:]
			if d.headerLen < HeaderSize {
				return nil
			}

			length := binary.LittleEndian.Uint32(d.header[:])
			if int32(length) < 0 {
				// Sign bit set: no future byte can make this plausible.
				return errors.Wrapf(ErrFrameTooLarge, "header 0x%08x", length)
			}
			if d.maxFrame > 0 && int(length) > d.maxFrame {
				return errors.Wrapf(ErrFrameTooLarge, "%d > %d", length, d.maxFrame)
			}

			d.headerLen = 0
			d.payload = make([]byte, length)
			d.filled = 0
			d.state = awaitingPayload

		case awaitingPayload:
			n := copy(d.payload[d.filled:], chunk)
			d.filled += n
			chunk = chunk[n:]
			if d.filled < len(d.payload) {
				return nil
			}

			payload := d.payload
			d.payload = nil
			d.state = awaitingHeader
			if err := emit(payload); err != nil {
				return err
			}
		}
	}
}

// reset discards all framing state, returning the decoder to
// awaitingHeader with no staged bytes.
func (d *frameDecoder) reset() {
	d.state = awaitingHeader
	d.headerLen = 0
	d.payload = nil
	d.filled = 0
}
