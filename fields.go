package wirechan

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Packet bodies are encoded as a flat sequence of tagged fields, each a
// uvarint tag, a uvarint byte length, and the value bytes. Decoders
// iterate the sequence and skip tags they do not recognize, so packets
// can grow new fields without breaking older peers.

// ErrTruncatedField is returned when a field sequence ends mid-element.
var ErrTruncatedField = errors.New("truncated field")

// FieldWriter builds a tagged field sequence.
type FieldWriter struct {
	buf []byte
}

// PutBytes appends a raw byte field.
func (w *FieldWriter) PutBytes(tag uint64, v []byte) {
	w.buf = binary.AppendUvarint(w.buf, tag)
	w.buf = binary.AppendUvarint(w.buf, uint64(len(v)))
	w.buf = append(w.buf, v...)
}

// PutString appends a string field.
func (w *FieldWriter) PutString(tag uint64, s string) {
	w.PutBytes(tag, []byte(s))
}

// PutUint appends an unsigned integer field, stored as a uvarint.
func (w *FieldWriter) PutUint(tag uint64, v uint64) {
	w.PutBytes(tag, binary.AppendUvarint(nil, v))
}

// Bytes returns the encoded sequence.
func (w *FieldWriter) Bytes() []byte {
	return w.buf
}

// FieldReader iterates a tagged field sequence.
type FieldReader struct {
	data []byte
}

// NewFieldReader wraps an encoded field sequence. The reader aliases
// data; the caller must not modify it while iterating.
func NewFieldReader(data []byte) *FieldReader {
	return &FieldReader{data: data}
}

// Next returns the next field. ok is false when the sequence is
// exhausted or malformed; err distinguishes the two.
func (r *FieldReader) Next() (tag uint64, value []byte, ok bool, err error) {
	if len(r.data) == 0 {
		return 0, nil, false, nil
	}

	tag, n := binary.Uvarint(r.data)
	if n <= 0 {
		return 0, nil, false, errors.Wrap(ErrTruncatedField, "tag")
	}
	r.data = r.data[n:]

	size, n := binary.Uvarint(r.data)
	if n <= 0 {
		return 0, nil, false, errors.Wrap(ErrTruncatedField, "length")
	}
	r.data = r.data[n:]

	if uint64(len(r.data)) < size {
		return 0, nil, false, errors.Wrapf(ErrTruncatedField, "value needs %d bytes, have %d", size, len(r.data))
	}
	value = r.data[:size]
	r.data = r.data[size:]
	return tag, value, true, nil
}

// FieldUint decodes a value written by PutUint.
func FieldUint(value []byte) (uint64, error) {
	v, n := binary.Uvarint(value)
	if n <= 0 {
		return 0, errors.Wrap(ErrTruncatedField, "uvarint value")
	}
	return v, nil
}
