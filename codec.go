package wirechan

import (
	"bytes"
	"compress/zlib"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidSecret is returned when encryption is enabled without a
// shared secret to derive the key from.
var ErrInvalidSecret = errors.New("encryption enabled without a shared secret")

// hkdfInfo binds derived keys to this protocol so the same secret used
// elsewhere yields an unrelated key.
const hkdfInfo = "wirechan/1 frame key"

// Pipeline is the stateless transform every connection applies to frame
// payloads: compress then encrypt on the way out, decrypt then
// decompress on the way in. Both stages can be disabled independently;
// peers must agree on the configuration. A Pipeline is safe for
// concurrent use by many connections.
type Pipeline struct {
	compress bool
	aead     cipher.AEAD
}

// NewPipeline builds a pipeline from a shared secret and stage toggles.
// The encryption key is derived from the secret with HKDF-SHA256, and
// payloads are sealed with XChaCha20-Poly1305 under a random per-frame
// nonce prefixed to the ciphertext.
func NewPipeline(secret string, compress, encrypt bool) (*Pipeline, error) {
	p := &Pipeline{compress: compress}
	if !encrypt {
		return p, nil
	}
	if secret == "" {
		return nil, ErrInvalidSecret
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	p.aead = aead
	return p, nil
}

// Encode transforms plaintext into wire bytes. Empty plaintext encodes
// to empty wire bytes without touching either stage.
func (p *Pipeline) Encode(plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		return nil, nil
	}

	data := plain
	if p.compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, errors.Wrap(err, "compress")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "compress")
		}
		data = buf.Bytes()
	}

	if p.aead != nil {
		nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(data)+p.aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			return nil, errors.Wrap(err, "nonce")
		}
		data = p.aead.Seal(nonce, nonce, data, nil)
	}

	return data, nil
}

// Decode reverses Encode. Any failure means the frame is corrupt or the
// peers disagree on secret or stage configuration; the caller must
// treat it as fatal for the connection rather than resynchronize.
func (p *Pipeline) Decode(wire []byte) ([]byte, error) {
	if len(wire) == 0 {
		return nil, nil
	}

	data := wire
	if p.aead != nil {
		ns := p.aead.NonceSize()
		if len(data) < ns+p.aead.Overhead() {
			return nil, errors.New("ciphertext shorter than nonce and tag")
		}
		plain, err := p.aead.Open(nil, data[:ns], data[ns:], nil)
		if err != nil {
			return nil, errors.Wrap(err, "decrypt")
		}
		data = plain
	}

	if p.compress {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "decompress")
		}
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, errors.Wrap(err, "decompress")
		}
		if err := zr.Close(); err != nil {
			return nil, errors.Wrap(err, "decompress")
		}
		data = out
	}

	return data, nil
}
