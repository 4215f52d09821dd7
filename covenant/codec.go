package covenant

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

const maxFieldSize = 1 << 16

// StateWriter serializes public data with bitcoin var-int framing.
// The first error sticks and is reported by Finish.
type StateWriter struct {
	buf bytes.Buffer
	err error
}

func (w *StateWriter) Byte(b byte) *StateWriter {
	if w.err == nil {
		w.err = w.buf.WriteByte(b)
	}
	return w
}

func (w *StateWriter) Bytes(b []byte) *StateWriter {
	if w.err == nil {
		w.err = wire.WriteVarBytes(&w.buf, 0, b)
	}
	return w
}

func (w *StateWriter) Fixed(b []byte) *StateWriter {
	if w.err == nil {
		_, w.err = w.buf.Write(b)
	}
	return w
}

func (w *StateWriter) Uint64(v uint64) *StateWriter {
	if w.err == nil {
		w.err = wire.WriteVarInt(&w.buf, 0, v)
	}
	return w
}

func (w *StateWriter) Finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// StateReader is the counterpart of StateWriter.
type StateReader struct {
	r   *bytes.Reader
	err error
}

func NewStateReader(data []byte) *StateReader {
	return &StateReader{r: bytes.NewReader(data)}
}

func (r *StateReader) Byte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	r.err = err
	return b
}

func (r *StateReader) Bytes() []byte {
	if r.err != nil {
		return nil
	}
	b, err := wire.ReadVarBytes(r.r, 0, maxFieldSize, "field")
	r.err = err
	return b
}

func (r *StateReader) Fixed(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *StateReader) Uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := wire.ReadVarInt(r.r, 0)
	r.err = err
	return v
}

// Done reports any read error and rejects trailing bytes.
func (r *StateReader) Done() error {
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedState, r.err)
	}
	if r.r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedState, r.r.Len())
	}
	return nil
}

// Uint32LE and ReadUint32LE encode fixed width constructor arguments.
func Uint32LE(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func ReadUint32LE(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: want 4 bytes, got %d", ErrMalformedState, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
