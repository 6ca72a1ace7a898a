package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Encoder builds a canonical, deterministic, length-prefixed byte stream.
// Every field is prefixed by its length (fixed-width values are prefixed
// implicitly by being fixed-width), so two encoders fed the same logical
// values always produce identical bytes - the property BODY hashing and
// signing depend on. Conceptually this plays the same role the teacher's
// RLP encoder plays for block and transaction hashing, scaled down to the
// handful of field shapes this protocol's tagged union needs.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) Bytes() []byte { return e.buf }

// Byte appends a single tag/flag byte, used for the union discriminant.
func (e *Encoder) Byte(b byte) *Encoder {
	e.buf = append(e.buf, b)
	return e
}

// Uint32 appends a fixed-width big-endian uint32.
func (e *Encoder) Uint32(v uint32) *Encoder {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Uint64 appends a fixed-width big-endian uint64.
func (e *Encoder) Uint64(v uint64) *Encoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

// Fixed appends a fixed-width field (e.g. a Hash or PeerId) with no length
// prefix - its width is implied by the schema, not the data.
func (e *Encoder) Fixed(b []byte) *Encoder {
	e.buf = append(e.buf, b...)
	return e
}

// VarBytes length-prefixes an arbitrary byte slice so a decoder can tell
// where it ends without knowing its contents in advance.
func (e *Encoder) VarBytes(b []byte) *Encoder {
	e.Uint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// Slice length-prefixes a count, then lets write append each element in
// order - callers use this for repeated fields (e.g. a list of peer
// addresses).
func (e *Encoder) Slice(n int, write func(*Encoder, int)) *Encoder {
	e.Uint32(uint32(n))
	for i := 0; i < n; i++ {
		write(e, i)
	}
	return e
}

var (
	ErrTruncated = errors.New("wire: truncated canonical encoding")
)

// Decoder walks a canonical encoding produced by Encoder in the same field
// order it was written.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(b []byte) *Decoder { return &Decoder{buf: b} }

func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) need(n int) error {
	if d.Remaining() < n {
		return ErrTruncated
	}
	return nil
}

func (d *Decoder) Byte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) Uint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *Decoder) Uint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *Decoder) Fixed(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) VarBytes() ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Fixed(int(n))
}

func (d *Decoder) Slice(read func(*Decoder, int) error) error {
	n, err := d.Uint32()
	if err != nil {
		return err
	}
	for i := 0; i < int(n); i++ {
		if err := read(d, i); err != nil {
			return err
		}
	}
	return nil
}

// ReadFull checks that a Decoder has been read fully, erroring if unread
// bytes remain - catches a malformed or truncated-but-not-detected encoding.
// It consumes nothing.
func (d *Decoder) ReadFull() error {
	if d.Remaining() != 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}
