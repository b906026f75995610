// Package codec implements the little-endian binary encoding shared by every
// object persisted in a database file.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrShortBuffer is returned when a decoder runs past the end of its input
	ErrShortBuffer = errors.New("encoded data truncated")

	// ErrBadMarker is returned when an expected section marker is missing
	ErrBadMarker = errors.New("section marker mismatch")
)

// Storable is implemented by objects that persist themselves as a record
type Storable interface {
	Encode() ([]byte, error)
	Decode(data []byte) error
}

// Encoder appends values to a growing byte slice
type Encoder struct {
	buf []byte
}

// NewEncoder creates an encoder with the given initial capacity
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded data
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes encoded so far
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) PutU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) PutBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) PutU32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PutI64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func (e *Encoder) PutF64(v float64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v))
}

// PutString writes a u32 length followed by the bytes of s
func (e *Encoder) PutString(s string) {
	e.PutU32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// PutMarker writes a single section marker byte
func (e *Encoder) PutMarker(m byte) {
	e.buf = append(e.buf, m)
}

// Decoder reads values written by an Encoder. The first failure is sticky:
// later reads return zero values and Err reports the original cause.
type Decoder struct {
	data []byte
	pos  int
	err  error
}

// NewDecoder creates a decoder over data
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first error encountered
func (d *Decoder) Err() error {
	return d.err
}

// Remaining returns the number of unread bytes
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrShortBuffer, n, d.pos, d.Remaining())
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) Bool() bool {
	return d.U8() != 0
}

func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Decoder) I64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (d *Decoder) F64() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (d *Decoder) Str() string {
	n := d.U32()
	b := d.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// Marker consumes one byte and fails unless it equals m
func (d *Decoder) Marker(m byte) {
	got := d.U8()
	if d.err == nil && got != m {
		d.err = fmt.Errorf("%w: expected %q at offset %d, got %q", ErrBadMarker, m, d.pos-1, got)
	}
}

// Fail records err unless an earlier error is already set
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}
