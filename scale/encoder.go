// Package scale implements the SCALE binary codec primitives used by
// Substrate runtimes: little-endian fixed width integers, compact integers,
// length prefixed byte strings and UTF-8 strings.
package scale

import (
	"encoding/binary"
	"math/big"
	"unicode/utf8"
)

const (
	singleModeLimit = 1 << 6
	doubleModeLimit = 1 << 14
	quadModeLimit   = 1 << 30

	// maxBigModeBytes is the largest payload the big-integer compact mode can describe.
	maxBigModeBytes = 67
)

// Encoder accumulates SCALE encoded bytes.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty Encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Bytes returns the encoded bytes. The slice aliases the encoder buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Reset discards all written bytes.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Write appends raw bytes without any prefix.
func (e *Encoder) Write(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *Encoder) EncodeBool(v bool) {
	if v {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
}

func (e *Encoder) EncodeUint8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) EncodeUint16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *Encoder) EncodeUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) EncodeUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) EncodeInt8(v int8) {
	e.EncodeUint8(uint8(v))
}

func (e *Encoder) EncodeInt16(v int16) {
	e.EncodeUint16(uint16(v))
}

func (e *Encoder) EncodeInt32(v int32) {
	e.EncodeUint32(uint32(v))
}

func (e *Encoder) EncodeInt64(v int64) {
	e.EncodeUint64(uint64(v))
}

// EncodeUintN writes v as an unsigned little-endian integer of size bytes.
// It is used for u128 and u256 values.
func (e *Encoder) EncodeUintN(v *big.Int, size int) error {
	if v.Sign() < 0 || v.BitLen() > size*8 {
		return newCodecError("encode uint", len(e.buf), ErrOverflow)
	}

	e.buf = append(e.buf, toLittleEndian(v, size)...)

	return nil
}

// EncodeIntN writes v as a two's complement little-endian integer of size bytes.
func (e *Encoder) EncodeIntN(v *big.Int, size int) error {
	bits := uint(size * 8)
	limit := new(big.Int).Lsh(big.NewInt(1), bits-1)

	if v.Cmp(limit) >= 0 || v.Cmp(new(big.Int).Neg(limit)) < 0 {
		return newCodecError("encode int", len(e.buf), ErrOverflow)
	}

	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), bits))
	}

	e.buf = append(e.buf, toLittleEndian(u, size)...)

	return nil
}

// EncodeCompact writes v using the compact integer encoding. The smallest
// mode able to hold v is always selected.
func (e *Encoder) EncodeCompact(v *big.Int) error {
	if v.Sign() < 0 {
		return newCodecError("encode compact", len(e.buf), ErrNegativeCompact)
	}

	if v.IsUint64() && v.Uint64() < quadModeLimit {
		e.EncodeCompactUint64(v.Uint64())

		return nil
	}

	n := (v.BitLen() + 7) / 8
	if n < 4 {
		n = 4
	}

	if n > maxBigModeBytes {
		return newCodecError("encode compact", len(e.buf), ErrOverflow)
	}

	e.buf = append(e.buf, byte((n-4)<<2)|0b11)
	e.buf = append(e.buf, toLittleEndian(v, n)...)

	return nil
}

// EncodeCompactUint64 writes v using the compact integer encoding.
func (e *Encoder) EncodeCompactUint64(v uint64) {
	switch {
	case v < singleModeLimit:
		e.buf = append(e.buf, byte(v<<2))
	case v < doubleModeLimit:
		e.EncodeUint16(uint16(v<<2) | 0b01)
	case v < quadModeLimit:
		e.EncodeUint32(uint32(v<<2) | 0b10)
	default:
		// cannot fail: a uint64 always fits the big-integer mode
		_ = e.EncodeCompact(new(big.Int).SetUint64(v))
	}
}

// EncodeBytes writes a compact length prefix followed by the raw bytes.
func (e *Encoder) EncodeBytes(b []byte) {
	e.EncodeCompactUint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// EncodeString writes s as length prefixed UTF-8 bytes.
func (e *Encoder) EncodeString(s string) error {
	if !utf8.ValidString(s) {
		return newCodecError("encode string", len(e.buf), ErrInvalidUTF8)
	}

	e.EncodeBytes([]byte(s))

	return nil
}

// Compact returns the compact encoding of v.
func Compact(v uint64) []byte {
	e := NewEncoder()
	e.EncodeCompactUint64(v)

	return e.Bytes()
}

func toLittleEndian(v *big.Int, size int) []byte {
	out := make([]byte, size)
	v.FillBytes(out)

	for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out
}
