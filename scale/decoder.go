package scale

import (
	"encoding/binary"
	"math/big"
	"unicode/utf8"
)

// Decoder is a forward-only cursor over SCALE encoded bytes. The position
// never exceeds the buffer length; failed reads leave it unchanged.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder positioned at the start of data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{buf: data}
}

// Offset returns the number of bytes consumed so far.
func (d *Decoder) Offset() int {
	return d.pos
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Read consumes exactly n bytes.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, newCodecError("read", d.pos, ErrOutOfBounds)
	}

	out := d.buf[d.pos : d.pos+n]
	d.pos += n

	return out, nil
}

// Peek returns the next byte without consuming it.
func (d *Decoder) Peek() (byte, error) {
	if d.Remaining() < 1 {
		return 0, newCodecError("peek", d.pos, ErrOutOfBounds)
	}

	return d.buf[d.pos], nil
}

func (d *Decoder) DecodeBool() (bool, error) {
	b, err := d.DecodeUint8()
	if err != nil {
		return false, err
	}

	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, newCodecError("decode bool", d.pos-1, ErrInvalidBool)
	}
}

func (d *Decoder) DecodeUint8() (uint8, error) {
	b, err := d.Read(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *Decoder) DecodeUint16() (uint16, error) {
	b, err := d.Read(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

func (d *Decoder) DecodeUint32() (uint32, error) {
	b, err := d.Read(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) DecodeUint64() (uint64, error) {
	b, err := d.Read(8)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b), nil
}

// DecodeUintN reads an unsigned little-endian integer of size bytes.
func (d *Decoder) DecodeUintN(size int) (*big.Int, error) {
	b, err := d.Read(size)
	if err != nil {
		return nil, err
	}

	return fromLittleEndian(b), nil
}

// DecodeIntN reads a two's complement little-endian integer of size bytes.
func (d *Decoder) DecodeIntN(size int) (*big.Int, error) {
	v, err := d.DecodeUintN(size)
	if err != nil {
		return nil, err
	}

	bits := uint(size * 8)
	if v.Bit(int(bits)-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), bits))
	}

	return v, nil
}

// DecodeCompact reads a compact integer and rejects non-canonical encodings.
func (d *Decoder) DecodeCompact() (*big.Int, error) {
	start := d.pos

	first, err := d.Peek()
	if err != nil {
		return nil, err
	}

	switch first & 0b11 {
	case 0b00:
		d.pos++

		return big.NewInt(int64(first >> 2)), nil
	case 0b01:
		v, err := d.DecodeUint16()
		if err != nil {
			return nil, err
		}

		v >>= 2
		if v < singleModeLimit {
			d.pos = start

			return nil, newCodecError("decode compact", start, ErrNonCanonicalCompact)
		}

		return big.NewInt(int64(v)), nil
	case 0b10:
		v, err := d.DecodeUint32()
		if err != nil {
			return nil, err
		}

		v >>= 2
		if v < doubleModeLimit {
			d.pos = start

			return nil, newCodecError("decode compact", start, ErrNonCanonicalCompact)
		}

		return big.NewInt(int64(v)), nil
	default:
		n := int(first>>2) + 4
		if d.Remaining() < n+1 {
			return nil, newCodecError("decode compact", start, ErrOutOfBounds)
		}

		d.pos++

		b, err := d.Read(n)
		if err != nil {
			d.pos = start

			return nil, err
		}

		v := fromLittleEndian(b)
		if b[n-1] == 0 || (n == 4 && v.Cmp(big.NewInt(quadModeLimit)) < 0) {
			d.pos = start

			return nil, newCodecError("decode compact", start, ErrNonCanonicalCompact)
		}

		return v, nil
	}
}

// DecodeCompactUint64 reads a compact integer that must fit in 64 bits.
func (d *Decoder) DecodeCompactUint64() (uint64, error) {
	start := d.pos

	v, err := d.DecodeCompact()
	if err != nil {
		return 0, err
	}

	if !v.IsUint64() {
		d.pos = start

		return 0, newCodecError("decode compact", start, ErrOverflow)
	}

	return v.Uint64(), nil
}

// DecodeBytes reads a compact length prefix followed by that many bytes.
// The declared length is checked against the remaining input before reading.
func (d *Decoder) DecodeBytes() ([]byte, error) {
	start := d.pos

	n, err := d.DecodeCompactUint64()
	if err != nil {
		return nil, err
	}

	if n > uint64(d.Remaining()) {
		d.pos = start

		return nil, newCodecError("decode bytes", start, ErrOutOfBounds)
	}

	b, _ := d.Read(int(n))
	out := make([]byte, len(b))
	copy(out, b)

	return out, nil
}

// DecodeString reads length prefixed bytes and validates them as UTF-8.
func (d *Decoder) DecodeString() (string, error) {
	start := d.pos

	b, err := d.DecodeBytes()
	if err != nil {
		return "", err
	}

	if !utf8.Valid(b) {
		d.pos = start

		return "", newCodecError("decode string", start, ErrInvalidUTF8)
	}

	return string(b), nil
}

func fromLittleEndian(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}

	return new(big.Int).SetBytes(be)
}
