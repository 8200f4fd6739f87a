package scale

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompactModeBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		value   *big.Int
		wantLen int
		wantHex []byte
	}{
		{name: "zero", value: big.NewInt(0), wantLen: 1, wantHex: []byte{0x00}},
		{name: "single max", value: big.NewInt(63), wantLen: 1, wantHex: []byte{0xfc}},
		{name: "double min", value: big.NewInt(64), wantLen: 2, wantHex: []byte{0x01, 0x01}},
		{name: "double max", value: big.NewInt(16383), wantLen: 2, wantHex: []byte{0xfd, 0xff}},
		{name: "quad min", value: big.NewInt(16384), wantLen: 4, wantHex: []byte{0x02, 0x00, 0x01, 0x00}},
		{name: "quad max", value: big.NewInt(1<<30 - 1), wantLen: 4, wantHex: []byte{0xfe, 0xff, 0xff, 0xff}},
		{name: "big min", value: big.NewInt(1 << 30), wantLen: 5, wantHex: []byte{0x03, 0x00, 0x00, 0x00, 0x40}},
		{
			name:    "uint64 max",
			value:   new(big.Int).SetUint64(math.MaxUint64),
			wantLen: 9,
			wantHex: []byte{0x13, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder()
			require.NoError(t, e.EncodeCompact(tt.value))
			assert.Len(t, e.Bytes(), tt.wantLen)
			assert.Equal(t, tt.wantHex, e.Bytes())

			d := NewDecoder(e.Bytes())
			got, err := d.DecodeCompact()
			require.NoError(t, err)
			assert.Equal(t, 0, tt.value.Cmp(got))
			assert.Equal(t, 0, d.Remaining())
		})
	}
}

func TestCompactRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Uint64().Draw(rt, "x")

		e := NewEncoder()
		e.EncodeCompactUint64(x)

		d := NewDecoder(e.Bytes())
		got, err := d.DecodeCompactUint64()
		require.NoError(rt, err)
		require.Equal(rt, x, got)
		require.Equal(rt, 0, d.Remaining())
	})
}

func TestCompactRejectsNonCanonical(t *testing.T) {
	// 1 encoded in double mode
	d := NewDecoder([]byte{0x05, 0x00})

	_, err := d.DecodeCompact()
	require.ErrorIs(t, err, ErrNonCanonicalCompact)
	assert.Equal(t, 0, d.Offset())
}

func TestCompactNegativeFails(t *testing.T) {
	err := NewEncoder().EncodeCompact(big.NewInt(-1))
	require.ErrorIs(t, err, ErrNegativeCompact)
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "peaq", "did:peaq:5Grw", "héllo wörld", "日本語", "🚀 emoji"} {
		e := NewEncoder()
		require.NoError(t, e.EncodeString(s))

		d := NewDecoder(e.Bytes())
		got, err := d.DecodeString()
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, 0, d.Remaining())
	}
}

func TestStringRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := rapid.String().Draw(rt, "s")

		e := NewEncoder()
		require.NoError(rt, e.EncodeString(s))

		got, err := NewDecoder(e.Bytes()).DecodeString()
		require.NoError(rt, err)
		require.Equal(rt, s, got)
	})
}

func TestDecodeStringInvalidUTF8(t *testing.T) {
	d := NewDecoder([]byte{0x08, 0xff, 0xfe})

	_, err := d.DecodeString()
	require.ErrorIs(t, err, ErrInvalidUTF8)

	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, "decode string", codecErr.Op)
}

func TestDecodeBytesDeclaredLengthTooLong(t *testing.T) {
	// declares 3 bytes, only 2 follow
	d := NewDecoder([]byte{0x0c, 0x01, 0x02})

	_, err := d.DecodeBytes()
	require.ErrorIs(t, err, ErrOutOfBounds)
	assert.Equal(t, 0, d.Offset(), "cursor must not move on failure")
}

func TestFixedWidthIntegers(t *testing.T) {
	e := NewEncoder()
	e.EncodeUint8(0x01)
	e.EncodeUint16(0x0203)
	e.EncodeUint32(0x04050607)
	e.EncodeUint64(0x08090a0b0c0d0e0f)
	e.EncodeInt32(-2)

	assert.Equal(t, []byte{
		0x01,
		0x03, 0x02,
		0x07, 0x06, 0x05, 0x04,
		0x0f, 0x0e, 0x0d, 0x0c, 0x0b, 0x0a, 0x09, 0x08,
		0xfe, 0xff, 0xff, 0xff,
	}, e.Bytes())

	d := NewDecoder(e.Bytes())

	u8, err := d.DecodeUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), u8)

	u16, err := d.DecodeUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0203), u16)

	u32, err := d.DecodeUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04050607), u32)

	u64, err := d.DecodeUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x08090a0b0c0d0e0f), u64)

	i32, err := d.DecodeIntN(4)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), i32.Int64())

	_, err = d.DecodeUint8()
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestUint128(t *testing.T) {
	v, ok := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	require.True(t, ok)

	e := NewEncoder()
	require.NoError(t, e.EncodeUintN(v, 16))
	assert.Len(t, e.Bytes(), 16)

	got, err := NewDecoder(e.Bytes()).DecodeUintN(16)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(got))

	require.ErrorIs(t, NewEncoder().EncodeUintN(new(big.Int).Add(v, big.NewInt(1)), 16), ErrOverflow)
}

func TestDecodeBool(t *testing.T) {
	d := NewDecoder([]byte{0x01, 0x00, 0x02})

	v, err := d.DecodeBool()
	require.NoError(t, err)
	assert.True(t, v)

	v, err = d.DecodeBool()
	require.NoError(t, err)
	assert.False(t, v)

	_, err = d.DecodeBool()
	require.ErrorIs(t, err, ErrInvalidBool)
}
