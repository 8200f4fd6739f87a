// Package ss58 formats Substrate account ids as SS58 addresses.
package ss58

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// GenericSubstratePrefix is the address type used by development chains and
// by peaq for generic accounts.
const GenericSubstratePrefix uint16 = 42

const checksumLength = 2

var checksumPrefix = []byte("SS58PRE")

var (
	ErrInvalidPrefix   = errors.New("ss58: invalid address prefix")
	ErrInvalidLength   = errors.New("ss58: invalid address length")
	ErrInvalidChecksum = errors.New("ss58: invalid checksum")
)

// Encode formats accountID with the given address type.
func Encode(accountID []byte, prefix uint16) (string, error) {
	if prefix > 16383 {
		return "", fmt.Errorf("%w: %d", ErrInvalidPrefix, prefix)
	}

	if len(accountID) == 0 {
		return "", ErrInvalidLength
	}

	payload := append(encodePrefix(prefix), accountID...)
	sum := checksum(payload)

	return base58.Encode(append(payload, sum[:checksumLength]...)), nil
}

// Decode parses an SS58 address and returns the account id and its address type.
func Decode(address string) ([]byte, uint16, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, 0, fmt.Errorf("ss58: failed to decode base58: %w", err)
	}

	if len(raw) < 1 {
		return nil, 0, ErrInvalidLength
	}

	var (
		prefix    uint16
		prefixLen int
	)

	switch {
	case raw[0] < 64:
		prefix, prefixLen = uint16(raw[0]), 1
	case raw[0] < 128:
		if len(raw) < 2 {
			return nil, 0, ErrInvalidLength
		}

		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix, prefixLen = uint16(lower)|uint16(upper)<<8, 2
	default:
		return nil, 0, fmt.Errorf("%w: first byte 0x%02x", ErrInvalidPrefix, raw[0])
	}

	if len(raw) <= prefixLen+checksumLength {
		return nil, 0, ErrInvalidLength
	}

	body := raw[:len(raw)-checksumLength]
	sum := checksum(body)

	if !bytes.Equal(sum[:checksumLength], raw[len(raw)-checksumLength:]) {
		return nil, 0, ErrInvalidChecksum
	}

	return append([]byte{}, body[prefixLen:]...), prefix, nil
}

func encodePrefix(prefix uint16) []byte {
	if prefix < 64 {
		return []byte{byte(prefix)}
	}

	first := byte((prefix&0xfc)>>2) | 0x40
	second := byte(prefix>>8) | byte(prefix&0x03)<<6

	return []byte{first, second}
}

func checksum(payload []byte) [blake2b.Size]byte {
	return blake2b.Sum512(append(append([]byte{}, checksumPrefix...), payload...))
}
