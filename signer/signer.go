package signer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Scheme is a signature scheme. Its value is the MultiSignature variant index.
type Scheme uint8

const (
	SchemeEd25519 Scheme = 0
	SchemeSr25519 Scheme = 1
	SchemeEcdsa   Scheme = 2
)

var ErrUnknownScheme = errors.New("unknown signature scheme")

// String returns the MultiSignature variant name.
func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "Ed25519"
	case SchemeSr25519:
		return "Sr25519"
	case SchemeEcdsa:
		return "Ecdsa"
	default:
		return fmt.Sprintf("Scheme(%d)", uint8(s))
	}
}

// SignatureLength is the size of a signature produced by the scheme.
func (s Scheme) SignatureLength() int {
	if s == SchemeEcdsa {
		return 65
	}

	return 64
}

// ParseScheme parses a scheme name, case-insensitively.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ed25519":
		return SchemeEd25519, nil
	case "sr25519", "":
		return SchemeSr25519, nil
	case "ecdsa":
		return SchemeEcdsa, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// SignerProvider is the interface for the signer provider.
type SignerProvider interface {
	// Sign signs an extrinsic signing payload.
	Sign(payload []byte) ([]byte, error)
	// GetAddress returns the SS58 address of the signer with the generic prefix.
	GetAddress() string
	// AccountID returns the 32 byte account id of the signer.
	AccountID() []byte
	Scheme() Scheme
}

// NewProvider creates a local signer provider for the scheme from a mnemonic
// or a 0x prefixed 32 byte seed.
func NewProvider(scheme Scheme, secret string) (SignerProvider, error) {
	seed, err := MiniSeed(secret)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case SchemeSr25519:
		return NewSr25519Provider(seed)
	case SchemeEd25519:
		return NewEd25519Provider(seed), nil
	case SchemeEcdsa:
		return NewEcdsaProvider(seed)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, scheme)
	}
}

// Keccak256 hashes data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}
