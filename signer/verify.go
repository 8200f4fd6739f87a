package signer

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// Verify checks a signature produced by a provider of the given scheme.
// publicKey is the raw key (33 byte compressed for ecdsa).
func Verify(scheme Scheme, publicKey, message, signature []byte) (bool, error) {
	if len(signature) != scheme.SignatureLength() {
		return false, fmt.Errorf("invalid signature length: expected %d bytes, got %d", scheme.SignatureLength(), len(signature))
	}

	switch scheme {
	case SchemeSr25519:
		if len(publicKey) != 32 {
			return false, fmt.Errorf("invalid sr25519 public key length %d", len(publicKey))
		}

		var (
			pubRaw [32]byte
			sigRaw [64]byte
		)

		copy(pubRaw[:], publicKey)
		copy(sigRaw[:], signature)

		pub := &schnorrkel.PublicKey{}
		if err := pub.Decode(pubRaw); err != nil {
			return false, fmt.Errorf("failed to decode public key: %w", err)
		}

		sig := &schnorrkel.Signature{}
		if err := sig.Decode(sigRaw); err != nil {
			return false, fmt.Errorf("failed to decode signature: %w", err)
		}

		return pub.Verify(sig, schnorrkel.NewSigningContext(SigningContext, message))
	case SchemeEd25519:
		if len(publicKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("invalid ed25519 public key length %d", len(publicKey))
		}

		return ed25519.Verify(publicKey, message, signature), nil
	case SchemeEcdsa:
		digest := blake2b.Sum256(message)
		return crypto.VerifySignature(publicKey, digest[:], signature[:64]), nil
	default:
		return false, fmt.Errorf("%w: %d", ErrUnknownScheme, scheme)
	}
}
