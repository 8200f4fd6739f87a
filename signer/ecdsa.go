package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"

	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

// EcdsaProvider signs blake2b-256 digests with a secp256k1 key. Its account
// id is the blake2b-256 hash of the compressed public key.
type EcdsaProvider struct {
	priv       *ecdsa.PrivateKey
	compressed []byte
}

func NewEcdsaProvider(seed [32]byte) (*EcdsaProvider, error) {
	priv, err := crypto.ToECDSA(seed[:])
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &EcdsaProvider{
		priv:       priv,
		compressed: secp256k1.PrivKeyFromBytes(seed[:]).PubKey().SerializeCompressed(),
	}, nil
}

// Sign returns r || s || v with v in {0, 1}.
func (p *EcdsaProvider) Sign(payload []byte) ([]byte, error) {
	digest := blake2b.Sum256(payload)

	signature, err := crypto.Sign(digest[:], p.priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	if len(signature) != 65 {
		return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}

	return signature, nil
}

func (p *EcdsaProvider) GetAddress() string {
	addr, _ := ss58.Encode(p.AccountID(), ss58.GenericSubstratePrefix)
	return addr
}

func (p *EcdsaProvider) AccountID() []byte {
	id := blake2b.Sum256(p.compressed)
	return id[:]
}

// PublicKey returns the 33 byte compressed public key.
func (p *EcdsaProvider) PublicKey() []byte {
	return append([]byte{}, p.compressed...)
}

func (p *EcdsaProvider) Scheme() Scheme {
	return SchemeEcdsa
}
