package signer

import (
	"fmt"

	"github.com/ChainSafe/go-schnorrkel"

	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

// SigningContext is the schnorrkel context Substrate signs extrinsics with.
var SigningContext = []byte("substrate")

// Sr25519Provider signs with a schnorrkel key pair.
type Sr25519Provider struct {
	secret *schnorrkel.SecretKey
	public [32]byte
}

// NewSr25519Provider expands a mini secret into an sr25519 key pair.
func NewSr25519Provider(seed [32]byte) (*Sr25519Provider, error) {
	mini, err := schnorrkel.NewMiniSecretKeyFromRaw(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create sr25519 mini secret: %w", err)
	}

	return &Sr25519Provider{
		secret: mini.ExpandEd25519(),
		public: mini.Public().Encode(),
	}, nil
}

func (p *Sr25519Provider) Sign(payload []byte) ([]byte, error) {
	sig, err := p.secret.Sign(schnorrkel.NewSigningContext(SigningContext, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	out := sig.Encode()

	return out[:], nil
}

func (p *Sr25519Provider) GetAddress() string {
	addr, _ := ss58.Encode(p.public[:], ss58.GenericSubstratePrefix)
	return addr
}

func (p *Sr25519Provider) AccountID() []byte {
	return append([]byte{}, p.public[:]...)
}

func (p *Sr25519Provider) PublicKey() []byte {
	return p.AccountID()
}

func (p *Sr25519Provider) Scheme() Scheme {
	return SchemeSr25519
}
