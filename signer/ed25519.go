package signer

import (
	"crypto/ed25519"

	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

// Ed25519Provider signs with an ed25519 key derived from the seed.
type Ed25519Provider struct {
	priv ed25519.PrivateKey
}

func NewEd25519Provider(seed [32]byte) *Ed25519Provider {
	return &Ed25519Provider{priv: ed25519.NewKeyFromSeed(seed[:])}
}

func (p *Ed25519Provider) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(p.priv, payload), nil
}

func (p *Ed25519Provider) GetAddress() string {
	addr, _ := ss58.Encode(p.AccountID(), ss58.GenericSubstratePrefix)
	return addr
}

func (p *Ed25519Provider) AccountID() []byte {
	pub, _ := p.priv.Public().(ed25519.PublicKey)
	return append([]byte{}, pub...)
}

func (p *Ed25519Provider) PublicKey() []byte {
	return p.AccountID()
}

func (p *Ed25519Provider) Scheme() Scheme {
	return SchemeEd25519
}
