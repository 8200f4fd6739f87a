// Package extrinsic assembles signed Substrate extrinsics: the call, the
// signed extension data the runtime declares in its metadata, the signing
// payload and the final length prefixed blob.
package extrinsic

import (
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
	"github.com/pilacorp/go-substrate-did-sdk/signer"
)

const (
	// MaxUnhashedPayload is the largest signing payload signed as is. Longer
	// payloads are replaced by their blake2b-256 hash.
	MaxUnhashedPayload = 256

	signedBit = 0x80
	hashLen   = 32
)

var (
	ErrMissingField         = errors.New("missing required field")
	ErrSigning              = errors.New("failed to sign extrinsic")
	ErrCallAfterSign        = errors.New("call added after signing")
	ErrFieldAfterSign       = errors.New("field changed after signing")
	ErrBuilderConsumed      = errors.New("builder already built")
	ErrUnsupportedExtension = errors.New("unsupported signed extension")
)

// MissingFieldError reports the builder field that was not set.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// SignFunc signs a signing payload.
type SignFunc func(payload []byte) ([]byte, error)

// Builder accumulates the parts of one signed extrinsic. A builder is single
// use: any failure is terminal and a built builder is consumed. Once signed,
// setting any field fails the builder.
type Builder struct {
	specVersion uint32
	txVersion   uint32
	genesisHash []byte

	era          Era
	eraBlockHash []byte
	eraSet       bool

	nonce    uint32
	nonceSet bool

	address    registry.Value
	addressSet bool

	tip   *big.Int
	calls []RuntimeCall

	scheme    signer.Scheme
	signature []byte

	consumed bool
	err      error
}

func NewBuilder(specVersion, txVersion uint32, genesisHash []byte) *Builder {
	return &Builder{
		specVersion: specVersion,
		txVersion:   txVersion,
		genesisHash: append([]byte{}, genesisHash...),
		tip:         new(big.Int),
	}
}

// WithEra sets the mortality and the hash of the block it is anchored to.
// The block hash of an immortal era may be nil; the genesis hash is used.
func (b *Builder) WithEra(era Era, blockHash []byte) *Builder {
	if !b.mutable() {
		return b
	}

	b.era = era
	b.eraBlockHash = append([]byte{}, blockHash...)
	b.eraSet = true

	return b
}

func (b *Builder) WithNonce(nonce uint32) *Builder {
	if !b.mutable() {
		return b
	}

	b.nonce = nonce
	b.nonceSet = true

	return b
}

// WithAddress sets the sender as a value of the runtime's address type.
func (b *Builder) WithAddress(address registry.Value) *Builder {
	if !b.mutable() {
		return b
	}

	b.address = address
	b.addressSet = true

	return b
}

func (b *Builder) WithTip(tip *big.Int) *Builder {
	if !b.mutable() {
		return b
	}

	if tip != nil {
		b.tip = new(big.Int).Set(tip)
	}

	return b
}

// AddCall attaches a call. More than one call is submitted as Utility.batch.
func (b *Builder) AddCall(call RuntimeCall) error {
	if err := b.usable(); err != nil {
		return err
	}

	if b.signature != nil {
		return b.fail(ErrCallAfterSign)
	}

	b.calls = append(b.calls, call)

	return nil
}

// SigningPayload returns the bytes the sender signs: the call, then the
// extra data of every signed extension, then their additional signed data,
// both in metadata order. enc is reset.
func (b *Builder) SigningPayload(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) ([]byte, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}

	payload, err := b.signingPayload(enc, meta)
	if err != nil {
		return nil, b.fail(err)
	}

	return payload, nil
}

// Sign signs the payload with fn. Payloads over MaxUnhashedPayload bytes are
// hashed first.
func (b *Builder) Sign(fn SignFunc, scheme signer.Scheme, enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) error {
	if err := b.usable(); err != nil {
		return err
	}

	payload, err := b.signingPayload(enc, meta)
	if err != nil {
		return b.fail(err)
	}

	if len(payload) > MaxUnhashedPayload {
		sum := blake2b.Sum256(payload)
		payload = sum[:]
	}

	sig, err := fn(payload)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %w", ErrSigning, err))
	}

	if len(sig) != scheme.SignatureLength() {
		return b.fail(fmt.Errorf("%w: %s signature is %d bytes, want %d", ErrSigning, scheme, len(sig), scheme.SignatureLength()))
	}

	b.scheme = scheme
	b.signature = append([]byte{}, sig...)

	return nil
}

// SignWith signs with a signer provider.
func (b *Builder) SignWith(p signer.SignerProvider, enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) error {
	return b.Sign(p.Sign, p.Scheme(), enc, meta)
}

// Build returns the length prefixed signed extrinsic. enc is reset.
func (b *Builder) Build(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) ([]byte, error) {
	if err := b.usable(); err != nil {
		return nil, err
	}

	out, err := b.build(enc, meta)
	if err != nil {
		return nil, b.fail(err)
	}

	b.consumed = true

	return out, nil
}

func (b *Builder) build(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) ([]byte, error) {
	if err := b.checkFields(); err != nil {
		return nil, err
	}

	if b.signature == nil {
		return nil, &MissingFieldError{Field: "signature"}
	}

	extras, _, err := b.extensionData(meta)
	if err != nil {
		return nil, err
	}

	enc.Reset()
	enc.Append([]byte{signedBit | meta.ExtrinsicVersion()})

	if err := enc.Encode(b.address, meta.AddressType()); err != nil {
		return nil, fmt.Errorf("failed to encode address: %w", err)
	}

	sig := registry.Map(b.scheme.String(), registry.Bytes(b.signature))
	if err := enc.Encode(sig, meta.SignatureType()); err != nil {
		return nil, fmt.Errorf("failed to encode signature: %w", err)
	}

	enc.Append(extras)

	if err := b.encodeCall(enc, meta); err != nil {
		return nil, err
	}

	body := enc.Bytes()

	out := scale.NewEncoder()
	out.EncodeCompactUint64(uint64(len(body)))
	out.Write(body)

	return out.Bytes(), nil
}

func (b *Builder) signingPayload(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) ([]byte, error) {
	if err := b.checkFields(); err != nil {
		return nil, err
	}

	extras, additional, err := b.extensionData(meta)
	if err != nil {
		return nil, err
	}

	enc.Reset()

	if err := b.encodeCall(enc, meta); err != nil {
		return nil, err
	}

	enc.Append(extras)
	enc.Append(additional)

	return enc.Bytes(), nil
}

func (b *Builder) encodeCall(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata) error {
	if len(b.calls) == 1 {
		return b.calls[0].Encode(enc, meta)
	}

	return EncodeBatch(b.calls, enc, meta)
}

func (b *Builder) checkFields() error {
	switch {
	case len(b.genesisHash) != hashLen:
		return &MissingFieldError{Field: "genesisHash"}
	case !b.eraSet:
		return &MissingFieldError{Field: "era"}
	case !b.era.IsImmortal() && len(b.eraBlockHash) != hashLen:
		return &MissingFieldError{Field: "eraBlockHash"}
	case !b.nonceSet:
		return &MissingFieldError{Field: "nonce"}
	case !b.addressSet:
		return &MissingFieldError{Field: "address"}
	case len(b.calls) == 0:
		return &MissingFieldError{Field: "call"}
	}

	return nil
}

// extensionData returns the extra and the additional signed bytes of every
// signed extension the runtime declares.
func (b *Builder) extensionData(meta metadata.RuntimeMetadata) (extra, additional []byte, err error) {
	ext := scale.NewEncoder()
	add := scale.NewEncoder()

	checkpoint := b.genesisHash
	if !b.era.IsImmortal() {
		checkpoint = b.eraBlockHash
	}

	for _, se := range meta.SignedExtensions() {
		switch se.Identifier {
		case "CheckNonZeroSender", "CheckWeight":
		case "CheckSpecVersion":
			add.EncodeUint32(b.specVersion)
		case "CheckTxVersion":
			add.EncodeUint32(b.txVersion)
		case "CheckGenesis":
			add.Write(b.genesisHash)
		case "CheckMortality", "CheckEra":
			if err := b.era.Encode(ext); err != nil {
				return nil, nil, fmt.Errorf("failed to encode era: %w", err)
			}

			add.Write(checkpoint)
		case "CheckNonce":
			ext.EncodeCompactUint64(uint64(b.nonce))
		case "ChargeTransactionPayment":
			if err := ext.EncodeCompact(b.tip); err != nil {
				return nil, nil, fmt.Errorf("failed to encode tip: %w", err)
			}
		case "ChargeAssetTxPayment":
			if err := ext.EncodeCompact(b.tip); err != nil {
				return nil, nil, fmt.Errorf("failed to encode tip: %w", err)
			}

			// no asset id
			ext.EncodeUint8(0)
		case "CheckMetadataHash":
			// mode disabled, no metadata hash
			ext.EncodeUint8(0)
			add.EncodeUint8(0)
		default:
			if meta.Version() >= 14 && se.ExtraEmpty && se.AdditionalEmpty {
				continue
			}

			return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, se.Identifier)
		}
	}

	return ext.Bytes(), add.Bytes(), nil
}

func (b *Builder) usable() error {
	if b.consumed {
		return ErrBuilderConsumed
	}

	return b.err
}

// mutable reports whether fields may still change, failing a signed builder.
func (b *Builder) mutable() bool {
	if b.usable() != nil {
		return false
	}

	if b.signature != nil {
		_ = b.fail(ErrFieldAfterSign)

		return false
	}

	return true
}

func (b *Builder) fail(err error) error {
	b.err = err
	return err
}

// AccountAddress returns the runtime address value for an account id:
// MultiAddress::Id where the address type is an enum, the raw id otherwise.
func AccountAddress(enc *registry.DynamicEncoder, meta metadata.RuntimeMetadata, accountID []byte) (registry.Value, error) {
	node, err := enc.Session().ResolveConcrete(meta.AddressType())
	if err != nil {
		return registry.Value{}, fmt.Errorf("failed to resolve address type: %w", err)
	}

	if _, ok := node.(*registry.EnumNode); ok {
		return registry.Map("Id", registry.Bytes(accountID)), nil
	}

	return registry.Bytes(accountID), nil
}
