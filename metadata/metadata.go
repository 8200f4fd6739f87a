// Package metadata decodes the runtime metadata a Substrate chain publishes
// through state_getMetadata. Both the legacy v13 layout, where types are
// referenced by name, and the v14 scale-info layout, where types are
// referenced by id into a self describing registry, are supported.
package metadata

import (
	"errors"
	"fmt"

	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// MagicNumber is the "meta" prefix of every encoded metadata blob.
const MagicNumber uint32 = 0x6174656d

var (
	ErrBadMagic           = errors.New("metadata: invalid magic number")
	ErrUnsupportedVersion = errors.New("metadata: unsupported version")
	ErrModuleNotFound     = errors.New("metadata: module not found")
	ErrCallNotFound       = errors.New("metadata: call not found")
	ErrConstantNotFound   = errors.New("metadata: constant not found")
	ErrTypeNotFound       = errors.New("metadata: type not found")
)

// RuntimeMetadata is the version independent view of decoded metadata used
// by the extrinsic builder and the orchestrator. Type references are
// returned as registry keys: type names for v13 and decimal type ids for v14.
type RuntimeMetadata interface {
	Version() uint8
	ExtrinsicVersion() uint8
	SignedExtensions() []SignedExtension
	Call(module, call string) (*CallInfo, error)
	Constant(module, name string) (*ConstantInfo, error)
	AddressType() string
	SignatureType() string
}

// CallInfo locates a call inside the runtime.
type CallInfo struct {
	Module      string
	Name        string
	ModuleIndex uint8
	CallIndex   uint8
	Args        []Arg
	// VariantType is the key of the pallet call enum (v14 only).
	VariantType string
}

// Arg is a named call argument.
type Arg struct {
	Name string
	Type string
}

// ConstantInfo is a module constant with its encoded value.
type ConstantInfo struct {
	Module string
	Name   string
	Type   string
	Value  []byte
}

// SignedExtension describes one entry of the runtime's signed extension list.
type SignedExtension struct {
	Identifier     string
	ExtraType      string
	AdditionalType string
	// ExtraEmpty and AdditionalEmpty are only known for v14 metadata.
	ExtraEmpty      bool
	AdditionalEmpty bool
}

// Container is the version tagged result of decoding a metadata blob.
type Container struct {
	Version uint8
	V13     *V13
	V14     *V14
}

// Decode parses a metadata blob as returned by state_getMetadata.
func Decode(data []byte) (*Container, error) {
	d := scale.NewDecoder(data)

	magic, err := d.DecodeUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata magic: %w", err)
	}

	if magic != MagicNumber {
		return nil, ErrBadMagic
	}

	version, err := d.DecodeUint8()
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata version: %w", err)
	}

	c := &Container{Version: version}

	switch version {
	case 13:
		c.V13, err = decodeV13(d)
	case 14:
		c.V14, err = decodeV14(d)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode metadata v%d: %w", version, err)
	}

	return c, nil
}

// Encode serializes the container back into a metadata blob.
func (c *Container) Encode() ([]byte, error) {
	e := scale.NewEncoder()
	e.EncodeUint32(MagicNumber)
	e.EncodeUint8(c.Version)

	switch {
	case c.Version == 13 && c.V13 != nil:
		if err := c.V13.encode(e); err != nil {
			return nil, err
		}
	case c.Version == 14 && c.V14 != nil:
		if err := c.V14.encode(e); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.Version)
	}

	return e.Bytes(), nil
}

// RuntimeMetadata returns the decoded metadata behind the version tag.
func (c *Container) RuntimeMetadata() RuntimeMetadata {
	if c.V14 != nil {
		return c.V14
	}

	return c.V13
}

func decodeVec[T any](d *scale.Decoder, fn func(*scale.Decoder) (T, error)) ([]T, error) {
	n, err := d.DecodeCompactUint64()
	if err != nil {
		return nil, err
	}

	// every element takes at least one byte
	if n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("vector length %d: %w", n, scale.ErrOutOfBounds)
	}

	out := make([]T, 0, n)

	for i := uint64(0); i < n; i++ {
		item, err := fn(d)
		if err != nil {
			return nil, err
		}

		out = append(out, item)
	}

	return out, nil
}

func encodeVec[T any](e *scale.Encoder, items []T, fn func(*scale.Encoder, T) error) error {
	e.EncodeCompactUint64(uint64(len(items)))

	for _, item := range items {
		if err := fn(e, item); err != nil {
			return err
		}
	}

	return nil
}

func decodeOption(d *scale.Decoder) (bool, error) {
	return d.DecodeBool()
}

func decodeStrings(d *scale.Decoder) ([]string, error) {
	return decodeVec(d, (*scale.Decoder).DecodeString)
}

func encodeStrings(e *scale.Encoder, items []string) error {
	return encodeVec(e, items, (*scale.Encoder).EncodeString)
}

func decodeCompactU32(d *scale.Decoder) (uint32, error) {
	v, err := d.DecodeCompactUint64()
	if err != nil {
		return 0, err
	}

	if v > 0xffffffff {
		return 0, fmt.Errorf("type id %d: %w", v, scale.ErrOverflow)
	}

	return uint32(v), nil
}

func encodeCompactU32(e *scale.Encoder, v uint32) error {
	e.EncodeCompactUint64(uint64(v))

	return nil
}
