package registry

import (
	"fmt"
	"math/bits"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// Well known type names the catalog provides without a JSON definition.
const (
	GenericTypeBitVec            = "BitVec"
	GenericTypeBytes             = "Bytes"
	GenericTypeCallBytes         = "CallBytes"
	GenericTypeData              = "Data"
	GenericTypeEra               = "Era"
	GenericTypeAccountID         = "GenericAccountId"
	GenericTypeAccountIndex      = "GenericAccountIndex"
	GenericTypeCall              = "GenericCall"
	GenericTypeConsensusEngineID = "GenericConsensusEngineId"
	GenericTypeMultiAddress      = "GenericMultiAddress"
	GenericTypeVote              = "GenericVote"
	GenericTypeH160              = "H160"
	GenericTypeH256              = "H256"
	GenericTypeH512              = "H512"
	GenericTypeNull              = "Null"
	GenericTypeOpaqueCall        = "OpaqueCall"
	GenericTypeOptionBool        = "OptionBool"
	GenericTypeEcdsaSignature    = "EcdsaSignature"
	GenericTypeSignature         = "Signature"
)

// GenericTypes lists the names registered by every catalog.
func GenericTypes() []string {
	return []string{
		GenericTypeBitVec, GenericTypeBytes, GenericTypeCallBytes, GenericTypeData,
		GenericTypeEra, GenericTypeAccountID, GenericTypeAccountIndex, GenericTypeCall,
		GenericTypeConsensusEngineID, GenericTypeMultiAddress, GenericTypeVote,
		GenericTypeH160, GenericTypeH256, GenericTypeH512, GenericTypeNull,
		GenericTypeOpaqueCall, GenericTypeOptionBool, GenericTypeEcdsaSignature, GenericTypeSignature,
	}
}

var primitiveByName = map[string]metadata.Primitive{
	"bool": metadata.PrimitiveBool,
	"char": metadata.PrimitiveChar,
	"str":  metadata.PrimitiveStr,
	"u8":   metadata.PrimitiveU8,
	"u16":  metadata.PrimitiveU16,
	"u32":  metadata.PrimitiveU32,
	"u64":  metadata.PrimitiveU64,
	"u128": metadata.PrimitiveU128,
	"u256": metadata.PrimitiveU256,
	"i8":   metadata.PrimitiveI8,
	"i16":  metadata.PrimitiveI16,
	"i32":  metadata.PrimitiveI32,
	"i64":  metadata.PrimitiveI64,
	"i128": metadata.PrimitiveI128,
	"i256": metadata.PrimitiveI256,
}

func byteArray(name string, n int) Node {
	return &FixedArrayNode{Name: name, Len: n, Elem: &PrimitiveNode{Kind: metadata.PrimitiveU8}}
}

func byteVector(name string) Node {
	return &VectorNode{Name: name, Elem: &PrimitiveNode{Kind: metadata.PrimitiveU8}}
}

// builtinTypes are shared by the v13 catalogs. JSON definitions may
// override any of them.
func builtinTypes() map[string]Node {
	types := make(map[string]Node, len(primitiveByName)+32)

	for name, p := range primitiveByName {
		types[name] = &PrimitiveNode{Kind: p}
	}

	types["String"] = &PrimitiveNode{Name: "String", Kind: metadata.PrimitiveStr}
	types["Text"] = &PrimitiveNode{Name: "Text", Kind: metadata.PrimitiveStr}
	types["()"] = &NullNode{Name: "()"}
	types[GenericTypeNull] = &NullNode{}
	types[GenericTypeBytes] = byteVector(GenericTypeBytes)
	types[GenericTypeCallBytes] = byteVector(GenericTypeCallBytes)
	types[GenericTypeOpaqueCall] = byteVector(GenericTypeOpaqueCall)
	types[GenericTypeH160] = byteArray(GenericTypeH160, 20)
	types[GenericTypeH256] = byteArray(GenericTypeH256, 32)
	types[GenericTypeH512] = byteArray(GenericTypeH512, 64)
	types[GenericTypeSignature] = byteArray(GenericTypeSignature, 64)
	types[GenericTypeEcdsaSignature] = byteArray(GenericTypeEcdsaSignature, 65)
	types[GenericTypeConsensusEngineID] = byteArray(GenericTypeConsensusEngineID, 4)
	types[GenericTypeAccountID] = byteArray(GenericTypeAccountID, 32)
	types[GenericTypeAccountIndex] = &PrimitiveNode{Name: GenericTypeAccountIndex, Kind: metadata.PrimitiveU32}
	types[GenericTypeVote] = &PrimitiveNode{Name: GenericTypeVote, Kind: metadata.PrimitiveU8}
	types[GenericTypeBitVec] = &BitSequenceNode{Name: GenericTypeBitVec, StoreSize: 1}
	types[GenericTypeOptionBool] = &OptionBoolNode{}
	types[GenericTypeEra] = &EraNode{}
	types[GenericTypeData] = &DataNode{}
	types[GenericTypeCall] = &CallNode{}
	types["Call"] = &CallNode{}
	types[GenericTypeMultiAddress] = &EnumNode{
		Name: GenericTypeMultiAddress,
		Variants: []Variant{
			{Name: "Id", Index: 0, Node: &ProxyNode{Key: "AccountId"}},
			{Name: "Index", Index: 1, Node: &CompactNode{Elem: &ProxyNode{Key: "AccountIndex"}}},
			{Name: "Raw", Index: 2, Node: byteVector("")},
			{Name: "Address32", Index: 3, Node: byteArray("", 32)},
			{Name: "Address20", Index: 4, Node: byteArray("", 20)},
		},
	}

	return types
}

// DataNode is the identity pallet Data enum: None, Raw0..Raw32 and four
// 32 byte hashes. Values are "None" or a single entry mapping such as
// {"Raw": "0x..."} or {"BlakeTwo256": "0x..."}.
type DataNode struct{}

const (
	dataNone      = 0
	dataRawMax    = 33
	dataHashFirst = 34
)

var dataHashVariants = []string{"BlakeTwo256", "Sha256", "Keccak256", "ShaThree256"}

func (n *DataNode) TypeName() string {
	return GenericTypeData
}

func (n *DataNode) Encode(_ *Session, e *scale.Encoder, v Value) error {
	if v.IsNull() {
		e.EncodeUint8(dataNone)

		return nil
	}

	if s, ok := v.AsString(); ok && s == "None" {
		e.EncodeUint8(dataNone)

		return nil
	}

	entries, ok := v.Entries()
	if !ok || len(entries) != 1 {
		return invalidValue(n.TypeName(), "expected None or a single variant mapping")
	}

	b, ok := entries[0].Value.AsBytes()
	if !ok {
		return invalidValue(n.TypeName(), "variant %s needs hex bytes", entries[0].Key)
	}

	if entries[0].Key == "Raw" {
		if len(b) > 32 {
			return invalidValue(n.TypeName(), "raw data is %d bytes, at most 32 allowed", len(b))
		}

		e.EncodeUint8(uint8(len(b) + 1))
		e.Write(b)

		return nil
	}

	for i, name := range dataHashVariants {
		if name != entries[0].Key {
			continue
		}

		if len(b) != 32 {
			return invalidValue(n.TypeName(), "%s needs 32 bytes, got %d", name, len(b))
		}

		e.EncodeUint8(uint8(dataHashFirst + i))
		e.Write(b)

		return nil
	}

	return invalidValue(n.TypeName(), "unknown variant %q", entries[0].Key)
}

func (n *DataNode) Decode(_ *Session, d *scale.Decoder) (Value, error) {
	start := d.Offset()

	tag, err := d.DecodeUint8()
	if err != nil {
		return Value{}, err
	}

	switch {
	case tag == dataNone:
		return String("None"), nil
	case tag <= dataRawMax:
		b, err := d.Read(int(tag) - 1)
		if err != nil {
			return Value{}, err
		}

		return Map("Raw", Bytes(b)), nil
	case int(tag) < dataHashFirst+len(dataHashVariants):
		b, err := d.Read(32)
		if err != nil {
			return Value{}, err
		}

		return Map(dataHashVariants[tag-dataHashFirst], Bytes(b)), nil
	default:
		return Value{}, &scale.CodecError{Op: "decode data", Offset: start, Err: scale.ErrUnknownVariant}
	}
}

// EraNode is the extrinsic mortality. Values are "Immortal" (or Null) and
// {"period": n, "phase": n} for mortal eras.
type EraNode struct{}

func (n *EraNode) TypeName() string {
	return GenericTypeEra
}

func (n *EraNode) Encode(_ *Session, e *scale.Encoder, v Value) error {
	if v.IsNull() {
		e.EncodeUint8(0)

		return nil
	}

	if s, ok := v.AsString(); ok && s == "Immortal" {
		e.EncodeUint8(0)

		return nil
	}

	periodValue, ok := v.Get("period")
	if !ok {
		return invalidValue(n.TypeName(), "missing period")
	}

	phaseValue, ok := v.Get("phase")
	if !ok {
		return invalidValue(n.TypeName(), "missing phase")
	}

	period, ok := periodValue.AsNumber()
	if !ok || !period.IsUint64() {
		return invalidValue(n.TypeName(), "period is not a number")
	}

	phase, ok := phaseValue.AsNumber()
	if !ok || !phase.IsUint64() {
		return invalidValue(n.TypeName(), "phase is not a number")
	}

	encoded, err := encodeMortalEra(period.Uint64(), phase.Uint64())
	if err != nil {
		return &TypeError{Key: n.TypeName(), Err: err}
	}

	e.EncodeUint16(encoded)

	return nil
}

func (n *EraNode) Decode(_ *Session, d *scale.Decoder) (Value, error) {
	first, err := d.Peek()
	if err != nil {
		return Value{}, err
	}

	if first == 0 {
		_, _ = d.DecodeUint8()

		return String("Immortal"), nil
	}

	start := d.Offset()

	encoded, err := d.DecodeUint16()
	if err != nil {
		return Value{}, err
	}

	period, phase := decodeMortalEra(encoded)
	if period < 4 || phase >= period {
		return Value{}, &scale.CodecError{Op: "decode era", Offset: start, Err: scale.ErrUnknownVariant}
	}

	return Map("period", Uint(period), "phase", Uint(phase)), nil
}

func encodeMortalEra(period, phase uint64) (uint16, error) {
	if period < 4 || period > 1<<16 || period&(period-1) != 0 {
		return 0, fmt.Errorf("%w: period %d is not a power of two in [4, 65536]", ErrInvalidValue, period)
	}

	if phase >= period {
		return 0, fmt.Errorf("%w: phase %d must be below period %d", ErrInvalidValue, phase, period)
	}

	quantize := period >> 12
	if quantize < 1 {
		quantize = 1
	}

	low := bits.TrailingZeros64(period) - 1
	if low < 1 {
		low = 1
	}

	if low > 15 {
		low = 15
	}

	return uint16(low) | uint16(phase/quantize)<<4, nil
}

func decodeMortalEra(encoded uint16) (period, phase uint64) {
	period = 2 << (encoded % (1 << 4))

	quantize := period >> 12
	if quantize < 1 {
		quantize = 1
	}

	phase = uint64(encoded>>4) * quantize

	return period, phase
}

// CallNode is the v13 GenericCall. Values are mappings with "module",
// "call" and "args" entries; arguments are encoded with the types the
// metadata declares.
type CallNode struct{}

func (n *CallNode) TypeName() string {
	return GenericTypeCall
}

func (n *CallNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	meta := s.Catalog().Metadata()
	if meta == nil {
		return invalidValue(n.TypeName(), "catalog has no metadata")
	}

	moduleValue, _ := v.Get("module")
	callValue, _ := v.Get("call")
	module, _ := moduleValue.AsString()
	name, _ := callValue.AsString()

	call, err := meta.Call(module, name)
	if err != nil {
		return &TypeError{Key: n.TypeName(), Err: err}
	}

	args, _ := v.Get("args")

	e.EncodeUint8(call.ModuleIndex)
	e.EncodeUint8(call.CallIndex)

	for _, arg := range call.Args {
		argValue, ok := args.Get(arg.Name)
		if !ok {
			argValue, ok = args.Get(s.Catalog().MapName(arg.Name))
		}

		if !ok {
			return invalidValue(n.TypeName(), "%s.%s: missing argument %q", module, name, arg.Name)
		}

		node, err := s.Resolve(arg.Type)
		if err != nil {
			return err
		}

		if err := node.Encode(s, e, argValue); err != nil {
			return fmt.Errorf("%s.%s argument %s: %w", module, name, arg.Name, err)
		}
	}

	return nil
}

func (n *CallNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	meta, ok := s.Catalog().Metadata().(*metadata.V13)
	if !ok || meta == nil {
		return Value{}, invalidValue(n.TypeName(), "call decoding needs v13 metadata")
	}

	start := d.Offset()

	moduleIndex, err := d.DecodeUint8()
	if err != nil {
		return Value{}, err
	}

	callIndex, err := d.DecodeUint8()
	if err != nil {
		return Value{}, err
	}

	for _, mod := range meta.Modules {
		if mod.Index != moduleIndex || int(callIndex) >= len(mod.Calls) {
			continue
		}

		fn := mod.Calls[callIndex]
		args := make([]Entry, 0, len(fn.Args))

		for _, arg := range fn.Args {
			node, err := s.Resolve(arg.Type)
			if err != nil {
				return Value{}, err
			}

			argValue, err := node.Decode(s, d)
			if err != nil {
				return Value{}, err
			}

			args = append(args, Entry{Key: arg.Name, Value: argValue})
		}

		return Map("module", String(mod.Name), "call", String(fn.Name), "args", Mapping(args...)), nil
	}

	return Value{}, &scale.CodecError{
		Op:     "decode call",
		Offset: start,
		Err:    fmt.Errorf("%w: call %d.%d", scale.ErrUnknownVariant, moduleIndex, callIndex),
	}
}
