package metadata

import (
	"fmt"
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// TypeDefKind is the variant tag of a scale-info type definition.
type TypeDefKind uint8

const (
	TypeDefComposite TypeDefKind = iota
	TypeDefVariant
	TypeDefSequence
	TypeDefArray
	TypeDefTuple
	TypeDefPrimitive
	TypeDefCompact
	TypeDefBitSequence
)

// Primitive enumerates scale-info primitive types in wire order.
type Primitive uint8

const (
	PrimitiveBool Primitive = iota
	PrimitiveChar
	PrimitiveStr
	PrimitiveU8
	PrimitiveU16
	PrimitiveU32
	PrimitiveU64
	PrimitiveU128
	PrimitiveU256
	PrimitiveI8
	PrimitiveI16
	PrimitiveI32
	PrimitiveI64
	PrimitiveI128
	PrimitiveI256
)

var primitiveNames = [...]string{
	"bool", "char", "str",
	"u8", "u16", "u32", "u64", "u128", "u256",
	"i8", "i16", "i32", "i64", "i128", "i256",
}

func (p Primitive) String() string {
	if int(p) < len(primitiveNames) {
		return primitiveNames[p]
	}

	return "primitive(" + strconv.Itoa(int(p)) + ")"
}

// V14 is the scale-info metadata layout with a portable type registry.
type V14 struct {
	Types       []PortableType
	Pallets     []PalletV14
	Extrinsic   ExtrinsicV14
	RuntimeType uint32

	index map[uint32]int
}

type PortableType struct {
	ID   uint32
	Type Type
}

type Type struct {
	Path   []string
	Params []TypeParam
	Def    TypeDef
	Docs   []string
}

type TypeParam struct {
	Name string
	Type *uint32
}

// TypeDef holds the payload of exactly one definition kind, selected by Kind.
type TypeDef struct {
	Kind TypeDefKind

	Fields    []Field   // composite
	Variants  []Variant // variant
	Elem      uint32    // sequence, array, compact
	Len       uint32    // array
	Tuple     []uint32
	Primitive Primitive
	BitStore  uint32
	BitOrder  uint32
}

// Field is a composite or variant field. Name and TypeName are empty when absent.
type Field struct {
	Name     string
	Type     uint32
	TypeName string
	Docs     []string
}

type Variant struct {
	Name   string
	Fields []Field
	Index  uint8
	Docs   []string
}

type PalletV14 struct {
	Name      string
	Storage   *PalletStorageV14
	Calls     *uint32
	Event     *uint32
	Constants []PalletConstantV14
	Error     *uint32
	Index     uint8
}

type PalletStorageV14 struct {
	Prefix  string
	Entries []StorageEntryV14
}

// StorageEntryV14 is a plain entry when Kind is 0 and a map otherwise.
type StorageEntryV14 struct {
	Name     string
	Modifier uint8
	Kind     uint8
	Hashers  []uint8
	Key      uint32
	Value    uint32
	Default  []byte
	Docs     []string
}

type PalletConstantV14 struct {
	Name  string
	Type  uint32
	Value []byte
	Docs  []string
}

type ExtrinsicV14 struct {
	Type             uint32
	Version          uint8
	SignedExtensions []SignedExtensionV14
}

type SignedExtensionV14 struct {
	Identifier       string
	Type             uint32
	AdditionalSigned uint32
}

// TypeKey renders a v14 type id as a registry key.
func TypeKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (m *V14) Version() uint8 {
	return 14
}

func (m *V14) ExtrinsicVersion() uint8 {
	return m.Extrinsic.Version
}

// Lookup returns the type registered under id.
func (m *V14) Lookup(id uint32) (*Type, error) {
	if m.index != nil {
		if i, ok := m.index[id]; ok {
			return &m.Types[i].Type, nil
		}

		return nil, fmt.Errorf("%w: %d", ErrTypeNotFound, id)
	}

	for i := range m.Types {
		if m.Types[i].ID == id {
			return &m.Types[i].Type, nil
		}
	}

	return nil, fmt.Errorf("%w: %d", ErrTypeNotFound, id)
}

// IsEmptyType reports whether values of the type encode to zero bytes.
func (m *V14) IsEmptyType(id uint32) bool {
	return m.isEmpty(id, map[uint32]bool{})
}

func (m *V14) isEmpty(id uint32, seen map[uint32]bool) bool {
	if seen[id] {
		return false
	}

	seen[id] = true

	typ, err := m.Lookup(id)
	if err != nil {
		return false
	}

	switch typ.Def.Kind {
	case TypeDefComposite:
		for _, f := range typ.Def.Fields {
			if !m.isEmpty(f.Type, seen) {
				return false
			}
		}

		return true
	case TypeDefTuple:
		for _, elem := range typ.Def.Tuple {
			if !m.isEmpty(elem, seen) {
				return false
			}
		}

		return true
	case TypeDefArray:
		return typ.Def.Len == 0 || m.isEmpty(typ.Def.Elem, seen)
	default:
		return false
	}
}

func (m *V14) SignedExtensions() []SignedExtension {
	out := make([]SignedExtension, 0, len(m.Extrinsic.SignedExtensions))
	for _, ext := range m.Extrinsic.SignedExtensions {
		out = append(out, SignedExtension{
			Identifier:      ext.Identifier,
			ExtraType:       TypeKey(ext.Type),
			AdditionalType:  TypeKey(ext.AdditionalSigned),
			ExtraEmpty:      m.IsEmptyType(ext.Type),
			AdditionalEmpty: m.IsEmptyType(ext.AdditionalSigned),
		})
	}

	return out
}

// AddressType is the "Address" parameter of the UncheckedExtrinsic type.
func (m *V14) AddressType() string {
	return m.extrinsicParam("Address")
}

// SignatureType is the "Signature" parameter of the UncheckedExtrinsic type.
func (m *V14) SignatureType() string {
	return m.extrinsicParam("Signature")
}

func (m *V14) extrinsicParam(name string) string {
	typ, err := m.Lookup(m.Extrinsic.Type)
	if err != nil {
		return ""
	}

	for _, p := range typ.Params {
		if p.Name == name && p.Type != nil {
			return TypeKey(*p.Type)
		}
	}

	return ""
}

func (m *V14) Pallet(name string) (*PalletV14, error) {
	i := slices.IndexFunc(m.Pallets, func(p PalletV14) bool { return p.Name == name })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	return &m.Pallets[i], nil
}

func (m *V14) Call(module, call string) (*CallInfo, error) {
	pallet, err := m.Pallet(module)
	if err != nil {
		return nil, err
	}

	if pallet.Calls == nil {
		return nil, fmt.Errorf("%w: %s has no calls", ErrCallNotFound, module)
	}

	typ, err := m.Lookup(*pallet.Calls)
	if err != nil {
		return nil, err
	}

	if typ.Def.Kind != TypeDefVariant {
		return nil, fmt.Errorf("call type of %s is not a variant", module)
	}

	for _, v := range typ.Def.Variants {
		if v.Name != call {
			continue
		}

		args := make([]Arg, 0, len(v.Fields))
		for _, f := range v.Fields {
			args = append(args, Arg{Name: f.Name, Type: TypeKey(f.Type)})
		}

		return &CallInfo{
			Module:      pallet.Name,
			Name:        v.Name,
			ModuleIndex: pallet.Index,
			CallIndex:   v.Index,
			Args:        args,
			VariantType: TypeKey(*pallet.Calls),
		}, nil
	}

	return nil, fmt.Errorf("%w: %s.%s", ErrCallNotFound, module, call)
}

func (m *V14) Constant(module, name string) (*ConstantInfo, error) {
	pallet, err := m.Pallet(module)
	if err != nil {
		return nil, err
	}

	for _, c := range pallet.Constants {
		if c.Name == name {
			return &ConstantInfo{Module: pallet.Name, Name: c.Name, Type: TypeKey(c.Type), Value: c.Value}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s.%s", ErrConstantNotFound, module, name)
}

func decodeV14(d *scale.Decoder) (*V14, error) {
	types, err := decodeVec(d, decodePortableType)
	if err != nil {
		return nil, fmt.Errorf("types: %w", err)
	}

	pallets, err := decodeVec(d, decodePalletV14)
	if err != nil {
		return nil, fmt.Errorf("pallets: %w", err)
	}

	m := &V14{Types: types, Pallets: pallets}

	if m.Extrinsic.Type, err = decodeCompactU32(d); err != nil {
		return nil, fmt.Errorf("extrinsic type: %w", err)
	}

	if m.Extrinsic.Version, err = d.DecodeUint8(); err != nil {
		return nil, fmt.Errorf("extrinsic version: %w", err)
	}

	m.Extrinsic.SignedExtensions, err = decodeVec(d, func(d *scale.Decoder) (SignedExtensionV14, error) {
		var (
			ext SignedExtensionV14
			err error
		)

		if ext.Identifier, err = d.DecodeString(); err != nil {
			return ext, err
		}

		if ext.Type, err = decodeCompactU32(d); err != nil {
			return ext, err
		}

		ext.AdditionalSigned, err = decodeCompactU32(d)

		return ext, err
	})
	if err != nil {
		return nil, fmt.Errorf("signed extensions: %w", err)
	}

	if m.RuntimeType, err = decodeCompactU32(d); err != nil {
		return nil, fmt.Errorf("runtime type: %w", err)
	}

	m.index = make(map[uint32]int, len(types))
	for i, t := range types {
		m.index[t.ID] = i
	}

	return m, nil
}

func decodePortableType(d *scale.Decoder) (PortableType, error) {
	var (
		pt  PortableType
		err error
	)

	if pt.ID, err = decodeCompactU32(d); err != nil {
		return pt, err
	}

	if pt.Type.Path, err = decodeStrings(d); err != nil {
		return pt, err
	}

	pt.Type.Params, err = decodeVec(d, func(d *scale.Decoder) (TypeParam, error) {
		name, err := d.DecodeString()
		if err != nil {
			return TypeParam{}, err
		}

		ty, err := decodeOptionalID(d)

		return TypeParam{Name: name, Type: ty}, err
	})
	if err != nil {
		return pt, err
	}

	if pt.Type.Def, err = decodeTypeDef(d); err != nil {
		return pt, fmt.Errorf("type %d: %w", pt.ID, err)
	}

	pt.Type.Docs, err = decodeStrings(d)

	return pt, err
}

func decodeTypeDef(d *scale.Decoder) (TypeDef, error) {
	tag, err := d.DecodeUint8()
	if err != nil {
		return TypeDef{}, err
	}

	def := TypeDef{Kind: TypeDefKind(tag)}

	switch def.Kind {
	case TypeDefComposite:
		def.Fields, err = decodeVec(d, decodeField)
	case TypeDefVariant:
		def.Variants, err = decodeVec(d, decodeVariant)
	case TypeDefSequence, TypeDefCompact:
		def.Elem, err = decodeCompactU32(d)
	case TypeDefArray:
		if def.Len, err = d.DecodeUint32(); err != nil {
			return def, err
		}

		def.Elem, err = decodeCompactU32(d)
	case TypeDefTuple:
		def.Tuple, err = decodeVec(d, decodeCompactU32)
	case TypeDefPrimitive:
		var p uint8
		if p, err = d.DecodeUint8(); err == nil && int(p) >= len(primitiveNames) {
			err = fmt.Errorf("primitive %d: %w", p, scale.ErrUnknownVariant)
		}

		def.Primitive = Primitive(p)
	case TypeDefBitSequence:
		if def.BitStore, err = decodeCompactU32(d); err != nil {
			return def, err
		}

		def.BitOrder, err = decodeCompactU32(d)
	default:
		return def, fmt.Errorf("type def %d: %w", tag, scale.ErrUnknownVariant)
	}

	return def, err
}

func decodeField(d *scale.Decoder) (Field, error) {
	var (
		f   Field
		err error
	)

	if f.Name, err = decodeOptionalString(d); err != nil {
		return f, err
	}

	if f.Type, err = decodeCompactU32(d); err != nil {
		return f, err
	}

	if f.TypeName, err = decodeOptionalString(d); err != nil {
		return f, err
	}

	f.Docs, err = decodeStrings(d)

	return f, err
}

func decodeVariant(d *scale.Decoder) (Variant, error) {
	var (
		v   Variant
		err error
	)

	if v.Name, err = d.DecodeString(); err != nil {
		return v, err
	}

	if v.Fields, err = decodeVec(d, decodeField); err != nil {
		return v, err
	}

	if v.Index, err = d.DecodeUint8(); err != nil {
		return v, err
	}

	v.Docs, err = decodeStrings(d)

	return v, err
}

func decodePalletV14(d *scale.Decoder) (PalletV14, error) {
	var (
		p   PalletV14
		err error
	)

	if p.Name, err = d.DecodeString(); err != nil {
		return p, err
	}

	hasStorage, err := decodeOption(d)
	if err != nil {
		return p, err
	}

	if hasStorage {
		storage := &PalletStorageV14{}
		if storage.Prefix, err = d.DecodeString(); err != nil {
			return p, err
		}

		if storage.Entries, err = decodeVec(d, decodeStorageEntryV14); err != nil {
			return p, fmt.Errorf("pallet %s storage: %w", p.Name, err)
		}

		p.Storage = storage
	}

	if p.Calls, err = decodeOptionalID(d); err != nil {
		return p, err
	}

	if p.Event, err = decodeOptionalID(d); err != nil {
		return p, err
	}

	p.Constants, err = decodeVec(d, func(d *scale.Decoder) (PalletConstantV14, error) {
		var (
			c   PalletConstantV14
			err error
		)

		if c.Name, err = d.DecodeString(); err != nil {
			return c, err
		}

		if c.Type, err = decodeCompactU32(d); err != nil {
			return c, err
		}

		if c.Value, err = d.DecodeBytes(); err != nil {
			return c, err
		}

		c.Docs, err = decodeStrings(d)

		return c, err
	})
	if err != nil {
		return p, fmt.Errorf("pallet %s constants: %w", p.Name, err)
	}

	if p.Error, err = decodeOptionalID(d); err != nil {
		return p, err
	}

	p.Index, err = d.DecodeUint8()

	return p, err
}

func decodeStorageEntryV14(d *scale.Decoder) (StorageEntryV14, error) {
	var (
		entry StorageEntryV14
		err   error
	)

	if entry.Name, err = d.DecodeString(); err != nil {
		return entry, err
	}

	if entry.Modifier, err = d.DecodeUint8(); err != nil {
		return entry, err
	}

	if entry.Kind, err = d.DecodeUint8(); err != nil {
		return entry, err
	}

	switch entry.Kind {
	case 0:
		if entry.Value, err = decodeCompactU32(d); err != nil {
			return entry, err
		}
	case 1:
		if entry.Hashers, err = decodeVec(d, (*scale.Decoder).DecodeUint8); err != nil {
			return entry, err
		}

		if entry.Key, err = decodeCompactU32(d); err != nil {
			return entry, err
		}

		if entry.Value, err = decodeCompactU32(d); err != nil {
			return entry, err
		}
	default:
		return entry, fmt.Errorf("storage entry %s kind %d: %w", entry.Name, entry.Kind, scale.ErrUnknownVariant)
	}

	if entry.Default, err = d.DecodeBytes(); err != nil {
		return entry, err
	}

	entry.Docs, err = decodeStrings(d)

	return entry, err
}

func decodeOptionalID(d *scale.Decoder) (*uint32, error) {
	some, err := decodeOption(d)
	if err != nil || !some {
		return nil, err
	}

	id, err := decodeCompactU32(d)
	if err != nil {
		return nil, err
	}

	return &id, nil
}

func decodeOptionalString(d *scale.Decoder) (string, error) {
	some, err := decodeOption(d)
	if err != nil || !some {
		return "", err
	}

	return d.DecodeString()
}

func (m *V14) encode(e *scale.Encoder) error {
	if err := encodeVec(e, m.Types, encodePortableType); err != nil {
		return err
	}

	if err := encodeVec(e, m.Pallets, encodePalletV14); err != nil {
		return err
	}

	e.EncodeCompactUint64(uint64(m.Extrinsic.Type))
	e.EncodeUint8(m.Extrinsic.Version)

	err := encodeVec(e, m.Extrinsic.SignedExtensions, func(e *scale.Encoder, ext SignedExtensionV14) error {
		if err := e.EncodeString(ext.Identifier); err != nil {
			return err
		}

		e.EncodeCompactUint64(uint64(ext.Type))
		e.EncodeCompactUint64(uint64(ext.AdditionalSigned))

		return nil
	})
	if err != nil {
		return err
	}

	e.EncodeCompactUint64(uint64(m.RuntimeType))

	return nil
}

func encodePortableType(e *scale.Encoder, pt PortableType) error {
	e.EncodeCompactUint64(uint64(pt.ID))

	if err := encodeStrings(e, pt.Type.Path); err != nil {
		return err
	}

	err := encodeVec(e, pt.Type.Params, func(e *scale.Encoder, p TypeParam) error {
		if err := e.EncodeString(p.Name); err != nil {
			return err
		}

		encodeOptionalID(e, p.Type)

		return nil
	})
	if err != nil {
		return err
	}

	if err := encodeTypeDef(e, pt.Type.Def); err != nil {
		return fmt.Errorf("type %d: %w", pt.ID, err)
	}

	return encodeStrings(e, pt.Type.Docs)
}

func encodeTypeDef(e *scale.Encoder, def TypeDef) error {
	e.EncodeUint8(uint8(def.Kind))

	switch def.Kind {
	case TypeDefComposite:
		return encodeVec(e, def.Fields, encodeField)
	case TypeDefVariant:
		return encodeVec(e, def.Variants, func(e *scale.Encoder, v Variant) error {
			if err := e.EncodeString(v.Name); err != nil {
				return err
			}

			if err := encodeVec(e, v.Fields, encodeField); err != nil {
				return err
			}

			e.EncodeUint8(v.Index)

			return encodeStrings(e, v.Docs)
		})
	case TypeDefSequence, TypeDefCompact:
		e.EncodeCompactUint64(uint64(def.Elem))
	case TypeDefArray:
		e.EncodeUint32(def.Len)
		e.EncodeCompactUint64(uint64(def.Elem))
	case TypeDefTuple:
		return encodeVec(e, def.Tuple, encodeCompactU32)
	case TypeDefPrimitive:
		e.EncodeUint8(uint8(def.Primitive))
	case TypeDefBitSequence:
		e.EncodeCompactUint64(uint64(def.BitStore))
		e.EncodeCompactUint64(uint64(def.BitOrder))
	default:
		return fmt.Errorf("type def %d: %w", def.Kind, scale.ErrUnknownVariant)
	}

	return nil
}

func encodeField(e *scale.Encoder, f Field) error {
	if err := encodeOptionalString(e, f.Name); err != nil {
		return err
	}

	e.EncodeCompactUint64(uint64(f.Type))

	if err := encodeOptionalString(e, f.TypeName); err != nil {
		return err
	}

	return encodeStrings(e, f.Docs)
}

func encodePalletV14(e *scale.Encoder, p PalletV14) error {
	if err := e.EncodeString(p.Name); err != nil {
		return err
	}

	e.EncodeBool(p.Storage != nil)

	if p.Storage != nil {
		if err := e.EncodeString(p.Storage.Prefix); err != nil {
			return err
		}

		if err := encodeVec(e, p.Storage.Entries, encodeStorageEntryV14); err != nil {
			return err
		}
	}

	encodeOptionalID(e, p.Calls)
	encodeOptionalID(e, p.Event)

	err := encodeVec(e, p.Constants, func(e *scale.Encoder, c PalletConstantV14) error {
		if err := e.EncodeString(c.Name); err != nil {
			return err
		}

		e.EncodeCompactUint64(uint64(c.Type))
		e.EncodeBytes(c.Value)

		return encodeStrings(e, c.Docs)
	})
	if err != nil {
		return err
	}

	encodeOptionalID(e, p.Error)
	e.EncodeUint8(p.Index)

	return nil
}

func encodeStorageEntryV14(e *scale.Encoder, entry StorageEntryV14) error {
	if err := e.EncodeString(entry.Name); err != nil {
		return err
	}

	e.EncodeUint8(entry.Modifier)
	e.EncodeUint8(entry.Kind)

	switch entry.Kind {
	case 0:
		e.EncodeCompactUint64(uint64(entry.Value))
	case 1:
		e.EncodeBytes(entry.Hashers)
		e.EncodeCompactUint64(uint64(entry.Key))
		e.EncodeCompactUint64(uint64(entry.Value))
	default:
		return fmt.Errorf("storage entry %s kind %d: %w", entry.Name, entry.Kind, scale.ErrUnknownVariant)
	}

	e.EncodeBytes(entry.Default)

	return encodeStrings(e, entry.Docs)
}

func encodeOptionalID(e *scale.Encoder, id *uint32) {
	e.EncodeBool(id != nil)

	if id != nil {
		e.EncodeCompactUint64(uint64(*id))
	}
}

func encodeOptionalString(e *scale.Encoder, s string) error {
	e.EncodeBool(s != "")

	if s == "" {
		return nil
	}

	return e.EncodeString(s)
}
