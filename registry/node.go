package registry

import (
	"fmt"
	"math/big"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// Node encodes and decodes values of one runtime type.
type Node interface {
	TypeName() string
	Encode(s *Session, e *scale.Encoder, v Value) error
	Decode(s *Session, d *scale.Decoder) (Value, error)
}

// Session pins the catalog and runtime version used by every nested
// resolution of a single encode or decode.
type Session struct {
	catalog *Catalog
	version uint32
}

func NewSession(c *Catalog, version uint32) *Session {
	return &Session{catalog: c, version: version}
}

func (s *Session) Catalog() *Catalog {
	return s.catalog
}

func (s *Session) Version() uint32 {
	return s.version
}

func (s *Session) Resolve(key string) (Node, error) {
	if s == nil || s.catalog == nil {
		return nil, unknownType(key)
	}

	return s.catalog.Resolve(key, s.version)
}

// ResolveConcrete resolves key and follows aliases to the defining node.
func (s *Session) ResolveConcrete(key string) (Node, error) {
	n, err := s.Resolve(key)
	if err != nil {
		return nil, err
	}

	return unwrap(s, n)
}

// unwrap follows proxies until a concrete node is reached.
func unwrap(s *Session, n Node) (Node, error) {
	for i := 0; i < 64; i++ {
		p, ok := n.(*ProxyNode)
		if !ok {
			return n, nil
		}

		next, err := s.Resolve(p.Key)
		if err != nil {
			return nil, err
		}

		n = next
	}

	return nil, &TypeError{Key: n.TypeName(), Err: fmt.Errorf("%w: alias cycle", ErrUnknownType)}
}

// maxZeroSizeItems bounds vectors whose elements occupy no input bytes.
const maxZeroSizeItems = 1 << 16

// isZeroSize reports whether n encodes to no bytes at all.
func isZeroSize(s *Session, n Node) bool {
	n, err := unwrap(s, n)
	if err != nil {
		return false
	}

	switch t := n.(type) {
	case *NullNode:
		return true
	case *TupleNode:
		for _, elem := range t.Elems {
			if !isZeroSize(s, elem) {
				return false
			}
		}

		return true
	case *StructNode:
		for _, f := range t.Fields {
			if !isZeroSize(s, f.Node) {
				return false
			}
		}

		return true
	case *FixedArrayNode:
		return t.Len == 0 || isZeroSize(s, t.Elem)
	default:
		return false
	}
}

func isByte(s *Session, n Node) bool {
	n, err := unwrap(s, n)
	if err != nil {
		return false
	}

	p, ok := n.(*PrimitiveNode)

	return ok && p.Kind == metadata.PrimitiveU8
}

// ProxyNode refers to another registry key and is resolved lazily, which
// lets recursive types reference themselves.
type ProxyNode struct {
	Key string
}

func (n *ProxyNode) TypeName() string {
	return n.Key
}

func (n *ProxyNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	target, err := s.Resolve(n.Key)
	if err != nil {
		return err
	}

	return target.Encode(s, e, v)
}

func (n *ProxyNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	target, err := s.Resolve(n.Key)
	if err != nil {
		return Value{}, err
	}

	return target.Decode(s, d)
}

// PrimitiveNode handles bool, char, str and fixed width integers.
type PrimitiveNode struct {
	Name string
	Kind metadata.Primitive
}

func (n *PrimitiveNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.Kind.String()
}

func intSize(p metadata.Primitive) (size int, signed bool) {
	switch p {
	case metadata.PrimitiveU8:
		return 1, false
	case metadata.PrimitiveU16:
		return 2, false
	case metadata.PrimitiveU32, metadata.PrimitiveChar:
		return 4, false
	case metadata.PrimitiveU64:
		return 8, false
	case metadata.PrimitiveU128:
		return 16, false
	case metadata.PrimitiveU256:
		return 32, false
	case metadata.PrimitiveI8:
		return 1, true
	case metadata.PrimitiveI16:
		return 2, true
	case metadata.PrimitiveI32:
		return 4, true
	case metadata.PrimitiveI64:
		return 8, true
	case metadata.PrimitiveI128:
		return 16, true
	case metadata.PrimitiveI256:
		return 32, true
	default:
		return 0, false
	}
}

func (n *PrimitiveNode) Encode(_ *Session, e *scale.Encoder, v Value) error {
	switch n.Kind {
	case metadata.PrimitiveBool:
		b, ok := v.AsBool()
		if !ok {
			return invalidValue(n.TypeName(), "expected bool, got %s", v.Kind())
		}

		e.EncodeBool(b)

		return nil
	case metadata.PrimitiveStr:
		s, ok := v.AsString()
		if !ok {
			return invalidValue(n.TypeName(), "expected string, got %s", v.Kind())
		}

		return e.EncodeString(s)
	case metadata.PrimitiveChar:
		if s, ok := v.AsString(); ok {
			r := []rune(s)
			if len(r) != 1 {
				return invalidValue(n.TypeName(), "expected a single character")
			}

			e.EncodeUint32(uint32(r[0]))

			return nil
		}
	}

	size, signed := intSize(n.Kind)
	if size == 0 {
		return invalidValue(n.TypeName(), "unsupported primitive")
	}

	num, ok := v.AsNumber()
	if !ok {
		return invalidValue(n.TypeName(), "expected number, got %s", v.Kind())
	}

	var err error
	if signed {
		err = e.EncodeIntN(num, size)
	} else {
		err = e.EncodeUintN(num, size)
	}

	if err != nil {
		return &TypeError{Key: n.TypeName(), Err: err}
	}

	return nil
}

func (n *PrimitiveNode) Decode(_ *Session, d *scale.Decoder) (Value, error) {
	switch n.Kind {
	case metadata.PrimitiveBool:
		b, err := d.DecodeBool()
		if err != nil {
			return Value{}, err
		}

		return Bool(b), nil
	case metadata.PrimitiveStr:
		s, err := d.DecodeString()
		if err != nil {
			return Value{}, err
		}

		return String(s), nil
	case metadata.PrimitiveChar:
		r, err := d.DecodeUint32()
		if err != nil {
			return Value{}, err
		}

		return String(string(rune(r))), nil
	}

	size, signed := intSize(n.Kind)
	if size == 0 {
		return Value{}, invalidValue(n.TypeName(), "unsupported primitive")
	}

	var (
		num *big.Int
		err error
	)

	if signed {
		num, err = d.DecodeIntN(size)
	} else {
		num, err = d.DecodeUintN(size)
	}

	if err != nil {
		return Value{}, err
	}

	return Value{kind: KindNumber, n: num}, nil
}

// NullNode encodes to zero bytes.
type NullNode struct {
	Name string
}

func (n *NullNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return "Null"
}

func (n *NullNode) Encode(_ *Session, _ *scale.Encoder, _ Value) error {
	return nil
}

func (n *NullNode) Decode(_ *Session, _ *scale.Decoder) (Value, error) {
	return Null(), nil
}

// FixedArrayNode is [T; N]. Byte arrays use 0x hex values.
type FixedArrayNode struct {
	Name string
	Len  int
	Elem Node
}

func (n *FixedArrayNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return fmt.Sprintf("[%s; %d]", n.Elem.TypeName(), n.Len)
}

func (n *FixedArrayNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	if isByte(s, n.Elem) {
		b, ok := v.AsBytes()
		if !ok {
			return invalidValue(n.TypeName(), "expected hex bytes, got %s", v.Kind())
		}

		if len(b) != n.Len {
			return invalidValue(n.TypeName(), "expected %d bytes, got %d", n.Len, len(b))
		}

		e.Write(b)

		return nil
	}

	items, ok := v.AsSequence()
	if !ok || len(items) != n.Len {
		return invalidValue(n.TypeName(), "expected sequence of %d items", n.Len)
	}

	for _, item := range items {
		if err := n.Elem.Encode(s, e, item); err != nil {
			return err
		}
	}

	return nil
}

func (n *FixedArrayNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	if isByte(s, n.Elem) {
		b, err := d.Read(n.Len)
		if err != nil {
			return Value{}, err
		}

		return Bytes(b), nil
	}

	items := make([]Value, 0, n.Len)
	for i := 0; i < n.Len; i++ {
		item, err := n.Elem.Decode(s, d)
		if err != nil {
			return Value{}, err
		}

		items = append(items, item)
	}

	return Sequence(items...), nil
}

// VectorNode is a compact length prefixed Vec<T>. Vec<u8> uses 0x hex values.
type VectorNode struct {
	Name string
	Elem Node
}

func (n *VectorNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return "Vec<" + n.Elem.TypeName() + ">"
}

func (n *VectorNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	if isByte(s, n.Elem) {
		b, ok := v.AsBytes()
		if !ok {
			return invalidValue(n.TypeName(), "expected hex bytes, got %s", v.Kind())
		}

		e.EncodeBytes(b)

		return nil
	}

	items, ok := v.AsSequence()
	if !ok {
		return invalidValue(n.TypeName(), "expected sequence, got %s", v.Kind())
	}

	e.EncodeCompactUint64(uint64(len(items)))

	for _, item := range items {
		if err := n.Elem.Encode(s, e, item); err != nil {
			return err
		}
	}

	return nil
}

func (n *VectorNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	if isByte(s, n.Elem) {
		b, err := d.DecodeBytes()
		if err != nil {
			return Value{}, err
		}

		return Bytes(b), nil
	}

	start := d.Offset()

	count, err := d.DecodeCompactUint64()
	if err != nil {
		return Value{}, err
	}

	zero := isZeroSize(s, n.Elem)
	if !zero && count > uint64(d.Remaining()) {
		return Value{}, &scale.CodecError{Op: "decode vector", Offset: start, Err: scale.ErrOutOfBounds}
	}

	if zero && count > maxZeroSizeItems {
		return Value{}, &scale.CodecError{Op: "decode vector", Offset: start, Err: scale.ErrOutOfBounds}
	}

	items := make([]Value, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := n.Elem.Decode(s, d)
		if err != nil {
			return Value{}, err
		}

		items = append(items, item)
	}

	return Sequence(items...), nil
}

// Field is a named or unnamed member of a struct.
type Field struct {
	Name string
	Node Node
}

// StructNode encodes fields in declaration order. A single unnamed field is
// a transparent newtype, and all unnamed fields encode as a tuple.
type StructNode struct {
	Name   string
	Fields []Field
}

func (n *StructNode) TypeName() string {
	return n.Name
}

func (n *StructNode) unnamed() bool {
	for _, f := range n.Fields {
		if f.Name != "" {
			return false
		}
	}

	return true
}

func (n *StructNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	switch {
	case len(n.Fields) == 0:
		return nil
	case len(n.Fields) == 1 && n.Fields[0].Name == "":
		return n.Fields[0].Node.Encode(s, e, v)
	case n.unnamed():
		items, ok := v.AsSequence()
		if !ok || len(items) != len(n.Fields) {
			return invalidValue(n.TypeName(), "expected sequence of %d items", len(n.Fields))
		}

		for i, f := range n.Fields {
			if err := f.Node.Encode(s, e, items[i]); err != nil {
				return err
			}
		}

		return nil
	}

	entries, ok := v.Entries()
	if !ok {
		return invalidValue(n.TypeName(), "expected mapping, got %s", v.Kind())
	}

	for _, entry := range entries {
		if !n.hasField(entry.Key) {
			return invalidValue(n.TypeName(), "unknown field %q", entry.Key)
		}
	}

	for _, f := range n.Fields {
		fv, ok := v.Get(f.Name)
		if !ok {
			return invalidValue(n.TypeName(), "missing field %q", f.Name)
		}

		if err := f.Node.Encode(s, e, fv); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}

	return nil
}

func (n *StructNode) hasField(name string) bool {
	for _, f := range n.Fields {
		if f.Name == name {
			return true
		}
	}

	return false
}

func (n *StructNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	switch {
	case len(n.Fields) == 0:
		return Null(), nil
	case len(n.Fields) == 1 && n.Fields[0].Name == "":
		return n.Fields[0].Node.Decode(s, d)
	case n.unnamed():
		items := make([]Value, 0, len(n.Fields))
		for _, f := range n.Fields {
			item, err := f.Node.Decode(s, d)
			if err != nil {
				return Value{}, err
			}

			items = append(items, item)
		}

		return Sequence(items...), nil
	}

	entries := make([]Entry, 0, len(n.Fields))
	for _, f := range n.Fields {
		fv, err := f.Node.Decode(s, d)
		if err != nil {
			return Value{}, err
		}

		entries = append(entries, Entry{Key: f.Name, Value: fv})
	}

	return Mapping(entries...), nil
}

// TupleNode encodes a fixed sequence of heterogeneous values. The empty
// tuple is Null.
type TupleNode struct {
	Name  string
	Elems []Node
}

func (n *TupleNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	name := "("
	for i, elem := range n.Elems {
		if i > 0 {
			name += ", "
		}

		name += elem.TypeName()
	}

	return name + ")"
}

func (n *TupleNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	if len(n.Elems) == 0 {
		return nil
	}

	items, ok := v.AsSequence()
	if !ok || len(items) != len(n.Elems) {
		return invalidValue(n.TypeName(), "expected sequence of %d items", len(n.Elems))
	}

	for i, elem := range n.Elems {
		if err := elem.Encode(s, e, items[i]); err != nil {
			return err
		}
	}

	return nil
}

func (n *TupleNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	if len(n.Elems) == 0 {
		return Null(), nil
	}

	items := make([]Value, 0, len(n.Elems))
	for _, elem := range n.Elems {
		item, err := elem.Decode(s, d)
		if err != nil {
			return Value{}, err
		}

		items = append(items, item)
	}

	return Sequence(items...), nil
}

// Variant is one case of an enum. Node is nil for unit variants.
type Variant struct {
	Name  string
	Index uint8
	Node  Node
}

// EnumNode writes the variant index followed by its payload. Unit variants
// are String values, the others a single entry Mapping {name: payload}.
type EnumNode struct {
	Name     string
	Variants []Variant
}

func (n *EnumNode) TypeName() string {
	return n.Name
}

func (n *EnumNode) variant(name string) (*Variant, bool) {
	for i := range n.Variants {
		if n.Variants[i].Name == name {
			return &n.Variants[i], true
		}
	}

	return nil, false
}

func (n *EnumNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	var (
		name    string
		payload = Null()
	)

	switch v.Kind() {
	case KindString:
		name, _ = v.AsString()
	case KindMapping:
		entries, _ := v.Entries()
		if len(entries) != 1 {
			return invalidValue(n.TypeName(), "expected a single variant, got %d", len(entries))
		}

		name, payload = entries[0].Key, entries[0].Value
	default:
		return invalidValue(n.TypeName(), "expected variant name or mapping, got %s", v.Kind())
	}

	variant, ok := n.variant(name)
	if !ok {
		return invalidValue(n.TypeName(), "unknown variant %q", name)
	}

	e.EncodeUint8(variant.Index)

	if variant.Node == nil {
		return nil
	}

	return variant.Node.Encode(s, e, payload)
}

func (n *EnumNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	start := d.Offset()

	index, err := d.DecodeUint8()
	if err != nil {
		return Value{}, err
	}

	for _, variant := range n.Variants {
		if variant.Index != index {
			continue
		}

		if variant.Node == nil {
			return String(variant.Name), nil
		}

		payload, err := variant.Node.Decode(s, d)
		if err != nil {
			return Value{}, err
		}

		return Mapping(Entry{Key: variant.Name, Value: payload}), nil
	}

	return Value{}, &scale.CodecError{
		Op:     "decode " + n.TypeName(),
		Offset: start,
		Err:    fmt.Errorf("%w: index %d", scale.ErrUnknownVariant, index),
	}
}

// OptionNode encodes Null as None and anything else as Some.
type OptionNode struct {
	Name string
	Elem Node
}

func (n *OptionNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return "Option<" + n.Elem.TypeName() + ">"
}

func (n *OptionNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	if v.IsNull() {
		e.EncodeUint8(0)

		return nil
	}

	e.EncodeUint8(1)

	return n.Elem.Encode(s, e, v)
}

func (n *OptionNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	start := d.Offset()

	tag, err := d.DecodeUint8()
	if err != nil {
		return Value{}, err
	}

	switch tag {
	case 0:
		return Null(), nil
	case 1:
		return n.Elem.Decode(s, d)
	default:
		return Value{}, &scale.CodecError{Op: "decode option", Offset: start, Err: scale.ErrUnknownVariant}
	}
}

// OptionBoolNode is the named single byte OptionBool: 0 None, 1 true,
// 2 false. Option<bool> itself uses the generic two byte layout.
type OptionBoolNode struct{}

func (n *OptionBoolNode) TypeName() string {
	return GenericTypeOptionBool
}

func (n *OptionBoolNode) Encode(_ *Session, e *scale.Encoder, v Value) error {
	if v.IsNull() {
		e.EncodeUint8(0)

		return nil
	}

	b, ok := v.AsBool()
	if !ok {
		return invalidValue(n.TypeName(), "expected bool or null, got %s", v.Kind())
	}

	if b {
		e.EncodeUint8(1)
	} else {
		e.EncodeUint8(2)
	}

	return nil
}

func (n *OptionBoolNode) Decode(_ *Session, d *scale.Decoder) (Value, error) {
	start := d.Offset()

	tag, err := d.DecodeUint8()
	if err != nil {
		return Value{}, err
	}

	switch tag {
	case 0:
		return Null(), nil
	case 1:
		return Bool(true), nil
	case 2:
		return Bool(false), nil
	default:
		return Value{}, &scale.CodecError{Op: "decode option bool", Offset: start, Err: scale.ErrUnknownVariant}
	}
}

// CompactNode is Compact<T> for integer-like T.
type CompactNode struct {
	Name string
	Elem Node
}

func (n *CompactNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return "Compact<" + n.Elem.TypeName() + ">"
}

func (n *CompactNode) Encode(s *Session, e *scale.Encoder, v Value) error {
	if inner, err := unwrap(s, n.Elem); err == nil {
		if _, ok := inner.(*NullNode); ok {
			return nil
		}
	}

	num, ok := v.AsNumber()
	if !ok {
		return invalidValue(n.TypeName(), "expected number, got %s", v.Kind())
	}

	if err := e.EncodeCompact(num); err != nil {
		return &TypeError{Key: n.TypeName(), Err: err}
	}

	return nil
}

func (n *CompactNode) Decode(s *Session, d *scale.Decoder) (Value, error) {
	if inner, err := unwrap(s, n.Elem); err == nil {
		if _, ok := inner.(*NullNode); ok {
			return Null(), nil
		}
	}

	num, err := d.DecodeCompact()
	if err != nil {
		return Value{}, err
	}

	return Value{kind: KindNumber, n: num}, nil
}

// BitSequenceNode is BitVec with Lsb0 ordering. Values are sequences of bools.
type BitSequenceNode struct {
	Name string
	// StoreSize is the byte width of the backing store, a power of two.
	StoreSize int
}

func (n *BitSequenceNode) TypeName() string {
	if n.Name != "" {
		return n.Name
	}

	return "BitVec"
}

func (n *BitSequenceNode) storeSize() int {
	if n.StoreSize <= 0 {
		return 1
	}

	return n.StoreSize
}

func (n *BitSequenceNode) byteLen(bits uint64) uint64 {
	store := uint64(n.storeSize())
	words := (bits + store*8 - 1) / (store * 8)

	return words * store
}

func (n *BitSequenceNode) Encode(_ *Session, e *scale.Encoder, v Value) error {
	items, ok := v.AsSequence()
	if !ok {
		return invalidValue(n.TypeName(), "expected sequence of bools, got %s", v.Kind())
	}

	out := make([]byte, n.byteLen(uint64(len(items))))

	for i, item := range items {
		b, ok := item.AsBool()
		if !ok {
			return invalidValue(n.TypeName(), "bit %d is not a bool", i)
		}

		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}

	e.EncodeCompactUint64(uint64(len(items)))
	e.Write(out)

	return nil
}

func (n *BitSequenceNode) Decode(_ *Session, d *scale.Decoder) (Value, error) {
	start := d.Offset()

	bits, err := d.DecodeCompactUint64()
	if err != nil {
		return Value{}, err
	}

	if bits > uint64(d.Remaining())*8 {
		return Value{}, &scale.CodecError{Op: "decode bit sequence", Offset: start, Err: scale.ErrOutOfBounds}
	}

	size := n.byteLen(bits)
	if size > uint64(d.Remaining()) {
		return Value{}, &scale.CodecError{Op: "decode bit sequence", Offset: d.Offset(), Err: scale.ErrOutOfBounds}
	}

	raw, err := d.Read(int(size))
	if err != nil {
		return Value{}, err
	}

	items := make([]Value, 0, bits)
	for i := uint64(0); i < bits; i++ {
		items = append(items, Bool(raw[i/8]&(1<<(i%8)) != 0))
	}

	return Sequence(items...), nil
}

// SetNode is a bit flag set over an unsigned integer. Values are sequences
// of flag names.
type SetNode struct {
	Name  string
	Size  int
	Flags []SetFlag
}

type SetFlag struct {
	Name string
	Bits uint64
}

func (n *SetNode) TypeName() string {
	return n.Name
}

func (n *SetNode) Encode(_ *Session, e *scale.Encoder, v Value) error {
	items, ok := v.AsSequence()
	if !ok {
		return invalidValue(n.TypeName(), "expected sequence of flags, got %s", v.Kind())
	}

	var mask uint64

	for _, item := range items {
		name, _ := item.AsString()

		found := false

		for _, f := range n.Flags {
			if f.Name == name {
				mask |= f.Bits
				found = true
			}
		}

		if !found {
			return invalidValue(n.TypeName(), "unknown flag %q", name)
		}
	}

	return e.EncodeUintN(new(big.Int).SetUint64(mask), n.Size)
}

func (n *SetNode) Decode(_ *Session, d *scale.Decoder) (Value, error) {
	num, err := d.DecodeUintN(n.Size)
	if err != nil {
		return Value{}, err
	}

	mask := num.Uint64()
	items := []Value{}

	for _, f := range n.Flags {
		if f.Bits != 0 && mask&f.Bits == f.Bits {
			items = append(items, String(f.Name))
		}
	}

	return Sequence(items...), nil
}
