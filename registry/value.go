package registry

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is one key of a Mapping value.
type Entry struct {
	Key   string
	Value Value
}

// Value is the dynamic, JSON-like input and output of the registry nodes.
// Mapping entries keep their insertion order; nodes never rely on it.
type Value struct {
	kind    Kind
	b       bool
	n       *big.Int
	s       string
	seq     []Value
	entries []Entry
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func Null() Value {
	return Value{}
}

func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

func Number(n *big.Int) Value {
	return Value{kind: KindNumber, n: new(big.Int).Set(n)}
}

func Uint(n uint64) Value {
	return Value{kind: KindNumber, n: new(big.Int).SetUint64(n)}
}

func Int(n int64) Value {
	return Value{kind: KindNumber, n: big.NewInt(n)}
}

func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Bytes returns b as a 0x prefixed hex string value.
func Bytes(b []byte) Value {
	return String(hexutil.Encode(b))
}

func Sequence(items ...Value) Value {
	return Value{kind: KindSequence, seq: items}
}

func Mapping(entries ...Entry) Value {
	return Value{kind: KindMapping, entries: entries}
}

// Map builds a mapping from alternating keys and values.
func Map(kv ...any) Value {
	if len(kv)%2 != 0 {
		panic("registry: Map needs key value pairs")
	}

	entries := make([]Entry, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		entries = append(entries, Entry{Key: kv[i].(string), Value: kv[i+1].(Value)})
	}

	return Mapping(entries...)
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.kind == KindNull
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsNumber returns the integer held by v. Decimal and 0x hex strings are
// accepted as numbers.
func (v Value) AsNumber() (*big.Int, bool) {
	switch v.kind {
	case KindNumber:
		return new(big.Int).Set(v.n), true
	case KindString:
		s := strings.TrimSpace(v.s)
		if has0xPrefix(s) {
			n, ok := new(big.Int).SetString(s[2:], 16)
			return n, ok
		}

		n, ok := new(big.Int).SetString(s, 10)

		return n, ok
	default:
		return nil, false
	}
}

func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsBytes returns the bytes held by v, given either as a 0x hex string or
// as a sequence of numbers in the u8 range.
func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindString:
		if !has0xPrefix(v.s) {
			return nil, false
		}

		b, err := hexutil.Decode(v.s)
		if err != nil {
			return nil, false
		}

		return b, true
	case KindSequence:
		out := make([]byte, 0, len(v.seq))
		for _, item := range v.seq {
			n, ok := item.AsNumber()
			if !ok || n.Sign() < 0 || n.BitLen() > 8 {
				return nil, false
			}

			out = append(out, byte(n.Uint64()))
		}

		return out, true
	default:
		return nil, false
	}
}

func (v Value) AsSequence() ([]Value, bool) {
	return v.seq, v.kind == KindSequence
}

func (v Value) Entries() ([]Entry, bool) {
	return v.entries, v.kind == KindMapping
}

// Get returns the value stored under key in a mapping.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.entries {
		if e.Key == key {
			return e.Value, true
		}
	}

	return Value{}, false
}

// Len is the number of items of a sequence or entries of a mapping.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.entries)
	default:
		return 0
	}
}

// Equal reports deep equality. Mappings compare without regard to order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n.Cmp(o.n) == 0
	case KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}

		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}

		return true
	default:
		if len(v.entries) != len(o.entries) {
			return false
		}

		for _, e := range v.entries {
			other, ok := o.Get(e.Key)
			if !ok || !e.Value.Equal(other) {
				return false
			}
		}

		return true
	}
}

func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}

	return string(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	writeValue(stream, v)

	if stream.Error != nil {
		return nil, stream.Error
	}

	out := make([]byte, len(stream.Buffer()))
	copy(out, stream.Buffer())

	return out, nil
}

func writeValue(stream *jsoniter.Stream, v Value) {
	switch v.kind {
	case KindNull:
		stream.WriteNil()
	case KindBool:
		stream.WriteBool(v.b)
	case KindNumber:
		stream.WriteRaw(v.n.String())
	case KindString:
		stream.WriteString(v.s)
	case KindSequence:
		stream.WriteArrayStart()

		for i, item := range v.seq {
			if i > 0 {
				stream.WriteMore()
			}

			writeValue(stream, item)
		}

		stream.WriteArrayEnd()
	case KindMapping:
		stream.WriteObjectStart()

		for i, e := range v.entries {
			if i > 0 {
				stream.WriteMore()
			}

			stream.WriteObjectField(e.Key)
			writeValue(stream, e.Value)
		}

		stream.WriteObjectEnd()
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}

	*v = parsed

	return nil
}

// ParseValue parses a JSON document into a Value, keeping object key order.
// Only integral numbers are accepted.
func ParseValue(data []byte) (Value, error) {
	iter := jsoniter.ParseBytes(json, data)

	v, err := readValue(iter)
	if err != nil {
		return Value{}, err
	}

	// reaching the end of input is reported as io.EOF
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return Value{}, fmt.Errorf("failed to parse value: %w", iter.Error)
	}

	if iter.WhatIsNext() != jsoniter.InvalidValue {
		return Value{}, fmt.Errorf("failed to parse value: trailing data")
	}

	return v, nil
}

func readValue(iter *jsoniter.Iterator) (Value, error) {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()

		return Null(), nil
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool()), nil
	case jsoniter.NumberValue:
		num := iter.ReadNumber()

		n, ok := new(big.Int).SetString(string(num), 10)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s is not an integer", ErrInvalidValue, num)
		}

		return Value{kind: KindNumber, n: n}, nil
	case jsoniter.StringValue:
		return String(iter.ReadString()), nil
	case jsoniter.ArrayValue:
		items := []Value{}

		var err error

		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			var item Value

			item, err = readValue(it)
			items = append(items, item)

			return err == nil
		})

		if err != nil {
			return Value{}, err
		}

		return Sequence(items...), nil
	case jsoniter.ObjectValue:
		entries := []Entry{}

		var err error

		iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
			var item Value

			item, err = readValue(it)
			entries = append(entries, Entry{Key: key, Value: item})

			return err == nil
		})

		if err != nil {
			return Value{}, err
		}

		return Mapping(entries...), nil
	default:
		if iter.Error != nil {
			return Value{}, fmt.Errorf("failed to parse value: %w", iter.Error)
		}

		return Value{}, fmt.Errorf("%w: unexpected json token", ErrInvalidValue)
	}
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
