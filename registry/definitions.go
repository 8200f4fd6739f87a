package registry

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TypeDefinitions is the JSON type dictionary format used for legacy
// runtimes:
//
//	{"types": {...}, "versioning": [{"runtime_range": [from, to|null], "types": {...}}]}
type TypeDefinitions struct {
	Types      map[string]jsoniter.RawMessage `json:"types"`
	Versioning []VersionedTypes               `json:"versioning"`
}

// VersionedTypes overrides definitions for runtime spec versions inside
// RuntimeRange. A null upper bound is open ended.
type VersionedTypes struct {
	RuntimeRange []*uint32                     `json:"runtime_range"`
	Types        map[string]jsoniter.RawMessage `json:"types"`
}

type rawDefinition struct {
	Type        string              `json:"type"`
	TypeMapping [][]string          `json:"type_mapping"`
	ValueList   jsoniter.RawMessage `json:"value_list"`
	ValueType   string              `json:"value_type"`
}

// ParseTypeDefinitions decodes a type definition document.
func ParseTypeDefinitions(data []byte) (*TypeDefinitions, error) {
	defs := &TypeDefinitions{}
	if err := json.Unmarshal(data, defs); err != nil {
		return nil, fmt.Errorf("failed to parse type definitions: %w", err)
	}

	for i, v := range defs.Versioning {
		if len(v.RuntimeRange) != 2 || v.RuntimeRange[0] == nil {
			return nil, fmt.Errorf("failed to parse type definitions: versioning[%d] needs a [from, to] runtime_range", i)
		}
	}

	return defs, nil
}

// overlay is a set of definitions active for a range of spec versions.
type overlay struct {
	from  uint32
	to    uint32
	types map[string]Node
}

func (o *overlay) contains(version uint32) bool {
	return version >= o.from && version <= o.to
}

func buildDefinitions(raw map[string]jsoniter.RawMessage) (map[string]Node, error) {
	out := make(map[string]Node, len(raw))

	var result error

	names := maps.Keys(raw)
	slices.Sort(names)

	for _, name := range names {
		node, err := buildDefinition(name, raw[name])
		if err != nil {
			result = multierror.Append(result, &TypeError{Key: name, Err: err})

			continue
		}

		out[name] = node
	}

	return out, result
}

func buildDefinition(name string, raw jsoniter.RawMessage) (Node, error) {
	var alias string
	if err := json.Unmarshal(raw, &alias); err == nil {
		node, err := parseTypeExpression(alias)
		if err != nil {
			return nil, err
		}

		// a bare alias to itself would never terminate
		if p, ok := node.(*ProxyNode); ok && p.Key == name {
			return nil, fmt.Errorf("%w: %s aliases itself", ErrUnknownType, name)
		}

		return node, nil
	}

	def := rawDefinition{}
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: definition is neither a string nor an object", ErrInvalidValue)
	}

	switch def.Type {
	case "struct":
		return buildStruct(name, def)
	case "enum":
		return buildEnum(name, def)
	case "set":
		return buildSet(name, def)
	default:
		return nil, fmt.Errorf("%w: unsupported definition type %q", ErrInvalidValue, def.Type)
	}
}

func buildStruct(name string, def rawDefinition) (Node, error) {
	fields := make([]Field, 0, len(def.TypeMapping))

	for _, pair := range def.TypeMapping {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: struct fields are [name, type] pairs", ErrInvalidValue)
		}

		node, err := parseTypeExpression(pair[1])
		if err != nil {
			return nil, err
		}

		fields = append(fields, Field{Name: pair[0], Node: node})
	}

	return &StructNode{Name: name, Fields: fields}, nil
}

func buildEnum(name string, def rawDefinition) (Node, error) {
	enum := &EnumNode{Name: name}

	if len(def.TypeMapping) > 0 {
		if len(def.TypeMapping) > math.MaxUint8+1 {
			return nil, fmt.Errorf("%w: too many variants", ErrInvalidValue)
		}

		for i, pair := range def.TypeMapping {
			if len(pair) != 2 {
				return nil, fmt.Errorf("%w: enum variants are [name, type] pairs", ErrInvalidValue)
			}

			variant := Variant{Name: pair[0], Index: uint8(i)}

			if t := normalizeTypeName(pair[1]); t != "Null" && t != "()" {
				node, err := parseTypeExpression(t)
				if err != nil {
					return nil, err
				}

				variant.Node = node
			}

			enum.Variants = append(enum.Variants, variant)
		}

		return enum, nil
	}

	var values []string
	if err := json.Unmarshal(def.ValueList, &values); err != nil {
		return nil, fmt.Errorf("%w: enum needs type_mapping or a value_list of names", ErrInvalidValue)
	}

	if len(values) > math.MaxUint8+1 {
		return nil, fmt.Errorf("%w: too many variants", ErrInvalidValue)
	}

	for i, v := range values {
		enum.Variants = append(enum.Variants, Variant{Name: v, Index: uint8(i)})
	}

	return enum, nil
}

func buildSet(name string, def rawDefinition) (Node, error) {
	size := map[string]int{"u8": 1, "u16": 2, "u32": 4, "u64": 8}[def.ValueType]
	if size == 0 {
		return nil, fmt.Errorf("%w: set value_type %q", ErrInvalidValue, def.ValueType)
	}

	set := &SetNode{Name: name, Size: size}

	var names []string
	if err := json.Unmarshal(def.ValueList, &names); err == nil {
		for i, n := range names {
			set.Flags = append(set.Flags, SetFlag{Name: n, Bits: 1 << i})
		}

		return set, nil
	}

	// object form keeps explicit bit values; iterate in document order
	iter := jsoniter.ParseBytes(json, def.ValueList)
	iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
		set.Flags = append(set.Flags, SetFlag{Name: key, Bits: it.ReadUint64()})

		return it.Error == nil
	})

	if iter.Error != nil || len(set.Flags) == 0 {
		return nil, fmt.Errorf("%w: set value_list must be a list or an object of flags", ErrInvalidValue)
	}

	return set, nil
}
