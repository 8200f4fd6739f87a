// Package registry builds a runtime agnostic type catalog from runtime
// metadata and encodes or decodes dynamic values through it.
//
// Legacy (v13) runtimes describe types by name, so the catalog is built from
// JSON type definitions plus the names the metadata references. Modern (v14)
// runtimes carry a portable type registry that the catalog walks directly.
package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
)

// RuntimeType is the view of a v14 portable type handed to a TypeMapper.
type RuntimeType struct {
	ID     uint32
	Path   []string
	Params []metadata.TypeParam
}

// PathString joins the type path with "::".
func (t RuntimeType) PathString() string {
	return strings.Join(t.Path, "::")
}

// TypeMapper may substitute the node generated for a portable type. It
// returns nil to keep the generated node.
type TypeMapper func(t RuntimeType) Node

// NameMapper renames struct fields of portable types.
type NameMapper func(name string) string

// DefaultTypeMapper maps identity Data and extrinsic Era to their custom nodes.
func DefaultTypeMapper(t RuntimeType) Node {
	switch t.PathString() {
	case "pallet_identity::types::Data":
		return &DataNode{}
	case "sp_runtime::generic::era::Era":
		return &EraNode{}
	default:
		return nil
	}
}

// ChainTypeMappers returns the first non nil node produced by mappers.
func ChainTypeMappers(mappers ...TypeMapper) TypeMapper {
	return func(t RuntimeType) Node {
		for _, m := range mappers {
			if m == nil {
				continue
			}

			if node := m(t); node != nil {
				return node
			}
		}

		return nil
	}
}

// CamelCaseNameMapper turns snake_case field names into camelCase.
func CamelCaseNameMapper(name string) string {
	parts := strings.Split(name, "_")

	var b strings.Builder

	for i, part := range parts {
		if part == "" {
			continue
		}

		if i == 0 || b.Len() == 0 {
			b.WriteString(part)

			continue
		}

		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}

	return b.String()
}

type catalogConfig struct {
	typeMapper TypeMapper
	nameMapper NameMapper
	logger     hclog.Logger
}

type Option func(*catalogConfig)

func WithTypeMapper(m TypeMapper) Option {
	return func(c *catalogConfig) {
		c.typeMapper = m
	}
}

func WithNameMapper(m NameMapper) Option {
	return func(c *catalogConfig) {
		c.nameMapper = m
	}
}

func WithLogger(logger hclog.Logger) Option {
	return func(c *catalogConfig) {
		c.logger = logger
	}
}

func resolveConfig(opts []Option) *catalogConfig {
	cfg := &catalogConfig{
		typeMapper: DefaultTypeMapper,
		logger:     hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// Catalog maps registry keys to nodes. Keys are type names and type
// expressions for v13 and decimal type ids or unique joined paths for v14.
// A Catalog is immutable and safe for concurrent use.
type Catalog struct {
	base       map[string]Node
	overlays   []overlay
	ambiguous  map[string]struct{}
	nameMapper NameMapper
	meta       metadata.RuntimeMetadata
}

// Metadata returns the runtime metadata the catalog was built from.
func (c *Catalog) Metadata() metadata.RuntimeMetadata {
	return c.meta
}

// MapName applies the catalog's field name mapper.
func (c *Catalog) MapName(name string) string {
	if c.nameMapper == nil {
		return name
	}

	return c.nameMapper(name)
}

// Keys returns the sorted base keys of the catalog.
func (c *Catalog) Keys() []string {
	keys := maps.Keys(c.base)
	slices.Sort(keys)

	return keys
}

// Resolve returns the node for key at the given runtime spec version.
// Versioned definitions win over base definitions.
func (c *Catalog) Resolve(key string, version uint32) (Node, error) {
	if node, ok := c.lookup(key, version); ok {
		return node, nil
	}

	if _, ok := c.ambiguous[key]; ok {
		return nil, &TypeError{Key: key, Err: ErrAmbiguousType}
	}

	normalized := normalizeTypeName(key)
	if normalized != key {
		if node, ok := c.lookup(normalized, version); ok {
			return node, nil
		}
	}

	if strings.ContainsAny(normalized, "<[(") {
		node, err := parseTypeExpression(normalized)
		if err != nil {
			return nil, &TypeError{Key: key, Err: err}
		}

		return node, nil
	}

	return nil, unknownType(key)
}

func (c *Catalog) lookup(key string, version uint32) (Node, bool) {
	for i := len(c.overlays) - 1; i >= 0; i-- {
		if !c.overlays[i].contains(version) {
			continue
		}

		if node, ok := c.overlays[i].types[key]; ok {
			return node, true
		}
	}

	node, ok := c.base[key]

	return node, ok
}

// NewCatalogFromTypeDefinitions builds a v13 catalog. Chain definitions
// override base definitions; every type the metadata references must
// resolve.
func NewCatalogFromTypeDefinitions(base, chain []byte, meta *metadata.V13, opts ...Option) (*Catalog, error) {
	cfg := resolveConfig(opts)

	c := &Catalog{
		base:       builtinTypes(),
		nameMapper: cfg.nameMapper,
	}

	if meta != nil {
		c.meta = meta
	}

	var result error

	for _, doc := range [][]byte{base, chain} {
		if len(doc) == 0 {
			continue
		}

		defs, err := ParseTypeDefinitions(doc)
		if err != nil {
			return nil, err
		}

		nodes, err := buildDefinitions(defs.Types)
		if err != nil {
			result = multierror.Append(result, err)
		}

		maps.Copy(c.base, nodes)

		for _, v := range defs.Versioning {
			nodes, err := buildDefinitions(v.Types)
			if err != nil {
				result = multierror.Append(result, err)
			}

			o := overlay{from: *v.RuntimeRange[0], to: ^uint32(0), types: nodes}
			if v.RuntimeRange[1] != nil {
				o.to = *v.RuntimeRange[1]
			}

			c.overlays = append(c.overlays, o)
		}
	}

	if result != nil {
		return nil, fmt.Errorf("failed to build type definitions: %w", result)
	}

	if meta != nil {
		if err := c.validateNames(meta); err != nil {
			return nil, fmt.Errorf("failed to build catalog: %w", err)
		}
	}

	cfg.logger.Debug("type catalog built", "metadata", 13, "types", len(c.base), "overlays", len(c.overlays))

	return c, nil
}

// validateNames checks that every call argument, constant and event type
// of the metadata resolves in at least one definition set.
func (c *Catalog) validateNames(meta *metadata.V13) error {
	seen := map[string]bool{}

	var names []string

	for _, mod := range meta.Modules {
		for _, fn := range mod.Calls {
			for _, arg := range fn.Args {
				names = append(names, arg.Type)
			}
		}

		for _, ev := range mod.Events {
			names = append(names, ev.Args...)
		}

		for _, constant := range mod.Constants {
			names = append(names, constant.Type)
		}
	}

	var result error

	for _, name := range names {
		if err := c.validateKey(name, seen); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result
}

func (c *Catalog) validateKey(key string, seen map[string]bool) error {
	if seen[key] {
		return nil
	}

	seen[key] = true

	versions := []uint32{0}
	for _, o := range c.overlays {
		versions = append(versions, o.from)
	}

	var (
		node    Node
		lastErr error
	)

	for _, version := range versions {
		n, err := c.Resolve(key, version)
		if err == nil {
			node = n

			break
		}

		lastErr = err
	}

	if node == nil {
		return lastErr
	}

	var result error

	for _, ref := range references(node) {
		if err := c.validateKey(ref, seen); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result
}

// references lists the proxy keys reachable from node without resolving them.
func references(node Node) []string {
	switch n := node.(type) {
	case *ProxyNode:
		return []string{n.Key}
	case *FixedArrayNode:
		return references(n.Elem)
	case *VectorNode:
		return references(n.Elem)
	case *OptionNode:
		return references(n.Elem)
	case *CompactNode:
		return references(n.Elem)
	case *TupleNode:
		var out []string
		for _, elem := range n.Elems {
			out = append(out, references(elem)...)
		}

		return out
	case *StructNode:
		var out []string
		for _, f := range n.Fields {
			out = append(out, references(f.Node)...)
		}

		return out
	case *EnumNode:
		var out []string
		for _, v := range n.Variants {
			if v.Node != nil {
				out = append(out, references(v.Node)...)
			}
		}

		return out
	default:
		return nil
	}
}

// NewCatalogFromScaleInfo builds a v14 catalog from the portable registry.
// The optional chain definitions add named v13 style types next to the
// numeric ids, which lets callers refer to e.g. "Address".
func NewCatalogFromScaleInfo(chain []byte, meta *metadata.V14, opts ...Option) (*Catalog, error) {
	if meta == nil {
		return nil, fmt.Errorf("failed to build catalog: missing v14 metadata")
	}

	cfg := resolveConfig(opts)

	c := &Catalog{
		base:       make(map[string]Node, len(meta.Types)*2),
		ambiguous:  map[string]struct{}{},
		nameMapper: cfg.nameMapper,
		meta:       meta,
	}

	ids := make(map[uint32]struct{}, len(meta.Types))
	for _, t := range meta.Types {
		ids[t.ID] = struct{}{}
	}

	var result error

	paths := map[string]int{}

	for _, t := range meta.Types {
		node, err := c.buildPortable(meta, t, ids, cfg)
		if err != nil {
			result = multierror.Append(result, &TypeError{Key: metadata.TypeKey(t.ID), Err: err})

			continue
		}

		c.base[metadata.TypeKey(t.ID)] = node

		if len(t.Type.Path) > 0 {
			paths[strings.Join(t.Type.Path, "::")]++
		}
	}

	if result != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", result)
	}

	for _, t := range meta.Types {
		if len(t.Type.Path) == 0 {
			continue
		}

		path := strings.Join(t.Type.Path, "::")
		if paths[path] > 1 {
			c.ambiguous[path] = struct{}{}

			continue
		}

		c.base[path] = &ProxyNode{Key: metadata.TypeKey(t.ID)}
	}

	if len(chain) > 0 {
		defs, err := ParseTypeDefinitions(chain)
		if err != nil {
			return nil, err
		}

		nodes, err := buildDefinitions(defs.Types)
		if err != nil {
			return nil, fmt.Errorf("failed to build type definitions: %w", err)
		}

		for name, node := range nodes {
			// portable ids and paths always win
			if _, exists := c.base[name]; !exists {
				c.base[name] = node
			}
		}
	}

	cfg.logger.Debug("type catalog built", "metadata", 14, "types", len(meta.Types), "ambiguous_paths", len(c.ambiguous))

	return c, nil
}

func (c *Catalog) buildPortable(meta *metadata.V14, t metadata.PortableType, ids map[uint32]struct{}, cfg *catalogConfig) (Node, error) {
	rt := RuntimeType{ID: t.ID, Path: t.Type.Path, Params: t.Type.Params}
	if cfg.typeMapper != nil {
		if node := cfg.typeMapper(rt); node != nil {
			return node, nil
		}
	}

	name := rt.PathString()
	if name == "" {
		name = metadata.TypeKey(t.ID)
	}

	ref := func(id uint32) (Node, error) {
		if _, ok := ids[id]; !ok {
			return nil, fmt.Errorf("%w: type id %d", ErrUnknownType, id)
		}

		return &ProxyNode{Key: metadata.TypeKey(id)}, nil
	}

	fields := func(in []metadata.Field, structName string) (Node, error) {
		out := make([]Field, 0, len(in))
		for _, f := range in {
			node, err := ref(f.Type)
			if err != nil {
				return nil, err
			}

			fieldName := f.Name
			if fieldName != "" && c.nameMapper != nil {
				fieldName = c.nameMapper(fieldName)
			}

			out = append(out, Field{Name: fieldName, Node: node})
		}

		return &StructNode{Name: structName, Fields: out}, nil
	}

	def := t.Type.Def

	switch def.Kind {
	case metadata.TypeDefComposite:
		return fields(def.Fields, name)
	case metadata.TypeDefVariant:
		if name == "Option" && len(def.Variants) == 2 {
			return optionNode(t, ref)
		}

		enum := &EnumNode{Name: name}

		for _, v := range def.Variants {
			variant := Variant{Name: v.Name, Index: v.Index}

			if len(v.Fields) > 0 {
				payload, err := fields(v.Fields, v.Name)
				if err != nil {
					return nil, err
				}

				variant.Node = payload
			}

			enum.Variants = append(enum.Variants, variant)
		}

		return enum, nil
	case metadata.TypeDefSequence:
		elem, err := ref(def.Elem)
		if err != nil {
			return nil, err
		}

		return &VectorNode{Elem: elem}, nil
	case metadata.TypeDefArray:
		elem, err := ref(def.Elem)
		if err != nil {
			return nil, err
		}

		return &FixedArrayNode{Len: int(def.Len), Elem: elem}, nil
	case metadata.TypeDefTuple:
		if len(def.Tuple) == 0 {
			return &NullNode{Name: "()"}, nil
		}

		elems := make([]Node, 0, len(def.Tuple))
		for _, id := range def.Tuple {
			elem, err := ref(id)
			if err != nil {
				return nil, err
			}

			elems = append(elems, elem)
		}

		return &TupleNode{Elems: elems}, nil
	case metadata.TypeDefPrimitive:
		return &PrimitiveNode{Kind: def.Primitive}, nil
	case metadata.TypeDefCompact:
		elem, err := ref(def.Elem)
		if err != nil {
			return nil, err
		}

		return &CompactNode{Elem: elem}, nil
	case metadata.TypeDefBitSequence:
		store, err := meta.Lookup(def.BitStore)
		if err != nil {
			return nil, err
		}

		size, _ := intSize(store.Def.Primitive)
		if store.Def.Kind != metadata.TypeDefPrimitive || size == 0 || size > 8 {
			return nil, fmt.Errorf("%w: bit sequence store must be an unsigned integer", ErrInvalidValue)
		}

		return &BitSequenceNode{StoreSize: size}, nil
	default:
		return nil, fmt.Errorf("%w: type definition kind %d", ErrUnknownType, def.Kind)
	}
}

func optionNode(t metadata.PortableType, ref func(uint32) (Node, error)) (Node, error) {
	var some *metadata.Variant

	for i := range t.Type.Def.Variants {
		if t.Type.Def.Variants[i].Name == "Some" {
			some = &t.Type.Def.Variants[i]
		}
	}

	if some == nil || len(some.Fields) != 1 {
		return nil, fmt.Errorf("%w: malformed Option", ErrInvalidValue)
	}

	elem, err := ref(some.Fields[0].Type)
	if err != nil {
		return nil, err
	}

	return &OptionNode{Elem: elem}, nil
}
