package registry_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pilacorp/go-substrate-did-sdk/internal/chaintest"
	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/registry/typedefs"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

var alice = bytes.Repeat([]byte{0xd4}, 32)

func newV14Catalog(t *testing.T) *registry.Catalog {
	t.Helper()

	c, err := registry.NewCatalogFromScaleInfo(nil, chaintest.MetadataV14(), registry.WithNameMapper(registry.CamelCaseNameMapper))
	require.NoError(t, err)

	return c
}

func newV13Catalog(t *testing.T) *registry.Catalog {
	t.Helper()

	c, err := registry.NewCatalogFromTypeDefinitions(typedefs.Default(), typedefs.Peaq(), chaintest.MetadataV13())
	require.NoError(t, err)

	return c
}

func addAttributeArgs() []registry.Entry {
	return []registry.Entry{
		{Key: "didAccount", Value: registry.Bytes(alice)},
		{Key: "name", Value: registry.Bytes([]byte("name"))},
		{Key: "value", Value: registry.Bytes([]byte("value"))},
		{Key: "validFor", Value: registry.Null()},
	}
}

func expectedAddAttributeArgs() []byte {
	out := append([]byte{}, alice...)
	out = append(out, 0x10, 'n', 'a', 'm', 'e')
	out = append(out, 0x14, 'v', 'a', 'l', 'u', 'e')

	return append(out, 0x00)
}

func TestV14EncodeCallVariant(t *testing.T) {
	c := newV14Catalog(t)

	enc := registry.NewDynamicEncoder(c, chaintest.SpecVersion)
	call := registry.Map("add_attribute", registry.Mapping(addAttributeArgs()...))
	require.NoError(t, enc.Encode(call, metadata.TypeKey(chaintest.TypePeaqDidCall)))

	want := append([]byte{0x00}, expectedAddAttributeArgs()...)
	assert.Equal(t, want, enc.Bytes())

	dec := registry.NewDynamicDecoder(enc.Bytes(), c, chaintest.SpecVersion)
	got, err := dec.Decode(metadata.TypeKey(chaintest.TypePeaqDidCall))
	require.NoError(t, err)
	assert.True(t, call.Equal(got), got.String())
	assert.Equal(t, 0, dec.Remaining())
}

func TestStructFieldOrderDeterminism(t *testing.T) {
	c := newV14Catalog(t)
	want := append([]byte{0x00}, expectedAddAttributeArgs()...)

	rapid.Check(t, func(rt *rapid.T) {
		entries := rapid.Permutation(addAttributeArgs()).Draw(rt, "entries")

		enc := registry.NewDynamicEncoder(c, chaintest.SpecVersion)
		err := enc.Encode(registry.Map("add_attribute", registry.Mapping(entries...)), "peaq_pallet_did::pallet::Call")
		require.NoError(rt, err)
		require.Equal(rt, want, enc.Bytes())
	})
}

func TestStructMissingAndUnknownFields(t *testing.T) {
	c := newV14Catalog(t)
	enc := registry.NewDynamicEncoder(c, chaintest.SpecVersion)

	args := addAttributeArgs()[:3]
	err := enc.Encode(registry.Map("add_attribute", registry.Mapping(args...)), metadata.TypeKey(chaintest.TypePeaqDidCall))
	require.ErrorIs(t, err, registry.ErrInvalidValue)
	assert.Contains(t, err.Error(), "validFor")

	args = append(addAttributeArgs(), registry.Entry{Key: "extra", Value: registry.Uint(1)})
	err = enc.Encode(registry.Map("add_attribute", registry.Mapping(args...)), metadata.TypeKey(chaintest.TypePeaqDidCall))
	require.ErrorIs(t, err, registry.ErrInvalidValue)

	assert.Empty(t, enc.Bytes(), "failed encodes must not write")
}

func TestResolveUnknownType(t *testing.T) {
	c := newV14Catalog(t)

	_, err := c.Resolve("DoesNotExist", chaintest.SpecVersion)
	require.ErrorIs(t, err, registry.ErrUnknownType)

	var typeErr *registry.TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "DoesNotExist", typeErr.Key)

	_, err = registry.NewDynamicEncoder(c, 0).Session().Resolve("9999")
	require.ErrorIs(t, err, registry.ErrUnknownType)
}

func TestResolveAmbiguousPath(t *testing.T) {
	meta := chaintest.MetadataV14()
	meta.Types = append(meta.Types, metadata.PortableType{
		ID: 500,
		Type: metadata.Type{
			Path: []string{"primitive_types", "H256"},
			Def:  metadata.TypeDef{Kind: metadata.TypeDefArray, Len: 32, Elem: chaintest.TypeU8},
		},
	})

	c, err := registry.NewCatalogFromScaleInfo(nil, meta)
	require.NoError(t, err)

	_, err = c.Resolve("primitive_types::H256", 0)
	require.ErrorIs(t, err, registry.ErrAmbiguousType)

	// unique paths alias their id
	node, err := c.Resolve("sp_core::crypto::AccountId32", 0)
	require.NoError(t, err)
	assert.Equal(t, metadata.TypeKey(chaintest.TypeAccountID), node.TypeName())
}

func TestV14RejectsDanglingTypeReference(t *testing.T) {
	meta := chaintest.MetadataV14()
	meta.Types = append(meta.Types, metadata.PortableType{
		ID:   600,
		Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefSequence, Elem: 4242}},
	})

	_, err := registry.NewCatalogFromScaleInfo(nil, meta)
	require.ErrorIs(t, err, registry.ErrUnknownType)
}

func TestRecursiveType(t *testing.T) {
	// Tree { children: Vec<Tree>, leaf: u32 }
	meta := &metadata.V14{Types: []metadata.PortableType{
		{ID: 0, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefPrimitive, Primitive: metadata.PrimitiveU32}}},
		{ID: 1, Type: metadata.Type{Path: []string{"Tree"}, Def: metadata.TypeDef{Kind: metadata.TypeDefComposite, Fields: []metadata.Field{
			{Name: "children", Type: 2},
			{Name: "leaf", Type: 0},
		}}}},
		{ID: 2, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefSequence, Elem: 1}}},
	}}

	c, err := registry.NewCatalogFromScaleInfo(nil, meta)
	require.NoError(t, err)

	leaf := func(n uint64) registry.Value {
		return registry.Map("children", registry.Sequence(), "leaf", registry.Uint(n))
	}

	tree := registry.Map("children", registry.Sequence(leaf(1), leaf(2)), "leaf", registry.Uint(3))

	enc := registry.NewDynamicEncoder(c, 0)
	require.NoError(t, enc.Encode(tree, "Tree"))
	assert.Equal(t, []byte{
		0x08,
		0x00, 0x01, 0x00, 0x00, 0x00,
		0x00, 0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00,
	}, enc.Bytes())

	got, err := registry.NewDynamicDecoder(enc.Bytes(), c, 0).Decode("Tree")
	require.NoError(t, err)
	assert.True(t, tree.Equal(got))
}

func TestEnumUnknownVariantOnDecode(t *testing.T) {
	c := newV14Catalog(t)

	_, err := registry.NewDynamicDecoder([]byte{0x07}, c, 0).Decode(metadata.TypeKey(chaintest.TypeMultiSignature))
	require.ErrorIs(t, err, scale.ErrUnknownVariant)

	var codecErr *scale.CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.Equal(t, 0, codecErr.Offset)
}

func TestV14CustomNodes(t *testing.T) {
	c := newV14Catalog(t)

	node, err := c.Resolve(metadata.TypeKey(chaintest.TypeEra), 0)
	require.NoError(t, err)
	assert.IsType(t, &registry.EraNode{}, node)

	node, err = c.Resolve("pallet_identity::types::Data", 0)
	require.NoError(t, err)

	enc := registry.NewDynamicEncoder(c, 0)
	require.NoError(t, enc.Encode(registry.Map("Raw", registry.Bytes([]byte("peaq"))), node.TypeName()))
	assert.Equal(t, []byte{0x05, 'p', 'e', 'a', 'q'}, enc.Bytes())
}

func TestEraNodeEncoding(t *testing.T) {
	tests := []struct {
		name   string
		value  registry.Value
		expect []byte
	}{
		{name: "immortal", value: registry.String("Immortal"), expect: []byte{0x00}},
		{name: "null is immortal", value: registry.Null(), expect: []byte{0x00}},
		{name: "mortal 64/42", value: registry.Map("period", registry.Uint(64), "phase", registry.Uint(42)), expect: []byte{0xa5, 0x02}},
		{name: "mortal 32768/20000", value: registry.Map("period", registry.Uint(32768), "phase", registry.Uint(20000)), expect: []byte{0x4e, 0x9c}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := scale.NewEncoder()
			require.NoError(t, (&registry.EraNode{}).Encode(nil, e, tt.value))
			assert.Equal(t, tt.expect, e.Bytes())

			got, err := (&registry.EraNode{}).Decode(nil, scale.NewDecoder(e.Bytes()))
			require.NoError(t, err)

			if tt.value.IsNull() {
				assert.Equal(t, registry.String("Immortal"), got)
			} else {
				assert.True(t, tt.value.Equal(got), got.String())
			}
		})
	}

	err := (&registry.EraNode{}).Encode(nil, scale.NewEncoder(), registry.Map("period", registry.Uint(100), "phase", registry.Uint(1)))
	require.ErrorIs(t, err, registry.ErrInvalidValue)
}

func TestDataNodeRoundTrip(t *testing.T) {
	hash := bytes.Repeat([]byte{0xab}, 32)

	for _, v := range []registry.Value{
		registry.String("None"),
		registry.Map("Raw", registry.Bytes(nil)),
		registry.Map("Raw", registry.Bytes(bytes.Repeat([]byte{1}, 32))),
		registry.Map("BlakeTwo256", registry.Bytes(hash)),
		registry.Map("ShaThree256", registry.Bytes(hash)),
	} {
		e := scale.NewEncoder()
		require.NoError(t, (&registry.DataNode{}).Encode(nil, e, v))

		got, err := (&registry.DataNode{}).Decode(nil, scale.NewDecoder(e.Bytes()))
		require.NoError(t, err)
		assert.True(t, v.Equal(got), got.String())
	}

	err := (&registry.DataNode{}).Encode(nil, scale.NewEncoder(), registry.Map("Raw", registry.Bytes(make([]byte, 33))))
	require.ErrorIs(t, err, registry.ErrInvalidValue)

	_, err = (&registry.DataNode{}).Decode(nil, scale.NewDecoder([]byte{38}))
	require.ErrorIs(t, err, scale.ErrUnknownVariant)
}

func TestV13CatalogVersionedOverlay(t *testing.T) {
	c := newV13Catalog(t)

	// spec versions 0..1 use a plain account id as address
	enc := registry.NewDynamicEncoder(c, 1)
	require.NoError(t, enc.Encode(registry.Bytes(alice), "Address"))
	assert.Equal(t, alice, enc.Bytes())

	enc = registry.NewDynamicEncoder(c, chaintest.SpecVersion)
	require.NoError(t, enc.Encode(registry.Map("Id", registry.Bytes(alice)), "Address"))
	assert.Equal(t, append([]byte{0x00}, alice...), enc.Bytes())
}

func TestV13EncodeCallArguments(t *testing.T) {
	c := newV13Catalog(t)
	enc := registry.NewDynamicEncoder(c, chaintest.SpecVersion)

	require.NoError(t, enc.Encode(registry.Bytes(alice), "T::AccountId"))
	require.NoError(t, enc.Encode(registry.Bytes([]byte("name")), "Vec<u8>"))
	require.NoError(t, enc.Encode(registry.Bytes([]byte("value")), "Vec<u8>"))
	require.NoError(t, enc.Encode(registry.Null(), "Option<T::BlockNumber>"))

	assert.Equal(t, expectedAddAttributeArgs(), enc.Bytes())
}

func TestV13GenericCall(t *testing.T) {
	c := newV13Catalog(t)

	call := registry.Map(
		"module", registry.String("PeaqDid"),
		"call", registry.String("add_attribute"),
		"args", registry.Map(
			"did_account", registry.Bytes(alice),
			"name", registry.Bytes([]byte("name")),
			"value", registry.Bytes([]byte("value")),
			"valid_for", registry.Null(),
		),
	)

	enc := registry.NewDynamicEncoder(c, chaintest.SpecVersion)
	require.NoError(t, enc.Encode(call, registry.GenericTypeCall))
	assert.Equal(t, append([]byte{chaintest.PeaqDidIndex, 0x00}, expectedAddAttributeArgs()...), enc.Bytes())

	got, err := registry.NewDynamicDecoder(enc.Bytes(), c, chaintest.SpecVersion).Decode("Call")
	require.NoError(t, err)
	assert.True(t, call.Equal(got), got.String())
}

func TestV13SetAndEnumDefinitions(t *testing.T) {
	c := newV13Catalog(t)
	enc := registry.NewDynamicEncoder(c, chaintest.SpecVersion)

	require.NoError(t, enc.Encode(registry.Sequence(registry.String("Display"), registry.String("Email")), "IdentityFields"))
	require.NoError(t, enc.Encode(registry.String("Operational"), "DispatchClass"))
	require.NoError(t, enc.Encode(registry.Map("Ok", registry.Null()), "DispatchResult"))

	assert.Equal(t, []byte{0x11, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x00}, enc.Bytes())

	dec := registry.NewDynamicDecoder(enc.Bytes(), c, chaintest.SpecVersion)

	fields, err := dec.Decode("IdentityFields")
	require.NoError(t, err)
	assert.Equal(t, `["Display","Email"]`, fields.String())

	class, err := dec.Decode("DispatchClass")
	require.NoError(t, err)
	assert.Equal(t, registry.String("Operational"), class)
}

func TestV13MissingTypeFailsConstruction(t *testing.T) {
	meta := chaintest.MetadataV13()
	meta.Modules[2].Calls[0].Args[0].Type = "T::DidAccount"

	_, err := registry.NewCatalogFromTypeDefinitions(typedefs.Default(), typedefs.Peaq(), meta)
	require.ErrorIs(t, err, registry.ErrUnknownType)
	assert.Contains(t, err.Error(), "DidAccount")
}

func TestPrimitiveAndCompactNodes(t *testing.T) {
	c := newV13Catalog(t)
	enc := registry.NewDynamicEncoder(c, 0)

	require.NoError(t, enc.Encode(registry.Int(-1), "i16"))
	require.NoError(t, enc.Encode(registry.String("1000000"), "Compact<u128>"))
	require.NoError(t, enc.Encode(registry.Bool(false), "Option<bool>"))
	require.NoError(t, enc.Encode(registry.Bool(false), "OptionBool"))
	require.NoError(t, enc.Encode(registry.String("0x0102"), "[u8; 2]"))
	require.NoError(t, enc.Encode(registry.Sequence(registry.Bool(true), registry.Bool(false), registry.Bool(true)), "BitVec"))

	assert.Equal(t, []byte{
		0xff, 0xff,
		0x02, 0x09, 0x3d, 0x00,
		0x01, 0x00,
		0x02,
		0x01, 0x02,
		0x0c, 0x05,
	}, enc.Bytes())

	err := enc.Encode(registry.Uint(256), "u8")
	require.ErrorIs(t, err, scale.ErrOverflow)

	err = enc.Encode(registry.String("0x01"), "[u8; 2]")
	require.ErrorIs(t, err, registry.ErrInvalidValue)
}

func TestCatalogKeysSorted(t *testing.T) {
	for _, c := range []*registry.Catalog{newV13Catalog(t), newV14Catalog(t)} {
		keys := c.Keys()
		require.NotEmpty(t, keys)
		assert.IsIncreasing(t, keys)
	}
}

func TestOptionBoolEncoding(t *testing.T) {
	// Option<bool> as scale-info describes it
	meta := &metadata.V14{Types: []metadata.PortableType{
		{ID: 0, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefPrimitive, Primitive: metadata.PrimitiveBool}}},
		{ID: 1, Type: metadata.Type{Path: []string{"Option"}, Def: metadata.TypeDef{Kind: metadata.TypeDefVariant, Variants: []metadata.Variant{
			{Name: "None", Index: 0},
			{Name: "Some", Index: 1, Fields: []metadata.Field{{Type: 0}}},
		}}}},
	}}

	v14, err := registry.NewCatalogFromScaleInfo(nil, meta)
	require.NoError(t, err)

	v13 := newV13Catalog(t)

	tests := []struct {
		name    string
		catalog *registry.Catalog
		typ     string
		value   registry.Value
		want    []byte
	}{
		{name: "v14 some false", catalog: v14, typ: metadata.TypeKey(1), value: registry.Bool(false), want: []byte{0x01, 0x00}},
		{name: "v14 some true", catalog: v14, typ: metadata.TypeKey(1), value: registry.Bool(true), want: []byte{0x01, 0x01}},
		{name: "v14 none", catalog: v14, typ: metadata.TypeKey(1), value: registry.Null(), want: []byte{0x00}},
		{name: "v13 some false", catalog: v13, typ: "Option<bool>", value: registry.Bool(false), want: []byte{0x01, 0x00}},
		{name: "v13 some true", catalog: v13, typ: "Option<bool>", value: registry.Bool(true), want: []byte{0x01, 0x01}},
		{name: "named some false", catalog: v13, typ: "OptionBool", value: registry.Bool(false), want: []byte{0x02}},
		{name: "named some true", catalog: v13, typ: "OptionBool", value: registry.Bool(true), want: []byte{0x01}},
		{name: "named none", catalog: v13, typ: "OptionBool", value: registry.Null(), want: []byte{0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := registry.NewDynamicEncoder(tt.catalog, 0)
			require.NoError(t, enc.Encode(tt.value, tt.typ))
			assert.Equal(t, tt.want, enc.Bytes())

			got, err := registry.NewDynamicDecoder(tt.want, tt.catalog, 0).Decode(tt.typ)
			require.NoError(t, err)
			assert.True(t, tt.value.Equal(got))
		})
	}
}

func TestBitSequenceLengthOverflow(t *testing.T) {
	c := newV13Catalog(t)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "max u64 bits", data: []byte{0x13, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{name: "bits beyond input", data: []byte{0x24, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, err := registry.NewDynamicDecoder(tt.data, c, 0).Decode("BitVec")
				require.ErrorIs(t, err, scale.ErrOutOfBounds)
			})
		})
	}

	wide := &registry.BitSequenceNode{StoreSize: 8}
	_, err := wide.Decode(nil, scale.NewDecoder([]byte{0x13, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	require.ErrorIs(t, err, scale.ErrOutOfBounds)
}

func TestVectorOfZeroSizeElements(t *testing.T) {
	c := newV13Catalog(t)

	for _, typ := range []string{"Vec<()>", "Vec<Null>", "Vec<((), Null)>"} {
		t.Run(typ, func(t *testing.T) {
			got, err := registry.NewDynamicDecoder([]byte{0x0c}, c, 0).Decode(typ)
			require.NoError(t, err)

			items, ok := got.AsSequence()
			require.True(t, ok)
			assert.Len(t, items, 3)

			enc := registry.NewDynamicEncoder(c, 0)
			require.NoError(t, enc.Encode(got, typ))
			assert.Equal(t, []byte{0x0c}, enc.Bytes())
		})
	}

	_, err := registry.NewDynamicDecoder([]byte{0x0c}, c, 0).Decode("Vec<u8>")
	require.ErrorIs(t, err, scale.ErrOutOfBounds)

	_, err = registry.NewDynamicDecoder([]byte{0x13, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, c, 0).Decode("Vec<()>")
	require.ErrorIs(t, err, scale.ErrOutOfBounds)
}
