// Package chaintest provides runtime metadata fixtures and an in-process
// Substrate node for tests.
package chaintest

import (
	"encoding/binary"

	"github.com/pilacorp/go-substrate-did-sdk/metadata"
)

const (
	SpecVersion        uint32 = 3
	TransactionVersion uint32 = 1
	BlockHashCount     uint32 = 2400
	MinimumPeriod      uint64 = 6000

	SystemIndex    uint8 = 0
	TimestampIndex uint8 = 3
	PeaqDidIndex   uint8 = 100
)

// Type ids of the v14 fixture registry.
const (
	TypeU8 uint32 = iota
	TypeBytes32
	TypeAccountID
	TypeU32
	TypeVecU8
	TypeOptionU32
	TypePeaqDidCall
	TypeU64
	TypeUnit
	TypeMultiAddress
	TypeCompactU32
	TypeBytes20
	TypeBytes64
	TypeEd25519Signature
	TypeSr25519Signature
	TypeBytes65
	TypeEcdsaSignature
	TypeMultiSignature
	TypeEra
	TypeCheckNonZeroSender
	TypeCheckSpecVersion
	TypeCheckTxVersion
	TypeCheckGenesis
	TypeCheckMortality
	TypeCheckNonce
	TypeCheckWeight
	TypeU128
	TypeCompactU128
	TypeChargeTransactionPayment
	TypeH256
	TypeUncheckedExtrinsic
	TypeRuntimeCall
	TypeExtra
	TypeSystemCall
	TypeStr
	TypeBool
	TypeIdentityData
	TypeAttribute
)

func id(v uint32) *uint32 {
	return &v
}

func u32le(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func u64le(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

func primitive(tid uint32, p metadata.Primitive) metadata.PortableType {
	return metadata.PortableType{ID: tid, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefPrimitive, Primitive: p}}}
}

func array(tid, length, elem uint32) metadata.PortableType {
	return metadata.PortableType{ID: tid, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefArray, Len: length, Elem: elem}}}
}

func composite(tid uint32, path []string, fields ...metadata.Field) metadata.PortableType {
	return metadata.PortableType{ID: tid, Type: metadata.Type{Path: path, Def: metadata.TypeDef{Kind: metadata.TypeDefComposite, Fields: fields}}}
}

func variant(tid uint32, path []string, variants ...metadata.Variant) metadata.PortableType {
	return metadata.PortableType{ID: tid, Type: metadata.Type{Path: path, Def: metadata.TypeDef{Kind: metadata.TypeDefVariant, Variants: variants}}}
}

func extension(name string) []string {
	return []string{"frame_system", "extensions", name}
}

// MetadataV14 returns a small peaq-like runtime with the System, Timestamp
// and PeaqDid pallets and the default signed extension set.
func MetadataV14() *metadata.V14 {
	types := []metadata.PortableType{
		primitive(TypeU8, metadata.PrimitiveU8),
		array(TypeBytes32, 32, TypeU8),
		composite(TypeAccountID, []string{"sp_core", "crypto", "AccountId32"},
			metadata.Field{Type: TypeBytes32, TypeName: "[u8; 32]"}),
		primitive(TypeU32, metadata.PrimitiveU32),
		{ID: TypeVecU8, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefSequence, Elem: TypeU8}}},
		{ID: TypeOptionU32, Type: metadata.Type{
			Path:   []string{"Option"},
			Params: []metadata.TypeParam{{Name: "T", Type: id(TypeU32)}},
			Def: metadata.TypeDef{Kind: metadata.TypeDefVariant, Variants: []metadata.Variant{
				{Name: "None", Index: 0},
				{Name: "Some", Index: 1, Fields: []metadata.Field{{Type: TypeU32}}},
			}},
		}},
		variant(TypePeaqDidCall, []string{"peaq_pallet_did", "pallet", "Call"},
			metadata.Variant{Name: "add_attribute", Index: 0, Fields: []metadata.Field{
				{Name: "did_account", Type: TypeAccountID, TypeName: "T::AccountId"},
				{Name: "name", Type: TypeVecU8, TypeName: "Vec<u8>"},
				{Name: "value", Type: TypeVecU8, TypeName: "Vec<u8>"},
				{Name: "valid_for", Type: TypeOptionU32, TypeName: "Option<T::BlockNumber>"},
			}},
			metadata.Variant{Name: "read_attribute", Index: 2, Fields: []metadata.Field{
				{Name: "did_account", Type: TypeAccountID, TypeName: "T::AccountId"},
				{Name: "name", Type: TypeVecU8, TypeName: "Vec<u8>"},
			}},
			metadata.Variant{Name: "remove_attribute", Index: 3, Fields: []metadata.Field{
				{Name: "did_account", Type: TypeAccountID, TypeName: "T::AccountId"},
				{Name: "name", Type: TypeVecU8, TypeName: "Vec<u8>"},
			}},
		),
		primitive(TypeU64, metadata.PrimitiveU64),
		{ID: TypeUnit, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefTuple}}},
		variant(TypeMultiAddress, []string{"sp_runtime", "multiaddress", "MultiAddress"},
			metadata.Variant{Name: "Id", Index: 0, Fields: []metadata.Field{{Type: TypeAccountID}}},
			metadata.Variant{Name: "Index", Index: 1, Fields: []metadata.Field{{Type: TypeCompactU32}}},
			metadata.Variant{Name: "Raw", Index: 2, Fields: []metadata.Field{{Type: TypeVecU8}}},
			metadata.Variant{Name: "Address32", Index: 3, Fields: []metadata.Field{{Type: TypeBytes32}}},
			metadata.Variant{Name: "Address20", Index: 4, Fields: []metadata.Field{{Type: TypeBytes20}}},
		),
		{ID: TypeCompactU32, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefCompact, Elem: TypeU32}}},
		array(TypeBytes20, 20, TypeU8),
		array(TypeBytes64, 64, TypeU8),
		composite(TypeEd25519Signature, []string{"sp_core", "ed25519", "Signature"}, metadata.Field{Type: TypeBytes64}),
		composite(TypeSr25519Signature, []string{"sp_core", "sr25519", "Signature"}, metadata.Field{Type: TypeBytes64}),
		array(TypeBytes65, 65, TypeU8),
		composite(TypeEcdsaSignature, []string{"sp_core", "ecdsa", "Signature"}, metadata.Field{Type: TypeBytes65}),
		variant(TypeMultiSignature, []string{"sp_runtime", "MultiSignature"},
			metadata.Variant{Name: "Ed25519", Index: 0, Fields: []metadata.Field{{Type: TypeEd25519Signature}}},
			metadata.Variant{Name: "Sr25519", Index: 1, Fields: []metadata.Field{{Type: TypeSr25519Signature}}},
			metadata.Variant{Name: "Ecdsa", Index: 2, Fields: []metadata.Field{{Type: TypeEcdsaSignature}}},
		),
		variant(TypeEra, []string{"sp_runtime", "generic", "era", "Era"},
			metadata.Variant{Name: "Immortal", Index: 0},
		),
		composite(TypeCheckNonZeroSender, extension("CheckNonZeroSender")),
		composite(TypeCheckSpecVersion, extension("CheckSpecVersion")),
		composite(TypeCheckTxVersion, extension("CheckTxVersion")),
		composite(TypeCheckGenesis, extension("CheckGenesis")),
		composite(TypeCheckMortality, extension("CheckMortality"), metadata.Field{Type: TypeEra, TypeName: "Era"}),
		composite(TypeCheckNonce, extension("CheckNonce"), metadata.Field{Type: TypeCompactU32, TypeName: "T::Index"}),
		composite(TypeCheckWeight, extension("CheckWeight")),
		primitive(TypeU128, metadata.PrimitiveU128),
		{ID: TypeCompactU128, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefCompact, Elem: TypeU128}}},
		composite(TypeChargeTransactionPayment, []string{"pallet_transaction_payment", "ChargeTransactionPayment"},
			metadata.Field{Type: TypeCompactU128, TypeName: "BalanceOf<T>"}),
		composite(TypeH256, []string{"primitive_types", "H256"}, metadata.Field{Type: TypeBytes32, TypeName: "[u8; 32]"}),
		{ID: TypeUncheckedExtrinsic, Type: metadata.Type{
			Path: []string{"sp_runtime", "generic", "unchecked_extrinsic", "UncheckedExtrinsic"},
			Params: []metadata.TypeParam{
				{Name: "Address", Type: id(TypeMultiAddress)},
				{Name: "Call", Type: id(TypeRuntimeCall)},
				{Name: "Signature", Type: id(TypeMultiSignature)},
				{Name: "Extra", Type: id(TypeExtra)},
			},
			Def: metadata.TypeDef{Kind: metadata.TypeDefComposite, Fields: []metadata.Field{{Type: TypeVecU8}}},
		}},
		variant(TypeRuntimeCall, []string{"peaq_node_runtime", "RuntimeCall"},
			metadata.Variant{Name: "System", Index: SystemIndex, Fields: []metadata.Field{{Type: TypeSystemCall}}},
			metadata.Variant{Name: "PeaqDid", Index: PeaqDidIndex, Fields: []metadata.Field{{Type: TypePeaqDidCall}}},
		),
		{ID: TypeExtra, Type: metadata.Type{Def: metadata.TypeDef{Kind: metadata.TypeDefTuple, Tuple: []uint32{
			TypeCheckNonZeroSender, TypeCheckSpecVersion, TypeCheckTxVersion, TypeCheckGenesis,
			TypeCheckMortality, TypeCheckNonce, TypeCheckWeight, TypeChargeTransactionPayment,
		}}}},
		variant(TypeSystemCall, []string{"frame_system", "pallet", "Call"},
			metadata.Variant{Name: "remark", Index: 0, Fields: []metadata.Field{{Name: "remark", Type: TypeVecU8}}},
		),
		primitive(TypeStr, metadata.PrimitiveStr),
		primitive(TypeBool, metadata.PrimitiveBool),
		variant(TypeIdentityData, []string{"pallet_identity", "types", "Data"},
			metadata.Variant{Name: "None", Index: 0},
		),
		composite(TypeAttribute, []string{"peaq_pallet_did", "structs", "Attribute"},
			metadata.Field{Name: "name", Type: TypeVecU8},
			metadata.Field{Name: "value", Type: TypeVecU8},
			metadata.Field{Name: "valid_for", Type: TypeOptionU32},
			metadata.Field{Name: "created", Type: TypeU64},
			metadata.Field{Name: "display", Type: TypeIdentityData},
		),
	}

	return &metadata.V14{
		Types: types,
		Pallets: []metadata.PalletV14{
			{
				Name:  "System",
				Calls: id(TypeSystemCall),
				Constants: []metadata.PalletConstantV14{
					{Name: "BlockHashCount", Type: TypeU32, Value: u32le(BlockHashCount)},
				},
				Index: SystemIndex,
			},
			{
				Name: "Timestamp",
				Constants: []metadata.PalletConstantV14{
					{Name: "MinimumPeriod", Type: TypeU64, Value: u64le(MinimumPeriod)},
				},
				Index: TimestampIndex,
			},
			{
				Name: "PeaqDid",
				Storage: &metadata.PalletStorageV14{
					Prefix: "PeaqDid",
					Entries: []metadata.StorageEntryV14{
						{Name: "AttributeStore", Kind: 1, Hashers: []uint8{2}, Key: TypeBytes32, Value: TypeAttribute},
					},
				},
				Calls: id(TypePeaqDidCall),
				Index: PeaqDidIndex,
			},
		},
		Extrinsic: metadata.ExtrinsicV14{
			Type:    TypeUncheckedExtrinsic,
			Version: 4,
			SignedExtensions: []metadata.SignedExtensionV14{
				{Identifier: "CheckNonZeroSender", Type: TypeCheckNonZeroSender, AdditionalSigned: TypeUnit},
				{Identifier: "CheckSpecVersion", Type: TypeCheckSpecVersion, AdditionalSigned: TypeU32},
				{Identifier: "CheckTxVersion", Type: TypeCheckTxVersion, AdditionalSigned: TypeU32},
				{Identifier: "CheckGenesis", Type: TypeCheckGenesis, AdditionalSigned: TypeH256},
				{Identifier: "CheckMortality", Type: TypeCheckMortality, AdditionalSigned: TypeH256},
				{Identifier: "CheckNonce", Type: TypeCheckNonce, AdditionalSigned: TypeUnit},
				{Identifier: "CheckWeight", Type: TypeCheckWeight, AdditionalSigned: TypeUnit},
				{Identifier: "ChargeTransactionPayment", Type: TypeChargeTransactionPayment, AdditionalSigned: TypeUnit},
			},
		},
	}
}

// MetadataV13 returns the legacy equivalent of MetadataV14.
func MetadataV13() *metadata.V13 {
	return &metadata.V13{
		Modules: []metadata.ModuleV13{
			{
				Name:     "System",
				HasCalls: true,
				Calls: []metadata.FunctionV13{
					{Name: "remark", Args: []metadata.Arg{{Name: "remark", Type: "Vec<u8>"}}},
				},
				Constants: []metadata.ConstantV13{
					{Name: "BlockHashCount", Type: "BlockNumber", Value: u32le(BlockHashCount)},
				},
				Index: SystemIndex,
			},
			{
				Name: "Timestamp",
				Constants: []metadata.ConstantV13{
					{Name: "MinimumPeriod", Type: "T::Moment", Value: u64le(MinimumPeriod)},
				},
				Index: TimestampIndex,
			},
			{
				Name: "PeaqDid",
				Storage: &metadata.StorageV13{
					Prefix: "PeaqDid",
					Entries: []metadata.StorageEntryV13{
						{Name: "AttributeStore", Kind: 1, Hashers: []uint8{2}, Keys: []string{"[u8; 32]"}, Value: "Attribute"},
					},
				},
				HasCalls: true,
				Calls: []metadata.FunctionV13{
					{Name: "add_attribute", Args: []metadata.Arg{
						{Name: "did_account", Type: "T::AccountId"},
						{Name: "name", Type: "Vec<u8>"},
						{Name: "value", Type: "Vec<u8>"},
						{Name: "valid_for", Type: "Option<T::BlockNumber>"},
					}},
					{Name: "update_attribute", Args: []metadata.Arg{
						{Name: "did_account", Type: "T::AccountId"},
						{Name: "name", Type: "Vec<u8>"},
						{Name: "value", Type: "Vec<u8>"},
						{Name: "valid_for", Type: "Option<T::BlockNumber>"},
					}},
				},
				HasEvents: true,
				Events: []metadata.EventV13{
					{Name: "AttributeAdded", Args: []string{"AccountId", "AccountId", "Vec<u8>", "Vec<u8>", "Option<BlockNumber>"}},
				},
				Index: PeaqDidIndex,
			},
		},
		Extrinsic: metadata.ExtrinsicV13{
			Version: 4,
			SignedExtensions: []string{
				"CheckSpecVersion", "CheckTxVersion", "CheckGenesis", "CheckMortality",
				"CheckNonce", "CheckWeight", "ChargeTransactionPayment",
			},
		},
	}
}

// EncodedMetadata returns the SCALE encoded container for m.
func EncodedMetadata(m metadata.RuntimeMetadata) []byte {
	c := &metadata.Container{Version: m.Version()}

	switch v := m.(type) {
	case *metadata.V13:
		c.V13 = v
	case *metadata.V14:
		c.V14 = v
	}

	out, err := c.Encode()
	if err != nil {
		panic(err)
	}

	return out
}
