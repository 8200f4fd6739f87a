package extrinsic_test

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"pgregory.net/rapid"

	"github.com/pilacorp/go-substrate-did-sdk/extrinsic"
	"github.com/pilacorp/go-substrate-did-sdk/internal/chaintest"
	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/registry/typedefs"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
	"github.com/pilacorp/go-substrate-did-sdk/signer"
)

var (
	alice        = bytes.Repeat([]byte{0xd4}, 32)
	genesisHash  = bytes.Repeat([]byte{0x01}, 32)
	eraBlockHash = bytes.Repeat([]byte{0x02}, 32)
	fakeSig      = bytes.Repeat([]byte{0xaa}, 64)
)

type runtime struct {
	meta    metadata.RuntimeMetadata
	catalog *registry.Catalog
}

func (r runtime) encoder() *registry.DynamicEncoder {
	return registry.NewDynamicEncoder(r.catalog, chaintest.SpecVersion)
}

func v14Runtime(t *testing.T) runtime {
	t.Helper()

	meta := chaintest.MetadataV14()
	c, err := registry.NewCatalogFromScaleInfo(nil, meta, registry.WithNameMapper(registry.CamelCaseNameMapper))
	require.NoError(t, err)

	return runtime{meta: meta, catalog: c}
}

func v13Runtime(t *testing.T) runtime {
	t.Helper()

	meta := chaintest.MetadataV13()
	c, err := registry.NewCatalogFromTypeDefinitions(typedefs.Default(), typedefs.Peaq(), meta)
	require.NoError(t, err)

	return runtime{meta: meta, catalog: c}
}

func addAttribute(name, value string) extrinsic.RuntimeCall {
	return extrinsic.NewRuntimeCall("PeaqDid", "add_attribute",
		registry.Entry{Key: "did_account", Value: registry.Bytes(alice)},
		registry.Entry{Key: "name", Value: registry.Bytes([]byte(name))},
		registry.Entry{Key: "value", Value: registry.Bytes([]byte(value))},
		registry.Entry{Key: "valid_for", Value: registry.Null()},
	)
}

func newBuilder(t *testing.T, r runtime) *extrinsic.Builder {
	t.Helper()

	address, err := extrinsic.AccountAddress(r.encoder(), r.meta, alice)
	require.NoError(t, err)

	b := extrinsic.NewBuilder(chaintest.SpecVersion, chaintest.TransactionVersion, genesisHash).
		WithEra(extrinsic.Era{Period: 64, Phase: 42}, eraBlockHash).
		WithNonce(5).
		WithAddress(address)
	require.NoError(t, b.AddCall(addAttribute("name", "value")))

	return b
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func expectedCall() []byte {
	return concat(
		[]byte{chaintest.PeaqDidIndex, 0x00},
		alice,
		[]byte{0x10}, []byte("name"),
		[]byte{0x14}, []byte("value"),
		[]byte{0x00},
	)
}

func TestBuildWireLayout(t *testing.T) {
	for _, r := range []struct {
		name string
		rt   func(*testing.T) runtime
	}{
		{name: "v14", rt: v14Runtime},
		{name: "v13", rt: v13Runtime},
	} {
		t.Run(r.name, func(t *testing.T) {
			rt := r.rt(t)
			b := newBuilder(t, rt)

			extras := []byte{0xa5, 0x02, 0x14, 0x00}
			additional := concat(
				[]byte{0x03, 0x00, 0x00, 0x00},
				[]byte{0x01, 0x00, 0x00, 0x00},
				genesisHash,
				eraBlockHash,
			)

			payload, err := b.SigningPayload(rt.encoder(), rt.meta)
			require.NoError(t, err)
			assert.Equal(t, concat(expectedCall(), extras, additional), payload)

			var signed []byte
			err = b.Sign(func(p []byte) ([]byte, error) {
				signed = p
				return fakeSig, nil
			}, signer.SchemeSr25519, rt.encoder(), rt.meta)
			require.NoError(t, err)
			assert.Equal(t, payload, signed)

			out, err := b.Build(rt.encoder(), rt.meta)
			require.NoError(t, err)

			body := concat(
				[]byte{0x84},
				[]byte{0x00}, alice,
				[]byte{0x01}, fakeSig,
				extras,
				expectedCall(),
			)
			assert.Equal(t, concat(scale.Compact(uint64(len(body))), body), out)
		})
	}
}

func TestSigningPayloadMatchesBroadcastCall(t *testing.T) {
	rt := v14Runtime(t)

	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringN(0, 64, -1).Draw(t, "name")
		value := rapid.StringN(0, 512, -1).Draw(t, "value")

		address, err := extrinsic.AccountAddress(rt.encoder(), rt.meta, alice)
		require.NoError(t, err)

		b := extrinsic.NewBuilder(chaintest.SpecVersion, chaintest.TransactionVersion, genesisHash).
			WithEra(extrinsic.Immortal, nil).
			WithNonce(rapid.Uint32().Draw(t, "nonce")).
			WithAddress(address)
		require.NoError(t, b.AddCall(addAttribute(name, value)))

		call := registry.NewDynamicEncoder(rt.catalog, chaintest.SpecVersion)
		require.NoError(t, addAttribute(name, value).Encode(call, rt.meta))
		callBytes := call.Bytes()

		payload, err := b.SigningPayload(rt.encoder(), rt.meta)
		require.NoError(t, err)
		require.True(t, bytes.HasPrefix(payload, callBytes))

		require.NoError(t, b.Sign(func([]byte) ([]byte, error) { return fakeSig, nil }, signer.SchemeSr25519, rt.encoder(), rt.meta))

		out, err := b.Build(rt.encoder(), rt.meta)
		require.NoError(t, err)
		require.True(t, bytes.HasSuffix(out, callBytes))
	})
}

func TestLongPayloadIsHashed(t *testing.T) {
	rt := v14Runtime(t)

	address, err := extrinsic.AccountAddress(rt.encoder(), rt.meta, alice)
	require.NoError(t, err)

	b := extrinsic.NewBuilder(chaintest.SpecVersion, chaintest.TransactionVersion, genesisHash).
		WithEra(extrinsic.Immortal, nil).
		WithNonce(0).
		WithAddress(address)
	require.NoError(t, b.AddCall(addAttribute("name", string(bytes.Repeat([]byte("v"), 300)))))

	payload, err := b.SigningPayload(rt.encoder(), rt.meta)
	require.NoError(t, err)
	require.Greater(t, len(payload), extrinsic.MaxUnhashedPayload)

	var signed []byte
	require.NoError(t, b.Sign(func(p []byte) ([]byte, error) {
		signed = p
		return fakeSig, nil
	}, signer.SchemeSr25519, rt.encoder(), rt.meta))

	want := blake2b.Sum256(payload)
	assert.Equal(t, want[:], signed)
}

func TestImmortalEraUsesGenesisCheckpoint(t *testing.T) {
	rt := v14Runtime(t)

	address, err := extrinsic.AccountAddress(rt.encoder(), rt.meta, alice)
	require.NoError(t, err)

	b := extrinsic.NewBuilder(chaintest.SpecVersion, chaintest.TransactionVersion, genesisHash).
		WithEra(extrinsic.Immortal, nil).
		WithNonce(0).
		WithAddress(address)
	require.NoError(t, b.AddCall(addAttribute("n", "v")))

	payload, err := b.SigningPayload(rt.encoder(), rt.meta)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(payload, concat(genesisHash, genesisHash)))
}

func TestBuildRequiresEveryField(t *testing.T) {
	rt := v14Runtime(t)

	address, err := extrinsic.AccountAddress(rt.encoder(), rt.meta, alice)
	require.NoError(t, err)

	tests := []struct {
		field string
		setup func() *extrinsic.Builder
	}{
		{
			field: "genesisHash",
			setup: func() *extrinsic.Builder {
				return extrinsic.NewBuilder(1, 1, nil).WithEra(extrinsic.Immortal, nil).WithNonce(0).WithAddress(address)
			},
		},
		{
			field: "era",
			setup: func() *extrinsic.Builder {
				return extrinsic.NewBuilder(1, 1, genesisHash).WithNonce(0).WithAddress(address)
			},
		},
		{
			field: "eraBlockHash",
			setup: func() *extrinsic.Builder {
				return extrinsic.NewBuilder(1, 1, genesisHash).WithEra(extrinsic.Era{Period: 64}, nil).WithNonce(0).WithAddress(address)
			},
		},
		{
			field: "nonce",
			setup: func() *extrinsic.Builder {
				return extrinsic.NewBuilder(1, 1, genesisHash).WithEra(extrinsic.Immortal, nil).WithAddress(address)
			},
		},
		{
			field: "address",
			setup: func() *extrinsic.Builder {
				return extrinsic.NewBuilder(1, 1, genesisHash).WithEra(extrinsic.Immortal, nil).WithNonce(0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			b := tt.setup()
			require.NoError(t, b.AddCall(addAttribute("n", "v")))

			_, err := b.Build(rt.encoder(), rt.meta)
			require.ErrorIs(t, err, extrinsic.ErrMissingField)

			var missing *extrinsic.MissingFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.field, missing.Field)
		})
	}

	t.Run("call", func(t *testing.T) {
		b := extrinsic.NewBuilder(1, 1, genesisHash).WithEra(extrinsic.Immortal, nil).WithNonce(0).WithAddress(address)

		_, err := b.SigningPayload(rt.encoder(), rt.meta)
		require.ErrorIs(t, err, extrinsic.ErrMissingField)
	})

	t.Run("signature", func(t *testing.T) {
		b := newBuilder(t, rt)

		_, err := b.Build(rt.encoder(), rt.meta)

		var missing *extrinsic.MissingFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "signature", missing.Field)
	})
}

func TestFailuresAreTerminal(t *testing.T) {
	rt := v14Runtime(t)

	b := extrinsic.NewBuilder(1, 1, genesisHash).WithEra(extrinsic.Immortal, nil)
	require.NoError(t, b.AddCall(addAttribute("n", "v")))

	_, err := b.Build(rt.encoder(), rt.meta)
	require.ErrorIs(t, err, extrinsic.ErrMissingField)

	// setting the field afterwards does not revive the builder
	b.WithNonce(0)

	_, err = b.SigningPayload(rt.encoder(), rt.meta)
	require.ErrorIs(t, err, extrinsic.ErrMissingField)
}

func TestSigningFailure(t *testing.T) {
	rt := v14Runtime(t)
	b := newBuilder(t, rt)

	boom := errors.New("hsm offline")
	err := b.Sign(func([]byte) ([]byte, error) { return nil, boom }, signer.SchemeSr25519, rt.encoder(), rt.meta)
	require.ErrorIs(t, err, extrinsic.ErrSigning)
	require.ErrorIs(t, err, boom)

	_, err = b.Build(rt.encoder(), rt.meta)
	require.ErrorIs(t, err, extrinsic.ErrSigning)
}

func TestSignatureLengthIsChecked(t *testing.T) {
	rt := v14Runtime(t)
	b := newBuilder(t, rt)

	err := b.Sign(func([]byte) ([]byte, error) { return fakeSig, nil }, signer.SchemeEcdsa, rt.encoder(), rt.meta)
	require.ErrorIs(t, err, extrinsic.ErrSigning)
}

func TestCallAfterSignAndConsumedBuilder(t *testing.T) {
	rt := v14Runtime(t)
	b := newBuilder(t, rt)

	require.NoError(t, b.Sign(func([]byte) ([]byte, error) { return fakeSig, nil }, signer.SchemeSr25519, rt.encoder(), rt.meta))
	require.ErrorIs(t, b.AddCall(addAttribute("x", "y")), extrinsic.ErrCallAfterSign)

	b = newBuilder(t, rt)
	require.NoError(t, b.Sign(func([]byte) ([]byte, error) { return fakeSig, nil }, signer.SchemeSr25519, rt.encoder(), rt.meta))

	_, err := b.Build(rt.encoder(), rt.meta)
	require.NoError(t, err)

	_, err = b.Build(rt.encoder(), rt.meta)
	require.ErrorIs(t, err, extrinsic.ErrBuilderConsumed)
}

func TestFieldChangeAfterSignFailsBuilder(t *testing.T) {
	rt := v14Runtime(t)
	sign := func([]byte) ([]byte, error) { return fakeSig, nil }

	tests := []struct {
		name   string
		change func(b *extrinsic.Builder)
	}{
		{name: "nonce", change: func(b *extrinsic.Builder) { b.WithNonce(99) }},
		{name: "era", change: func(b *extrinsic.Builder) { b.WithEra(extrinsic.Immortal, nil) }},
		{name: "tip", change: func(b *extrinsic.Builder) { b.WithTip(big.NewInt(7)) }},
		{name: "address", change: func(b *extrinsic.Builder) { b.WithAddress(registry.Map("Id", registry.Bytes(genesisHash))) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, rt)
			require.NoError(t, b.Sign(sign, signer.SchemeSr25519, rt.encoder(), rt.meta))

			tt.change(b)

			_, err := b.Build(rt.encoder(), rt.meta)
			require.ErrorIs(t, err, extrinsic.ErrFieldAfterSign)

			_, err = b.SigningPayload(rt.encoder(), rt.meta)
			require.ErrorIs(t, err, extrinsic.ErrFieldAfterSign)
		})
	}
}

func TestSignWithProvider(t *testing.T) {
	rt := v14Runtime(t)

	p, err := signer.NewProvider(signer.SchemeEd25519, "0xabf8e5bdbe30c65656c0a3cbd181ff8a56294a69dfedd27982aace4a76909115")
	require.NoError(t, err)

	address, err := extrinsic.AccountAddress(rt.encoder(), rt.meta, p.AccountID())
	require.NoError(t, err)

	b := extrinsic.NewBuilder(chaintest.SpecVersion, chaintest.TransactionVersion, genesisHash).
		WithEra(extrinsic.Immortal, nil).
		WithNonce(1).
		WithAddress(address)
	require.NoError(t, b.AddCall(addAttribute("n", "v")))

	payload, err := b.SigningPayload(rt.encoder(), rt.meta)
	require.NoError(t, err)

	require.NoError(t, b.SignWith(p, rt.encoder(), rt.meta))

	out, err := b.Build(rt.encoder(), rt.meta)
	require.NoError(t, err)

	// prefix, version, address (1 + 32), signature variant
	d := scale.NewDecoder(out)
	_, err = d.DecodeCompactUint64()
	require.NoError(t, err)

	head, err := d.Read(1 + 33 + 1)
	require.NoError(t, err)
	assert.Equal(t, byte(signer.SchemeEd25519), head[len(head)-1])

	sig, err := d.Read(64)
	require.NoError(t, err)

	ok, err := signer.Verify(signer.SchemeEd25519, p.AccountID(), payload, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignedExtensionHandling(t *testing.T) {
	rt := v14Runtime(t)

	base, err := newBuilder(t, rt).SigningPayload(rt.encoder(), rt.meta)
	require.NoError(t, err)

	t.Run("empty unknown extension is skipped", func(t *testing.T) {
		meta := chaintest.MetadataV14()
		meta.Extrinsic.SignedExtensions = append(meta.Extrinsic.SignedExtensions, metadata.SignedExtensionV14{
			Identifier: "CheckFutureThing", Type: chaintest.TypeCheckWeight, AdditionalSigned: chaintest.TypeUnit,
		})

		payload, err := newBuilder(t, rt).SigningPayload(rt.encoder(), meta)
		require.NoError(t, err)
		assert.Equal(t, base, payload)
	})

	t.Run("unknown extension with data fails", func(t *testing.T) {
		meta := chaintest.MetadataV14()
		meta.Extrinsic.SignedExtensions = append(meta.Extrinsic.SignedExtensions, metadata.SignedExtensionV14{
			Identifier: "CheckFutureThing", Type: chaintest.TypeCheckNonce, AdditionalSigned: chaintest.TypeUnit,
		})

		_, err := newBuilder(t, rt).SigningPayload(rt.encoder(), meta)
		require.ErrorIs(t, err, extrinsic.ErrUnsupportedExtension)
	})

	t.Run("unknown v13 extension fails", func(t *testing.T) {
		v13 := v13Runtime(t)
		meta := chaintest.MetadataV13()
		meta.Extrinsic.SignedExtensions = append(meta.Extrinsic.SignedExtensions, "CheckFutureThing")

		_, err := newBuilder(t, v13).SigningPayload(v13.encoder(), meta)
		require.ErrorIs(t, err, extrinsic.ErrUnsupportedExtension)
	})

	t.Run("metadata hash and asset payment", func(t *testing.T) {
		meta := chaintest.MetadataV14()
		for i, se := range meta.Extrinsic.SignedExtensions {
			if se.Identifier == "ChargeTransactionPayment" {
				meta.Extrinsic.SignedExtensions[i].Identifier = "ChargeAssetTxPayment"
			}
		}

		meta.Extrinsic.SignedExtensions = append(meta.Extrinsic.SignedExtensions, metadata.SignedExtensionV14{
			Identifier: "CheckMetadataHash", Type: chaintest.TypeU8, AdditionalSigned: chaintest.TypeU8,
		})

		payload, err := newBuilder(t, rt).SigningPayload(rt.encoder(), meta)
		require.NoError(t, err)

		call := expectedCall()
		assert.Equal(t, []byte{0xa5, 0x02, 0x14, 0x00, 0x00, 0x00}, payload[len(call):len(call)+6])
		assert.Equal(t, byte(0x00), payload[len(payload)-1])
	})
}

func TestBatchNeedsUtilityPallet(t *testing.T) {
	rt := v14Runtime(t)
	b := newBuilder(t, rt)
	require.NoError(t, b.AddCall(addAttribute("second", "call")))

	_, err := b.SigningPayload(rt.encoder(), rt.meta)
	require.ErrorIs(t, err, metadata.ErrModuleNotFound)
}

func TestRuntimeCallArguments(t *testing.T) {
	rt := v14Runtime(t)

	camel := extrinsic.NewRuntimeCall("PeaqDid", "add_attribute",
		registry.Entry{Key: "didAccount", Value: registry.Bytes(alice)},
		registry.Entry{Key: "name", Value: registry.Bytes([]byte("name"))},
		registry.Entry{Key: "value", Value: registry.Bytes([]byte("value"))},
		registry.Entry{Key: "validFor", Value: registry.Null()},
	)

	enc := rt.encoder()
	require.NoError(t, camel.Encode(enc, rt.meta))
	assert.Equal(t, expectedCall(), enc.Bytes())

	missing := extrinsic.NewRuntimeCall("PeaqDid", "add_attribute",
		registry.Entry{Key: "did_account", Value: registry.Bytes(alice)},
	)
	require.ErrorIs(t, missing.Encode(rt.encoder(), rt.meta), registry.ErrInvalidValue)

	extra := addAttribute("n", "v")
	extra.Args = registry.Mapping(append(mustEntries(t, extra.Args), registry.Entry{Key: "memo", Value: registry.Null()})...)
	require.ErrorIs(t, extra.Encode(rt.encoder(), rt.meta), registry.ErrInvalidValue)

	unknown := extrinsic.NewRuntimeCall("PeaqDid", "burn_attribute")
	require.ErrorIs(t, unknown.Encode(rt.encoder(), rt.meta), metadata.ErrCallNotFound)
}

func mustEntries(t *testing.T, v registry.Value) []registry.Entry {
	t.Helper()

	entries, ok := v.Entries()
	require.True(t, ok)

	return entries
}

func TestAccountAddressFollowsRuntimeVersion(t *testing.T) {
	rt := v13Runtime(t)

	// runtimes 0 and 1 use a bare AccountId as address
	old := registry.NewDynamicEncoder(rt.catalog, 1)
	v, err := extrinsic.AccountAddress(old, rt.meta, alice)
	require.NoError(t, err)
	assert.Equal(t, registry.KindString, v.Kind())

	v, err = extrinsic.AccountAddress(rt.encoder(), rt.meta, alice)
	require.NoError(t, err)
	assert.Equal(t, registry.KindMapping, v.Kind())
}
