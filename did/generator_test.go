package did

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-substrate-did-sdk/extrinsic"
	"github.com/pilacorp/go-substrate-did-sdk/internal/chaintest"
	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/reachability"
	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/rpc"
	"github.com/pilacorp/go-substrate-did-sdk/scale"
	"github.com/pilacorp/go-substrate-did-sdk/signer"
)

const (
	aliceSeed    = "0xe5be9a5092b81bca64be81d212e7f2f9eba183bb7a90954f7b76361f6edb5c0a"
	aliceAddress = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	devPhrase    = "bottom drive obey lake curtain smoke basket hold race lonely fit walk"
)

var alicePublic = hexutil.MustDecode("0xd43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func newGenerator(t *testing.T, node *chaintest.Node, opts ...DIDOption) *DIDGenerator {
	t.Helper()

	gen, err := NewDIDGenerator(append([]DIDOption{WithEndpoint(node.URL())}, opts...)...)
	require.NoError(t, err)

	return gen
}

func alice(t *testing.T) signer.SignerProvider {
	t.Helper()

	p, err := signer.NewProvider(signer.SchemeSr25519, aliceSeed)
	require.NoError(t, err)

	return p
}

// encodedCall is PeaqDid.add_attribute as the fixture runtime encodes it.
func encodedCall(account []byte, name, value string, validFor *uint32) []byte {
	out := []byte{chaintest.PeaqDidIndex, 0}
	out = append(out, account...)
	out = append(out, scale.Compact(uint64(len(name)))...)
	out = append(out, name...)
	out = append(out, scale.Compact(uint64(len(value)))...)
	out = append(out, value...)

	if validFor == nil {
		return append(out, 0x00)
	}

	out = append(out, 0x01)

	return binary.LittleEndian.AppendUint32(out, *validFor)
}

type submitted struct {
	sender    []byte
	signature []byte
	extras    []byte
	call      []byte
}

func parseSubmitted(t *testing.T, ext []byte) submitted {
	t.Helper()

	d := scale.NewDecoder(ext)

	length, err := d.DecodeCompactUint64()
	require.NoError(t, err)

	body := ext[d.Offset():]
	require.Len(t, body, int(length))

	require.Equal(t, byte(0x84), body[0], "signed v4 extrinsic")
	require.Equal(t, byte(0x00), body[1], "MultiAddress::Id")
	require.Equal(t, byte(signer.SchemeSr25519), body[34])

	return submitted{
		sender:    body[2:34],
		signature: body[35:99],
		extras:    body[99:103],
		call:      body[103:],
	}
}

func TestAddAttribute(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	res, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
	require.NoError(t, err)

	assert.Equal(t, hexutil.Encode(chaintest.BlockHash(chaintest.DefaultHead+1)), res.BlockHash)
	assert.Equal(t, StatusInBlock, res.Status)
	assert.Equal(t, aliceAddress, res.Sender)
	assert.Equal(t, chaintest.DefaultNonce, res.Nonce)
	assert.Equal(t, chaintest.DefaultFinalized, res.EraStart)
	assert.Equal(t, uint64(64), res.EraPeriod)

	exts := node.Submitted()
	require.Len(t, exts, 1)

	ext := parseSubmitted(t, exts[0])
	assert.Equal(t, alicePublic, ext.sender)
	// era 64/0, nonce 7, no tip
	assert.Equal(t, []byte{0x05, 0x00, 0x1c, 0x00}, ext.extras)
	assert.Equal(t, encodedCall(alicePublic, "name", "value", nil), ext.call)

	payload := append([]byte{}, ext.call...)
	payload = append(payload, ext.extras...)
	payload = binary.LittleEndian.AppendUint32(payload, chaintest.SpecVersion)
	payload = binary.LittleEndian.AppendUint32(payload, chaintest.TransactionVersion)
	payload = append(payload, chaintest.GenesisHash()...)
	payload = append(payload, chaintest.BlockHash(chaintest.DefaultFinalized)...)

	ok, err := signer.Verify(signer.SchemeSr25519, alicePublic, payload, ext.signature)
	require.NoError(t, err)
	assert.True(t, ok, "signature does not cover the expected payload")

	assert.Equal(t, []string{"sub-1"}, node.Unwatched())
}

func TestAddAttributeValidFor(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	validFor := uint32(100)

	_, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", &validFor)
	require.NoError(t, err)

	ext := parseSubmitted(t, node.Submitted()[0])
	assert.Equal(t, encodedCall(alicePublic, "name", "value", &validFor), ext.call)
}

func TestAddAttributeOnLegacyRuntime(t *testing.T) {
	node := chaintest.NewNode(t)
	node.SetMetadata(chaintest.MetadataV13())

	gen := newGenerator(t, node)

	_, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
	require.NoError(t, err)

	ext := parseSubmitted(t, node.Submitted()[0])
	assert.Equal(t, encodedCall(alicePublic, "name", "value", nil), ext.call)
}

func TestCurrentBlockFollowsBestBeyondLag(t *testing.T) {
	node := chaintest.NewNode(t)
	// the best block is the parent of the head
	node.SetChain(1_000_000, 1_000_010)

	gen := newGenerator(t, node)

	res, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000_009), res.EraStart)

	ext := parseSubmitted(t, node.Submitted()[0])
	// period 64, phase 1_000_009 % 64 = 9
	assert.Equal(t, []byte{0x95, 0x00}, ext.extras[:2])
}

func TestRuntimeIsCachedPerSpecVersion(t *testing.T) {
	node := chaintest.NewNode(t)

	metrics, err := GetPrometheusMetrics(prometheus.NewRegistry(), "peaq")
	require.NoError(t, err)

	gen := newGenerator(t, node, WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		_, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, node.Calls(rpc.MethodRuntimeVersion))
	assert.Equal(t, 1, node.Calls(rpc.MethodMetadata))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CatalogBuilds))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Submissions.WithLabelValues(outcomeIncluded)))
}

func TestRuntimeLoadSurvivesCancelledCaller(t *testing.T) {
	node := chaintest.NewNode(t)

	var (
		entered     = make(chan struct{})
		release     = make(chan struct{})
		enterOnce   sync.Once
		releaseOnce sync.Once
	)

	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	meta := hexutil.Encode(chaintest.EncodedMetadata(chaintest.MetadataV14()))
	node.Handle(rpc.MethodMetadata, func([]jsoniter.RawMessage) (any, error) {
		enterOnce.Do(func() { close(entered) })
		<-release

		return meta, nil
	})

	gen := newGenerator(t, node)
	sender := alice(t)

	firstCtx, cancelFirst := context.WithCancel(testContext(t))
	defer cancelFirst()

	firstDone := make(chan struct{})

	go func() {
		defer close(firstDone)

		_, _ = gen.AddAttribute(firstCtx, sender, aliceAddress, "name", "value", nil)
	}()

	<-entered

	secondCtx := testContext(t)
	secondErr := make(chan error, 1)

	go func() {
		_, err := gen.AddAttribute(secondCtx, sender, aliceAddress, "name", "value", nil)
		secondErr <- err
	}()

	require.Eventually(t, func() bool { return node.Calls(rpc.MethodRuntimeVersion) == 2 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	releaseOnce.Do(func() { close(release) })

	require.NoError(t, <-secondErr)
	<-firstDone
}

func TestChainRejection(t *testing.T) {
	tests := []struct {
		name   string
		status any
		kind   StatusKind
	}{
		{name: "dropped", status: "dropped", kind: StatusDropped},
		{name: "invalid", status: "invalid", kind: StatusInvalid},
		{name: "usurped", status: map[string]any{"usurped": "0x01"}, kind: StatusUsurped},
		{name: "finality timeout", status: map[string]any{"finalityTimeout": "0x02"}, kind: StatusFinalityTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := chaintest.NewNode(t)
			node.SetStatuses("ready", map[string]any{"broadcast": []string{"peer"}}, tt.status)

			metrics, err := GetPrometheusMetrics(prometheus.NewRegistry(), "peaq")
			require.NoError(t, err)

			gen := newGenerator(t, node, WithMetrics(metrics))

			_, err = gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)

			var rejected *ChainRejectionError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tt.kind, rejected.Status.Kind)
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Submissions.WithLabelValues(outcomeRejected)))
			assert.Equal(t, []string{"sub-1"}, node.Unwatched())
		})
	}
}

func TestConnectionLostWhileWatching(t *testing.T) {
	node := chaintest.NewNode(t)
	node.SetStatuses("ready", chaintest.CloseConnection{})

	gen := newGenerator(t, node)

	_, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
	require.ErrorIs(t, err, rpc.ErrTransport)
}

func TestInclusionTimeout(t *testing.T) {
	node := chaintest.NewNode(t)
	node.SetStatuses("ready")

	gen := newGenerator(t, node, WithSubmitTimeout(100*time.Millisecond))

	_, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
	require.ErrorIs(t, err, ErrInclusionTimeout)
}

func TestRPCErrorsPropagate(t *testing.T) {
	node := chaintest.NewNode(t)
	node.Handle(rpc.MethodSubmitAndWatch, func([]jsoniter.RawMessage) (any, error) {
		return nil, &chaintest.RPCError{Code: 1010, Message: "Invalid Transaction"}
	})

	gen := newGenerator(t, node)

	_, err := gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)

	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 1010, rpcErr.Code)
}

func TestGeneratePeaqDID(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	blockHash, err := gen.GeneratePeaqDID(testContext(t), devPhrase, "name", "value")
	require.NoError(t, err)
	assert.Equal(t, hexutil.Encode(chaintest.BlockHash(chaintest.DefaultHead+1)), blockHash)

	dev, err := signer.NewProvider(signer.SchemeSr25519, devPhrase)
	require.NoError(t, err)
	require.NotEqual(t, alicePublic, dev.AccountID())

	ext := parseSubmitted(t, node.Submitted()[0])
	assert.Equal(t, dev.AccountID(), ext.sender)
	assert.Equal(t, encodedCall(dev.AccountID(), "name", "value", nil), ext.call)
}

func TestGeneratePeaqDIDRejectsBadSeed(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	_, err := gen.GeneratePeaqDID(testContext(t), "not a mnemonic", "name", "value")
	require.ErrorIs(t, err, signer.ErrInvalidSecret)
	assert.Zero(t, node.Calls(rpc.MethodRuntimeVersion))
}

func TestAddAttributeRejectsBadAccount(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	_, err := gen.AddAttribute(testContext(t), alice(t), "not-an-address", "name", "value", nil)
	require.Error(t, err)

	_, err = gen.AddAttribute(testContext(t), nil, aliceAddress, "name", "value", nil)
	require.Error(t, err)

	assert.Empty(t, node.Submitted())
}

func TestBatchNeedsUtilityPallet(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	call := func(name string) extrinsic.RuntimeCall {
		return extrinsic.NewRuntimeCall(DefaultModule, addAttributeCall,
			registry.Entry{Key: "did_account", Value: registry.Bytes(alicePublic)},
			registry.Entry{Key: "name", Value: registry.Bytes([]byte(name))},
			registry.Entry{Key: "value", Value: registry.Bytes([]byte("value"))},
			registry.Entry{Key: "valid_for", Value: registry.Null()},
		)
	}

	_, err := gen.Submit(testContext(t), alice(t), call("a"), call("b"))
	require.ErrorIs(t, err, metadata.ErrModuleNotFound)
	assert.Empty(t, node.Submitted())
}

func TestDecodeConstant(t *testing.T) {
	node := chaintest.NewNode(t)
	gen := newGenerator(t, node)

	v, err := gen.DecodeConstant(testContext(t), "System", "BlockHashCount")
	require.NoError(t, err)

	n, ok := v.AsNumber()
	require.True(t, ok)
	assert.Equal(t, uint64(chaintest.BlockHashCount), n.Uint64())

	_, err = gen.DecodeConstant(testContext(t), "System", "Missing")
	require.ErrorIs(t, err, metadata.ErrConstantNotFound)
}

func TestConstantFallback(t *testing.T) {
	rt := &runtimeInfo{meta: chaintest.MetadataV14()}

	got, err := rt.constantUint("Babe", "ExpectedBlockTime", 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got)
}

type downProbe struct{}

func (downProbe) probe(context.Context, string) error {
	return context.DeadlineExceeded
}

func TestReachabilityGate(t *testing.T) {
	node := chaintest.NewNode(t)

	m, err := reachability.NewManagerForEndpoint(node.URL(),
		reachability.WithProbe(downProbe{}.probe),
		reachability.WithInterval(time.Hour),
	)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	gen := newGenerator(t, node, WithReachability(m))

	_, err = gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, rpc.ErrTransport)
	assert.Zero(t, node.Calls(rpc.MethodRuntimeVersion))
}

func TestReachabilityGateNeedsRunningManager(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, m *reachability.Manager)
	}{
		{name: "never started", setup: func(*testing.T, *reachability.Manager) {}},
		{
			name: "stopped",
			setup: func(t *testing.T, m *reachability.Manager) {
				require.NoError(t, m.Start(context.Background()))
				require.False(t, m.IsReachable())
				m.Stop()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := chaintest.NewNode(t)

			m, err := reachability.NewManagerForEndpoint(node.URL(),
				reachability.WithProbe(downProbe{}.probe),
				reachability.WithInterval(time.Hour),
			)
			require.NoError(t, err)

			tt.setup(t, m)

			gen := newGenerator(t, node, WithReachability(m))

			_, err = gen.AddAttribute(testContext(t), alice(t), aliceAddress, "name", "value", nil)
			require.NoError(t, err)
			assert.Len(t, node.Submitted(), 1)
		})
	}
}

func TestNewDIDGeneratorValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []DIDOption
	}{
		{name: "empty endpoint", opts: []DIDOption{WithEndpoint("")}},
		{name: "empty module", opts: []DIDOption{WithModule("")}},
		{name: "invalid type definitions", opts: []DIDOption{WithTypeDefinitions([]byte(`{"types": 1}`), nil)}},
		{name: "zero cache", opts: []DIDOption{WithCatalogCacheSize(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDIDGenerator(tt.opts...)
			assert.Error(t, err)
		})
	}

	gen, err := NewDIDGenerator()
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, gen.cfg.Endpoint)
	assert.Equal(t, DefaultModule, gen.cfg.Module)
	assert.NotNil(t, gen.cfg.Metrics)
}
