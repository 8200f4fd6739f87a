// Package did submits peaq DID attribute extrinsics. It reads the runtime
// version, metadata and chain state of a node, builds a type catalog for the
// runtime, then builds, signs and submits the extrinsic and waits for it to
// be included in a block.
package did

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pilacorp/go-substrate-did-sdk/extrinsic"
	"github.com/pilacorp/go-substrate-did-sdk/metadata"
	"github.com/pilacorp/go-substrate-did-sdk/registry"
	"github.com/pilacorp/go-substrate-did-sdk/registry/typedefs"
	"github.com/pilacorp/go-substrate-did-sdk/rpc"
	"github.com/pilacorp/go-substrate-did-sdk/signer"
	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

const (
	unwatchTimeout  = 5 * time.Second
	metadataTimeout = time.Minute
)

var ErrUnreachable = errors.New("endpoint unreachable")

// DIDGenerator builds and submits DID attribute extrinsics. It is safe for
// concurrent use; runtimes are cached per spec version.
type DIDGenerator struct {
	cfg    DIDConfig
	logger hclog.Logger

	runtimes *lru.Cache
	group    singleflight.Group
}

// runtimeInfo is everything derived from one runtime version.
type runtimeInfo struct {
	specVersion uint32
	txVersion   uint32
	meta        metadata.RuntimeMetadata
	catalog     *registry.Catalog
}

type chainState struct {
	genesis  []byte
	nonce    uint32
	era      extrinsic.Era
	eraStart uint64
	eraHash  []byte
}

// NewDIDGenerator creates a new DIDGenerator.
func NewDIDGenerator(options ...DIDOption) (*DIDGenerator, error) {
	cfg := defaultConfig()

	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	if cfg.Module == "" {
		return nil, fmt.Errorf("module is required")
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	if cfg.Metrics == nil {
		cfg.Metrics = NilMetrics()
	}

	for _, doc := range [][]byte{cfg.BaseTypes, cfg.ChainTypes} {
		if len(doc) == 0 {
			continue
		}

		if err := typedefs.Validate(doc); err != nil {
			return nil, fmt.Errorf("invalid type definitions: %w", err)
		}
	}

	cache, err := lru.New(cfg.CatalogCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}

	return &DIDGenerator{
		cfg:      cfg,
		logger:   cfg.Logger.Named("did"),
		runtimes: cache,
	}, nil
}

// AddAttribute submits PeaqDid.add_attribute for didAccount, signed by
// provider, and waits until the extrinsic is included in a block. validFor
// is the attribute lifetime in blocks; nil stores it without expiry.
func (d *DIDGenerator) AddAttribute(
	ctx context.Context,
	provider signer.SignerProvider,
	didAccount string,
	name string,
	value string,
	validFor *uint32,
) (*SubmitResult, error) {
	if provider == nil {
		return nil, fmt.Errorf("signer provider is required")
	}

	accountID, _, err := ss58.Decode(didAccount)
	if err != nil {
		return nil, fmt.Errorf("invalid DID account %q: %w", didAccount, err)
	}

	lifetime := registry.Null()
	if validFor != nil {
		lifetime = registry.Uint(uint64(*validFor))
	}

	call := extrinsic.NewRuntimeCall(d.cfg.Module, addAttributeCall,
		registry.Entry{Key: "did_account", Value: registry.Bytes(accountID)},
		registry.Entry{Key: "name", Value: registry.Bytes([]byte(name))},
		registry.Entry{Key: "value", Value: registry.Bytes([]byte(value))},
		registry.Entry{Key: "valid_for", Value: lifetime},
	)

	return d.Submit(ctx, provider, call)
}

// GeneratePeaqDID derives an sr25519 key from seed (a mnemonic or a 0x hex
// mini secret), stores the attribute on the key's own account and returns
// the hash of the including block.
func (d *DIDGenerator) GeneratePeaqDID(ctx context.Context, seed, name, value string) (string, error) {
	provider, err := signer.NewProvider(signer.SchemeSr25519, seed)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}

	address, err := ss58.Encode(provider.AccountID(), d.cfg.SS58Prefix)
	if err != nil {
		return "", fmt.Errorf("failed to format address: %w", err)
	}

	res, err := d.AddAttribute(ctx, provider, address, name, value, nil)
	if err != nil {
		return "", err
	}

	return res.BlockHash, nil
}

// Submit signs and submits calls, batched through Utility.batch when there
// is more than one, and waits for inclusion.
func (d *DIDGenerator) Submit(ctx context.Context, provider signer.SignerProvider, calls ...extrinsic.RuntimeCall) (*SubmitResult, error) {
	if err := d.checkReachable(); err != nil {
		return nil, err
	}

	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	rt, err := d.runtime(ctx, client)
	if err != nil {
		return nil, err
	}

	res, err := d.submit(ctx, client, rt, provider, calls)
	if err != nil {
		var rejected *ChainRejectionError
		if errors.As(err, &rejected) {
			d.cfg.Metrics.Submissions.WithLabelValues(outcomeRejected).Inc()
		} else {
			d.cfg.Metrics.Submissions.WithLabelValues(outcomeFailed).Inc()
		}

		return nil, err
	}

	d.cfg.Metrics.Submissions.WithLabelValues(outcomeIncluded).Inc()

	return res, nil
}

// DecodeConstant decodes a module constant of the current runtime.
func (d *DIDGenerator) DecodeConstant(ctx context.Context, module, name string) (registry.Value, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return registry.Value{}, err
	}
	defer client.Close()

	rt, err := d.runtime(ctx, client)
	if err != nil {
		return registry.Value{}, err
	}

	return rt.constant(module, name)
}

func (d *DIDGenerator) submit(
	ctx context.Context,
	client *rpc.Client,
	rt *runtimeInfo,
	provider signer.SignerProvider,
	calls []extrinsic.RuntimeCall,
) (*SubmitResult, error) {
	sender, err := ss58.Encode(provider.AccountID(), d.cfg.SS58Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to format sender address: %w", err)
	}

	state, err := d.chainState(ctx, client, rt, sender)
	if err != nil {
		return nil, err
	}

	enc := registry.NewDynamicEncoder(rt.catalog, rt.specVersion)

	address, err := extrinsic.AccountAddress(enc, rt.meta, provider.AccountID())
	if err != nil {
		return nil, err
	}

	tip := d.cfg.Tip
	if tip == nil {
		tip = new(big.Int)
	}

	b := extrinsic.NewBuilder(rt.specVersion, rt.txVersion, state.genesis).
		WithEra(state.era, state.eraHash).
		WithNonce(state.nonce).
		WithAddress(address).
		WithTip(tip)

	for _, call := range calls {
		if err := b.AddCall(call); err != nil {
			return nil, fmt.Errorf("failed to add call %s: %w", call, err)
		}
	}

	if err := b.SignWith(provider, enc, rt.meta); err != nil {
		return nil, fmt.Errorf("failed to sign extrinsic: %w", err)
	}

	ext, err := b.Build(enc, rt.meta)
	if err != nil {
		return nil, fmt.Errorf("failed to build extrinsic: %w", err)
	}

	hash := blake2b.Sum256(ext)

	d.logger.Debug("submitting extrinsic",
		"sender", sender,
		"nonce", state.nonce,
		"era", state.era.String(),
		"hash", hexutil.Encode(hash[:]),
		"size", len(ext),
	)

	started := time.Now()

	status, err := d.submitAndWatch(ctx, client, ext)
	if err != nil {
		return nil, err
	}

	d.cfg.Metrics.InclusionSeconds.Observe(time.Since(started).Seconds())

	d.logger.Info("extrinsic included", "block", status.Hash, "status", status.Kind, "hash", hexutil.Encode(hash[:]))

	return &SubmitResult{
		BlockHash:     status.Hash,
		ExtrinsicHash: hexutil.Encode(hash[:]),
		Status:        status.Kind,
		Sender:        sender,
		Nonce:         state.nonce,
		EraStart:      state.eraStart,
		EraPeriod:     state.era.Period,
	}, nil
}

func (d *DIDGenerator) submitAndWatch(ctx context.Context, client *rpc.Client, ext []byte) (ExtrinsicStatus, error) {
	if d.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.cfg.SubmitTimeout)
		defer cancel()
	}

	sub, err := client.SubmitAndWatchExtrinsic(ctx, ext)
	if err != nil {
		return ExtrinsicStatus{}, fmt.Errorf("failed to submit extrinsic: %w", err)
	}

	resolver := newStatusResolver(d.logger)
	resolver.watch(ctx, sub)

	status, err := resolver.result()

	unwatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unwatchTimeout)
	defer cancel()

	if uerr := sub.Unsubscribe(unwatchCtx); uerr != nil {
		d.logger.Debug("failed to unwatch extrinsic", "subscription", sub.ID(), "err", uerr)
	}

	return status, err
}

// chainState reads the genesis hash, the sender nonce and the mortality
// checkpoint concurrently.
func (d *DIDGenerator) chainState(ctx context.Context, client *rpc.Client, rt *runtimeInfo, sender string) (*chainState, error) {
	state := &chainState{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		genesis, err := client.BlockHash(gctx, 0)
		if err != nil {
			return fmt.Errorf("failed to fetch genesis hash: %w", err)
		}

		state.genesis = genesis

		return nil
	})

	g.Go(func() error {
		nonce, err := client.AccountNextIndex(gctx, sender)
		if err != nil {
			return fmt.Errorf("failed to fetch nonce: %w", err)
		}

		state.nonce = nonce

		return nil
	})

	g.Go(func() error {
		start, era, hash, err := d.mortality(gctx, client, rt)
		if err != nil {
			return err
		}

		state.eraStart, state.era, state.eraHash = start, era, hash

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return state, nil
}

// mortality computes the era from the runtime constants and the current
// block, and fetches the hash of the block the era starts at.
func (d *DIDGenerator) mortality(ctx context.Context, client *rpc.Client, rt *runtimeInfo) (uint64, extrinsic.Era, []byte, error) {
	blockHashCount, err := rt.constantUint("System", "BlockHashCount", extrinsic.FallbackBlockHashCount)
	if err != nil {
		return 0, extrinsic.Era{}, nil, err
	}

	minimumPeriod, err := rt.constantUint("Timestamp", "MinimumPeriod", extrinsic.FallbackMinimumPeriod)
	if err != nil {
		return 0, extrinsic.Era{}, nil, err
	}

	current, err := d.currentBlock(ctx, client)
	if err != nil {
		return 0, extrinsic.Era{}, nil, err
	}

	start, era, err := extrinsic.ComputeEra(blockHashCount, minimumPeriod, current)
	if err != nil {
		return 0, extrinsic.Era{}, nil, fmt.Errorf("failed to compute era: %w", err)
	}

	hash, err := client.BlockHash(ctx, start)
	if err != nil {
		return 0, extrinsic.Era{}, nil, fmt.Errorf("failed to fetch era block hash: %w", err)
	}

	d.logger.Debug("mortality", "current", current, "start", start, "era", era.String())

	return start, era, hash, nil
}

// currentBlock picks between the finalized block and the best block, the
// parent of the head.
func (d *DIDGenerator) currentBlock(ctx context.Context, client *rpc.Client) (uint64, error) {
	finalizedHash, err := client.FinalizedHead(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch finalized head: %w", err)
	}

	finalizedHeader, err := client.Header(ctx, finalizedHash)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch finalized header: %w", err)
	}

	best, err := client.Header(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch head: %w", err)
	}

	if best.ParentHash != "" {
		parent, err := best.ParentHashBytes()
		if err != nil {
			return 0, err
		}

		if best, err = client.Header(ctx, parent); err != nil {
			return 0, fmt.Errorf("failed to fetch best header: %w", err)
		}
	}

	finalized, err := finalizedHeader.BlockNumber()
	if err != nil {
		return 0, err
	}

	bestNumber, err := best.BlockNumber()
	if err != nil {
		return 0, err
	}

	return extrinsic.ResolveCurrentBlock(finalized, bestNumber, extrinsic.MaxFinalityLag)
}

// runtime returns the cached runtime of the node's current spec version,
// fetching metadata and building the catalog at most once per version.
func (d *DIDGenerator) runtime(ctx context.Context, client *rpc.Client) (*runtimeInfo, error) {
	version, err := client.RuntimeVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch runtime version: %w", err)
	}

	if cached, ok := d.runtimes.Get(version.SpecVersion); ok {
		return cached.(*runtimeInfo), nil
	}

	v, err, _ := d.group.Do(strconv.FormatUint(uint64(version.SpecVersion), 10), func() (any, error) {
		if cached, ok := d.runtimes.Get(version.SpecVersion); ok {
			return cached, nil
		}

		// shared by every waiter; outlives the caller that started it
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metadataTimeout)
		defer cancel()

		raw, err := client.Metadata(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch metadata: %w", err)
		}

		container, err := metadata.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}

		catalog, err := d.buildCatalog(container)
		if err != nil {
			return nil, err
		}

		d.cfg.Metrics.CatalogBuilds.Inc()

		rt := &runtimeInfo{
			specVersion: version.SpecVersion,
			txVersion:   version.TransactionVersion,
			meta:        container.RuntimeMetadata(),
			catalog:     catalog,
		}

		d.runtimes.Add(version.SpecVersion, rt)

		d.logger.Info("runtime loaded",
			"spec", version.SpecName,
			"spec_version", version.SpecVersion,
			"tx_version", version.TransactionVersion,
			"metadata", container.Version,
		)

		return rt, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*runtimeInfo), nil
}

func (d *DIDGenerator) buildCatalog(c *metadata.Container) (*registry.Catalog, error) {
	opts := []registry.Option{registry.WithLogger(d.logger)}

	switch {
	case c.V14 != nil:
		opts = append(opts, registry.WithNameMapper(registry.CamelCaseNameMapper))

		return registry.NewCatalogFromScaleInfo(d.cfg.ChainTypes, c.V14, opts...)
	case c.V13 != nil:
		return registry.NewCatalogFromTypeDefinitions(d.cfg.BaseTypes, d.cfg.ChainTypes, c.V13, opts...)
	default:
		return nil, fmt.Errorf("%w: %d", metadata.ErrUnsupportedVersion, c.Version)
	}
}

func (d *DIDGenerator) connect(ctx context.Context) (*rpc.Client, error) {
	client, err := rpc.Dial(ctx, d.cfg.Endpoint, rpc.WithLogger(d.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.cfg.Endpoint, err)
	}

	return client, nil
}

// checkReachable fails fast when a started reachability manager reports
// the endpoint down.
func (d *DIDGenerator) checkReachable() error {
	m := d.cfg.Reachability
	if m == nil || !m.Running() || m.IsReachable() {
		return nil
	}

	return fmt.Errorf("%w: %w: %s", rpc.ErrTransport, ErrUnreachable, m.Target())
}

func (rt *runtimeInfo) constant(module, name string) (registry.Value, error) {
	c, err := rt.meta.Constant(module, name)
	if err != nil {
		return registry.Value{}, err
	}

	v, err := registry.NewDynamicDecoder(c.Value, rt.catalog, rt.specVersion).Decode(c.Type)
	if err != nil {
		return registry.Value{}, fmt.Errorf("failed to decode constant %s.%s: %w", module, name, err)
	}

	return v, nil
}

// constantUint decodes an unsigned constant, falling back when the runtime
// does not declare it.
func (rt *runtimeInfo) constantUint(module, name string, fallback uint64) (uint64, error) {
	v, err := rt.constant(module, name)
	if errors.Is(err, metadata.ErrModuleNotFound) || errors.Is(err, metadata.ErrConstantNotFound) {
		return fallback, nil
	}

	if err != nil {
		return 0, err
	}

	n, ok := v.AsNumber()
	if !ok || n.Sign() <= 0 || !n.IsUint64() {
		return 0, fmt.Errorf("constant %s.%s is not a positive integer: %s", module, name, v)
	}

	return n.Uint64(), nil
}
