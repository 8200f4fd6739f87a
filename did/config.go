package did

import (
	"math/big"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pilacorp/go-substrate-did-sdk/reachability"
	"github.com/pilacorp/go-substrate-did-sdk/registry/typedefs"
	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

// Default configuration constants for the DID SDK.
//
// These values can be overridden using configuration options when creating
// a DIDGenerator instance.
const (
	// DefaultEndpoint is the websocket endpoint of the agung test network.
	DefaultEndpoint = "wss://wsspc1-qa.agung.peaq.network"
	// DefaultSS58Prefix is the generic Substrate address prefix.
	DefaultSS58Prefix = ss58.GenericSubstratePrefix
	// DefaultModule is the pallet holding DID attributes.
	DefaultModule = "PeaqDid"
	// DefaultSubmitTimeout bounds the wait for a submitted extrinsic to be
	// included in a block.
	DefaultSubmitTimeout = 2 * time.Minute
	// DefaultCatalogCacheSize is the number of runtime versions whose type
	// catalog is kept.
	DefaultCatalogCacheSize = 4

	addAttributeCall = "add_attribute"
)

// DIDConfig holds configuration for DID operations.
//
// Important notes:
//   - BaseTypes and ChainTypes only matter for runtimes serving metadata v13;
//     v14 runtimes describe their own types and ChainTypes merely adds names
//   - a zero SubmitTimeout leaves the wait bounded by the caller's context only
//   - Reachability, when set, makes submissions fail fast while the endpoint
//     is unreachable
type DIDConfig struct {
	// Endpoint is the websocket JSON-RPC endpoint of the node.
	Endpoint string
	// SS58Prefix is the network prefix used to format addresses.
	SS58Prefix uint16
	// Module is the pallet name of the DID calls.
	Module string
	// BaseTypes and ChainTypes are JSON type definitions.
	BaseTypes  []byte
	ChainTypes []byte
	// Logger receives structured logs. Defaults to a null logger.
	Logger hclog.Logger
	// SubmitTimeout bounds the wait for inclusion.
	SubmitTimeout time.Duration
	// Reachability optionally gates submissions on endpoint reachability.
	Reachability *reachability.Manager
	// Metrics records submission outcomes. Defaults to NilMetrics.
	Metrics *Metrics
	// CatalogCacheSize is the number of cached runtime versions.
	CatalogCacheSize int
	// Tip is paid to the block author. Defaults to zero.
	Tip *big.Int
}

// DIDOption is a functional option type for configuring DIDGenerator.
type DIDOption func(*DIDConfig)

func defaultConfig() DIDConfig {
	return DIDConfig{
		Endpoint:         DefaultEndpoint,
		SS58Prefix:       DefaultSS58Prefix,
		Module:           DefaultModule,
		BaseTypes:        typedefs.Default(),
		ChainTypes:       typedefs.Peaq(),
		Logger:           hclog.NewNullLogger(),
		SubmitTimeout:    DefaultSubmitTimeout,
		Metrics:          NilMetrics(),
		CatalogCacheSize: DefaultCatalogCacheSize,
	}
}

// WithEndpoint sets the websocket endpoint of the node.
func WithEndpoint(endpoint string) DIDOption {
	return func(c *DIDConfig) { c.Endpoint = endpoint }
}

// WithSS58Prefix sets the network prefix used for addresses.
func WithSS58Prefix(prefix uint16) DIDOption {
	return func(c *DIDConfig) { c.SS58Prefix = prefix }
}

// WithTypeDefinitions replaces the bundled JSON type definitions. Either
// document may be nil to keep the bundled one.
func WithTypeDefinitions(base, chain []byte) DIDOption {
	return func(c *DIDConfig) {
		if base != nil {
			c.BaseTypes = base
		}

		if chain != nil {
			c.ChainTypes = chain
		}
	}
}

func WithLogger(logger hclog.Logger) DIDOption {
	return func(c *DIDConfig) { c.Logger = logger }
}

// WithSubmitTimeout bounds the wait for inclusion. Zero disables the bound.
func WithSubmitTimeout(timeout time.Duration) DIDOption {
	return func(c *DIDConfig) { c.SubmitTimeout = timeout }
}

// WithReachability gates submissions on m. The manager must be started,
// directly or through a listener; submissions fail while it reports the
// endpoint down.
func WithReachability(m *reachability.Manager) DIDOption {
	return func(c *DIDConfig) { c.Reachability = m }
}

func WithMetrics(m *Metrics) DIDOption {
	return func(c *DIDConfig) { c.Metrics = m }
}

// WithModule sets the pallet holding the DID calls.
func WithModule(module string) DIDOption {
	return func(c *DIDConfig) { c.Module = module }
}

func WithCatalogCacheSize(size int) DIDOption {
	return func(c *DIDConfig) { c.CatalogCacheSize = size }
}

func WithTip(tip *big.Int) DIDOption {
	return func(c *DIDConfig) { c.Tip = tip }
}
