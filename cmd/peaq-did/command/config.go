package command

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/pilacorp/go-substrate-did-sdk/did"
	"github.com/pilacorp/go-substrate-did-sdk/signer"
)

const (
	configFlag     = "config"
	endpointFlag   = "endpoint"
	seedFlag       = "seed"
	schemeFlag     = "scheme"
	prefixFlag     = "ss58-prefix"
	moduleFlag     = "module"
	timeoutFlag    = "timeout"
	logLevelFlag   = "log-level"
	baseTypesFlag  = "base-types"
	chainTypesFlag = "chain-types"
)

// Config is the file form of the connection and signing settings. Flags set
// on the command line take precedence over the file.
type Config struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint" hcl:"endpoint"`
	Seed       string `json:"seed" yaml:"seed" hcl:"seed"`
	Scheme     string `json:"scheme" yaml:"scheme" hcl:"scheme"`
	SS58Prefix uint16 `json:"ss58_prefix" yaml:"ss58_prefix" hcl:"ss58_prefix"`
	Module     string `json:"module" yaml:"module" hcl:"module"`
	Timeout    string `json:"timeout" yaml:"timeout" hcl:"timeout"`
	LogLevel   string `json:"log_level" yaml:"log_level" hcl:"log_level"`
	BaseTypes  string `json:"base_types" yaml:"base_types" hcl:"base_types"`
	ChainTypes string `json:"chain_types" yaml:"chain_types" hcl:"chain_types"`
}

// DefaultConfig returns the settings used when neither a file nor a flag
// sets a value.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:   did.DefaultEndpoint,
		Scheme:     signer.SchemeSr25519.String(),
		SS58Prefix: did.DefaultSS58Prefix,
		Module:     did.DefaultModule,
		Timeout:    did.DefaultSubmitTimeout.String(),
		LogLevel:   hclog.Info.String(),
	}
}

// ReadConfigFile reads a config file, picking the decoder from the suffix.
func ReadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var unmarshalFunc func([]byte, interface{}) error

	switch {
	case strings.HasSuffix(path, ".hcl"):
		unmarshalFunc = hcl.Unmarshal
	case strings.HasSuffix(path, ".json"):
		unmarshalFunc = json.Unmarshal
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		unmarshalFunc = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("suffix of %s is neither hcl, json, yaml nor yml", path)
	}

	config := DefaultConfig()
	if err := unmarshalFunc(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// registerConfigFlags binds the shared flags of commands talking to a node
// or signing.
func registerConfigFlags(cmd *cobra.Command, cfg *Config) {
	defaults := DefaultConfig()

	cmd.Flags().StringVar(&cfg.Endpoint, endpointFlag, defaults.Endpoint, "websocket endpoint of the node")
	cmd.Flags().StringVar(&cfg.Seed, seedFlag, "", "mnemonic or 0x prefixed 32 byte seed of the signer")
	cmd.Flags().StringVar(&cfg.Scheme, schemeFlag, defaults.Scheme, "signature scheme: sr25519, ed25519 or ecdsa")
	cmd.Flags().Uint16Var(&cfg.SS58Prefix, prefixFlag, defaults.SS58Prefix, "ss58 address prefix")
	cmd.Flags().StringVar(&cfg.Module, moduleFlag, defaults.Module, "pallet holding the DID calls")
	cmd.Flags().StringVar(&cfg.Timeout, timeoutFlag, defaults.Timeout, "maximum wait for inclusion, 0 to wait indefinitely")
	cmd.Flags().StringVar(&cfg.LogLevel, logLevelFlag, defaults.LogLevel, "log level: trace, debug, info, warn or error")
	cmd.Flags().StringVar(&cfg.BaseTypes, baseTypesFlag, "", "JSON file replacing the bundled base type definitions")
	cmd.Flags().StringVar(&cfg.ChainTypes, chainTypesFlag, "", "JSON file replacing the bundled chain type definitions")
	cmd.Flags().String(configFlag, "", "config file (.json, .yaml, .yml or .hcl)")
}

// resolveConfig loads the --config file, if any, and overlays every flag
// given on the command line.
func resolveConfig(cmd *cobra.Command, flags *Config) (*Config, error) {
	path, _ := cmd.Flags().GetString(configFlag)
	if path == "" {
		return flags, nil
	}

	cfg, err := ReadConfigFile(path)
	if err != nil {
		return nil, err
	}

	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case endpointFlag:
			cfg.Endpoint = flags.Endpoint
		case seedFlag:
			cfg.Seed = flags.Seed
		case schemeFlag:
			cfg.Scheme = flags.Scheme
		case prefixFlag:
			cfg.SS58Prefix = flags.SS58Prefix
		case moduleFlag:
			cfg.Module = flags.Module
		case timeoutFlag:
			cfg.Timeout = flags.Timeout
		case logLevelFlag:
			cfg.LogLevel = flags.LogLevel
		case baseTypesFlag:
			cfg.BaseTypes = flags.BaseTypes
		case chainTypesFlag:
			cfg.ChainTypes = flags.ChainTypes
		}
	})

	return cfg, nil
}

func (c *Config) logger(cmd *cobra.Command) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "peaq-did",
		Level:  hclog.LevelFromString(c.LogLevel),
		Output: cmd.ErrOrStderr(),
	})
}

// provider builds the local signer described by the seed and scheme.
func (c *Config) provider() (signer.SignerProvider, error) {
	if c.Seed == "" {
		return nil, fmt.Errorf("--%s is required", seedFlag)
	}

	scheme, err := signer.ParseScheme(c.Scheme)
	if err != nil {
		return nil, err
	}

	return signer.NewProvider(scheme, c.Seed)
}

// generatorOptions translates the settings into DIDGenerator options.
func (c *Config) generatorOptions(logger hclog.Logger) ([]did.DIDOption, error) {
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}

	opts := []did.DIDOption{
		did.WithEndpoint(c.Endpoint),
		did.WithSS58Prefix(c.SS58Prefix),
		did.WithModule(c.Module),
		did.WithSubmitTimeout(timeout),
		did.WithLogger(logger),
	}

	var base, chain []byte

	if c.BaseTypes != "" {
		if base, err = os.ReadFile(c.BaseTypes); err != nil {
			return nil, err
		}
	}

	if c.ChainTypes != "" {
		if chain, err = os.ReadFile(c.ChainTypes); err != nil {
			return nil, err
		}
	}

	return append(opts, did.WithTypeDefinitions(base, chain)), nil
}
