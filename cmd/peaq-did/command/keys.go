package command

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-substrate-did-sdk/signer"
	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

type KeyResult struct {
	Mnemonic  string `json:"mnemonic,omitempty"`
	Scheme    string `json:"scheme"`
	Address   string `json:"address"`
	AccountID string `json:"accountId"`
}

func (r *KeyResult) GetOutput() string {
	var buffer bytes.Buffer

	rows := []string{
		fmt.Sprintf("Scheme|%s", r.Scheme),
		fmt.Sprintf("Address|%s", r.Address),
		fmt.Sprintf("Account ID|%s", r.AccountID),
	}

	if r.Mnemonic != "" {
		rows = append([]string{fmt.Sprintf("Mnemonic|%s", r.Mnemonic)}, rows...)
	}

	buffer.WriteString("\n[KEY]\n")
	buffer.WriteString(FormatKV(rows))

	return buffer.String()
}

func keyResult(cfg *Config) (*KeyResult, error) {
	provider, err := cfg.provider()
	if err != nil {
		return nil, err
	}

	address, err := ss58.Encode(provider.AccountID(), cfg.SS58Prefix)
	if err != nil {
		return nil, err
	}

	return &KeyResult{
		Scheme:    provider.Scheme().String(),
		Address:   address,
		AccountID: hexutil.Encode(provider.AccountID()),
	}, nil
}

func getMnemonicCommand() *cobra.Command {
	cfg := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "mnemonic",
		Short: "Generates a new mnemonic and prints the account it derives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, func() (CommandResult, error) {
				mnemonic, err := signer.GenerateMnemonic()
				if err != nil {
					return nil, err
				}

				cfg.Seed = mnemonic

				res, err := keyResult(cfg)
				if err != nil {
					return nil, err
				}

				res.Mnemonic = mnemonic

				return res, nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.Scheme, schemeFlag, cfg.Scheme, "signature scheme: sr25519, ed25519 or ecdsa")
	cmd.Flags().Uint16Var(&cfg.SS58Prefix, prefixFlag, cfg.SS58Prefix, "ss58 address prefix")

	return cmd
}

func getAddressCommand() *cobra.Command {
	flags := DefaultConfig()

	cmd := &cobra.Command{
		Use:   "address",
		Short: "Prints the account derived from a seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, func() (CommandResult, error) {
				cfg, err := resolveConfig(cmd, flags)
				if err != nil {
					return nil, err
				}

				return keyResult(cfg)
			})
		},
	}

	registerConfigFlags(cmd, flags)

	return cmd
}
