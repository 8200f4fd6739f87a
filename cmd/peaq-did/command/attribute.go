package command

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pilacorp/go-substrate-did-sdk/did"
	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

const (
	nameFlag       = "name"
	valueFlag      = "value"
	validForFlag   = "valid-for"
	didAccountFlag = "did-account"
)

type AddAttributeResult struct {
	*did.SubmitResult
	DIDAccount string `json:"didAccount"`
	Name       string `json:"name"`
}

func (r *AddAttributeResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[ATTRIBUTE ADDED]\n")
	buffer.WriteString(FormatKV([]string{
		fmt.Sprintf("DID account|%s", r.DIDAccount),
		fmt.Sprintf("Name|%s", r.Name),
		fmt.Sprintf("Status|%s", r.Status),
		fmt.Sprintf("Block hash|%s", r.BlockHash),
		fmt.Sprintf("Extrinsic hash|%s", r.ExtrinsicHash),
		fmt.Sprintf("Sender|%s", r.Sender),
		fmt.Sprintf("Nonce|%d", r.Nonce),
		fmt.Sprintf("Era|%s", formatEra(r.EraStart, r.EraPeriod)),
	}))

	return buffer.String()
}

func formatEra(start, period uint64) string {
	if period == 0 {
		return "immortal"
	}

	return fmt.Sprintf("%d from block %d", period, start)
}

type addAttributeParams struct {
	name       string
	value      string
	validFor   uint32
	didAccount string
}

func getAddAttributeCommand() *cobra.Command {
	flags := DefaultConfig()
	params := &addAttributeParams{}

	cmd := &cobra.Command{
		Use:   "add-attribute",
		Short: "Signs and submits a DID add_attribute extrinsic and waits for inclusion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWith(cmd, func() (CommandResult, error) {
				cfg, err := resolveConfig(cmd, flags)
				if err != nil {
					return nil, err
				}

				return addAttribute(cmd, cfg, params)
			})
		},
	}

	registerConfigFlags(cmd, flags)

	cmd.Flags().StringVar(&params.name, nameFlag, "", "attribute name")
	cmd.Flags().StringVar(&params.value, valueFlag, "", "attribute value")
	cmd.Flags().Uint32Var(&params.validFor, validForFlag, 0, "validity in blocks, unlimited when unset")
	cmd.Flags().StringVar(&params.didAccount, didAccountFlag, "", "SS58 address of the DID account, defaults to the signer")

	_ = cmd.MarkFlagRequired(nameFlag)

	return cmd
}

func addAttribute(cmd *cobra.Command, cfg *Config, params *addAttributeParams) (*AddAttributeResult, error) {
	if params.name == "" {
		return nil, errors.New("attribute name must not be empty")
	}

	provider, err := cfg.provider()
	if err != nil {
		return nil, err
	}

	logger := cfg.logger(cmd)

	opts, err := cfg.generatorOptions(logger)
	if err != nil {
		return nil, err
	}

	gen, err := did.NewDIDGenerator(opts...)
	if err != nil {
		return nil, err
	}

	account := params.didAccount
	if account == "" {
		if account, err = ss58.Encode(provider.AccountID(), cfg.SS58Prefix); err != nil {
			return nil, err
		}
	}

	var validFor *uint32
	if cmd.Flags().Changed(validForFlag) {
		validFor = &params.validFor
	}

	res, err := gen.AddAttribute(cmd.Context(), provider, account, params.name, params.value, validFor)
	if err != nil {
		return nil, err
	}

	return &AddAttributeResult{
		SubmitResult: res,
		DIDAccount:   account,
		Name:         params.name,
	}, nil
}
