package command

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/pilacorp/go-substrate-did-sdk/did"
)

const palletFlag = "pallet"

type DecodeResult struct {
	Pallet   string              `json:"pallet"`
	Constant string              `json:"constant"`
	Value    jsoniter.RawMessage `json:"value"`
}

func (r *DecodeResult) GetOutput() string {
	var buffer bytes.Buffer

	buffer.WriteString("\n[CONSTANT]\n")
	buffer.WriteString(FormatKV([]string{
		fmt.Sprintf("Name|%s.%s", r.Pallet, r.Constant),
		fmt.Sprintf("Value|%s", string(r.Value)),
	}))

	return buffer.String()
}

func getDecodeCommand() *cobra.Command {
	flags := DefaultConfig()

	var pallet string

	cmd := &cobra.Command{
		Use:   "decode <constant>",
		Short: "Decodes a runtime constant from the node's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWith(cmd, func() (CommandResult, error) {
				cfg, err := resolveConfig(cmd, flags)
				if err != nil {
					return nil, err
				}

				opts, err := cfg.generatorOptions(cfg.logger(cmd))
				if err != nil {
					return nil, err
				}

				gen, err := did.NewDIDGenerator(opts...)
				if err != nil {
					return nil, err
				}

				value, err := gen.DecodeConstant(cmd.Context(), pallet, args[0])
				if err != nil {
					return nil, err
				}

				raw, err := value.MarshalJSON()
				if err != nil {
					return nil, err
				}

				return &DecodeResult{Pallet: pallet, Constant: args[0], Value: raw}, nil
			})
		},
	}

	registerConfigFlags(cmd, flags)
	cmd.Flags().StringVar(&pallet, palletFlag, "System", "pallet declaring the constant")

	return cmd
}
