// Package command implements the peaq-did command line.
package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// reportedError is an error the outputter already wrote.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

type RootCommand struct {
	baseCmd *cobra.Command
}

func NewRootCommand() *RootCommand {
	rootCommand := &RootCommand{
		baseCmd: &cobra.Command{
			Use:           "peaq-did",
			Short:         "peaq-did manages DID attributes on a peaq network",
			SilenceErrors: true,
			SilenceUsage:  true,
		},
	}

	RegisterJSONOutputFlag(rootCommand.baseCmd)

	rootCommand.registerSubCommands()

	return rootCommand
}

func (rc *RootCommand) registerSubCommands() {
	rc.baseCmd.AddCommand(
		getVersionCommand(),
		getMnemonicCommand(),
		getAddressCommand(),
		getAddAttributeCommand(),
		getDecodeCommand(),
	)
}

// Execute runs the command line and exits non-zero on failure. An interrupt
// cancels a pending submission.
func (rc *RootCommand) Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rc.baseCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}

		os.Exit(1)
	}
}

// runWith writes the result of run, or its error, through the outputter
// selected for cmd.
func runWith(cmd *cobra.Command, run func() (CommandResult, error)) error {
	outputter := InitializeOutputter(cmd)
	defer outputter.WriteOutput()

	result, err := run()
	if err != nil {
		outputter.SetError(err)

		return reportedError{err}
	}

	outputter.SetCommandResult(result)

	return nil
}
