package command

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

const JSONOutputFlag = "json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OutputFormatter is the standardized interface all output formatters
// should use
type OutputFormatter interface {
	// SetError sets the encountered error
	SetError(err error)

	// SetCommandResult sets the result of the command execution
	SetCommandResult(result CommandResult)

	// WriteOutput writes the result / error output
	WriteOutput()
}

type CommandResult interface {
	GetOutput() string
}

type commonOutputFormatter struct {
	stdout io.Writer
	stderr io.Writer

	errorOutput   error
	commandOutput CommandResult
}

func (c *commonOutputFormatter) SetError(err error) {
	c.errorOutput = err
}

func (c *commonOutputFormatter) SetCommandResult(result CommandResult) {
	c.commandOutput = result
}

type CLIOutput struct {
	commonOutputFormatter
}

func (cli *CLIOutput) WriteOutput() {
	if cli.errorOutput != nil {
		_, _ = fmt.Fprintln(cli.stderr, cli.errorOutput.Error())

		return
	}

	if cli.commandOutput != nil {
		_, _ = fmt.Fprintln(cli.stdout, cli.commandOutput.GetOutput())
	}
}

type JSONOutput struct {
	commonOutputFormatter
}

func (jo *JSONOutput) WriteOutput() {
	if jo.errorOutput != nil {
		_, _ = fmt.Fprintln(jo.stderr, marshalJSONToString(struct {
			Err string `json:"error"`
		}{
			Err: jo.errorOutput.Error(),
		}))

		return
	}

	_, _ = fmt.Fprintln(jo.stdout, marshalJSONToString(jo.commandOutput))
}

func marshalJSONToString(input interface{}) string {
	bytes, err := json.Marshal(input)
	if err != nil {
		return err.Error()
	}

	return string(bytes)
}

// InitializeOutputter picks the formatter requested by the json flag. It
// writes to the command's configured streams.
func InitializeOutputter(cmd *cobra.Command) OutputFormatter {
	common := commonOutputFormatter{
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}

	if flag := cmd.Flag(JSONOutputFlag); flag != nil && flag.Changed {
		return &JSONOutput{common}
	}

	return &CLIOutput{common}
}

// RegisterJSONOutputFlag registers the --json output setting for all child commands
func RegisterJSONOutputFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(
		JSONOutputFlag,
		false,
		"get all outputs in json format (default false)",
	)
}

// FormatKV formats key value pairs:
//
// Key = Value
//
// Key = <none>
func FormatKV(in []string) string {
	columnConf := columnize.DefaultConfig()
	columnConf.Empty = "<none>"
	columnConf.Glue = " = "

	return columnize.Format(in, columnConf)
}
