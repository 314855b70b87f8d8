package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/swyddfa/lsp-devtools/internal/format"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

var (
	formatTemplate string
	formatMessage  string
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Dry-run a format template against a message",
	Long: `Render one JSON-RPC message through a format template, as record -f
would, without a running agent. The message is read from stdin unless
--message is given.`,
	Example: `  lsp-devtools format -f '{.method}' --message '{"jsonrpc":"2.0","method":"initialized","params":{}}'
  cat completion.json | lsp-devtools format -f '{.result.items[0:5#, ].label}'`,
	Args: cobra.NoArgs,
	RunE: runFormat,
}

func init() {
	formatCmd.Flags().StringVarP(&formatTemplate, "format", "f", "", "template to render")
	formatCmd.Flags().StringVar(&formatMessage, "message", "", "JSON-RPC message (default: read stdin)")
	_ = formatCmd.MarkFlagRequired("format")
	rootCmd.AddCommand(formatCmd)
}

func runFormat(cmd *cobra.Command, args []string) error {
	tmpl, err := format.Parse(formatTemplate)
	if err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}

	body := []byte(formatMessage)
	if formatMessage == "" {
		body, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
	}
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		return err
	}

	output := struct {
		Type     string `json:"type"`
		Rendered bool   `json:"rendered"`
		Output   string `json:"output,omitempty"`
		Error    string `json:"error,omitempty"`
	}{
		Type: string(msg.Type()),
	}
	text, err := tmpl.Render(body)
	if err != nil {
		output.Error = err.Error()
	} else {
		output.Rendered = true
		output.Output = text
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return err
	}
	if !output.Rendered {
		return &ExitCodeError{Code: 1}
	}
	return nil
}
