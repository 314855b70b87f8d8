package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/swyddfa/lsp-devtools/internal/config"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lsp-devtools",
	Short: "Tools for inspecting Language Server Protocol traffic",
	Long: `lsp-devtools sits between a language client and server, capturing the
messages they exchange so they can be recorded, filtered, formatted and
browsed while the session is running.

Run "lsp-devtools agent -- <server>" in place of the server command in your
editor, then "lsp-devtools record" or "lsp-devtools tui" to see the traffic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// ExitCodeError asks main to exit with Code. It has already been reported.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if _, ok := err.(*ExitCodeError); !ok && err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
