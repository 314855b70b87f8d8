package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/swyddfa/lsp-devtools/internal/agent"
	"github.com/swyddfa/lsp-devtools/internal/proxy/stdio"
)

// flushTimeout bounds how long the agent waits for buffered messages to be
// published after the server exits.
const flushTimeout = 2 * time.Second

var (
	agentHost string
	agentPort int
)

var agentCmd = &cobra.Command{
	Use:   "agent [flags] -- <server command> [args...]",
	Short: "Wrap a language server and publish the messages it exchanges",
	Long: `Start the language server given after -- and relay stdin and stdout
between it and the editor unchanged, while publishing a copy of every message
to an lsp-devtools record or tui session listening on --host/--port.

Publishing never delays the editor: messages seen while nothing is listening
are buffered until a connection is made.`,
	Example: `  lsp-devtools agent -- pyright-langserver --stdio
  lsp-devtools agent --port 9000 -- gopls`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentHost, "host", "", "host of the record/tui session")
	agentCmd.Flags().IntVarP(&agentPort, "port", "p", 0, "port of the record/tui session")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ac := cfg.Agent
	if cmd.Flags().Changed("host") {
		ac.Host = agentHost
	}
	if cmd.Flags().Changed("port") {
		ac.Port = agentPort
	}

	client := agent.NewClient(logger, agent.ClientConfig{
		Addr:           ac.Addr(),
		BufferSize:     ac.BufferSize,
		InitialBackoff: ac.InitialBackoff,
		MaxBackoff:     ac.MaxBackoff,
	})
	proxy := stdio.NewProxy(logger, client, stdio.WithTerminateTimeout(ac.TerminateTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientCtx, stopClient := context.WithCancel(ctx)
	defer stopClient()

	var g errgroup.Group
	g.Go(func() error {
		err := client.Run(clientCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stopClient()
		err := proxy.Run(ctx, args[0], args[1:])
		waitForFlush(client, flushTimeout)
		return err
	})

	err = g.Wait()

	var exit *stdio.ExitError
	switch {
	case errors.As(err, &exit):
		fmt.Fprintf(os.Stderr, "Server process exited with code: %d\n", exit.Code)
		return &ExitCodeError{Code: processExitCode(exit.Code)}
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// waitForFlush gives a connected client a chance to send what it has
// buffered.
func waitForFlush(c *agent.Client, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for c.Connected() && c.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

// processExitCode maps a server exit code onto one this process can exit
// with. Deaths by signal use the shell convention of 128 + signal.
func processExitCode(code int) int {
	if code < 0 {
		return 128 - code
	}
	return code
}
