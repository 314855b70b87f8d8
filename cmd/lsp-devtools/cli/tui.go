package cli

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/agent"
	"github.com/swyddfa/lsp-devtools/internal/sink"
	"github.com/swyddfa/lsp-devtools/internal/tui"
)

var (
	tuiHost       string
	tuiPort       int
	tuiFromSQLite string
	tuiSession    string
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse LSP messages interactively",
	Long: `Show the messages published by an lsp-devtools agent in an interactive
table, or browse a database written by "record --to-sqlite".

When reading a database, rows added while the browser is open are picked up
automatically.`,
	Example: `  lsp-devtools tui
  lsp-devtools tui --from-sqlite session.db`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().StringVar(&tuiHost, "host", "", "host to listen on")
	tuiCmd.Flags().IntVarP(&tuiPort, "port", "p", 0, "port to listen on")
	tuiCmd.Flags().StringVar(&tuiFromSQLite, "from-sqlite", "", "browse messages stored in this SQLite database")
	tuiCmd.Flags().StringVar(&tuiSession, "session", "", "with --from-sqlite, only show this session")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rc := cfg.Record
	if cmd.Flags().Changed("host") {
		rc.Host = tuiHost
	}
	if cmd.Flags().Changed("port") {
		rc.Port = tuiPort
	}

	// The terminal belongs to the browser, logs would only corrupt it.
	log := logger
	if !verbose {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if tuiFromSQLite != "" {
		db, err := sink.OpenSQLite(ctx, tuiFromSQLite)
		if err != nil {
			return err
		}
		defer db.Close()
		return tui.Run(ctx, func(p *tea.Program) { tailSQLite(ctx, log, db, tuiSession, p) })
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return tui.Run(ctx, func(p *tea.Program) {
		server := agent.NewServer(log, func(_ context.Context, m *api.CapturedMessage) {
			p.Send(tui.MessageMsg{Message: m})
		})
		if err := server.ListenAndServe(ctx, rc.Addr()); err != nil {
			log.Error("agent server stopped", "error", err)
			p.Quit()
		}
	})
}

// tailSQLite sends the stored messages to p, then polls for new rows until
// ctx is cancelled.
func tailSQLite(ctx context.Context, log *slog.Logger, db *sink.SQLiteSink, session string, p *tea.Program) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last int64
	for {
		rows, err := db.Messages(ctx, session, last)
		if err != nil {
			log.Error("reading messages", "error", err)
		}
		batch := make(tui.MessagesMsg, 0, len(rows))
		for _, r := range rows {
			last = r.RowID
			m, err := r.Captured()
			if err != nil {
				log.Debug("skipping row", "row", r.RowID, "error", err)
				continue
			}
			batch = append(batch, m)
		}
		if len(batch) > 0 {
			p.Send(batch)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
