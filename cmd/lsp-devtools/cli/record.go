package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/agent"
	"github.com/swyddfa/lsp-devtools/internal/config"
	"github.com/swyddfa/lsp-devtools/internal/filter"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
	"github.com/swyddfa/lsp-devtools/internal/policy"
	"github.com/swyddfa/lsp-devtools/internal/sink"
)

var (
	recordHost           string
	recordPort           int
	recordToFile         string
	recordToSQLite       string
	recordSource         string
	recordIncludeTypes   []string
	recordExcludeTypes   []string
	recordIncludeMethods []string
	recordExcludeMethods []string
	recordFormat         string
	recordPolicy         string
	recordMetricsAddr    string
	recordLiveAddr       string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the messages published by an agent",
	Long: `Listen for an lsp-devtools agent and record the messages it publishes.

Messages are printed to the console unless --to-file or --to-sqlite is given.
Filters select which messages are kept; exclusions always win over
inclusions. Responses are matched to the method of the request they answer.`,
	Example: `  lsp-devtools record
  lsp-devtools record --to-sqlite session.db
  lsp-devtools record --include-method 'textDocument/*' -f '{.method} {.params.position|position}'
  lsp-devtools record --message-source server --include-message-type notification`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordHost, "host", "", "host to listen on")
	f.IntVarP(&recordPort, "port", "p", 0, "port to listen on")
	f.StringVar(&recordToFile, "to-file", "", "append messages to this file")
	f.StringVar(&recordToSQLite, "to-sqlite", "", "store messages in this SQLite database")
	f.StringVar(&recordSource, "message-source", filter.SourceBoth, "only record messages from client, server or both")
	f.StringArrayVar(&recordIncludeTypes, "include-message-type", nil, "only record this message type (request, response, result, error, notification)")
	f.StringArrayVar(&recordExcludeTypes, "exclude-message-type", nil, "do not record this message type")
	f.StringArrayVar(&recordIncludeMethods, "include-method", nil, "only record this method (glob patterns allowed)")
	f.StringArrayVar(&recordExcludeMethods, "exclude-method", nil, "do not record this method (glob patterns allowed)")
	f.StringVarP(&recordFormat, "format", "f", "", "format messages with this template")
	f.StringVar(&recordPolicy, "policy", "", "only record messages allowed by this Rego policy")
	f.StringVar(&recordMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&recordLiveAddr, "live-addr", "", "serve a live view of recorded messages on this address")
	recordCmd.MarkFlagsMutuallyExclusive("to-file", "to-sqlite")
	rootCmd.AddCommand(recordCmd)
}

// recordSettings merges command line flags over the config file.
func recordSettings(cmd *cobra.Command) (config.RecordConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.RecordConfig{}, err
	}
	rc := cfg.Record
	flags := cmd.Flags()

	if flags.Changed("host") {
		rc.Host = recordHost
	}
	if flags.Changed("port") {
		rc.Port = recordPort
	}
	if flags.Changed("to-file") {
		rc.ToFile, rc.ToSQLite = recordToFile, ""
	}
	if flags.Changed("to-sqlite") {
		rc.ToSQLite, rc.ToFile = recordToSQLite, ""
	}
	if flags.Changed("message-source") {
		rc.Filter.Source = recordSource
	}
	if flags.Changed("include-message-type") {
		rc.Filter.IncludeTypes = recordIncludeTypes
	}
	if flags.Changed("exclude-message-type") {
		rc.Filter.ExcludeTypes = recordExcludeTypes
	}
	if flags.Changed("include-method") {
		rc.Filter.IncludeMethods = recordIncludeMethods
	}
	if flags.Changed("exclude-method") {
		rc.Filter.ExcludeMethods = recordExcludeMethods
	}
	if flags.Changed("format") {
		rc.Filter.Format = recordFormat
	}
	if flags.Changed("policy") {
		rc.Policy = recordPolicy
	}
	if flags.Changed("metrics-addr") {
		rc.MetricsAddr = recordMetricsAddr
	}
	if flags.Changed("live-addr") {
		rc.LiveAddr = recordLiveAddr
	}
	return rc, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	rc, err := recordSettings(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engine policy.Engine
	if rc.Policy != "" {
		engine, err = policy.NewOPAEngine(rc.Policy)
		if err != nil {
			return fmt.Errorf("creating policy engine: %w", err)
		}
	}

	chain, err := filter.Build(filter.ChainConfig{
		Filter:  rc.Filter,
		Engine:  engine,
		Tracker: jsonrpc.NewTracker(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var sinks sink.Multi
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Error("closing outputs", "error", err)
		}
	}()

	switch {
	case rc.ToFile != "":
		s, err := sink.NewFileSink(rc.ToFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	case rc.ToSQLite != "":
		s, err := sink.OpenSQLite(ctx, rc.ToSQLite)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	default:
		sinks = append(sinks, sink.NewConsoleSink(os.Stdout))
	}

	g, gctx := errgroup.WithContext(ctx)

	if rc.MetricsAddr != "" {
		metrics := sink.NewMetricsSink()
		sinks = append(sinks, metrics)
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		g.Go(func() error { return serveHTTP(gctx, "metrics", rc.MetricsAddr, mux) })
	}
	if rc.LiveAddr != "" {
		live := sink.NewLiveSink(rc.LiveAddr, logger)
		sinks = append(sinks, live)
		g.Go(func() error { return live.ListenAndServe(gctx) })
	}

	handle := func(ctx context.Context, m *api.CapturedMessage) {
		d := chain.Evaluate(ctx, m)
		if !d.Accept {
			logger.Debug("message filtered", "source", string(m.Source), "method", d.Method, "reason", d.Reason)
			return
		}
		entry := &sink.Entry{Message: m, Text: d.Rendered, Formatted: d.Formatted}
		if err := sinks.Write(ctx, entry); err != nil {
			logger.Error("recording message", "method", d.Method, "error", err)
		}
	}

	server := agent.NewServer(logger, handle)
	g.Go(func() error { return server.ListenAndServe(gctx, rc.Addr()) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveHTTP serves h on addr until ctx is cancelled.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("starting "+name+" server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
