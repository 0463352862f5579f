package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oriys/keystore/internal/config"
	"github.com/oriys/keystore/internal/drivers"
	"github.com/oriys/keystore/internal/keystore"
	"github.com/oriys/keystore/internal/logging"
	"github.com/oriys/keystore/internal/metrics"
	"github.com/oriys/keystore/internal/observability"
	"github.com/oriys/keystore/internal/workspace"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath    string
	dsn           string
	store         string
	logLevel      string
	logFormat     string
	auditLog      string
	workspaceSize int

	cfg *config.Config
	set *drivers.Set
	reg *keystore.Registry
}

func main() {
	a := &app{}
	rootCmd := newRootCmd(a)
	err := rootCmd.Execute()
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "kvctl",
		Short:         "Run key-value operations against any keystore backend",
		Long:          "Resolve a keystore DSN (driver:key=value;...) and run uniform operations against the selected backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.dsn, "dsn", "", "DSN to use instead of a configured store")
	rootCmd.PersistentFlags().StringVar(&a.store, "store", "", "Configured store name (default: default_store)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&a.auditLog, "audit-log", "", "Append one JSON line per command to this file")
	rootCmd.PersistentFlags().IntVar(&a.workspaceSize, "workspace-size", 0, "Result arena size in bytes")

	rootCmd.AddCommand(
		driversCmd(a),
		getCmd(a),
		setCmd(a),
		addCmd(a),
		existsCmd(a),
		delCmd(a),
		expireCmd(a),
		incrCmd(a),
		decrCmd(a),
		rawCmd(a),
		benchCmd(a),
		metricsCmd(a),
	)
	return rootCmd
}

// setup loads config (file, then env, then flags) and starts the ambient
// services. The registry is built once; tests may preset it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		loaded, err := config.LoadFromFile(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.auditLog != "" {
		cfg.Log.AuditFile = a.auditLog
	}
	if a.workspaceSize > 0 {
		cfg.Workspace.Size = a.workspaceSize
	}
	a.cfg = cfg

	logging.InitStructuredTo(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	if cfg.Log.AuditFile != "" {
		if err := logging.Default().SetOutput(cfg.Log.AuditFile); err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
	}
	if cfg.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
	}
	if a.reg == nil {
		a.reg, a.set = drivers.NewRegistry(drivers.Options{})
	}
	if err := observability.Init(cmd.Context(), observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Attributes:  []attribute.KeyValue{attribute.StringSlice("keystore.drivers", a.reg.Names())},
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	return nil
}

// close releases what setup started. It runs whether the command failed or not.
func (a *app) close() {
	if a.set != nil {
		if err := a.set.Shutdown(); err != nil {
			logging.Op().Warn("close pooled connections", "error", err)
		}
	}
	if err := observability.Shutdown(context.Background()); err != nil {
		logging.Op().Warn("flush traces", "error", err)
	}
	logging.Default().Close()
}

// resolveDSN picks --dsn over the configured store.
func (a *app) resolveDSN() (string, error) {
	if a.dsn != "" {
		return a.dsn, nil
	}
	dsn, err := a.cfg.DSN(a.store)
	if err != nil {
		return "", fmt.Errorf("%w (pass --dsn or configure stores)", err)
	}
	return dsn, nil
}

func (a *app) open(ctx context.Context) (*keystore.Session, error) {
	dsn, err := a.resolveDSN()
	if err != nil {
		return nil, err
	}
	return a.reg.Open(ctx, dsn)
}

func (a *app) scope() *workspace.Workspace {
	return workspace.New(a.cfg.Workspace.Size)
}

// withSession opens a session, runs fn with a request-scoped workspace and
// closes the session.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *keystore.Session, ws *workspace.Workspace, out io.Writer) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.Op().Warn("close session", "error", err)
		}
	}()
	ws := a.scope()
	defer ws.Reset()
	return fn(ctx, s, ws, cmd.OutOrStdout())
}
