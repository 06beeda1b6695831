// Command erpsync upserts spreadsheet datasets into the ERP and runs the
// document workflow operations that go with them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/config"
	"github.com/David-Botos/erp-ingress/pkg/connector"
	"github.com/David-Botos/erp-ingress/pkg/datasets"
	"github.com/David-Botos/erp-ingress/pkg/erp"
	"github.com/David-Botos/erp-ingress/pkg/ledger"
	"github.com/David-Botos/erp-ingress/pkg/model"
	"github.com/David-Botos/erp-ingress/pkg/ops"
	"github.com/David-Botos/erp-ingress/pkg/source"
	"github.com/David-Botos/erp-ingress/pkg/transfer"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// Commands besides dataset names
const (
	cmdAll          = "all"
	cmdSubmitDrafts = "submit-drafts"
	cmdCancel       = "cancel"
)

type options struct {
	command   string
	dryRun    bool
	limit     int
	sheets    []string
	submit    bool
	verify    bool
	reportDir string
	doctype   string
	names     []string
	envFile   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("erpsync", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: erpsync [flags] <%s|%s|%s|%s>\n\n",
			strings.Join(datasetNames(), "|"), cmdAll, cmdSubmitDrafts, cmdCancel)
		fs.PrintDefaults()
	}

	fs.BoolVarP(&opts.dryRun, "dry-run", "n", false, "Preview without writing to the ERP")
	fs.IntVarP(&opts.limit, "limit", "l", 0, "Process at most this many records per dataset")
	fs.StringSliceVar(&opts.sheets, "sheets", nil, "Read only these sheets (comma separated)")
	fs.BoolVar(&opts.submit, "submit", false, "Submit created and draft documents of submittable datasets")
	fs.BoolVar(&opts.verify, "verify", false, "Re-list written documents after the run and report drift")
	fs.StringVar(&opts.reportDir, "report-dir", "", "Directory for the JSON run report (default REPORT_DIR)")
	fs.StringVar(&opts.doctype, "doctype", "", "Doctype for submit-drafts and cancel")
	fs.StringSliceVar(&opts.names, "names", nil, "Document names for cancel (default: every submitted document)")
	fs.StringVar(&opts.envFile, "env-file", getenv("ENV_FILE", ".env"), "Dotenv file loaded before the environment is read")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fs.Usage()
		return nil, errors.New("expected exactly one command")
	}
	opts.command = rest[0]

	switch opts.command {
	case cmdSubmitDrafts, cmdCancel:
		if opts.doctype == "" {
			return nil, fmt.Errorf("%s needs --doctype", opts.command)
		}
	case cmdAll:
		if len(opts.sheets) > 0 {
			return nil, errors.New("--sheets applies to a single dataset, not all")
		}
	default:
		if !isDataset(opts.command) {
			fs.Usage()
			return nil, fmt.Errorf("unknown command %q", opts.command)
		}
	}
	if opts.limit < 0 {
		return nil, errors.New("--limit cannot be negative")
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "Error:", err)
		return exitConfig
	}

	if err := config.LoadEnvFile(opts.envFile); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitConfig
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(stderr, "Configuration error:", err)
		return exitConfig
	}
	if opts.reportDir != "" {
		cfg.ReportDir = opts.reportDir
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(stderr, "Configuration error:", err)
		return exitConfig
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("Startup failed", zap.Error(err))
		fmt.Fprintln(stderr, "Error:", err)
		return exitCode(err)
	}
	defer app.close()

	return app.execute(ctx, stdout)
}

// app holds the wired components of one invocation
type app struct {
	cfg      *config.Config
	opts     *options
	logger   *zap.Logger
	client   *erp.Client
	effects  transfer.Effects
	registry *datasets.Registry
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, opts *options, logger *zap.Logger) (*app, error) {
	overrides, err := config.LoadDatasetOverrides(cfg.DatasetsFile)
	if err != nil {
		return nil, &transfer.ConfigError{Reason: err.Error()}
	}
	registry, err := datasets.NewRegistry(cfg.CompanyAbbr, overrides)
	if err != nil {
		return nil, &transfer.ConfigError{Reason: err.Error()}
	}

	client, err := erp.NewClient(cfg.ERP, logger)
	if err != nil {
		return nil, &transfer.ConfigError{Reason: err.Error()}
	}
	user, err := client.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ERP: %w", err)
	}
	logger.Info("Connected to ERP", zap.String("url", cfg.ERP.URL), zap.String("user", user))

	a := &app{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		client:   client,
		registry: registry,
	}
	if opts.dryRun {
		a.effects = transfer.NewDryRunEffects(logger)
	} else {
		a.effects = transfer.NewLiveEffects(client)
	}
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
}

func (a *app) execute(ctx context.Context, stdout io.Writer) int {
	switch a.opts.command {
	case cmdSubmitDrafts:
		result, err := a.runner().SubmitDrafts(ctx, a.opts.doctype, nil)
		return a.finish(stdout, result, nil, nil, err)

	case cmdCancel:
		result, err := a.runner().CancelDocuments(ctx, a.opts.doctype, a.opts.names)
		return a.finish(stdout, result, nil, nil, err)
	}

	engine, err := a.engine(ctx)
	if err != nil {
		a.logger.Error("Startup failed", zap.Error(err))
		return exitCode(err)
	}

	names := []string{a.opts.command}
	if a.opts.command == cmdAll {
		names = a.registry.Names()
	}

	for _, name := range names {
		code := a.runDataset(ctx, engine, name, stdout)
		if code != exitOK {
			if len(names) > 1 {
				a.logger.Error("Stopping after failed step", zap.String("dataset", name))
			}
			return code
		}
	}
	return exitOK
}

func (a *app) runner() *ops.Runner {
	return ops.NewRunner(a.client, a.effects, a.logger).WithBatching(a.cfg.BatchSize, a.cfg.BatchPause)
}

// engine wires the configured source and, when enabled, the ledger
func (a *app) engine(ctx context.Context) (*transfer.Engine, error) {
	reader, err := a.reader(ctx)
	if err != nil {
		return nil, err
	}

	engine := transfer.NewEngine(reader, a.client, a.effects, transfer.Options{
		BatchSize:  a.cfg.BatchSize,
		BatchPause: a.cfg.BatchPause,
		Verify:     a.opts.verify,
	}, a.logger)

	if a.cfg.LedgerEnabled {
		conn, err := connector.NewConnectorFactory(a.cfg, a.logger).CreateLedgerConnector(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		if err := conn.EnsureSchema(ctx, "public"); err != nil {
			return nil, fmt.Errorf("failed to prepare ledger schema: %w", err)
		}
		l := ledger.New(conn.DB(), "public", a.logger)
		if err := l.EnsureTables(ctx); err != nil {
			return nil, err
		}
		engine.WithRecorder(l)
	}
	return engine, nil
}

func (a *app) reader(ctx context.Context) (source.Reader, error) {
	switch a.cfg.SourceKind {
	case config.SourceXLSX:
		r, err := source.NewXLSXReader(a.cfg.XLSXPath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil

	case config.SourcePostgres, config.SourceSnowflake:
		conn, err := connector.NewConnectorFactory(a.cfg, a.logger).CreateSourceConnector(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return source.NewSQLReader(conn.DB(), a.cfg.SQLSourceSchema, a.logger), nil

	default:
		return source.NewSheetsReader(ctx, a.cfg.Sheets, a.logger)
	}
}

func (a *app) runDataset(ctx context.Context, engine *transfer.Engine, name string, stdout io.Writer) int {
	ds, err := a.registry.Dataset(name)
	if err != nil {
		a.logger.Error("Unknown dataset", zap.Error(err))
		return exitConfig
	}
	if a.opts.submit && datasets.Submittable(name) {
		ds.Submit = true
	}

	result, err := engine.Run(ctx, ds, transfer.RunOptions{Limit: a.opts.limit, Sheets: a.opts.sheets})
	return a.finish(stdout, result, engine.Metrics(), engine.Verification(), err)
}

// finish prints the summary, writes the report and maps the outcome to an
// exit code
func (a *app) finish(stdout io.Writer, result *model.SyncResult, metrics *transfer.Metrics, verification *transfer.VerificationResult, runErr error) int {
	if result != nil {
		fmt.Fprintln(stdout, transfer.GenerateSummary(result, metrics))

		report := transfer.NewReport(result, metrics, verification, a.cfg.ReportMaxErrors)
		path, err := transfer.WriteReport(a.cfg.ReportDir, report)
		if err != nil {
			a.logger.Warn("Failed to write report", zap.Error(err))
		} else {
			fmt.Fprintf(stdout, "Report: %s\n", path)
		}
	}

	if runErr != nil {
		a.logger.Error("Run aborted",
			zap.String("category", transfer.Categorize(runErr).String()),
			zap.Error(runErr))
		return exitCode(runErr)
	}
	if result != nil && result.Failed > 0 {
		return exitFailure
	}
	return exitOK
}

// exitCode maps a fatal error to the process exit status
func exitCode(err error) int {
	if transfer.Categorize(err) == transfer.ErrorCategoryConfiguration {
		return exitConfig
	}
	return exitFailure
}

func datasetNames() []string {
	r, _ := datasets.NewRegistry("", nil)
	return r.Names()
}

func isDataset(name string) bool {
	for _, n := range datasetNames() {
		if n == name {
			return true
		}
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
