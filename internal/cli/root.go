package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/config"
	"github.com/alexanderramin/defectlens/internal/db"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/llm"
	"github.com/alexanderramin/defectlens/internal/logging"
	"github.com/alexanderramin/defectlens/internal/pipeline"
	"github.com/alexanderramin/defectlens/internal/repository"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

// Analyzer is the slice of *pipeline.Pipeline the commands need.
type Analyzer interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.DefectAnalysisRecord, error)
	Batch(ctx context.Context, reqs []pipeline.Request, concurrency int) []pipeline.BatchResult
}

// App holds the dependencies shared by every command. Fields left nil are
// filled from configuration when the first command runs.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Taxonomy *taxonomy.Taxonomy
	Registry *prometheus.Registry
	Ledger   repository.InvocationRepo
	Version  string

	// NewAnalyzer builds a pipeline. obs, when non-nil, receives every state
	// transition of every run.
	NewAnalyzer func(obs pipeline.TransitionObserver) (Analyzer, error)

	// IsInteractive reports whether stdin is a terminal we may prompt on.
	IsInteractive func() bool
	// IsTerminalOutput reports whether stderr can show live progress.
	IsTerminalOutput func() bool

	Now func() time.Time

	prompt  func(d *requestDetails) error
	closers []func() error
}

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the top-level "defectlens" command and registers all
// subcommands against the provided App.
func NewRootCmd(app *App) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "defectlens",
		Short:         "AI defect analysis for cutlery production lines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setup(flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "json or console")

	root.AddCommand(
		newServeCmd(app),
		newWorkerCmd(app),
		newMCPCmd(app),
		newAnalyzeCmd(app),
		newBatchCmd(app),
		newTaxonomyCmd(app),
		newUsageCmd(app),
		newShiftReportCmd(app),
	)

	return root
}

// setup loads configuration and builds whatever the caller did not inject.
func (a *App) setup(f globalFlags) error {
	if a.Config == nil {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	if f.logLevel != "" {
		a.Config.App.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		a.Config.App.LogFormat = f.logFormat
	}
	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if a.Logger == nil {
		logger, err := logging.New(a.Config.App.Logging())
		if err != nil {
			return err
		}
		a.Logger = logger.With(zap.String("env", a.Config.App.Env))
		a.closers = append(a.closers, func() error {
			_ = a.Logger.Sync()
			return nil
		})
	}
	if a.Taxonomy == nil {
		tax, err := taxonomy.Load(a.Config.Taxonomy.Path)
		if err != nil {
			return err
		}
		a.Taxonomy = tax
	}
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}
	if a.NewAnalyzer == nil {
		a.NewAnalyzer = a.buildPipeline
	}
	if a.IsInteractive == nil {
		a.IsInteractive = func() bool { return false }
	}
	if a.IsTerminalOutput == nil {
		a.IsTerminalOutput = func() bool { return false }
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.prompt == nil {
		a.prompt = a.promptRequestDetails
	}
	return nil
}

// Close releases everything setup opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ledgerRepo opens the usage ledger on first use. It returns nil when the
// ledger is disabled.
func (a *App) ledgerRepo() (repository.InvocationRepo, error) {
	if a.Ledger != nil || !a.Config.Ledger.Enabled {
		return a.Ledger, nil
	}
	database, err := db.OpenDB(a.Config.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening usage ledger: %w", err)
	}
	a.closers = append(a.closers, database.Close)
	a.Ledger = repository.NewSQLiteInvocationRepo(database)
	return a.Ledger, nil
}

// buildPipeline wires the model client, its call observers and the stage
// services into one pipeline.
func (a *App) buildPipeline(obs pipeline.TransitionObserver) (Analyzer, error) {
	if err := a.Config.ValidateLLM(); err != nil {
		return nil, err
	}

	observers := llm.MultiObserver{llm.NewMetricsObserver(a.Registry)}
	if a.Config.LLM.LogCalls {
		observers = append(observers, llm.NewLogObserver(a.Logger))
	}
	ledger, err := a.ledgerRepo()
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		observers = append(observers, repository.NewLedger(ledger, a.Logger))
	}

	opts := []pipeline.Option{
		pipeline.WithPolicy(a.Config.Pipeline),
		pipeline.WithModelVersion(a.Config.LLM.ModelVersion),
		pipeline.WithLogger(a.Logger),
		pipeline.WithObserver(pipeline.NewLogObserver(a.Logger)),
	}
	if obs != nil {
		opts = append(opts, pipeline.WithObserver(obs))
	}
	client := llm.NewChatClient(a.Config.LLM, observers)
	return pipeline.NewFromClient(client, a.Taxonomy, opts...), nil
}
