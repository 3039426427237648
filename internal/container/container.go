package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"hypoguard/adapters/excel"
	"hypoguard/adapters/postgres"
	"hypoguard/adapters/report"
	"hypoguard/app"
	"hypoguard/internal"
	"hypoguard/internal/api"
	"hypoguard/internal/config"
	"hypoguard/internal/migration"
	"hypoguard/internal/risk"
	"hypoguard/ports"
	"hypoguard/ui"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB *sqlx.DB

	// Repositories (data access layer); nil without a database
	HypothesisRepo  ports.HypothesisRepository
	SessionTestRepo ports.SessionTestRepository

	// Core service and its notifier
	Service *app.IntegrityService
	SSEHub  *api.SSEHub

	// Exporters
	Workbook       ports.ReportExporter
	HTMLReport     ports.ReportExporter
	MarkdownReport ports.ReportExporter

	// HTTP surface
	Sessions *gin.Engine
	UI       *ui.App
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	logger := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))
	c := &Container{
		Config:         cfg,
		Logger:         logger,
		SSEHub:         api.NewSSEHub(logger),
		Workbook:       excel.NewWorkbookExporter(),
		HTMLReport:     report.NewHTMLExporter(),
		MarkdownReport: report.NewMarkdownExporter(),
	}
	return c, nil
}

// InitWithDatabase runs migrations and initializes the repositories
func (c *Container) InitWithDatabase(ctx context.Context, db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db

	// Test database connection
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	c.Logger.Info("Database migrations applied (version %s)", runner.Version())

	c.initRepositories()
	return nil
}

// initRepositories initializes data access repositories
func (c *Container) initRepositories() {
	c.HypothesisRepo = postgres.NewHypothesisRepository(c.DB)
	c.SessionTestRepo = postgres.NewSessionTestRepository(c.DB)
}

// Build creates the service, restores persisted state and wires the HTTP
// handlers. Call after InitWithDatabase when a database is configured.
func (c *Container) Build(ctx context.Context) error {
	c.Service = app.NewIntegrityService(c.serviceConfig(), c.HypothesisRepo, c.SessionTestRepo, c.SSEHub, c.Logger)

	if c.DB != nil {
		if err := c.Service.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore state: %w", err)
		}
	}

	c.Sessions = api.NewRouter(api.NewSessionHandler(c.Service, c.SSEHub), c.Config.Server.GinMode)
	c.UI = ui.NewApp(ui.Config{
		Service:  c.Service,
		Workbook: c.Workbook,
		HTML:     c.HTMLReport,
		Markdown: c.MarkdownReport,
		Sessions: c.Sessions,
		Logger:   c.Logger,
	})

	c.Logger.Info("Container initialized (database: %t, default method: %s, alpha: %g)",
		c.DB != nil, c.Config.Analysis.DefaultCorrectionMethod, c.Config.Analysis.DefaultAlpha)
	return nil
}

func (c *Container) serviceConfig() app.ServiceConfig {
	th := risk.DefaultThresholds()
	th.RepetitionMin = c.Config.Risk.RepetitionMin
	th.FishingMaxUncorrected = c.Config.Risk.FishingMaxUncorrected
	th.PeekingMinGap = c.Config.Risk.PeekingMinGap
	th.MultipleComparisonsMax = c.Config.Risk.MultipleComparisonsMax

	return app.ServiceConfig{
		DefaultAlpha:  c.Config.Analysis.DefaultAlpha,
		DefaultMethod: c.Config.Analysis.DefaultCorrectionMethod,
		FutilityScale: c.Config.Analysis.FutilityScale,
		Parallelism:   c.Config.Analysis.CorrectionParallelism,
		Thresholds:    th,
	}
}

// Handler returns the root HTTP handler
func (c *Container) Handler() http.Handler {
	return c.UI
}

// Shutdown gracefully shuts down all components
func (c *Container) Shutdown(ctx context.Context) error {
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}

	// Close database connection
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
