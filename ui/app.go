package ui

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hypoguard/app"
	"hypoguard/domain/hypothesis"
	"hypoguard/internal"
	"hypoguard/ports"
)

// App serves the registry, correction, boundary and export API. Session
// routes are delegated to a separately built handler.
type App struct {
	router   *chi.Mux
	service  *app.IntegrityService
	workbook ports.ReportExporter
	html     ports.ReportExporter
	markdown ports.ReportExporter
	sessions http.Handler
	logger   *internal.Logger
}

// Config holds UI application dependencies
type Config struct {
	Service  *app.IntegrityService
	Workbook ports.ReportExporter
	HTML     ports.ReportExporter
	Markdown ports.ReportExporter
	Sessions http.Handler
	Logger   *internal.Logger
}

// NewApp creates a new UI application
func NewApp(config Config) *App {
	logger := config.Logger
	if logger == nil {
		logger = internal.DefaultLogger
	}

	a := &App{
		router:   chi.NewRouter(),
		service:  config.Service,
		workbook: config.Workbook,
		html:     config.HTML,
		markdown: config.Markdown,
		sessions: config.Sessions,
		logger:   logger.With("http"),
	}

	a.setupMiddleware()
	a.setupRoutes()
	return a
}

// ServeHTTP implements http.Handler
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// setupMiddleware configures HTTP middleware
func (a *App) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
}

// setupRoutes configures the application routes
func (a *App) setupRoutes() {
	a.router.Get("/health", a.handleHealth)

	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		// Registry
		r.Route("/api/hypotheses", func(r chi.Router) {
			r.Post("/", a.handleRegisterHypothesis)
			r.Get("/", a.handleListHypotheses)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetHypothesis)
				r.Patch("/", a.handleUpdateHypothesis)
				r.Delete("/", a.handleDeleteHypothesis)
				r.Post("/lock", a.handleLockHypothesis)
				r.Post("/tags", a.handleTagHypothesis)
				r.Delete("/tags/{tag}", a.handleUntagHypothesis)
				r.Post("/start", a.handleStartTesting)
				r.Post("/result", a.handleRecordResult)
				r.Post("/flag", a.handleFlagHypothesis)
				r.Post("/unflag", a.handleUnflagHypothesis)
			})
		})
		r.Get("/api/groups", a.handleListGroups)
		r.Post("/api/groups/{name}", a.handleGroupHypotheses)

		// Analysis
		r.Get("/api/corrections/methods", a.handleListMethods)
		r.Post("/api/corrections", a.handleComputeCorrection)
		r.Get("/api/corrections/groups", a.handleCorrectAllGroups)
		r.Post("/api/sequential/boundaries", a.handleSequentialBoundaries)

		// Exports
		r.Get("/api/export/registry", a.handleExportRegistry)
		r.Get("/api/export/workbook", a.handleExportWorkbook)
		r.Get("/api/export/report", a.handleExportReport)
	})

	// Session log, risk and SSE stream; left uncompressed so events flush
	if a.sessions != nil {
		a.router.Mount("/api/sessions", a.sessions)
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"hypotheses": len(a.service.ListHypotheses(hypothesis.Filter{})),
		"sessions":   len(a.service.Sessions()),
	})
}
