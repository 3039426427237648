package ui

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"hypoguard/domain/core"
	"hypoguard/internal/errors"
	"hypoguard/ports"
)

func (a *App) handleExportRegistry(w http.ResponseWriter, r *http.Request) {
	snap, err := a.service.ExportRegistrySnapshot()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *App) handleExportWorkbook(w http.ResponseWriter, r *http.Request) {
	a.export(w, r, a.workbook)
}

// handleExportReport renders HTML by default, or Markdown with format=markdown
func (a *App) handleExportReport(w http.ResponseWriter, r *http.Request) {
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "html":
		a.export(w, r, a.html)
	case "md", "markdown":
		a.export(w, r, a.markdown)
	default:
		a.writeError(w, r, errors.InvalidInput(fmt.Sprintf("unknown report format %q", format)))
	}
}

// export builds the report for the optional session query parameter and
// buffers the rendered file so failures still produce a JSON error
func (a *App) export(w http.ResponseWriter, r *http.Request, exporter ports.ReportExporter) {
	if exporter == nil {
		a.writeError(w, r, errors.InternalError("exporter not configured"))
		return
	}
	report, err := a.service.BuildReport(r.Context(), core.SessionID(r.URL.Query().Get("session")))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := exporter.Export(r.Context(), &buf, report); err != nil {
		a.writeError(w, r, err)
		return
	}

	filename := "integrity-report-" + report.GeneratedAt.UTC().Format("20060102-150405") + exporter.Extension()
	w.Header().Set("Content-Type", exporter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
