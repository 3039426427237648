package ports

import (
	"context"
	"io"
	"time"

	"hypoguard/domain/stats"
	"hypoguard/internal/registry"
	"hypoguard/internal/risk"
	"hypoguard/internal/sessionlog"
)

// IntegrityReport bundles everything an export needs. Session and Risk are
// nil when the report is registry-only.
type IntegrityReport struct {
	Title       string
	GeneratedAt time.Time
	Registry    registry.Snapshot
	Correction  stats.CorrectionReport
	Groups      []stats.CorrectionReport
	Session     *sessionlog.Snapshot
	Risk        *risk.Assessment
}

// ReportExporter renders an IntegrityReport into a file format
type ReportExporter interface {
	Export(ctx context.Context, w io.Writer, report IntegrityReport) error
	ContentType() string
	Extension() string
}
