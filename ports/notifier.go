package ports

import (
	"time"

	"hypoguard/domain/core"
	"hypoguard/internal/risk"
)

// RiskEvent announces a change of a session's overall risk level
type RiskEvent struct {
	SessionID core.SessionID `json:"session_id"`
	Previous  risk.Severity  `json:"previous"`
	Current   risk.Severity  `json:"current"`
	Score     int            `json:"score"`
	Patterns  []risk.Pattern `json:"patterns"`
	Sequence  int64          `json:"sequence"`
	At        time.Time      `json:"at"`
}

// RiskNotifier receives risk level changes. Implementations must not block.
type RiskNotifier interface {
	PublishRisk(event RiskEvent)
}
