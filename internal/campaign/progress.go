package campaign

import (
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/trackpromo/internal/models"
)

// Progress events.
const (
	EventPhase     = "phase"
	EventBatch     = "batch"
	EventDecisions = "decisions"
)

// Progress is the structured record emitted at every phase transition, every
// batch of remote calls and every calculator pass.
type Progress struct {
	RunID     string       `json:"run_id"`
	Campaign  string       `json:"campaign"`
	Phase     models.Phase `json:"phase"`
	Event     string       `json:"event"`
	Operation string       `json:"operation,omitempty"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Stopped   int          `json:"stopped,omitempty"`
	Ads       int          `json:"ads"`
	At        time.Time    `json:"at"`
}

// ProgressSink consumes progress records. Emit must not block for long.
type ProgressSink interface {
	Emit(p Progress)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(p Progress)

// Emit calls f(p).
func (f ProgressFunc) Emit(p Progress) { f(p) }

// LogProgressSink writes progress records as structured log entries.
type LogProgressSink struct {
	Logger *zap.Logger
}

// Emit logs p at info level.
func (s LogProgressSink) Emit(p Progress) {
	s.Logger.Info("campaign progress",
		zap.String("run_id", p.RunID),
		zap.String("campaign", p.Campaign),
		zap.String("phase", string(p.Phase)),
		zap.String("event", p.Event),
		zap.String("operation", p.Operation),
		zap.Int("succeeded", p.Succeeded),
		zap.Int("skipped", p.Skipped),
		zap.Int("failed", p.Failed),
		zap.Int("stopped", p.Stopped),
		zap.Int("ads", p.Ads),
		zap.Time("at", p.At),
	)
}

type multiSink []ProgressSink

func (m multiSink) Emit(p Progress) {
	for _, s := range m {
		s.Emit(p)
	}
}
