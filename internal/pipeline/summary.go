package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

// Stage names in execution order.
const (
	StageFetch   = "fetch"
	StageStore   = "store"
	StageLabel   = "label"
	StageEmbed   = "embed"
	StageAnalyze = "analyze"
	StageImages  = "images"
)

// Stage outcomes.
const (
	StatusOK       = "ok"
	StatusSkipped  = "skipped"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

// StageReport records what one stage did.
type StageReport struct {
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"duration_ns"`
	Candidates int           `json:"candidates"`
	Processed  int           `json:"processed"`
	Error      string        `json:"error,omitempty"`
}

// RunSummary is the final report of one scheduler run.
type RunSummary struct {
	RunID       uuid.UUID      `json:"run_id"`
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	Stages      []StageReport  `json:"stages"`
	Fetched     int            `json:"fetched"`
	Inserted    int            `json:"inserted"`
	Updated     int            `json:"updated"`
	StoreFailed int            `json:"store_failed"`
	Labeled     int            `json:"labeled"`
	Embedded    int            `json:"embedded"`
	Keywords    int            `json:"keywords"`
	Sentiments  int            `json:"sentiments"`
	Images      int            `json:"images"`
	Stats       *article.Stats `json:"stats,omitempty"`
}

// Stage returns the report for name.
func (s RunSummary) Stage(name string) (StageReport, bool) {
	for _, r := range s.Stages {
		if r.Name == name {
			return r, true
		}
	}
	return StageReport{}, false
}

// FailedStages lists the stages that ended in failure.
func (s RunSummary) FailedStages() []string {
	var out []string
	for _, r := range s.Stages {
		if r.Status == StatusFailed {
			out = append(out, r.Name)
		}
	}
	return out
}

// Duration is the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}
