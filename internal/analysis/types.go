// Package analysis defines core types shared across subsystems.
package analysis

import (
	"time"
)

// EngineName identifies one analysis domain.
type EngineName string

// Engine names understood by the registry.
const (
	EngineTechnical   EngineName = "technical"
	EnginePerformance EngineName = "performance"
	EngineSEO         EngineName = "seo"
	EngineMobile      EngineName = "mobile"
)

// JobState represents the lifecycle state of an analysis job.
type JobState string

// Job states persisted in the job store. Transitions are monotonic:
// pending -> running -> {completed, partial, failed}; canceled may be
// entered from pending or running.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStatePartial   JobState = "partial"
	JobStateFailed    JobState = "failed"
	JobStateCanceled  JobState = "canceled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStatePartial, JobStateFailed, JobStateCanceled:
		return true
	default:
		return false
	}
}

// OutcomeStatus classifies the result of one engine invocation.
type OutcomeStatus string

// Outcome statuses recorded per engine.
const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeTimeout OutcomeStatus = "timeout"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Priority orders recommendations for remediation.
type Priority string

// Recommendation priorities, highest first.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort weight of a priority; lower sorts first. Unknown
// priorities sink below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// AnalysisRequest captures a validated request to analyze one URL.
// URL is always in normalized form (see NormalizeURL) and Engines is a
// non-empty, deduplicated subset of the registry.
type AnalysisRequest struct {
	URL          string       `json:"url"`
	Engines      []EngineName `json:"engines"`
	Tenant       string       `json:"tenant,omitempty"`
	ForceRefresh bool         `json:"force_refresh,omitempty"`
}

// Recommendation is one remediation item produced by an engine. The
// aggregator only inspects Priority and Category; everything else is an
// opaque payload passed through to the caller.
type Recommendation struct {
	Issue    string     `json:"issue"`
	Detail   string     `json:"detail"`
	Category EngineName `json:"category"`
	Priority Priority   `json:"priority"`
	Impact   string     `json:"impact,omitempty"`
}

// OutcomeError carries a categorized engine failure.
type OutcomeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *OutcomeError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// EngineOutcome is the immutable result of one engine invocation.
// Score is meaningful only when Status is success; Err is set only when it
// is not.
type EngineOutcome struct {
	Engine          EngineName       `json:"engine"`
	Status          OutcomeStatus    `json:"status"`
	Score           int              `json:"score"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Err             *OutcomeError    `json:"error,omitempty"`
	ExecutionTime   time.Duration    `json:"execution_time_ns"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
	FromCache       bool             `json:"from_cache,omitempty"`
}

// AggregateResult merges per-engine outcomes into one scored report.
// OverallScore is nil when no engine succeeded.
type AggregateResult struct {
	OverallScore    *int                         `json:"overall_score,omitempty"`
	PerEngine       map[EngineName]EngineOutcome `json:"per_engine"`
	Recommendations []Recommendation             `json:"recommendations"`
	Degraded        bool                         `json:"degraded"`
	ExecutionTime   time.Duration                `json:"execution_time_ns"`
}

// Job represents the metadata persisted for each submitted analysis.
type Job struct {
	ID        string           `json:"id"`
	Request   AnalysisRequest  `json:"request"`
	State     JobState         `json:"state"`
	ErrorText string           `json:"error_text,omitempty"`
	Submitted time.Time        `json:"submitted_at"`
	Started   *time.Time       `json:"started_at,omitempty"`
	Finished  *time.Time       `json:"finished_at,omitempty"`
	Result    *AggregateResult `json:"result,omitempty"`
	ReportURI string           `json:"report_uri,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   AnalysisRequest
	Submitted int64
}
