package analysis

import (
	"context"
	"io"
	"time"
)

// Engine analyzes one domain of website quality for a URL. Implementations
// must honor the context deadline, normalize scores into [0,100], and report
// unreachable or malformed targets as errors rather than panicking.
type Engine interface {
	Name() EngineName
	Analyze(ctx context.Context, url string) (EngineOutcome, error)
}

// CacheStore maps (normalized URL, engine) to a previously computed success
// outcome with an expiry. Implementations must be safe for concurrent use
// and treat expired entries as absent.
type CacheStore interface {
	Get(ctx context.Context, url string, engine EngineName) (EngineOutcome, bool, error)
	Put(ctx context.Context, url string, engine EngineName, outcome EngineOutcome, ttl time.Duration) error
	// Invalidate removes entries for the URL; with no engines given it
	// removes every engine's entry.
	Invalidate(ctx context.Context, url string, engines ...EngineName) error
}

// JobStore persists job metadata and results. Implementations enforce the
// monotonic state machine: updates against a terminal state return
// ErrJobFinalized.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	UpdateJobState(ctx context.Context, jobID string, state JobState, errText string) error
	SetJobResult(ctx context.Context, jobID string, state JobState, errText string, result AggregateResult, reportURI string) error
	ListJobs(ctx context.Context, tenant string, limit, offset int) ([]Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// ReportStore writes aggregate report artifacts and returns a URI.
type ReportStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for analysis jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for report artifact paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
