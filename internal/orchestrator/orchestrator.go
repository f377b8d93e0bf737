// Package orchestrator fans one analysis request out to the requested
// engines, bounds their execution time, merges partial results, and persists
// the outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/metrics"
)

// Config controls orchestration behavior.
type Config struct {
	// GlobalTimeout bounds a whole job.
	GlobalTimeout time.Duration
	// EngineTimeout bounds one engine invocation.
	EngineTimeout time.Duration
	// CacheTTL applies to successful engine outcomes written back.
	CacheTTL time.Duration
	// MaxParallelEngines caps concurrent engine runs across all jobs.
	MaxParallelEngines int64
	// MaxRecommendations caps the merged recommendation list.
	MaxRecommendations int
	// EventTopic receives completion events when a publisher is wired.
	EventTopic string
	// ReportPrefix prefixes report artifact paths.
	ReportPrefix string
}

func (c *Config) applyDefaults() {
	if c.GlobalTimeout <= 0 {
		c.GlobalTimeout = 2 * time.Minute
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = 30 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.MaxParallelEngines <= 0 {
		c.MaxParallelEngines = 4
	}
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = analysis.DefaultMaxRecommendations
	}
	if c.ReportPrefix == "" {
		c.ReportPrefix = "reports"
	}
}

// Orchestrator executes analysis jobs. Reports and publisher are optional;
// everything else is required.
type Orchestrator struct {
	cfg       Config
	registry  *analysis.Registry
	cache     analysis.CacheStore
	jobs      analysis.JobStore
	reports   analysis.ReportStore
	publisher analysis.Publisher
	hasher    analysis.Hasher
	clock     analysis.Clock
	logger    *zap.Logger
	sem       *semaphore.Weighted
}

// New constructs an Orchestrator. The engine-parallelism semaphore is shared
// across every job this instance executes.
func New(
	cfg Config,
	registry *analysis.Registry,
	cache analysis.CacheStore,
	jobs analysis.JobStore,
	reports analysis.ReportStore,
	publisher analysis.Publisher,
	hasher analysis.Hasher,
	clock analysis.Clock,
	logger *zap.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		cache:     cache,
		jobs:      jobs,
		reports:   reports,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
		sem:       semaphore.NewWeighted(cfg.MaxParallelEngines),
	}
}

// completionEvent is the payload published when a job reaches a terminal
// state.
type completionEvent struct {
	JobID        string            `json:"job_id"`
	URL          string            `json:"url"`
	State        analysis.JobState `json:"state"`
	OverallScore *int              `json:"overall_score,omitempty"`
	ReportURI    string            `json:"report_uri,omitempty"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Execute runs one job end to end. It never returns an error for engine
// failures; those land in the persisted result. The error return covers
// infrastructure failures that leave the job unrecorded.
func (o *Orchestrator) Execute(ctx context.Context, item analysis.QueueItem) error {
	log := o.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.Request.URL))

	if err := o.jobs.UpdateJobState(ctx, item.JobID, analysis.JobStateRunning, ""); err != nil {
		if errors.Is(err, analysis.ErrJobFinalized) {
			log.Info("job already finalized, skipping")
			return nil
		}
		if errors.Is(err, analysis.ErrNotFound) {
			log.Warn("job vanished before execution")
			return nil
		}
		return fmt.Errorf("mark job running: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.GlobalTimeout)
	defer cancel()

	started := o.clock.Now()
	outcomes := o.runEngines(runCtx, item.Request, log)
	result := analysis.Aggregate(item.Request.Engines, outcomes, o.cfg.MaxRecommendations)
	result.ExecutionTime = o.clock.Now().Sub(started)

	state := analysis.StateForResult(result)
	errText := ""
	if state == analysis.JobStateFailed {
		errText = failureText(item.Request.Engines, result)
	}

	reportURI := o.writeReport(ctx, item.JobID, result, log)

	if err := o.jobs.SetJobResult(ctx, item.JobID, state, errText, result, reportURI); err != nil {
		if errors.Is(err, analysis.ErrJobFinalized) {
			log.Info("job canceled during execution, result discarded")
			return nil
		}
		return fmt.Errorf("persist job result: %w", err)
	}

	metrics.ObserveJob(string(state))
	log.Info("job finished",
		zap.String("state", string(state)),
		zap.Duration("execution_time", result.ExecutionTime))

	o.publishCompletion(ctx, item, state, result, reportURI, log)
	return nil
}

// runEngines fans out one goroutine per requested engine. Each run acquires
// the shared semaphore, consults the cache unless the request forces a
// refresh, and writes fresh successes back.
func (o *Orchestrator) runEngines(
	ctx context.Context,
	req analysis.AnalysisRequest,
	log *zap.Logger,
) map[analysis.EngineName]analysis.EngineOutcome {
	type keyed struct {
		name    analysis.EngineName
		outcome analysis.EngineOutcome
	}
	results := make(chan keyed, len(req.Engines))

	for _, name := range req.Engines {
		go func(name analysis.EngineName) {
			results <- keyed{name: name, outcome: o.runOne(ctx, req, name, log)}
		}(name)
	}

	// The results channel is buffered to len(req.Engines), so stragglers
	// can still deliver after the deadline fires and their goroutines exit.
	outcomes := make(map[analysis.EngineName]analysis.EngineOutcome, len(req.Engines))
	for pending := len(req.Engines); pending > 0; {
		select {
		case r := <-results:
			outcomes[r.name] = r.outcome
			pending--
		case <-ctx.Done():
			for _, name := range req.Engines {
				if _, ok := outcomes[name]; !ok {
					log.Warn("engine still running at job deadline, abandoning",
						zap.String("engine", string(name)))
					outcomes[name] = timeoutOutcome(name, fmt.Errorf("job deadline expired: %w", ctx.Err()))
				}
			}
			return outcomes
		}
	}
	return outcomes
}

func (o *Orchestrator) runOne(
	ctx context.Context,
	req analysis.AnalysisRequest,
	name analysis.EngineName,
	log *zap.Logger,
) analysis.EngineOutcome {
	if !req.ForceRefresh {
		if outcome, ok := o.cacheGet(ctx, req.URL, name); ok {
			metrics.ObserveEngineRun(string(name), "cache_hit", 0)
			return outcome
		}
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return timeoutOutcome(name, fmt.Errorf("acquire engine slot: %w", err))
	}
	defer o.sem.Release(1)

	eng, ok := o.registry.Resolve(name)
	if !ok {
		// Requests are validated against the registry at submit time;
		// reaching this means the registry changed underneath us.
		return failureOutcome(name, fmt.Errorf("engine %q not registered", name))
	}

	engCtx, cancel := context.WithTimeout(ctx, o.cfg.EngineTimeout)
	defer cancel()

	outcome := o.invoke(engCtx, eng, req.URL)
	metrics.ObserveEngineRun(string(name), string(outcome.Status), outcome.ExecutionTime)

	if outcome.Status == analysis.OutcomeSuccess {
		o.cachePut(ctx, req.URL, name, outcome)
	} else if outcome.Err != nil {
		log.Warn("engine run failed",
			zap.String("engine", string(name)),
			zap.String("kind", string(outcome.Err.Kind)),
			zap.String("error", outcome.Err.Message))
	}
	return outcome
}

// invoke calls the engine with panic isolation. A panicking engine becomes a
// failure outcome rather than taking the process down.
func (o *Orchestrator) invoke(ctx context.Context, eng analysis.Engine, url string) (outcome analysis.EngineOutcome) {
	start := o.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("engine panicked",
				zap.String("engine", string(eng.Name())),
				zap.Any("panic", r))
			outcome = failureOutcome(eng.Name(), fmt.Errorf("engine panic: %v", r))
			outcome.ExecutionTime = o.clock.Now().Sub(start)
			outcome.AnalyzedAt = start
		}
	}()

	result, err := eng.Analyze(ctx, url)
	elapsed := o.clock.Now().Sub(start)
	if err != nil {
		kind := analysis.Categorize(err)
		out := analysis.EngineOutcome{
			Engine:        eng.Name(),
			Status:        analysis.OutcomeFailure,
			Err:           analysis.NewOutcomeError(err),
			ExecutionTime: elapsed,
			AnalyzedAt:    start,
		}
		if kind == analysis.ErrKindTimeout || kind == analysis.ErrKindCanceled {
			out.Status = analysis.OutcomeTimeout
		}
		return out
	}

	result.Engine = eng.Name()
	if result.ExecutionTime == 0 {
		result.ExecutionTime = elapsed
	}
	if result.AnalyzedAt.IsZero() {
		result.AnalyzedAt = start
	}
	return result
}

// cacheGet degrades infrastructure errors to a miss.
func (o *Orchestrator) cacheGet(ctx context.Context, url string, name analysis.EngineName) (analysis.EngineOutcome, bool) {
	outcome, ok, err := o.cache.Get(ctx, url, name)
	if err != nil {
		metrics.ObserveCacheGet(false, true)
		o.logger.Warn("cache read failed, treating as miss",
			zap.String("engine", string(name)),
			zap.Error(err))
		return analysis.EngineOutcome{}, false
	}
	metrics.ObserveCacheGet(ok, false)
	if !ok {
		return analysis.EngineOutcome{}, false
	}
	outcome.FromCache = true
	return outcome, true
}

// cachePut is best effort; a failed write never fails the job.
func (o *Orchestrator) cachePut(ctx context.Context, url string, name analysis.EngineName, outcome analysis.EngineOutcome) {
	if err := o.cache.Put(ctx, url, name, outcome, o.cfg.CacheTTL); err != nil {
		metrics.ObserveCachePut(true)
		o.logger.Warn("cache write failed",
			zap.String("engine", string(name)),
			zap.Error(err))
		return
	}
	metrics.ObserveCachePut(false)
}

// writeReport stores the aggregate as a JSON artifact and returns its URI,
// empty when no report store is wired or the write fails.
func (o *Orchestrator) writeReport(ctx context.Context, jobID string, result analysis.AggregateResult, log *zap.Logger) string {
	if o.reports == nil {
		return ""
	}
	payload, err := json.Marshal(result)
	if err != nil {
		log.Error("marshal report failed", zap.Error(err))
		return ""
	}
	digest, err := o.hasher.Hash(payload)
	if err != nil {
		log.Error("hash report failed", zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%s/%s/%s.json", strings.Trim(o.cfg.ReportPrefix, "/"), jobID, digest)
	uri, err := o.reports.PutObject(ctx, path, "application/json", strings.NewReader(string(payload)))
	if err != nil {
		log.Error("store report failed", zap.Error(err))
		return ""
	}
	return uri
}

func (o *Orchestrator) publishCompletion(
	ctx context.Context,
	item analysis.QueueItem,
	state analysis.JobState,
	result analysis.AggregateResult,
	reportURI string,
	log *zap.Logger,
) {
	if o.publisher == nil || o.cfg.EventTopic == "" {
		return
	}
	event := completionEvent{
		JobID:        item.JobID,
		URL:          item.Request.URL,
		State:        state,
		OverallScore: result.OverallScore,
		ReportURI:    reportURI,
		FinishedAt:   o.clock.Now(),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.EventTopic, event); err != nil {
		log.Warn("publish completion event failed", zap.Error(err))
	}
}

// failureText summarizes why a job produced no successful outcome.
func failureText(requested []analysis.EngineName, result analysis.AggregateResult) string {
	parts := make([]string, 0, len(requested))
	names := append([]analysis.EngineName(nil), requested...)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, name := range names {
		outcome := result.PerEngine[name]
		if outcome.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %s", name, outcome.Err.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", name, outcome.Status))
		}
	}
	return "no engine succeeded (" + strings.Join(parts, "; ") + ")"
}

func failureOutcome(name analysis.EngineName, err error) analysis.EngineOutcome {
	return analysis.EngineOutcome{
		Engine: name,
		Status: analysis.OutcomeFailure,
		Err:    analysis.NewOutcomeError(err),
	}
}

func timeoutOutcome(name analysis.EngineName, err error) analysis.EngineOutcome {
	return analysis.EngineOutcome{
		Engine: name,
		Status: analysis.OutcomeTimeout,
		Err:    analysis.NewOutcomeError(err),
	}
}
