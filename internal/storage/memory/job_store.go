// Package memory provides in-memory store implementations for development/testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/haybaler/perception/internal/analysis"
)

// JobStore keeps analysis jobs in memory. It enforces the monotonic state
// machine: once a job reaches a terminal state no further transition is
// accepted and finished_at is never rewritten.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]analysis.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock analysis.Clock) *JobStore {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	return &JobStore{
		jobs: make(map[string]analysis.Job),
		now:  now,
	}
}

// CreateJob stores a new job in pending state.
func (s *JobStore) CreateJob(_ context.Context, job analysis.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.State == "" {
		job.State = analysis.JobStatePending
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobState transitions the job, recording started/finished timestamps.
func (s *JobStore) UpdateJobState(_ context.Context, jobID string, state analysis.JobState, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return analysis.ErrNotFound
	}
	if job.State.Terminal() {
		return analysis.ErrJobFinalized
	}
	job.State = state
	job.ErrorText = errText
	now := s.now().UTC()
	if state == analysis.JobStateRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if state.Terminal() && job.Finished == nil {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// SetJobResult records the aggregate result and the terminal state in one step.
func (s *JobStore) SetJobResult(
	_ context.Context,
	jobID string,
	state analysis.JobState,
	errText string,
	result analysis.AggregateResult,
	reportURI string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return analysis.ErrNotFound
	}
	if job.State.Terminal() {
		return analysis.ErrJobFinalized
	}
	job.State = state
	job.ErrorText = errText
	job.Result = &result
	job.ReportURI = reportURI
	if state.Terminal() && job.Finished == nil {
		job.Finished = pointerTime(s.now().UTC())
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (analysis.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return analysis.Job{}, analysis.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs for a tenant, newest first. An empty tenant lists
// every job.
func (s *JobStore) ListJobs(_ context.Context, tenant string, limit, offset int) ([]analysis.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analysis.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if tenant != "" && job.Request.Tenant != tenant {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	if offset >= len(out) {
		return []analysis.Job{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteJob removes a job and its result.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return analysis.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
