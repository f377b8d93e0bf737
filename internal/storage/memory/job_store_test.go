package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haybaler/perception/internal/analysis"
)

func newJob(id, tenant string, submitted time.Time) analysis.Job {
	return analysis.Job{
		ID: id,
		Request: analysis.AnalysisRequest{
			URL:     "https://example.com/",
			Engines: []analysis.EngineName{analysis.EngineTechnical},
			Tenant:  tenant,
		},
		State:     analysis.JobStatePending,
		Submitted: submitted,
	}
}

func TestJobStore_Lifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1", "acme", time.Unix(100, 0))))
	require.Error(t, store.CreateJob(ctx, newJob("job-1", "acme", time.Unix(100, 0))))

	require.NoError(t, store.UpdateJobState(ctx, "job-1", analysis.JobStateRunning, ""))
	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, analysis.JobStateRunning, job.State)
	require.NotNil(t, job.Started)
	require.Nil(t, job.Finished)

	score := 80
	result := analysis.AggregateResult{OverallScore: &score}
	require.NoError(t, store.SetJobResult(ctx, "job-1", analysis.JobStateCompleted, "", result, "memory://reports/job-1.json"))

	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, analysis.JobStateCompleted, job.State)
	require.NotNil(t, job.Finished)
	require.NotNil(t, job.Result)
	require.Equal(t, 80, *job.Result.OverallScore)
	require.Equal(t, "memory://reports/job-1.json", job.ReportURI)
}

func TestJobStore_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1", "acme", time.Unix(100, 0))))
	require.NoError(t, store.UpdateJobState(ctx, "job-1", analysis.JobStateCanceled, "canceled via API"))

	err := store.UpdateJobState(ctx, "job-1", analysis.JobStateRunning, "")
	require.ErrorIs(t, err, analysis.ErrJobFinalized)

	err = store.SetJobResult(ctx, "job-1", analysis.JobStateCompleted, "", analysis.AggregateResult{}, "")
	require.ErrorIs(t, err, analysis.ErrJobFinalized)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, analysis.JobStateCanceled, job.State)
}

func TestJobStore_FinishedSetOnce(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1", "acme", time.Unix(100, 0))))
	require.NoError(t, store.UpdateJobState(ctx, "job-1", analysis.JobStateFailed, "all engines failed"))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	first := job.Finished
	require.NotNil(t, first)

	require.ErrorIs(t, store.UpdateJobState(ctx, "job-1", analysis.JobStateFailed, "again"), analysis.ErrJobFinalized)
	job, _ = store.GetJob(ctx, "job-1")
	require.Equal(t, first, job.Finished)
}

func TestJobStore_ListJobsByTenant(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1", "acme", time.Unix(100, 0))))
	require.NoError(t, store.CreateJob(ctx, newJob("job-2", "acme", time.Unix(300, 0))))
	require.NoError(t, store.CreateJob(ctx, newJob("job-3", "globex", time.Unix(200, 0))))

	jobs, err := store.ListJobs(ctx, "acme", 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)
	require.Equal(t, "job-1", jobs[1].ID)

	jobs, err = store.ListJobs(ctx, "acme", 1, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)

	jobs, err = store.ListJobs(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
}

func TestJobStore_DeleteJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1", "acme", time.Unix(100, 0))))
	require.NoError(t, store.DeleteJob(ctx, "job-1"))
	require.ErrorIs(t, store.DeleteJob(ctx, "job-1"), analysis.ErrNotFound)

	_, err := store.GetJob(ctx, "job-1")
	require.ErrorIs(t, err, analysis.ErrNotFound)
}
