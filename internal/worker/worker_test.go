package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/haybaler/perception/internal/analysis"
	cachemem "github.com/haybaler/perception/internal/cache/memory"
	"github.com/haybaler/perception/internal/clock/system"
	"github.com/haybaler/perception/internal/hash/sha256"
	"github.com/haybaler/perception/internal/metrics"
	"github.com/haybaler/perception/internal/orchestrator"
	queuemem "github.com/haybaler/perception/internal/queue/memory"
	storemem "github.com/haybaler/perception/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fixedEngine struct {
	name  analysis.EngineName
	score int
}

func (e fixedEngine) Name() analysis.EngineName { return e.name }

func (e fixedEngine) Analyze(ctx context.Context, url string) (analysis.EngineOutcome, error) {
	return analysis.EngineOutcome{
		Engine: e.name,
		Status: analysis.OutcomeSuccess,
		Score:  e.score,
	}, nil
}

func TestWorkerProcessesQueuedJobs(t *testing.T) {
	t.Parallel()

	clock := system.New()
	jobs := storemem.NewJobStore(clock)
	queue := queuemem.NewQueue(4)
	orch := orchestrator.New(
		orchestrator.Config{},
		analysis.NewRegistry(fixedEngine{name: analysis.EngineTechnical, score: 95}),
		cachemem.NewCache(clock),
		jobs,
		nil,
		nil,
		sha256.New(),
		clock,
		zap.NewNop(),
	)
	w := New(queue, orch, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	req := analysis.AnalysisRequest{
		URL:     "https://example.com/",
		Engines: []analysis.EngineName{analysis.EngineTechnical},
	}
	require.NoError(t, jobs.CreateJob(ctx, analysis.Job{
		ID:        "job-1",
		Request:   req,
		State:     analysis.JobStatePending,
		Submitted: clock.Now(),
	}))
	require.NoError(t, queue.Enqueue(ctx, analysis.QueueItem{JobID: "job-1", Request: req}))

	require.Eventually(t, func() bool {
		job, err := jobs.GetJob(context.Background(), "job-1")
		return err == nil && job.State == analysis.JobStateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(1)
	w := New(queue, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop when the queue closed")
	}
}
