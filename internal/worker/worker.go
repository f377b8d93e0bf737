// Package worker implements the analysis execution loop.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/haybaler/perception/internal/analysis"
	"github.com/haybaler/perception/internal/metrics"
	"github.com/haybaler/perception/internal/orchestrator"
)

// Worker consumes queue items and hands them to the orchestrator.
type Worker struct {
	queue  analysis.Queue
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue analysis.Queue, orch *orchestrator.Orchestrator, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: queue, orch: orch, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, analysis.ErrQueueClosed) {
				w.logger.Info("queue closed, worker stopping")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item analysis.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.orch.Execute(ctx, item); err != nil {
		w.logger.Error("job execution failed",
			zap.String("job_id", item.JobID),
			zap.Error(err))
	}
}
