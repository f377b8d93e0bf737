package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haybaler/perception/internal/analysis"
	queuemem "github.com/haybaler/perception/internal/queue/memory"
	"github.com/haybaler/perception/internal/worker"
)

func TestDispatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(1)
	workers := []*worker.Worker{
		worker.New(queue, nil, nil),
		worker.New(queue, nil, nil),
	}
	d := New(queue, workers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, item analysis.QueueItem) error {
	return errors.New("full")
}

func (failingQueue) Dequeue(ctx context.Context) (analysis.QueueItem, error) {
	<-ctx.Done()
	return analysis.QueueItem{}, ctx.Err()
}

func TestDispatcherEnqueueWrapsError(t *testing.T) {
	t.Parallel()

	d := New(failingQueue{}, nil)
	err := d.Enqueue(context.Background(), analysis.QueueItem{JobID: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "queue enqueue")
}
