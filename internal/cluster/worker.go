package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relayhq/browsercluster/internal/browser"
	"github.com/relayhq/browsercluster/internal/metrics"
)

// Worker owns exactly one Browser at a time and steps through
// Starting -> Idle -> Running(job) -> Idle -> ... -> Recycling -> Idle ->
// ... -> Shutdown. It never holds the supervisor's lock during browser I/O;
// accounting calls briefly acquire it on their own.
type Worker struct {
	id         int
	supervisor *Supervisor
	factory    browser.Factory
	ids        IDGenerator
	logger     *zap.Logger

	br          browser.Browser
	pagesServed int
}

func newWorker(id int, supervisor *Supervisor, factory browser.Factory, ids IDGenerator, logger *zap.Logger) *Worker {
	return &Worker{id: id, supervisor: supervisor, factory: factory, ids: ids, logger: logger}
}

// run drives the state machine until ctx or the supervisor's shutdown
// fires, then tears down the browser it currently owns, if any.
func (w *Worker) run(ctx context.Context) {
	runCtx, cancel := mergeContexts(ctx, w.supervisor.shutdownCtx)
	defer cancel()

	defer w.teardown(context.Background())

	for {
		if runCtx.Err() != nil {
			return
		}

		if w.br == nil {
			if err := w.start(runCtx); err != nil {
				w.logger.Error("worker start failed", zap.Int("worker_id", w.id), zap.Error(err))
				return
			}
		}

		job, err := w.supervisor.queue.Pop(runCtx)
		if err != nil {
			return
		}
		metrics.QueueDepth.Set(float64(w.supervisor.queue.Len()))

		if done, _ := w.supervisor.JobDone(job, false); done {
			// Another worker (or an external invalidation) already
			// finished this id; skip without touching accounting.
			continue
		}

		w.execute(runCtx, job)

		if w.pagesServed >= w.supervisor.cfg.TimeToLive {
			w.recycle(context.Background())
		}
	}
}

func (w *Worker) start(ctx context.Context) error {
	br, err := w.factory(ctx, w.supervisor.jsToken)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	w.br = br
	w.pagesServed = 0
	return nil
}

func (w *Worker) execute(ctx context.Context, job Job) {
	exec, err := lookupExecutor(job.Kind)
	if err != nil {
		w.logger.Error("no executor for job kind",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Error(err))
		w.supervisor.DecreasePending(job)
		return
	}

	if err := exec(ctx, job, w.br, w.supervisor); err != nil {
		w.logger.Error("job execution failed",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Error(err))
	}
	w.pagesServed++
	w.supervisor.DecreasePending(job)
}

// recycle terminates the current browser and returns the worker to
// Starting on the next loop iteration. This bounds memory leakage from
// long-lived browser processes.
func (w *Worker) recycle(ctx context.Context) {
	w.teardown(ctx)
	metrics.BrowserRecycles.Inc()
}

func (w *Worker) teardown(ctx context.Context) {
	if w.br == nil {
		return
	}
	if err := w.br.Shutdown(ctx); err != nil {
		w.logger.Warn("browser shutdown failed", zap.Int("worker_id", w.id), zap.Error(err))
	}
	w.br = nil
	w.pagesServed = 0
}

// mergeContexts returns a context canceled when either a or b is done.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return merged, func() {
		close(stop)
		cancel()
	}
}
