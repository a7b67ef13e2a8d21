package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayhq/browsercluster/internal/browser"
	"github.com/relayhq/browsercluster/internal/metrics"
	"github.com/relayhq/browsercluster/internal/queue"
	"github.com/relayhq/browsercluster/internal/skipset"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job and JS-token identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls pool sizing and queue spill behavior. Both PoolSize and
// TimeToLive are read once at construction and never change afterward.
type Config struct {
	PoolSize       int
	TimeToLive     int
	QueueThreshold int
	QueueSpillDir  string
}

// Supervisor is the public facade mediating the queue, skip registry,
// accounting, and worker pool. It exclusively owns all shared mutable
// state; every multi-step transition below runs under a single mutex.
type Supervisor struct {
	mu sync.Mutex

	cfg     Config
	clock   Clock
	ids     IDGenerator
	logger  *zap.Logger
	jsToken string

	queue *queue.Queue[Job]
	skip  *skipset.Registry

	pending     map[string]int
	global      int
	callbacks   map[string]Callback
	neverEnding map[string]bool
	sitemap     map[string]int

	idleCh   chan struct{}
	shutdown bool

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	workers []*Worker
}

// New constructs a Supervisor and its fixed worker pool, but does not start
// the workers; call Run to do that.
func New(cfg Config, factory browser.Factory, clock Clock, ids IDGenerator, logger *zap.Logger) (*Supervisor, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 6
	}
	if cfg.TimeToLive <= 0 {
		cfg.TimeToLive = 10
	}
	q, err := queue.New[Job](queue.Config{SpillThreshold: cfg.QueueThreshold, SpillDir: cfg.QueueSpillDir})
	if err != nil {
		return nil, fmt.Errorf("construct job queue: %w", err)
	}
	token, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate js token: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:            cfg,
		clock:          clock,
		ids:            ids,
		logger:         logger,
		jsToken:        token,
		queue:          q,
		skip:           skipset.New(),
		pending:        make(map[string]int),
		callbacks:      make(map[string]Callback),
		neverEnding:    make(map[string]bool),
		sitemap:        make(map[string]int),
		idleCh:         newClosedChan(),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	for i := 0; i < cfg.PoolSize; i++ {
		s.workers = append(s.workers, newWorker(i, s, factory, ids, logger))
	}
	return s, nil
}

// Run starts every worker and blocks until ctx is done, then shuts the
// cluster down.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(worker *Worker) {
			defer wg.Done()
			worker.run(ctx)
		}(w)
	}
	<-ctx.Done()
	s.Shutdown()
	wg.Wait()
}

// Queue registers callback (on first sighting of job.ID), increments
// accounting, and pushes job onto the queue.
func (s *Supervisor) Queue(job Job, callback Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrAlreadyShutdown
	}

	if _, known := s.callbacks[job.ID]; !known {
		if n, seen := s.pending[job.ID]; seen && n == 0 {
			// jobDone dropped the callback but kept the zeroed counter.
			return ErrAlreadyDone
		}
		if callback == nil {
			return ErrMissingCallback
		}
		s.callbacks[job.ID] = callback
		s.neverEnding[job.ID] = job.NeverEnding
	} else if s.pending[job.ID] == 0 && !s.neverEnding[job.ID] {
		return ErrAlreadyDone
	}

	s.pending[job.ID]++
	s.global++
	s.armIdle()

	if err := s.queue.Push(job); err != nil {
		s.pending[job.ID]--
		s.global--
		return fmt.Errorf("push job: %w", err)
	}
	metrics.JobsQueued.Inc()
	metrics.PendingJobs.Set(float64(s.global))
	metrics.QueueDepth.Set(float64(s.queue.Len()))
	return nil
}

// HandleResult routes result to the callback registered for its job's id.
// A no-op if that job is already done or the cluster has been shut down.
// The callback is looked up under the lock but invoked after releasing it,
// so callbacks for the same id from different workers may run concurrently.
// Callback panics are recovered, logged, and suppressed so one failing
// callback cannot corrupt accounting or starve other jobs.
func (s *Supervisor) HandleResult(result Result) {
	s.mu.Lock()
	cb, ok := s.callbacks[result.Job.ID]
	closed := s.shutdown
	s.mu.Unlock()
	if !ok || closed {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked",
				zap.String("job_id", result.Job.ID),
				zap.Any("recovered", r),
			)
		}
	}()
	cb(result)
	metrics.ResultsHandled.Inc()
}

// decreasePending must be called with s.mu held. It inlines the reentrant
// transition: decrementing counters and, if the per-id counter reaches
// zero, invoking jobDone in the same locked section rather than
// re-acquiring the (non-reentrant) mutex.
func (s *Supervisor) decreasePending(job Job) {
	if s.pending[job.ID] > 0 {
		s.pending[job.ID]--
	}
	if s.global > 0 {
		s.global--
	}
	if s.pending[job.ID] == 0 {
		s.jobDone(job)
	}
}

// DecreasePending is the exported, lock-acquiring entry point workers use
// after finishing a job instance.
func (s *Supervisor) DecreasePending(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decreasePending(job)
	metrics.PendingJobs.Set(float64(s.global))
	metrics.JobsCompleted.Inc()
}

// jobDone must be called with s.mu held.
func (s *Supervisor) jobDone(job Job) {
	if s.neverEnding[job.ID] {
		// Never-ending jobs keep their callback and skip set forever; their
		// pending counter is allowed to oscillate back above zero.
		return
	}
	s.skip.Drop(job.ID)
	delete(s.callbacks, job.ID)
	delete(s.neverEnding, job.ID)

	// Reconcile any accounting drift rather than trust the decreasePending
	// stream alone: subtracting the per-id counter (expected to be exactly
	// zero in steady state) from the global counter is a no-op unless a
	// bug elsewhere double-counted, in which case this pulls the global
	// counter back toward consistency instead of leaking pending forever.
	s.global -= s.pending[job.ID]
	if s.global < 0 {
		s.global = 0
	}
	s.pending[job.ID] = 0

	if s.global <= 0 {
		s.releaseIdle()
	}
}

// JobDone reports whether job's id has no outstanding sub-jobs. Always
// false for never-ending jobs. Returns ErrJobNotFound if failIfMissing and
// the id is unknown to both the pending map and the callback table.
func (s *Supervisor) JobDone(job Job, failIfMissing bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.neverEnding[job.ID] {
		return false, nil
	}
	_, inPending := s.pending[job.ID]
	_, inCallbacks := s.callbacks[job.ID]
	if failIfMissing && !inPending && !inCallbacks {
		return false, ErrJobNotFound
	}
	return s.pending[job.ID] == 0, nil
}

// Done reports whether the global pending counter is zero.
func (s *Supervisor) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global == 0
}

// Wait blocks until the cluster becomes idle or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return ErrAlreadyShutdown
	}
	if s.global == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := s.idleCh
	s.mu.Unlock()

	select {
	case <-ch:
		s.mu.Lock()
		shutdownNow := s.shutdown
		s.mu.Unlock()
		if shutdownNow {
			return ErrAlreadyShutdown
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	}
}

// Shutdown idempotently closes the cluster: sets the shutdown flag, drops
// the queue (including spilled files), and releases any waiter. Worker
// browser teardown happens as each worker observes the shutdown context.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	already := s.shutdown
	s.shutdown = true
	s.mu.Unlock()
	if already {
		return
	}
	s.shutdownCancel()

	if err := s.queue.Clear(); err != nil {
		s.logger.Warn("clear queue on shutdown", zap.Error(err))
	}
	metrics.QueueDepth.Set(float64(s.queue.Len()))

	s.mu.Lock()
	s.releaseIdle()
	s.mu.Unlock()
}

// PushSitemap records url's status code. Last writer wins.
func (s *Supervisor) PushSitemap(url string, statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sitemap[url] = statusCode
}

// Sitemap returns a snapshot copy of the process-wide URL to status map.
func (s *Supervisor) Sitemap() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.sitemap))
	for k, v := range s.sitemap {
		out[k] = v
	}
	return out
}

// IsSkipped delegates to the skip registry.
func (s *Supervisor) IsSkipped(jobID, fingerprint string) bool {
	return s.skip.IsSkipped(jobID, fingerprint)
}

// MarkSkip delegates to the skip registry.
func (s *Supervisor) MarkSkip(jobID, fingerprint string) bool {
	return s.skip.MarkSkip(jobID, fingerprint)
}

// MergeSkips delegates to the skip registry.
func (s *Supervisor) MergeSkips(jobID string, fingerprints []string) {
	s.skip.MergeSkips(jobID, fingerprints)
}

// armIdle must be called with s.mu held; it clears the idle-signal so the
// next Wait blocks.
func (s *Supervisor) armIdle() {
	select {
	case <-s.idleCh:
		s.idleCh = make(chan struct{})
	default:
	}
}

// releaseIdle must be called with s.mu held; it closes the idle-signal,
// waking every blocked Wait.
func (s *Supervisor) releaseIdle() {
	select {
	case <-s.idleCh:
	default:
		close(s.idleCh)
	}
}

func newClosedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
