// Package workers runs the background work of a tube instance: the job
// queue, the follow score sweeper, and the redundancy engine.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/davecheney/tube/internal/config"
	"github.com/davecheney/tube/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// A Handler executes one job. An error that reports Permanent() true is
// not retried.
type Handler func(ctx context.Context, job *models.Job) error

// backoff is the delay before the nth retry of a job.
var backoff = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	24 * time.Hour,
}

// Queue runs the jobs stored in the jobs table. Each job type has its own
// pool, bounded by the type's configured concurrency.
type Queue struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *slog.Logger
	// poll is how long an idle pool waits before looking for new jobs.
	poll time.Duration
	now  func() time.Time

	mu       sync.Mutex
	handlers map[models.JobType]Handler
}

func NewQueue(db *gorm.DB, cfg *config.Config, logger *slog.Logger) *Queue {
	return &Queue{
		db:       db,
		cfg:      cfg,
		logger:   logger.With("component", "queue"),
		poll:     time.Second,
		now:      time.Now,
		handlers: make(map[models.JobType]Handler),
	}
}

// Handle registers fn as the handler for jobs of type typ.
func (q *Queue) Handle(typ models.JobType, fn Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[typ] = fn
}

func (q *Queue) handler(typ models.JobType) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn, ok := q.handlers[typ]
	return fn, ok
}

// Run returns jobs abandoned by a previous process to the queue, then runs
// a pool for every registered job type until ctx is canceled.
func (q *Queue) Run(ctx context.Context) error {
	n, err := models.NewJobs(q.db.WithContext(ctx)).ResetActive()
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.Info("requeued abandoned jobs", "count", n)
	}

	q.mu.Lock()
	types := make([]models.JobType, 0, len(q.handlers))
	for typ := range q.handlers {
		types = append(types, typ)
	}
	q.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, typ := range types {
		g.Go(func() error {
			return q.pool(ctx, typ)
		})
	}
	return g.Wait()
}

// pool claims and runs jobs of type typ, at most the type's concurrency at
// a time, until ctx is canceled. In flight jobs are waited for on return.
func (q *Queue) pool(ctx context.Context, typ models.JobType) error {
	cfg := q.cfg.Job(string(typ))
	size := int64(cfg.Concurrency)
	sem := semaphore.NewWeighted(size)
	logger := q.logger.With("type", typ)
	logger.Info("pool started", "concurrency", size, "attempts", cfg.Attempts, "ttl", cfg.TTL)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		// wait for at least one free slot, then take as many as are free.
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		slots := 1
		for int64(slots) < size && sem.TryAcquire(1) {
			slots++
		}
		jobs, err := models.NewJobs(q.db.WithContext(ctx)).Claim(typ, slots, q.now())
		if err != nil {
			sem.Release(int64(slots))
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("claim failed", "err", err)
			jobs = nil
		} else {
			sem.Release(int64(slots - len(jobs)))
		}
		for _, job := range jobs {
			wg.Add(1)
			go func(job *models.Job) {
				defer wg.Done()
				defer sem.Release(1)
				q.execute(ctx, job)
			}(job)
		}
		if len(jobs) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.poll):
			}
		}
	}
}

// RunOnce claims the jobs of type typ that are due now, up to the type's
// concurrency, runs them concurrently, and returns the number run once all
// of them have finished.
func (q *Queue) RunOnce(ctx context.Context, typ models.JobType) (int, error) {
	cfg := q.cfg.Job(string(typ))
	jobs, err := models.NewJobs(q.db.WithContext(ctx)).Claim(typ, cfg.Concurrency, q.now())
	if err != nil {
		return 0, err
	}
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *models.Job) {
			defer wg.Done()
			q.execute(ctx, job)
		}(job)
	}
	wg.Wait()
	return len(jobs), nil
}

// Drain calls RunOnce for typ until no due jobs remain.
func (q *Queue) Drain(ctx context.Context, typ models.JobType) (int, error) {
	total := 0
	for {
		n, err := q.RunOnce(ctx, typ)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// execute runs a claimed job and records its outcome.
func (q *Queue) execute(ctx context.Context, job *models.Job) {
	cfg := q.cfg.Job(string(job.Type))
	logger := q.logger.With("type", job.Type, "job", job.ID, "attempt", job.Attempts+1)
	jobs := models.NewJobs(q.db.WithContext(context.WithoutCancel(ctx)))

	if job.Expired(cfg.TTL, q.now()) {
		logger.Warn("job expired", "created", job.CreatedAt, "ttl", cfg.TTL)
		jobsProcessed.WithLabelValues(string(job.Type), "expired").Inc()
		if err := jobs.Expire(job); err != nil {
			logger.Error("expire failed", "err", err)
		}
		return
	}

	fn, ok := q.handler(job.Type)
	if !ok {
		err := fmt.Errorf("no handler for job type %q", job.Type)
		logger.Error("job failed", "err", err)
		jobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		if err := jobs.Fail(job, q.now(), err); err != nil {
			logger.Error("fail failed", "err", err)
		}
		return
	}

	start := q.now()
	err := run(ctx, fn, job)
	jobDuration.WithLabelValues(string(job.Type)).Observe(q.now().Sub(start).Seconds())

	switch {
	case err == nil:
		jobsProcessed.WithLabelValues(string(job.Type), "completed").Inc()
		if err := jobs.Complete(job); err != nil {
			logger.Error("complete failed", "err", err)
		}
	case isPermanent(err) || job.Attempts+1 >= cfg.Attempts:
		logger.Error("job failed", "err", err, "permanent", isPermanent(err))
		jobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		if err := jobs.Fail(job, start, err); err != nil {
			logger.Error("fail failed", "err", err)
		}
	default:
		next := start.Add(retryDelay(job.Attempts))
		logger.Warn("job will be retried", "err", err, "next", next)
		jobsProcessed.WithLabelValues(string(job.Type), "retried").Inc()
		if err := jobs.Retry(job, start, err, next); err != nil {
			logger.Error("retry failed", "err", err)
		}
	}
}

// run calls fn, converting a panic into an error.
func run(ctx context.Context, fn Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, job)
}

func retryDelay(attempts uint32) time.Duration {
	if int(attempts) >= len(backoff) {
		return backoff[len(backoff)-1]
	}
	return backoff[attempts]
}

func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
