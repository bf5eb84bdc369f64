package workers

import (
	"context"
	"testing"
	"time"

	"github.com/davecheney/tube/internal/config"
	"github.com/davecheney/tube/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testJob models.JobType = "test"

func newTestQueue(tx *gorm.DB, job config.Job, now time.Time) *Queue {
	cfg := config.Default()
	cfg.Jobs[string(testJob)] = job
	q := NewQueue(tx, cfg, discardLogger())
	q.now = func() time.Time { return now }
	return q
}

func TestQueue(t *testing.T) {
	db := setupTestDB(t)

	enqueue := func(t *testing.T, tx *gorm.DB) *models.Job {
		t.Helper()
		job, err := models.NewJobs(tx).Enqueue(testJob, map[string]any{"n": 1})
		require.NoError(t, err)
		return job
	}

	reload := func(t *testing.T, tx *gorm.DB, job *models.Job) *models.Job {
		t.Helper()
		var got models.Job
		require.NoError(t, tx.First(&got, job.ID).Error)
		return &got
	}

	t.Run("a successful job is removed", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		job := enqueue(t, tx)
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 3}, time.Now().Add(time.Second))
		var got map[string]any
		q.Handle(testJob, func(ctx context.Context, job *models.Job) error {
			return job.Decode(&got)
		})

		n, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		require.Equal(1, n)
		require.EqualValues(1, got["n"])
		require.ErrorIs(tx.First(&models.Job{}, job.ID).Error, gorm.ErrRecordNotFound)
	})

	t.Run("a failed job is retried with backoff until its attempts run out", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		job := enqueue(t, tx)
		now := time.Now().Add(time.Second)
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 2}, now)
		calls := 0
		q.Handle(testJob, func(ctx context.Context, job *models.Job) error {
			calls++
			return errFlaky
		})

		_, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		got := reload(t, tx, job)
		require.Equal(models.JobWaiting, got.State)
		require.EqualValues(1, got.Attempts)
		require.Equal("flaky", got.LastResult)
		require.WithinDuration(now.Add(time.Minute), got.NextAttemptAt, time.Second)

		// not due yet.
		n, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		require.Equal(0, n)

		q.now = func() time.Time { return now.Add(2 * time.Minute) }
		n, err = q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		require.Equal(1, n)
		got = reload(t, tx, job)
		require.Equal(models.JobFailed, got.State)
		require.EqualValues(2, got.Attempts)
		require.Equal(2, calls)
	})

	t.Run("a permanent error is not retried", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		job := enqueue(t, tx)
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 5}, time.Now().Add(time.Second))
		q.Handle(testJob, func(ctx context.Context, job *models.Job) error {
			return permanent{errFlaky}
		})

		_, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		got := reload(t, tx, job)
		require.Equal(models.JobFailed, got.State)
		require.EqualValues(1, got.Attempts)
	})

	t.Run("a job older than its ttl is expired without running", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		job := enqueue(t, tx)
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 1, TTL: time.Minute}, time.Now().Add(time.Hour))
		ran := false
		q.Handle(testJob, func(ctx context.Context, job *models.Job) error {
			ran = true
			return nil
		})

		_, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		require.False(ran)
		require.Equal(models.JobExpired, reload(t, tx, job).State)

		count, err := models.NewJobs(tx).Count(testJob, models.JobExpired)
		require.NoError(err)
		require.EqualValues(1, count)
	})

	t.Run("a panicking handler counts as a failed attempt", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		job := enqueue(t, tx)
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 3}, time.Now().Add(time.Second))
		q.Handle(testJob, func(ctx context.Context, job *models.Job) error {
			panic("boom")
		})

		_, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		got := reload(t, tx, job)
		require.Equal(models.JobWaiting, got.State)
		require.Equal("panic: boom", got.LastResult)
	})

	t.Run("a job without a handler fails", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		job := enqueue(t, tx)
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 3}, time.Now().Add(time.Second))

		_, err := q.RunOnce(context.Background(), testJob)
		require.NoError(err)
		require.Equal(models.JobFailed, reload(t, tx, job).State)
	})

	t.Run("Drain runs every due job", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		for i := 0; i < 3; i++ {
			enqueue(t, tx)
		}
		q := newTestQueue(tx, config.Job{Concurrency: 1, Attempts: 1}, time.Now().Add(time.Second))
		calls := 0
		q.Handle(testJob, func(ctx context.Context, job *models.Job) error {
			calls++
			return nil
		})

		n, err := q.Drain(context.Background(), testJob)
		require.NoError(err)
		require.Equal(3, n)
		require.Equal(3, calls)
	})
}

func TestRetryDelay(t *testing.T) {
	require := require.New(t)
	require.Equal(time.Minute, retryDelay(0))
	require.Equal(5*time.Minute, retryDelay(1))
	require.Equal(24*time.Hour, retryDelay(5))
	require.Equal(24*time.Hour, retryDelay(50))
}
