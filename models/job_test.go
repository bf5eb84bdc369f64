package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobs(t *testing.T) {
	db := setupTestDB(t)

	type payload struct {
		Inbox string `json:"inbox"`
	}

	t.Run("claim is exclusive", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		jobs := NewJobs(tx)
		job, err := jobs.Enqueue(JobUnicast, &payload{Inbox: "https://remote.example/inbox"})
		require.NoError(err)
		require.Equal(JobWaiting, job.State)

		now := time.Now().Add(time.Second)
		claimed, err := jobs.Claim(JobUnicast, 10, now)
		require.NoError(err)
		require.Len(claimed, 1)
		require.Equal(JobActive, claimed[0].State)

		var got payload
		require.NoError(claimed[0].Decode(&got))
		require.Equal("https://remote.example/inbox", got.Inbox)

		again, err := jobs.Claim(JobUnicast, 10, now)
		require.NoError(err)
		require.Empty(again)

		other, err := jobs.Claim(JobBroadcast, 10, now)
		require.NoError(err)
		require.Empty(other)

		require.NoError(jobs.Complete(claimed[0]))
		count, err := jobs.Count(JobUnicast, JobActive)
		require.NoError(err)
		require.Zero(count)
	})

	t.Run("retry defers the next attempt", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		jobs := NewJobs(tx)
		_, err := jobs.Enqueue(JobFollow, &payload{})
		require.NoError(err)

		now := time.Now().Add(time.Second)
		claimed, err := jobs.Claim(JobFollow, 1, now)
		require.NoError(err)
		require.Len(claimed, 1)

		require.NoError(jobs.Retry(claimed[0], now, errors.New("connection refused"), now.Add(time.Minute)))
		require.EqualValues(1, claimed[0].Attempts)

		early, err := jobs.Claim(JobFollow, 1, now.Add(30*time.Second))
		require.NoError(err)
		require.Empty(early)

		due, err := jobs.Claim(JobFollow, 1, now.Add(2*time.Minute))
		require.NoError(err)
		require.Len(due, 1)
		require.EqualValues(1, due[0].Attempts)
		require.Equal("connection refused", due[0].LastResult)
		require.NotNil(due[0].LastAttempt)

		require.NoError(jobs.Fail(due[0], now, errors.New("gone")))
		failed, err := jobs.Count(JobFollow, JobFailed)
		require.NoError(err)
		require.EqualValues(1, failed)

		n, err := jobs.Purge(time.Now().Add(time.Hour))
		require.NoError(err)
		require.EqualValues(1, n)
	})

	t.Run("ResetActive requeues abandoned jobs", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		jobs := NewJobs(tx)
		_, err := jobs.Enqueue(JobInbox, &payload{})
		require.NoError(err)
		claimed, err := jobs.Claim(JobInbox, 1, time.Now().Add(time.Second))
		require.NoError(err)
		require.Len(claimed, 1)

		n, err := jobs.ResetActive()
		require.NoError(err)
		require.EqualValues(1, n)
		waiting, err := jobs.Count(JobInbox, JobWaiting)
		require.NoError(err)
		require.EqualValues(1, waiting)
	})

	t.Run("Expired", func(t *testing.T) {
		require := require.New(t)
		now := time.Now()
		job := &Job{Request: Request{CreatedAt: now.Add(-11 * time.Minute)}}
		require.True(job.Expired(10*time.Minute, now))
		require.False(job.Expired(15*time.Minute, now))
		require.False(job.Expired(0, now))
	})
}
