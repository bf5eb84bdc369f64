package models

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Request struct {
	ID uint32 `gorm:"primarykey;"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time `gorm:"index"`
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt *time.Time
	// LastResult is the result of the last attempt if it failed.
	LastResult string `gorm:"type:text;"`
}

// A Job is a unit of deferred work, executed by the worker pool registered
// for its Type. Completed jobs are deleted; failed and expired jobs are kept
// for inspection.
type Job struct {
	Request
	Type  JobType  `gorm:"size:64;index:idx_jobs_type_state_next_attempt_at;not null"`
	State JobState `gorm:"size:16;index:idx_jobs_type_state_next_attempt_at;not null;default:'waiting'"`
	// NextAttemptAt is the earliest time the job may run.
	NextAttemptAt time.Time `gorm:"index:idx_jobs_type_state_next_attempt_at;not null"`
	Payload       []byte    `gorm:"type:text;not null"`
}

type JobType string

const (
	// JobBroadcast delivers an activity to many inboxes.
	JobBroadcast JobType = "activitypub-http-broadcast"
	// JobBroadcastParallel is JobBroadcast on a wider pool, used for
	// activities that are not ordered with respect to each other.
	JobBroadcastParallel JobType = "activitypub-http-broadcast-parallel"
	// JobUnicast delivers an activity to a single inbox.
	JobUnicast JobType = "activitypub-http-unicast"
	// JobFollow establishes a follow from a local actor to a remote one.
	JobFollow JobType = "activitypub-follow"
	// JobInbox processes an inbound activity.
	JobInbox JobType = "activitypub-inbox"
	// JobVideoRedundancy mirrors a video on request.
	JobVideoRedundancy JobType = "video-redundancy"
)

type JobState string

const (
	JobWaiting JobState = "waiting"
	JobActive  JobState = "active"
	JobFailed  JobState = "failed"
	JobExpired JobState = "expired"
)

func (JobState) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "enum('waiting', 'active', 'failed', 'expired')"
	default:
		return "TEXT"
	}
}

// Decode unmarshals the job's payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("job %d: decode %s payload: %w", j.ID, j.Type, err)
	}
	return nil
}

// Expired reports whether the job is older than ttl. A zero ttl never expires.
func (j *Job) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && j.CreatedAt.Add(ttl).Before(now)
}

type Jobs struct {
	db *gorm.DB
}

func NewJobs(db *gorm.DB) *Jobs {
	return &Jobs{db: db}
}

// Enqueue stores a job of type typ with payload marshalled to JSON. When
// called inside a transaction the job becomes visible to workers only if
// the transaction commits.
func (j *Jobs) Enqueue(typ JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	job := &Job{
		Type:          typ,
		State:         JobWaiting,
		NextAttemptAt: time.Now(),
		Payload:       body,
	}
	return job, j.db.Create(job).Error
}

// Claim marks up to limit waiting jobs of type typ that are due at now as
// active and returns them. A job is only ever claimed by one caller.
func (j *Jobs) Claim(typ JobType, limit int, now time.Time) ([]*Job, error) {
	var jobs []*Job
	err := j.db.Where("type = ? AND state = ? AND next_attempt_at <= ?", typ, JobWaiting, now).
		Order("id").Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	claimed := jobs[:0]
	for _, job := range jobs {
		res := j.db.Model(&Job{}).Where("id = ? AND state = ?", job.ID, JobWaiting).UpdateColumn("state", JobActive)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.State = JobActive
			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

// Complete deletes a finished job.
func (j *Jobs) Complete(job *Job) error {
	return j.db.Delete(job).Error
}

// Retry records a failed attempt and schedules the job to run again at next.
func (j *Jobs) Retry(job *Job, attempt time.Time, cause error, next time.Time) error {
	return j.finish(job, JobWaiting, attempt, cause, next)
}

// Fail records a failed attempt and stops the job from running again.
func (j *Jobs) Fail(job *Job, attempt time.Time, cause error) error {
	return j.finish(job, JobFailed, attempt, cause, job.NextAttemptAt)
}

func (j *Jobs) finish(job *Job, state JobState, attempt time.Time, cause error, next time.Time) error {
	job.Attempts++
	job.State = state
	job.LastAttempt = &attempt
	job.LastResult = cause.Error()
	job.NextAttemptAt = next
	return j.db.Model(job).Updates(map[string]any{
		"attempts":        gorm.Expr("attempts + 1"),
		"state":           state,
		"last_attempt":    attempt,
		"last_result":     job.LastResult,
		"next_attempt_at": next,
	}).Error
}

// Expire marks a job that outlived its time to live.
func (j *Jobs) Expire(job *Job) error {
	job.State = JobExpired
	return j.db.Model(job).Update("state", JobExpired).Error
}

// ResetActive returns jobs left active by a previous process to the queue.
func (j *Jobs) ResetActive() (int64, error) {
	res := j.db.Model(&Job{}).Where("state = ?", JobActive).UpdateColumn("state", JobWaiting)
	return res.RowsAffected, res.Error
}

// Count returns the number of jobs of type typ in state.
func (j *Jobs) Count(typ JobType, state JobState) (int64, error) {
	var count int64
	err := j.db.Model(&Job{}).Where("type = ? AND state = ?", typ, state).Count(&count).Error
	return count, err
}

// Purge deletes failed and expired jobs last updated before before.
func (j *Jobs) Purge(before time.Time) (int64, error) {
	res := j.db.Where("state IN ? AND updated_at < ?", []JobState{JobFailed, JobExpired}, before).Delete(&Job{})
	return res.RowsAffected, res.Error
}
