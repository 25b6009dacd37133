package models

import "time"

// JobStatus is the persisted state of a background job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailure JobStatus = "FAILURE"
)

// Terminal reports whether no further transition is allowed
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}

// Job is a unit of work picked up by the worker pool
type Job struct {
	Id               string    `db:"id"`
	Kind             string    `db:"kind"`
	AccountId        string    `db:"account_id"`
	ResourceId       string    `db:"resource_id"`
	ResultResourceId string    `db:"result_resource_id"`
	Status           JobStatus `db:"status"`
	Error            string    `db:"error"`
	Attempts         int       `db:"attempts"`
	AvailableAt      time.Time `db:"available_at"`
	LockedBy         string    `db:"locked_by"`
	LockedUntil      time.Time `db:"locked_until"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// JobState is what the runner exposes to callers. RUNNING is reported as PENDING.
type JobState struct {
	Status JobStatus
	Result string
	Error  string
}

// JobHandle correlates an (account, resource) pair with an in-flight job
type JobHandle struct {
	AccountId  string    `db:"account_id" json:"account_id"`
	ResourceId string    `db:"resource_id" json:"resource_id"`
	JobId      string    `db:"job_id" json:"job_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
}

func (h *JobHandle) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// PollStatus is the caller-facing outcome of polling an async transform
type PollStatus string

const (
	PollNotFound PollStatus = "not_found"
	PollPending  PollStatus = "pending"
	PollDone     PollStatus = "done"
	PollError    PollStatus = "error"
)

// PollResult carries the new resource id on done, or a message on error
type PollResult struct {
	Status     PollStatus `json:"status"`
	JobId      string     `json:"job_id,omitempty"`
	ResourceId string     `json:"resource_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}
