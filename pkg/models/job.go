package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a clustering job.
// Valid transitions: pending -> running -> succeeded | failed.
// A job that loses the tenant lock race goes pending -> failed directly.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// JobStats summarizes a completed clustering run.
type JobStats struct {
	Clustered   int `json:"clustered"`
	NewClusters int `json:"new_clusters"`
	Singletons  int `json:"singletons"`
}

// ClusterJob tracks one clustering run for a project. Never resurrected
// once terminal.
type ClusterJob struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	State      JobState   `json:"state"`
	Stats      JobStats   `json:"stats"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewClusterJob creates a pending job for a project.
func NewClusterJob(project string) *ClusterJob {
	return &ClusterJob{
		ID:        uuid.NewString(),
		Project:   project,
		State:     JobStatePending,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkRunning transitions the job to running.
func (j *ClusterJob) MarkRunning() {
	now := time.Now().UTC()
	j.State = JobStateRunning
	j.StartedAt = &now
}

// MarkSucceeded transitions the job to succeeded with its final stats.
func (j *ClusterJob) MarkSucceeded(stats JobStats) {
	now := time.Now().UTC()
	j.State = JobStateSucceeded
	j.Stats = stats
	j.FinishedAt = &now
}

// MarkFailed transitions the job to failed, capturing the error verbatim.
func (j *ClusterJob) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	j.State = JobStateFailed
	j.Error = errMsg
	j.FinishedAt = &now
}
