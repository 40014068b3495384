package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/acqdocs/internal/model"
)

// JobStatus tracks an asynchronous generation request.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the externally visible state of one generation request.
type Job struct {
	ID          string             `json:"id"`
	Program     string             `json:"program"`
	Type        model.DocumentType `json:"type"`
	Status      JobStatus          `json:"status"`
	DocumentID  string             `json:"document_id,omitempty"`
	Score       int                `json:"score,omitempty"`
	Termination model.Termination  `json:"termination,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

// jobs is an in-memory job table. Entries live for the life of the process.
type jobs struct {
	mu sync.RWMutex
	m  map[string]*Job
}

func newJobs() *jobs {
	return &jobs{m: make(map[string]*Job)}
}

func (j *jobs) start(program string, t model.DocumentType) Job {
	job := &Job{
		ID:        uuid.New().String(),
		Program:   program,
		Type:      t,
		Status:    JobRunning,
		CreatedAt: time.Now().UTC(),
	}
	j.mu.Lock()
	j.m[job.ID] = job
	j.mu.Unlock()
	return *job
}

func (j *jobs) finish(id string, report *model.RefinementReport, err error) {
	now := time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.m[id]
	if !ok {
		return
	}
	job.FinishedAt = &now
	if err != nil {
		job.Status = JobFailed
		job.Error = err.Error()
		return
	}
	job.Termination = report.Termination
	if !report.Persisted() {
		job.Status = JobFailed
		job.Error = "draft not stored: " + string(report.Termination)
		return
	}
	job.Status = JobCompleted
	job.DocumentID = report.DocumentID
	job.Score = report.FinalScore()
}

func (j *jobs) get(id string) (Job, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	job, ok := j.m[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}
