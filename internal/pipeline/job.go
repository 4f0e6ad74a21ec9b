package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jacobsvennevik/marepo/internal/extract"
)

// JobStatus is the state of a remote processing job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
	JobTimedOut   JobStatus = "timed_out" // client-side only, never reported by the server
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobTimedOut
}

func (s JobStatus) rank() int {
	switch s {
	case JobPending:
		return 0
	case JobProcessing:
		return 1
	default:
		return 2
	}
}

// canTransition allows forward moves only. A terminal job is frozen.
func canTransition(from, to JobStatus) bool {
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Job tracks one processing run of an uploaded document.
type Job struct {
	ID         string
	DocumentID string
	FileName   string
	Epoch      uint64 // generation of the owning session

	mu          sync.RWMutex
	taskID      string
	status      JobStatus
	attempt     int
	maxAttempts int
	extracted   *extract.Metadata
	err         *Error
	startedAt   time.Time
	completedAt *time.Time

	live func() bool
}

// JobState is a copy of a job's state at one point in time.
type JobState struct {
	ID          string
	DocumentID  string
	FileName    string
	TaskID      string
	Status      JobStatus
	Attempt     int
	MaxAttempts int
	Extracted   *extract.Metadata
	Err         *Error
	Epoch       uint64
	StartedAt   time.Time
	CompletedAt *time.Time
}

// NewJob creates a pending job. live reports whether the job's result is
// still wanted; nil means always.
func NewJob(documentID, fileName string, epoch uint64, live func() bool) *Job {
	return &Job{
		ID:         uuid.New().String()[:8],
		DocumentID: documentID,
		FileName:   fileName,
		Epoch:      epoch,
		status:     JobPending,
		startedAt:  time.Now(),
		live:       live,
	}
}

// Live reports whether the owning session still accepts this job's results.
func (j *Job) Live() bool {
	return j.live == nil || j.live()
}

// Status returns the current status.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobState{
		ID:          j.ID,
		DocumentID:  j.DocumentID,
		FileName:    j.FileName,
		TaskID:      j.taskID,
		Status:      j.status,
		Attempt:     j.attempt,
		MaxAttempts: j.maxAttempts,
		Extracted:   j.extracted,
		Err:         j.err,
		Epoch:       j.Epoch,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
	}
}

func (j *Job) transition(to JobStatus) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(to)
}

func (j *Job) transitionLocked(to JobStatus) bool {
	if !canTransition(j.status, to) {
		return false
	}
	j.status = to
	if to.Terminal() {
		now := time.Now()
		j.completedAt = &now
	}
	return true
}

func (j *Job) start(taskID string, maxAttempts int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.taskID = taskID
	j.maxAttempts = maxAttempts
	j.transitionLocked(JobProcessing)
}

// nextAttempt consumes one attempt and returns its 1-based number.
func (j *Job) nextAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempt++
	return j.attempt
}

func (j *Job) attempts() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.attempt
}

func (j *Job) complete(md *extract.Metadata) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.transitionLocked(JobCompleted) {
		return false
	}
	j.extracted = md
	return true
}

func (j *Job) fail(status JobStatus, err *Error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.transitionLocked(status) {
		return false
	}
	j.err = err
	return true
}
