package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a job's lifecycle phase.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// terminal reports whether no further transitions are allowed.
func (s State) terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Job tracks the progress of one ingestion run. All methods are safe for
// concurrent use.
type Job struct {
	ID string

	mu               sync.Mutex
	state            State
	startedAt        time.Time
	finishedAt       time.Time
	documentsScanned int
	documentsIndexed int
	documentsFailed  int
	failureReasons   map[string]string
}

// NewJob creates a queued job with a fresh id.
func NewJob() *Job {
	return &Job{
		ID:             uuid.NewString(),
		state:          StateQueued,
		failureReasons: make(map[string]string),
	}
}

// Stats is a point-in-time copy of a job's progress.
type Stats struct {
	ID               string            `json:"id"`
	State            State             `json:"state"`
	DocumentsScanned int               `json:"documents_scanned"`
	DocumentsIndexed int               `json:"documents_indexed"`
	DocumentsFailed  int               `json:"documents_failed"`
	FailureReasons   map[string]string `json:"failure_reasons,omitempty"`
	Duration         time.Duration     `json:"duration"`
}

// Snapshot returns a copy of the job's current progress.
func (j *Job) Snapshot() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()

	reasons := make(map[string]string, len(j.failureReasons))
	for id, reason := range j.failureReasons {
		reasons[id] = reason
	}

	duration := time.Duration(0)
	if !j.startedAt.IsZero() {
		end := j.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(j.startedAt)
	}

	return Stats{
		ID:               j.ID,
		State:            j.state,
		DocumentsScanned: j.documentsScanned,
		DocumentsIndexed: j.documentsIndexed,
		DocumentsFailed:  j.documentsFailed,
		FailureReasons:   reasons,
		Duration:         duration,
	}
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// transition moves the job to next unless it is already terminal.
func (j *Job) transition(next State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.terminal() {
		return
	}
	j.state = next
	switch next {
	case StateRunning:
		j.startedAt = time.Now()
	case StateComplete, StateFailed:
		j.finishedAt = time.Now()
	}
}

func (j *Job) scanned(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.documentsScanned = n
}

func (j *Job) indexed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.documentsIndexed++
}

func (j *Job) failed(documentID, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.documentsFailed++
	j.failureReasons[documentID] = reason
}
