package model

import "time"

// Phase is one ordered step of a migration run.
type Phase string

const (
	PhaseFields        Phase = "fields"
	PhasePipelines     Phase = "pipelines"
	PhaseContacts      Phase = "contacts"
	PhaseOpportunities Phase = "opportunities"
	PhaseCombined      Phase = "combined"
)

// PhaseOrder lists the phases a combined run executes, in dependency order.
// Contacts must fully complete before any opportunity is attempted.
var PhaseOrder = []Phase{PhaseFields, PhasePipelines, PhaseContacts, PhaseOpportunities}

// JobStatus is the lifecycle state of a migration job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final. A job never mutates after
// reaching a terminal status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrorRingCapacity bounds the number of error messages retained per phase.
const ErrorRingCapacity = 10

// ErrorRing keeps the most recent error messages up to a fixed capacity.
// The zero value is ready to use.
type ErrorRing struct {
	msgs  []string
	next  int
	total int
}

// Append records a message, evicting the oldest once capacity is reached.
func (r *ErrorRing) Append(msg string) {
	if len(r.msgs) < ErrorRingCapacity {
		r.msgs = append(r.msgs, msg)
	} else {
		r.msgs[r.next] = msg
	}
	r.next = (r.next + 1) % ErrorRingCapacity
	r.total++
}

// Total returns the number of messages ever appended.
func (r *ErrorRing) Total() int { return r.total }

// Messages returns the retained messages, oldest first.
func (r *ErrorRing) Messages() []string {
	if r.total <= ErrorRingCapacity {
		out := make([]string, len(r.msgs))
		copy(out, r.msgs)
		return out
	}
	out := make([]string, 0, ErrorRingCapacity)
	for i := 0; i < ErrorRingCapacity; i++ {
		out = append(out, r.msgs[(r.next+i)%ErrorRingCapacity])
	}
	return out
}

// Progress is one progress event emitted by the orchestrator. Delivery is
// best effort; a slow or absent consumer never stalls the migration.
type Progress struct {
	Stage      string  `json:"stage"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

// JobSnapshot is a point-in-time view of a job for polling callers.
type JobSnapshot struct {
	ID         string     `json:"id"`
	Phase      Phase      `json:"phase"`
	Status     JobStatus  `json:"status"`
	Current    int        `json:"current"`
	Total      int        `json:"total"`
	Percentage float64    `json:"percentage"`
	Message    string     `json:"message"`
	Errors     []string   `json:"errors"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// PhaseReport aggregates per-record outcomes for one phase.
type PhaseReport struct {
	Phase             Phase      `json:"phase"`
	Status            JobStatus  `json:"status"`
	Total             int        `json:"total"`
	Completed         int        `json:"completed"`
	Succeeded         int        `json:"succeeded"`
	Failed            int        `json:"failed"`
	SkippedDuplicates int        `json:"skipped_duplicates"`
	SkippedUnmapped   int        `json:"skipped_unmapped"`
	TypeMismatches    int        `json:"type_mismatches,omitempty"`
	Warnings          []string   `json:"warnings,omitempty"`
	Errors            []string   `json:"errors,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

// MigrationReport is the final result of a run across all executed phases.
// JobID is set only for runs owned by the jobs manager; CLI runs leave it
// empty.
type MigrationReport struct {
	JobID     string               `json:"job_id,omitempty"`
	Phases    []PhaseReport        `json:"phases"`
	Readiness *ReadinessAssessment `json:"readiness,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
}

// ReadinessAssessment summarizes how much of the child schema resolved onto
// the master account before record migration began.
type ReadinessAssessment struct {
	PipelinePercent float64  `json:"pipeline_readiness_percent"`
	FieldPercent    float64  `json:"field_readiness_percent"`
	OverallPercent  float64  `json:"overall_readiness_percent"`
	Level           string   `json:"readiness_level"`
	CanProceed      bool     `json:"can_proceed"`
	Warnings        []string `json:"warnings,omitempty"`
}
