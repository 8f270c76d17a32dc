package migrate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crm-migrate/internal/model"
)

// Job is one asynchronous migration run.
type Job struct {
	id     string
	phase  model.Phase
	cancel context.CancelFunc

	mu       sync.Mutex
	status   model.JobStatus
	progress model.Progress
	ring     model.ErrorRing
	report   *model.MigrationReport
	started  time.Time
	ended    *time.Time
}

// Snapshot returns a point-in-time copy of the job state.
func (j *Job) Snapshot() model.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return model.JobSnapshot{
		ID:         j.id,
		Phase:      j.phase,
		Status:     j.status,
		Current:    j.progress.Current,
		Total:      j.progress.Total,
		Percentage: j.progress.Percentage,
		Message:    j.progress.Message,
		Errors:     j.ring.Messages(),
		StartedAt:  j.started,
		EndedAt:    j.ended,
	}
}

// Manager owns asynchronous migration jobs for the job API.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*Job
	log  *zap.Logger
}

func NewManager() *Manager {
	return &Manager{
		jobs: make(map[string]*Job),
		log:  zap.L().Named("jobs"),
	}
}

// Start launches a migration in the background and returns the job ID. The
// job outlives the caller's request; base is the server's lifetime context.
func (m *Manager) Start(base context.Context, orch *Orchestrator, phase model.Phase) string {
	ctx, cancel := context.WithCancel(base)
	job := &Job{
		id:      uuid.New().String(),
		phase:   phase,
		cancel:  cancel,
		status:  model.JobStatusPending,
		started: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.id] = job
	m.mu.Unlock()

	progress := make(chan model.Progress, 64)
	orch.WithProgress(progress)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for p := range progress {
			job.mu.Lock()
			job.progress = p
			job.mu.Unlock()
		}
		return nil
	})
	g.Go(func() error {
		defer close(progress)

		job.mu.Lock()
		job.status = model.JobStatusRunning
		job.mu.Unlock()

		report, err := orch.Run(gctx, phase)
		if report != nil {
			report.JobID = job.id
		}

		now := time.Now().UTC()
		job.mu.Lock()
		job.report = report
		job.ended = &now
		if err != nil {
			job.status = model.JobStatusFailed
			job.ring.Append(err.Error())
		} else {
			job.status = model.JobStatusCompleted
			if report != nil {
				for _, pr := range report.Phases {
					for _, msg := range pr.Errors {
						job.ring.Append(msg)
					}
				}
			}
		}
		job.mu.Unlock()
		return err
	})

	go func() {
		if err := g.Wait(); err != nil {
			m.log.Error("job failed",
				zap.String("job_id", job.id),
				zap.String("phase", string(phase)),
				zap.Error(err))
		} else {
			m.log.Info("job finished",
				zap.String("job_id", job.id),
				zap.String("phase", string(phase)))
		}
		cancel()
	}()

	return job.id
}

// Get returns the snapshot for a job ID.
func (m *Manager) Get(id string) (model.JobSnapshot, bool) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return model.JobSnapshot{}, false
	}
	return job.Snapshot(), true
}

// Report returns the final report of a terminal job.
func (m *Manager) Report(id string) (*model.MigrationReport, bool) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	if !job.status.Terminal() {
		return nil, false
	}
	return job.report, true
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// List returns snapshots of all known jobs.
func (m *Manager) List() []model.JobSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.JobSnapshot, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Snapshot())
	}
	return out
}
