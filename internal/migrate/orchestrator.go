// Package migrate runs the phased migration of one child account into the
// master account: custom fields, then pipelines, then contacts, then
// opportunities. Later phases depend on the mappings earlier phases persist.
package migrate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/mapping"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/statestore"
	"github.com/sells-group/crm-migrate/pkg/ghl"
)

// Options tunes a migration run.
type Options struct {
	BatchSize         int
	ItemDelay         time.Duration
	TestMode          bool
	TestLimit         int
	AuditTag          string
	PageSize          int
	FieldThreshold    float64
	PipelineThreshold float64
	Synonyms          *mapping.Synonyms
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.TestLimit <= 0 {
		o.TestLimit = 5
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.FieldThreshold == 0 {
		o.FieldThreshold = 0.8
	}
	if o.PipelineThreshold == 0 {
		o.PipelineThreshold = 0.6
	}
}

// Orchestrator executes migration phases against the two accounts.
type Orchestrator struct {
	child    ghl.Client
	master   ghl.Client
	store    statestore.Store
	strategy *mapping.Strategy
	opts     Options
	log      *zap.Logger

	// progress receives best-effort updates; a full or nil channel is
	// skipped, never blocked on.
	progress chan<- model.Progress

	// Plans computed by the schema phases, kept for the final report's
	// readiness assessment.
	fieldPlan    *mapping.FieldPlan
	pipelinePlan *mapping.PipelinePlan
}

func New(child, master ghl.Client, store statestore.Store, opts Options) *Orchestrator {
	opts.withDefaults()
	return &Orchestrator{
		child:    child,
		master:   master,
		store:    store,
		strategy: mapping.NewStrategy(opts.FieldThreshold, opts.PipelineThreshold, opts.Synonyms),
		opts:     opts,
		log:      zap.L().Named("migrate"),
	}
}

// WithProgress directs progress events to ch. Delivery is non-blocking.
func (o *Orchestrator) WithProgress(ch chan<- model.Progress) *Orchestrator {
	o.progress = ch
	return o
}

func (o *Orchestrator) notify(stage string, current, total int, msg string) {
	if o.progress == nil {
		return
	}
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(current) / float64(total)
	}
	select {
	case o.progress <- model.Progress{Stage: stage, Current: current, Total: total, Percentage: pct, Message: msg}:
	default:
	}
}

// Run executes one phase, or all of them in dependency order for
// model.PhaseCombined. Contacts always finish before opportunities start.
func (o *Orchestrator) Run(ctx context.Context, phase model.Phase) (*model.MigrationReport, error) {
	report := &model.MigrationReport{StartedAt: time.Now().UTC()}

	phases := []model.Phase{phase}
	if phase == model.PhaseCombined {
		phases = model.PhaseOrder
	}

	for _, p := range phases {
		pr, err := o.runPhase(ctx, p)
		if pr != nil {
			if err != nil {
				pr.Status = model.JobStatusFailed
			}
			report.Phases = append(report.Phases, *pr)
		}
		if err != nil {
			report.EndedAt = time.Now().UTC()
			return report, eris.Wrapf(err, "migrate: phase %s", p)
		}
	}

	o.attachReadiness(report)
	report.EndedAt = time.Now().UTC()
	return report, nil
}

// attachReadiness adds the schema readiness assessment when both schema
// phases ran in this process and their plans are available.
func (o *Orchestrator) attachReadiness(report *model.MigrationReport) {
	if o.fieldPlan == nil || o.pipelinePlan == nil {
		return
	}
	a := mapping.Assess(*o.fieldPlan, *o.pipelinePlan)
	report.Readiness = &a
}

func (o *Orchestrator) runPhase(ctx context.Context, phase model.Phase) (*model.PhaseReport, error) {
	o.log.Info("phase starting", zap.String("phase", string(phase)))
	start := time.Now()

	var (
		pr  *model.PhaseReport
		err error
	)
	switch phase {
	case model.PhaseFields:
		pr, err = o.MigrateFields(ctx)
	case model.PhasePipelines:
		pr, err = o.MigratePipelines(ctx)
	case model.PhaseContacts:
		pr, err = o.MigrateContacts(ctx)
	case model.PhaseOpportunities:
		pr, err = o.MigrateOpportunities(ctx)
	default:
		return nil, eris.Errorf("migrate: unknown phase %q", phase)
	}

	if pr != nil {
		o.log.Info("phase finished",
			zap.String("phase", string(phase)),
			zap.String("status", string(pr.Status)),
			zap.Int("succeeded", pr.Succeeded),
			zap.Int("failed", pr.Failed),
			zap.Duration("elapsed", time.Since(start)))
	}
	return pr, err
}

// Plan previews the schema mapping without writing anything. Used by the
// plan command and as the readiness gate before record migration.
type Plan struct {
	Fields     mapping.FieldPlan         `json:"fields"`
	Pipelines  mapping.PipelinePlan      `json:"pipelines"`
	Assessment model.ReadinessAssessment `json:"assessment"`
}

func (o *Orchestrator) BuildPlan(ctx context.Context) (*Plan, error) {
	childFields, err := o.child.ListCustomFields(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "migrate: list child fields")
	}
	masterFields, err := o.master.ListCustomFields(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "migrate: list master fields")
	}
	childPipes, err := o.child.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "migrate: list child pipelines")
	}
	masterPipes, err := o.master.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "migrate: list master pipelines")
	}

	p := &Plan{
		Fields:    o.strategy.MapFields(childFields, masterFields),
		Pipelines: o.strategy.MapPipelines(childPipes, masterPipes),
	}
	p.Assessment = mapping.Assess(p.Fields, p.Pipelines)
	return p, nil
}

// newPhaseReport seeds a report with the phase and start time.
func newPhaseReport(phase model.Phase) *model.PhaseReport {
	return &model.PhaseReport{
		Phase:     phase,
		Status:    model.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// finishPhase closes out a phase that ran to the end of its record set.
// Per-record failures are counted, not fatal; only a setup error or an
// interruption marks a phase failed, and that happens in Run.
func finishPhase(pr *model.PhaseReport, ring *model.ErrorRing) {
	now := time.Now().UTC()
	pr.EndedAt = &now
	pr.Errors = ring.Messages()
	pr.Status = model.JobStatusCompleted
}
