package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/resolve"
	"github.com/sells-group/crm-migrate/pkg/ghl"
)

// MigrateFields maps the child's custom fields onto the master account,
// creating any field that has no acceptable match.
func (o *Orchestrator) MigrateFields(ctx context.Context) (*model.PhaseReport, error) {
	pr := newPhaseReport(model.PhaseFields)
	var ring model.ErrorRing

	childFields, err := o.child.ListCustomFields(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list child fields")
	}
	masterFields, err := o.master.ListCustomFields(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list master fields")
	}

	plan := o.strategy.MapFields(childFields, masterFields)
	o.fieldPlan = &plan
	pr.Total = len(childFields)
	pr.Warnings = append(pr.Warnings, plan.Warnings...)

	for _, m := range plan.Matches {
		pr.Completed++

		// A mismatched type never becomes a mapping: downstream phases copy
		// values only through stored mappings, so leaving it out keeps the
		// incompatible values from being written to the master account.
		if m.TypeMismatch {
			pr.TypeMismatches++
			o.log.Warn("field mapping skipped: type mismatch",
				zap.String("source", m.Source.Name),
				zap.String("target", m.Target.Name))
			continue
		}

		if err := o.store.Put(ctx, model.MappingRecord{
			Kind: model.KindCustomField, SourceID: m.Source.ID, TargetID: m.Target.ID,
		}); err != nil {
			return pr, eris.Wrap(err, "record field mapping")
		}
		pr.Succeeded++
		o.notify("fields", pr.Completed, pr.Total, m.Source.Name)
	}

	for _, f := range plan.Unmatched {
		pr.Completed++
		if _, ok, err := o.store.Get(ctx, model.KindCustomField, f.ID); err != nil {
			return pr, eris.Wrap(err, "check field mapping")
		} else if ok {
			pr.Succeeded++
			continue
		}

		id, err := o.master.CreateCustomField(ctx, f)
		if err != nil {
			pr.Failed++
			ring.Append(fmt.Sprintf("create field %q: %v", f.Name, err))
			continue
		}
		if err := o.store.Put(ctx, model.MappingRecord{
			Kind: model.KindCustomField, SourceID: f.ID, TargetID: id,
		}); err != nil {
			return pr, eris.Wrap(err, "record field mapping")
		}
		pr.Succeeded++
		o.notify("fields", pr.Completed, pr.Total, f.Name)
	}

	finishPhase(pr, &ring)
	return pr, nil
}

// MigratePipelines maps child pipelines and stages onto the master account.
// The upstream API cannot create pipelines, so an unmatched pipeline is
// reported rather than built; unmatched stages inside a matched pipeline are
// created at the end of the target pipeline.
func (o *Orchestrator) MigratePipelines(ctx context.Context) (*model.PhaseReport, error) {
	pr := newPhaseReport(model.PhasePipelines)
	var ring model.ErrorRing

	childPipes, err := o.child.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list child pipelines")
	}
	masterPipes, err := o.master.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list master pipelines")
	}

	plan := o.strategy.MapPipelines(childPipes, masterPipes)
	o.pipelinePlan = &plan
	pr.Total = len(childPipes)
	pr.Warnings = append(pr.Warnings, plan.Warnings...)

	for _, pm := range plan.Matches {
		if err := o.store.Put(ctx, model.MappingRecord{
			Kind: model.KindPipeline, SourceID: pm.Source.ID, TargetID: pm.Target.ID,
		}); err != nil {
			return pr, eris.Wrap(err, "record pipeline mapping")
		}
		for _, sm := range pm.Stages {
			if err := o.store.Put(ctx, model.MappingRecord{
				Kind: model.KindStage, SourceID: sm.Source.ID, TargetID: sm.Target.ID,
			}); err != nil {
				return pr, eris.Wrap(err, "record stage mapping")
			}
		}

		for i, stage := range pm.UnmatchedStages {
			if _, ok, err := o.store.Get(ctx, model.KindStage, stage.ID); err != nil {
				return pr, eris.Wrap(err, "check stage mapping")
			} else if ok {
				continue
			}
			stage.Position = len(pm.Target.Stages) + i
			id, err := o.master.CreateStage(ctx, pm.Target.ID, stage)
			if err != nil {
				ring.Append(fmt.Sprintf("create stage %q in %q: %v", stage.Name, pm.Target.Name, err))
				pr.Failed++
				continue
			}
			if err := o.store.Put(ctx, model.MappingRecord{
				Kind: model.KindStage, SourceID: stage.ID, TargetID: id,
			}); err != nil {
				return pr, eris.Wrap(err, "record stage mapping")
			}
		}

		pr.Completed++
		pr.Succeeded++
		o.notify("pipelines", pr.Completed, pr.Total, pm.Source.Name)
	}

	for _, p := range plan.Unmatched {
		pr.Completed++
		pr.SkippedUnmapped++
		pr.Warnings = append(pr.Warnings, fmt.Sprintf(
			"pipeline %q has no master equivalent and cannot be created via the API", p.Name))
	}

	finishPhase(pr, &ring)
	return pr, nil
}

// MigrateContacts copies the child's contacts into the master account,
// reusing existing contacts found by email or phone.
func (o *Orchestrator) MigrateContacts(ctx context.Context) (*model.PhaseReport, error) {
	pr := newPhaseReport(model.PhaseContacts)
	var ring model.ErrorRing

	fieldMap, err := o.store.LoadKind(ctx, model.KindCustomField)
	if err != nil {
		return nil, eris.Wrap(err, "load field mappings")
	}
	resolver := resolve.New(o.master, fieldMap, o.opts.AuditTag)

	contacts, err := o.child.ContactsPager(o.opts.PageSize).All(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fetch child contacts")
	}
	contacts = capForTestMode(o, contacts)
	pr.Total = len(contacts)

	for start := 0; start < len(contacts); start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			finishPhase(pr, &ring)
			return pr, eris.Wrap(err, "contacts interrupted")
		}

		end := start + o.opts.BatchSize
		if end > len(contacts) {
			end = len(contacts)
		}
		for _, contact := range contacts[start:end] {
			pr.Completed++

			if _, ok, err := o.store.Get(ctx, model.KindContact, contact.ID); err != nil {
				return pr, eris.Wrap(err, "check contact mapping")
			} else if ok {
				pr.Succeeded++
				o.notify("contacts", pr.Completed, pr.Total, contact.Email)
				continue
			}

			id, created, err := resolver.Resolve(ctx, contact)
			if err != nil {
				pr.Failed++
				ring.Append(fmt.Sprintf("contact %s: %v", contact.ID, err))
				o.notify("contacts", pr.Completed, pr.Total, "error: "+contact.ID)
				continue
			}
			if err := o.store.Put(ctx, model.MappingRecord{
				Kind: model.KindContact, SourceID: contact.ID, TargetID: id,
			}); err != nil {
				return pr, eris.Wrap(err, "record contact mapping")
			}
			pr.Succeeded++
			o.notify("contacts", pr.Completed, pr.Total, contact.Email)
			o.log.Debug("contact migrated",
				zap.String("source_id", contact.ID),
				zap.String("target_id", id),
				zap.Bool("created", created))

			if err := o.pause(ctx, o.opts.ItemDelay); err != nil {
				finishPhase(pr, &ring)
				return pr, eris.Wrap(err, "contacts interrupted")
			}
		}

		// Batches are spaced further apart than items to stay friendly to
		// the upstream account limits.
		if end < len(contacts) {
			if err := o.pause(ctx, 3*o.opts.ItemDelay); err != nil {
				finishPhase(pr, &ring)
				return pr, eris.Wrap(err, "contacts interrupted")
			}
		}
	}

	finishPhase(pr, &ring)
	return pr, nil
}

// MigrateOpportunities copies the child's opportunities into the master
// account. Contacts and pipelines must already be mapped; an opportunity
// whose contact is unmapped is skipped, and one whose stage is unmapped
// falls back to the first stage of the mapped pipeline.
func (o *Orchestrator) MigrateOpportunities(ctx context.Context) (*model.PhaseReport, error) {
	pr := newPhaseReport(model.PhaseOpportunities)
	var ring model.ErrorRing

	contactMap, err := o.store.LoadKind(ctx, model.KindContact)
	if err != nil {
		return nil, eris.Wrap(err, "load contact mappings")
	}
	pipelineMap, err := o.store.LoadKind(ctx, model.KindPipeline)
	if err != nil {
		return nil, eris.Wrap(err, "load pipeline mappings")
	}
	stageMap, err := o.store.LoadKind(ctx, model.KindStage)
	if err != nil {
		return nil, eris.Wrap(err, "load stage mappings")
	}
	if len(pipelineMap) == 0 {
		return nil, &PrecursorError{Phase: model.PhaseOpportunities, Needed: model.KindPipeline}
	}
	if len(contactMap) == 0 {
		return nil, &PrecursorError{Phase: model.PhaseOpportunities, Needed: model.KindContact}
	}
	fieldMap, err := o.store.LoadKind(ctx, model.KindCustomField)
	if err != nil {
		return nil, eris.Wrap(err, "load field mappings")
	}

	childPipes, err := o.child.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list child pipelines")
	}
	masterPipes, err := o.master.ListPipelines(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list master pipelines")
	}
	firstStage := make(map[string]string, len(masterPipes))
	for _, p := range masterPipes {
		if len(p.Stages) > 0 {
			firstStage[p.ID] = p.Stages[0].ID
		}
	}

	var opportunities []model.Opportunity
	for _, p := range childPipes {
		opps, err := o.child.OpportunitiesPager(p.ID, o.opts.PageSize).All(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch opportunities for pipeline %s", p.ID)
		}
		opportunities = append(opportunities, opps...)
	}
	opportunities = capForTestMode(o, opportunities)
	pr.Total = len(opportunities)

	for start := 0; start < len(opportunities); start += o.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			finishPhase(pr, &ring)
			return pr, eris.Wrap(err, "opportunities interrupted")
		}

		end := start + o.opts.BatchSize
		if end > len(opportunities) {
			end = len(opportunities)
		}
		for _, opp := range opportunities[start:end] {
			pr.Completed++
			o.migrateOpportunity(ctx, pr, &ring, opp, contactMap, pipelineMap, stageMap, fieldMap, firstStage)
			if pr.Completed%5 == 0 || pr.Completed == pr.Total {
				o.notify("opportunities", pr.Completed, pr.Total, opp.Title)
			}
			if err := o.pause(ctx, o.opts.ItemDelay); err != nil {
				finishPhase(pr, &ring)
				return pr, eris.Wrap(err, "opportunities interrupted")
			}
		}
		if end < len(opportunities) {
			if err := o.pause(ctx, 3*o.opts.ItemDelay); err != nil {
				finishPhase(pr, &ring)
				return pr, eris.Wrap(err, "opportunities interrupted")
			}
		}
	}

	finishPhase(pr, &ring)
	return pr, nil
}

func (o *Orchestrator) migrateOpportunity(
	ctx context.Context,
	pr *model.PhaseReport,
	ring *model.ErrorRing,
	opp model.Opportunity,
	contactMap, pipelineMap, stageMap, fieldMap, firstStage map[string]string,
) {
	if _, ok, err := o.store.Get(ctx, model.KindOpportunity, opp.ID); err != nil {
		pr.Failed++
		ring.Append(fmt.Sprintf("opportunity %s: %v", opp.ID, err))
		return
	} else if ok {
		pr.Succeeded++
		return
	}

	targetContact, ok := contactMap[opp.ContactID]
	if !ok {
		pr.SkippedUnmapped++
		o.log.Warn("opportunity skipped: contact not migrated",
			zap.String("opportunity", opp.ID),
			zap.String("contact", opp.ContactID))
		return
	}
	targetPipeline, ok := pipelineMap[opp.PipelineID]
	if !ok {
		pr.SkippedUnmapped++
		o.log.Warn("opportunity skipped: pipeline not mapped",
			zap.String("opportunity", opp.ID),
			zap.String("pipeline", opp.PipelineID))
		return
	}

	targetStage, ok := stageMap[opp.StageID]
	if !ok {
		targetStage = firstStage[targetPipeline]
		pr.Warnings = append(pr.Warnings, fmt.Sprintf(
			"opportunity %q placed in first stage of target pipeline: stage %s is unmapped",
			opp.Title, opp.StageID))
	}

	req := ghl.OpportunityRequest{
		Title:         opp.Title,
		Status:        opp.Status,
		StageID:       targetStage,
		ContactID:     targetContact,
		MonetaryValue: opp.MonetaryValue,
		AssignedTo:    opp.AssignedTo,
		CompanyName:   opp.CompanyName,
		Tags:          opp.Tags,
	}
	for _, fv := range opp.CustomFields {
		if targetID, ok := fieldMap[fv.FieldID]; ok {
			req.CustomFields = append(req.CustomFields, model.FieldValue{FieldID: targetID, Value: fv.Value})
		}
	}

	id, err := o.master.CreateOpportunity(ctx, targetPipeline, req)
	switch {
	case err == nil:
		if putErr := o.store.Put(ctx, model.MappingRecord{
			Kind: model.KindOpportunity, SourceID: opp.ID, TargetID: id,
		}); putErr != nil {
			pr.Failed++
			ring.Append(fmt.Sprintf("opportunity %s: %v", opp.ID, putErr))
			return
		}
		pr.Succeeded++
	case ghl.IsDuplicateOpportunity(err):
		pr.SkippedDuplicates++
		o.log.Info("opportunity already exists in target pipeline",
			zap.String("opportunity", opp.ID),
			zap.String("contact", targetContact))
	default:
		pr.Failed++
		ring.Append(fmt.Sprintf("opportunity %q: %v", opp.Title, err))
	}
}

// capForTestMode truncates a fetched collection before any processing when
// test mode is on.
func capForTestMode[T any](o *Orchestrator, items []T) []T {
	if o.opts.TestMode && len(items) > o.opts.TestLimit {
		o.log.Info("test mode: capping records",
			zap.Int("fetched", len(items)),
			zap.Int("limit", o.opts.TestLimit))
		return items[:o.opts.TestLimit]
	}
	return items
}

// pause sleeps for d unless the context ends first.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
