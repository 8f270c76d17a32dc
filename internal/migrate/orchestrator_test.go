package migrate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/statestore"
	"github.com/sells-group/crm-migrate/pkg/ghl"
)

// fakeAccount implements ghl.Client over in-memory fixtures, recording every
// write so tests can assert on what was sent upstream.
type fakeAccount struct {
	mu sync.Mutex

	fields        []model.CustomField
	pipelines     []model.Pipeline
	contacts      []model.Contact
	opportunities map[string][]model.Opportunity
	searchResults map[string][]model.Contact

	createdFields   []model.CustomField
	createdStages   []model.Stage
	createdContacts []model.Contact
	createdOpps     []ghl.OpportunityRequest

	createOpp     func(pipelineID string, req ghl.OpportunityRequest) (string, error)
	createContact func(c model.Contact) (string, error)

	nextID int
}

func (f *fakeAccount) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeAccount) ListCustomFields(context.Context) ([]model.CustomField, error) {
	return f.fields, nil
}

func (f *fakeAccount) CreateCustomField(_ context.Context, field model.CustomField) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdFields = append(f.createdFields, field)
	return f.id("field"), nil
}

func (f *fakeAccount) ListPipelines(context.Context) ([]model.Pipeline, error) {
	return f.pipelines, nil
}

func (f *fakeAccount) CreateStage(_ context.Context, _ string, stage model.Stage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdStages = append(f.createdStages, stage)
	return f.id("stage"), nil
}

func (f *fakeAccount) SearchContacts(_ context.Context, query string, _ int) ([]model.Contact, error) {
	return f.searchResults[query], nil
}

func (f *fakeAccount) CreateContact(_ context.Context, c model.Contact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createContact != nil {
		return f.createContact(c)
	}
	f.createdContacts = append(f.createdContacts, c)
	return f.id("contact"), nil
}

func (f *fakeAccount) ContactsPager(pageSize int) *ghl.Pager[model.Contact] {
	return ghl.StaticPager(f.contacts, pageSize)
}

func (f *fakeAccount) OpportunitiesPager(pipelineID string, pageSize int) *ghl.Pager[model.Opportunity] {
	return ghl.StaticPager(f.opportunities[pipelineID], pageSize)
}

func (f *fakeAccount) CreateOpportunity(_ context.Context, pipelineID string, req ghl.OpportunityRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createOpp != nil {
		return f.createOpp(pipelineID, req)
	}
	f.createdOpps = append(f.createdOpps, req)
	return f.id("opp"), nil
}

// childFixture builds a child account with one pipeline, two stages, one
// custom field, two contacts, and one opportunity each.
func childFixture() *fakeAccount {
	return &fakeAccount{
		fields: []model.CustomField{
			{ID: "cf1", Name: "Budget", DataType: model.FieldTypeNumber},
		},
		pipelines: []model.Pipeline{{
			ID:   "cp1",
			Name: "Sales",
			Stages: []model.Stage{
				{ID: "cs1", Name: "Lead", Position: 0},
				{ID: "cs2", Name: "Won", Position: 1},
			},
		}},
		contacts: []model.Contact{
			{ID: "cc1", FirstName: "Jane", Email: "jane@acme.com"},
			{ID: "cc2", FirstName: "Bob", Email: "bob@acme.com"},
		},
		opportunities: map[string][]model.Opportunity{
			"cp1": {
				{ID: "co1", Title: "Acme deal", ContactID: "cc1", PipelineID: "cp1", StageID: "cs1"},
				{ID: "co2", Title: "Bob deal", ContactID: "cc2", PipelineID: "cp1", StageID: "cs2"},
			},
		},
	}
}

func masterFixture() *fakeAccount {
	return &fakeAccount{
		nextID: 1000,
		fields: []model.CustomField{
			{ID: "mf1", Name: "Budget", DataType: model.FieldTypeNumber},
		},
		pipelines: []model.Pipeline{{
			ID:   "mp1",
			Name: "Sales Pipeline",
			Stages: []model.Stage{
				{ID: "ms1", Name: "New Lead", Position: 0},
				{ID: "ms2", Name: "Closed Won", Position: 1},
			},
		}},
		searchResults: map[string][]model.Contact{},
	}
}

func newOrchestrator(child, master *fakeAccount, store statestore.Store) *Orchestrator {
	return New(child, master, store, Options{BatchSize: 10})
}

func TestRun_CombinedMigratesEverything(t *testing.T) {
	child, master := childFixture(), masterFixture()
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)

	report, err := o.Run(context.Background(), model.PhaseCombined)
	require.NoError(t, err)
	require.Len(t, report.Phases, len(model.PhaseOrder))
	for i, pr := range report.Phases {
		assert.Equal(t, model.PhaseOrder[i], pr.Phase)
		assert.Equal(t, model.JobStatusCompleted, pr.Status, "phase %s", pr.Phase)
	}

	// Both contacts created, both opportunities created with remapped IDs.
	assert.Len(t, master.createdContacts, 2)
	require.Len(t, master.createdOpps, 2)
	for _, req := range master.createdOpps {
		assert.NotContains(t, []string{"cc1", "cc2"}, req.ContactID, "contact IDs must be master IDs")
		assert.Contains(t, []string{"ms1", "ms2"}, req.StageID)
	}

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.KindCustomField])
	assert.Equal(t, 1, counts[model.KindPipeline])
	assert.Equal(t, 2, counts[model.KindStage])
	assert.Equal(t, 2, counts[model.KindContact])
	assert.Equal(t, 2, counts[model.KindOpportunity])

	// Both schema phases ran, so the report carries a readiness assessment.
	require.NotNil(t, report.Readiness)
	assert.True(t, report.Readiness.CanProceed)
}

func TestMigrateOpportunities_PrecursorGuard(t *testing.T) {
	child, master := childFixture(), masterFixture()
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)

	_, err := o.MigrateOpportunities(context.Background())
	require.Error(t, err)
	assert.True(t, IsPrecursor(err))

	// Nothing was written upstream or to the store.
	assert.Empty(t, master.createdOpps)
	counts, _ := store.Counts(context.Background())
	assert.Empty(t, counts)
}

func TestMigrateOpportunities_DuplicateSkipped(t *testing.T) {
	child, master := childFixture(), masterFixture()
	master.createOpp = func(string, ghl.OpportunityRequest) (string, error) {
		return "", &ghl.ValidationError{
			StatusCode: 400,
			Message:    "this contact already opportunity exists",
			Duplicate:  true,
		}
	}
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)

	_, err := o.Run(context.Background(), model.PhaseContacts)
	require.NoError(t, err)
	_, err = o.Run(context.Background(), model.PhasePipelines)
	require.NoError(t, err)

	report, err := o.Run(context.Background(), model.PhaseOpportunities)
	require.NoError(t, err)
	require.Len(t, report.Phases, 1)
	pr := report.Phases[0]
	assert.Equal(t, 2, pr.SkippedDuplicates)
	assert.Zero(t, pr.Failed)
	assert.Equal(t, model.JobStatusCompleted, pr.Status)
}

func TestMigrateOpportunities_StageFallback(t *testing.T) {
	child, master := childFixture(), masterFixture()
	// Remove the master's second stage so "Won" has nothing to map onto,
	// then strip stage creation by pre-seeding the store without cs2.
	store := statestore.NewMemory()
	ctx := context.Background()
	for _, rec := range []model.MappingRecord{
		{Kind: model.KindPipeline, SourceID: "cp1", TargetID: "mp1"},
		{Kind: model.KindStage, SourceID: "cs1", TargetID: "ms1"},
		{Kind: model.KindContact, SourceID: "cc1", TargetID: "mc1"},
		{Kind: model.KindContact, SourceID: "cc2", TargetID: "mc2"},
	} {
		require.NoError(t, store.Put(ctx, rec))
	}
	o := newOrchestrator(child, master, store)

	report, err := o.Run(ctx, model.PhaseOpportunities)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, 2, pr.Succeeded)

	require.Len(t, master.createdOpps, 2)
	// co2's stage cs2 is unmapped: it lands in the first stage of mp1.
	assert.Equal(t, "ms1", master.createdOpps[1].StageID)
	require.NotEmpty(t, pr.Warnings)
	assert.Contains(t, pr.Warnings[0], "first stage")
}

func TestMigrateOpportunities_UnmappedContactSkipped(t *testing.T) {
	child, master := childFixture(), masterFixture()
	store := statestore.NewMemory()
	ctx := context.Background()
	for _, rec := range []model.MappingRecord{
		{Kind: model.KindPipeline, SourceID: "cp1", TargetID: "mp1"},
		{Kind: model.KindStage, SourceID: "cs1", TargetID: "ms1"},
		{Kind: model.KindStage, SourceID: "cs2", TargetID: "ms2"},
		{Kind: model.KindContact, SourceID: "cc1", TargetID: "mc1"},
		// cc2 deliberately unmapped
	} {
		require.NoError(t, store.Put(ctx, rec))
	}
	o := newOrchestrator(child, master, store)

	report, err := o.Run(ctx, model.PhaseOpportunities)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, 1, pr.Succeeded)
	assert.Equal(t, 1, pr.SkippedUnmapped)
	assert.Len(t, master.createdOpps, 1)
}

func TestMigrateContacts_TestModeCap(t *testing.T) {
	child, master := childFixture(), masterFixture()
	for i := 0; i < 20; i++ {
		child.contacts = append(child.contacts, model.Contact{
			ID:    fmt.Sprintf("extra-%d", i),
			Email: fmt.Sprintf("extra%d@acme.com", i),
		})
	}
	store := statestore.NewMemory()
	o := New(child, master, store, Options{BatchSize: 10, TestMode: true, TestLimit: 3})

	report, err := o.Run(context.Background(), model.PhaseContacts)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, 3, pr.Total)
	assert.Equal(t, 3, pr.Succeeded)
	assert.Len(t, master.createdContacts, 3)
}

func TestMigrateContacts_ResumeSkipsMapped(t *testing.T) {
	child, master := childFixture(), masterFixture()
	store := statestore.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, model.MappingRecord{
		Kind: model.KindContact, SourceID: "cc1", TargetID: "mc1",
	}))
	o := newOrchestrator(child, master, store)

	report, err := o.Run(ctx, model.PhaseContacts)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, 2, pr.Succeeded)

	// Only the unmapped contact hit the API.
	require.Len(t, master.createdContacts, 1)
	assert.Equal(t, "Bob", master.createdContacts[0].FirstName)

	// The original mapping survived.
	target, _, err := store.Get(ctx, model.KindContact, "cc1")
	require.NoError(t, err)
	assert.Equal(t, "mc1", target)
}

func TestMigrateContacts_ErrorRingCapped(t *testing.T) {
	child, master := childFixture(), masterFixture()
	child.contacts = nil
	for i := 0; i < model.ErrorRingCapacity+5; i++ {
		child.contacts = append(child.contacts, model.Contact{ID: fmt.Sprintf("c%d", i)})
	}
	master.createContact = func(model.Contact) (string, error) {
		return "", fmt.Errorf("boom")
	}
	store := statestore.NewMemory()
	o := New(child, master, store, Options{BatchSize: 50})

	report, err := o.Run(context.Background(), model.PhaseContacts)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, model.ErrorRingCapacity+5, pr.Failed)
	// Per-record failures are counted but the phase itself ran to the end.
	assert.Equal(t, model.JobStatusCompleted, pr.Status)
	assert.Len(t, pr.Errors, model.ErrorRingCapacity)
}

func TestMigrateFields_CreatesUnmatched(t *testing.T) {
	child, master := childFixture(), masterFixture()
	child.fields = append(child.fields, model.CustomField{
		ID: "cf2", Name: "Favorite Color", DataType: model.FieldTypeText,
	})
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)

	report, err := o.Run(context.Background(), model.PhaseFields)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, 2, pr.Succeeded)

	require.Len(t, master.createdFields, 1)
	assert.Equal(t, "Favorite Color", master.createdFields[0].Name)

	// Both the matched and the created field are mapped.
	counts, _ := store.Counts(context.Background())
	assert.Equal(t, 2, counts[model.KindCustomField])
}

func TestMigrateFields_TypeMismatchExcluded(t *testing.T) {
	child, master := childFixture(), masterFixture()
	child.fields = []model.CustomField{
		{ID: "cf1", Name: "Budget", DataType: model.FieldTypeText},
	}
	child.contacts = []model.Contact{{
		ID:           "cc1",
		FirstName:    "Jane",
		Email:        "jane@acme.com",
		CustomFields: []model.FieldValue{{FieldID: "cf1", Value: "lots"}},
	}}
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)
	ctx := context.Background()

	report, err := o.Run(ctx, model.PhaseFields)
	require.NoError(t, err)
	pr := report.Phases[0]
	assert.Equal(t, 1, pr.TypeMismatches)
	assert.Zero(t, pr.Succeeded)
	assert.Zero(t, pr.Failed)

	// The mismatch never becomes a mapping, so later phases cannot copy
	// the incompatible value.
	_, ok, err := store.Get(ctx, model.KindCustomField, "cf1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = o.Run(ctx, model.PhaseContacts)
	require.NoError(t, err)
	require.Len(t, master.createdContacts, 1)
	assert.Empty(t, master.createdContacts[0].CustomFields)

	// A fields-only run has no pipeline plan, so no readiness assessment.
	assert.Nil(t, report.Readiness)
}

func TestBuildPlan_Readiness(t *testing.T) {
	child, master := childFixture(), masterFixture()
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)

	plan, err := o.BuildPlan(context.Background())
	require.NoError(t, err)
	assert.Len(t, plan.Fields.Matches, 1)
	assert.Len(t, plan.Pipelines.Matches, 1)
	assert.True(t, plan.Assessment.CanProceed)

	// Planning writes nothing.
	counts, _ := store.Counts(context.Background())
	assert.Empty(t, counts)
}

func TestRun_ContextCancelledBetweenBatches(t *testing.T) {
	child, master := childFixture(), masterFixture()
	store := statestore.NewMemory()
	o := newOrchestrator(child, master, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, model.PhaseContacts)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
