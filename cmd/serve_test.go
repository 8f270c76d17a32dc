//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-migrate/internal/migrate"
	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/internal/statestore"
	"github.com/sells-group/crm-migrate/pkg/ghl"
)

// emptyAccount is a ghl.Client over an account with no records, so a combined
// run completes immediately.
type emptyAccount struct{}

func (emptyAccount) ListCustomFields(context.Context) ([]model.CustomField, error) { return nil, nil }
func (emptyAccount) CreateCustomField(context.Context, model.CustomField) (string, error) {
	return "", eris.New("read-only account")
}
func (emptyAccount) ListPipelines(context.Context) ([]model.Pipeline, error) { return nil, nil }
func (emptyAccount) CreateStage(context.Context, string, model.Stage) (string, error) {
	return "", eris.New("read-only account")
}
func (emptyAccount) SearchContacts(context.Context, string, int) ([]model.Contact, error) {
	return nil, nil
}
func (emptyAccount) CreateContact(context.Context, model.Contact) (string, error) {
	return "", eris.New("read-only account")
}
func (emptyAccount) ContactsPager(pageSize int) *ghl.Pager[model.Contact] {
	return ghl.StaticPager[model.Contact](nil, pageSize)
}
func (emptyAccount) OpportunitiesPager(_ string, pageSize int) *ghl.Pager[model.Opportunity] {
	return ghl.StaticPager[model.Opportunity](nil, pageSize)
}
func (emptyAccount) CreateOpportunity(context.Context, string, ghl.OpportunityRequest) (string, error) {
	return "", eris.New("read-only account")
}

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return newRouter(context.Background(), migrate.NewManager(), func() (*migrate.Orchestrator, error) {
		return migrate.New(emptyAccount{}, emptyAccount{}, statestore.NewMemory(), migrate.Options{}), nil
	})
}

func TestRouter_Health(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_SubmitJob_DefaultsToCombined(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "combined", resp["phase"])
}

func TestRouter_SubmitJob_InvalidBody(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("not json")))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_SubmitJob_UnknownPhase(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte(`{"phase":"archive"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "archive")
}

func TestRouter_SubmitJob_SetupFailure(t *testing.T) {
	r := newRouter(context.Background(), migrate.NewManager(), func() (*migrate.Orchestrator, error) {
		return nil, eris.New("no synonyms file")
	})

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte(`{"phase":"fields"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestRouter_JobLifecycle(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte(`{"phase":"fields"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	id := resp["job_id"]
	require.NotEmpty(t, id)

	var snap model.JobSnapshot
	require.Eventually(t, func() bool {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		if rr.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
			return false
		}
		return snap.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, model.JobStatusCompleted, snap.Status)
	assert.Equal(t, model.PhaseFields, snap.Phase)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/"+id+"/report", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var report model.MigrationReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Len(t, report.Phases, 1)
	assert.Equal(t, model.PhaseFields, report.Phases[0].Phase)
	assert.Equal(t, 0, report.Phases[0].Failed)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []model.JobSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestRouter_UnknownJob(t *testing.T) {
	r := testRouter(t)

	for _, path := range []string{"/jobs/nope", "/jobs/nope/report"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
