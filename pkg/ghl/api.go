package ghl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/model"
)

func (c *httpClient) ListCustomFields(ctx context.Context) ([]model.CustomField, error) {
	var fields []model.CustomField

	raw, err := c.request(ctx, http.MethodGet, "/custom-fields", nil, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: list custom fields")
	}
	var env struct {
		CustomFields []model.CustomField `json:"customFields"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "ghl: decode custom fields")
	}
	fields = append(fields, env.CustomFields...)

	// Opportunity-scoped fields live on a separate endpoint. Not every
	// account plan has it; a 404 just means there are none.
	raw, err = c.request(ctx, http.MethodGet, "/custom-fields/opportunity", nil, nil)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) && ve.StatusCode == http.StatusNotFound {
			return fields, nil
		}
		return nil, eris.Wrap(err, "ghl: list opportunity custom fields")
	}
	var oppEnv struct {
		CustomFields []model.CustomField `json:"customFields"`
	}
	if err := json.Unmarshal(raw, &oppEnv); err != nil {
		return nil, eris.Wrap(err, "ghl: decode opportunity custom fields")
	}
	for i := range oppEnv.CustomFields {
		oppEnv.CustomFields[i].ForOpportunity = true
	}
	return append(fields, oppEnv.CustomFields...), nil
}

func (c *httpClient) CreateCustomField(ctx context.Context, field model.CustomField) (string, error) {
	body := map[string]any{
		"name": field.Name,
		"type": string(field.DataType),
	}
	if len(field.Options) > 0 {
		body["options"] = field.Options
	}

	path := "/custom-fields"
	if field.ForOpportunity {
		path = "/custom-fields/opportunity"
	}

	raw, err := c.request(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return "", eris.Wrapf(err, "ghl: create custom field %q", field.Name)
	}
	var env struct {
		CustomField model.CustomField `json:"customField"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", eris.Wrapf(err, "ghl: decode created field %q", field.Name)
	}
	if env.CustomField.ID == "" {
		return "", eris.Errorf("ghl: create custom field %q: no id in response", field.Name)
	}
	return env.CustomField.ID, nil
}

func (c *httpClient) ListPipelines(ctx context.Context) ([]model.Pipeline, error) {
	raw, err := c.request(ctx, http.MethodGet, "/pipelines", nil, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: list pipelines")
	}
	var env struct {
		Pipelines []model.Pipeline `json:"pipelines"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "ghl: decode pipelines")
	}
	return env.Pipelines, nil
}

func (c *httpClient) CreateStage(ctx context.Context, pipelineID string, stage model.Stage) (string, error) {
	body := map[string]any{
		"name":     stage.Name,
		"position": stage.Position,
	}
	raw, err := c.request(ctx, http.MethodPost, "/pipelines/"+pipelineID+"/stages", body, nil)
	if err != nil {
		return "", eris.Wrapf(err, "ghl: create stage %q", stage.Name)
	}
	var env struct {
		Stage model.Stage `json:"stage"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", eris.Wrapf(err, "ghl: decode created stage %q", stage.Name)
	}
	if env.Stage.ID == "" {
		return "", eris.Errorf("ghl: create stage %q: no id in response", stage.Name)
	}
	return env.Stage.ID, nil
}

func (c *httpClient) SearchContacts(ctx context.Context, query string, limit int) ([]model.Contact, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{
		"query": {query},
		"limit": {strconv.Itoa(limit)},
	}
	raw, err := c.request(ctx, http.MethodGet, "/contacts/", nil, params)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: search contacts")
	}
	var env struct {
		Contacts []model.Contact `json:"contacts"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "ghl: decode contact search")
	}
	return env.Contacts, nil
}

func (c *httpClient) CreateContact(ctx context.Context, contact model.Contact) (string, error) {
	raw, err := c.request(ctx, http.MethodPost, "/contacts", contact, nil)
	if err != nil {
		return "", eris.Wrap(err, "ghl: create contact")
	}
	var env struct {
		Contact model.Contact `json:"contact"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", eris.Wrap(err, "ghl: decode created contact")
	}
	if env.Contact.ID == "" {
		return "", eris.New("ghl: create contact: no id in response")
	}
	return env.Contact.ID, nil
}

func (c *httpClient) CreateOpportunity(ctx context.Context, pipelineID string, req OpportunityRequest) (string, error) {
	raw, err := c.request(ctx, http.MethodPost, "/pipelines/"+pipelineID+"/opportunities/", req, nil)
	if err != nil {
		return "", eris.Wrapf(err, "ghl: create opportunity %q", req.Title)
	}
	var env struct {
		Opportunity model.Opportunity `json:"opportunity"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", eris.Wrapf(err, "ghl: decode created opportunity %q", req.Title)
	}
	if env.Opportunity.ID != "" {
		return env.Opportunity.ID, nil
	}
	// Some endpoints return the object directly rather than in an envelope.
	var direct model.Opportunity
	if err := json.Unmarshal(raw, &direct); err == nil && direct.ID != "" {
		return direct.ID, nil
	}
	return "", eris.Errorf("ghl: create opportunity %q: no id in response", req.Title)
}
