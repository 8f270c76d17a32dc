// Package model defines the CRM entities moved by the migration engine and
// the job/report types surfaced to callers.
package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EntityKind identifies the class of a migrated entity. Mapping records are
// keyed by kind so IDs from different namespaces never collide.
type EntityKind string

const (
	KindCustomField EntityKind = "custom_field"
	KindPipeline    EntityKind = "pipeline"
	KindStage       EntityKind = "stage"
	KindContact     EntityKind = "contact"
	KindOpportunity EntityKind = "opportunity"
)

// FieldType is the upstream data type of a custom field. The upstream API
// reports uppercase type names; comparisons go through NormalizeFieldType.
type FieldType string

const (
	FieldTypeText   FieldType = "TEXT"
	FieldTypeNumber FieldType = "NUMERICAL"
	FieldTypePhone  FieldType = "PHONE"
	FieldTypeEmail  FieldType = "EMAIL"
	FieldTypeSelect FieldType = "SINGLE_OPTIONS"
	FieldTypeMulti  FieldType = "MULTIPLE_OPTIONS"
	FieldTypeDate   FieldType = "DATE"
	FieldTypeURL    FieldType = "URL"
	FieldTypeRadio  FieldType = "RADIO"
)

// NormalizeFieldType upper-cases and trims a raw type string so fields from
// accounts configured at different times compare equal.
func NormalizeFieldType(raw string) FieldType {
	t := FieldType(strings.ToUpper(strings.TrimSpace(raw)))
	if t == "" {
		return FieldTypeText
	}
	return t
}

// CustomField is a field definition in one account.
type CustomField struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DataType       FieldType `json:"dataType"`
	Options        []string  `json:"options,omitempty"`
	ForOpportunity bool      `json:"forOpportunity,omitempty"`
}

// Stage is an ordered step within a pipeline.
type Stage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Pipeline is a named, ordered collection of stages.
type Pipeline struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// FieldValue is one custom-field value attached to a contact or opportunity.
// FieldID references the owning account's field namespace; migrated records
// carry target-account IDs only.
type FieldValue struct {
	FieldID string `json:"id"`
	Value   any    `json:"value"`
}

// Contact is a person record. Email and Phone are optional and drive
// identity resolution in the target account.
type Contact struct {
	ID           string       `json:"id,omitempty"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	Email        string       `json:"email,omitempty"`
	Phone        string       `json:"phone,omitempty"`
	Address1     string       `json:"address1,omitempty"`
	City         string       `json:"city,omitempty"`
	State        string       `json:"state,omitempty"`
	PostalCode   string       `json:"postalCode,omitempty"`
	Country      string       `json:"country,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CustomFields []FieldValue `json:"customFields,omitempty"`
	DateAdded    string       `json:"dateAdded,omitempty"`
	DateUpdated  string       `json:"dateUpdated,omitempty"`
	LocationID   string       `json:"locationId,omitempty"`
}

// Money is a monetary amount. The upstream API is not consistent about the
// JSON type of money fields, so decoding is tolerant: numbers, numeric
// strings, and null all parse, and anything else decodes as zero rather than
// failing the whole record.
type Money float64

func (m *Money) UnmarshalJSON(b []byte) error {
	*m = 0
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			*m = Money(v)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	*m = Money(f)
	return nil
}

// Opportunity is a deal attached to a contact within a pipeline stage.
type Opportunity struct {
	ID            string       `json:"id,omitempty"`
	Title         string       `json:"title"`
	Status        string       `json:"status"`
	MonetaryValue Money        `json:"monetaryValue"`
	ContactID     string       `json:"contactId"`
	PipelineID    string       `json:"pipelineId"`
	StageID       string       `json:"stageId"`
	AssignedTo    string       `json:"assignedTo,omitempty"`
	CompanyName   string       `json:"companyName,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	CustomFields  []FieldValue `json:"customFields,omitempty"`
	DateAdded     string       `json:"dateAdded,omitempty"`
}

// MappingRecord associates a child-account entity with its master-account
// equivalent. Records are immutable: the first successful mapping for a
// (Kind, SourceID) pair wins and later migrations reuse it.
type MappingRecord struct {
	Kind     EntityKind `json:"kind"`
	SourceID string     `json:"source_id"`
	TargetID string     `json:"target_id"`
}
