// Package resolve decides whether a child contact already exists in the
// master account, and creates it when it does not.
package resolve

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crm-migrate/internal/model"
	"github.com/sells-group/crm-migrate/pkg/ghl"
)

// Resolver finds or creates master-account contacts. Search results from the
// upstream API are fuzzy; only a strict local identity check counts as a hit.
type Resolver struct {
	master   ghl.Client
	fieldMap map[string]string
	auditTag string
	log      *zap.Logger
}

// New builds a Resolver. fieldMap translates child custom-field IDs to
// master ones; values for unmapped fields are dropped on create.
func New(master ghl.Client, fieldMap map[string]string, auditTag string) *Resolver {
	return &Resolver{
		master:   master,
		fieldMap: fieldMap,
		auditTag: auditTag,
		log:      zap.L().Named("resolve"),
	}
}

// Resolve returns the master-account ID for a child contact, creating the
// contact when no existing one matches by email or phone. The created flag
// reports which path was taken.
func (r *Resolver) Resolve(ctx context.Context, contact model.Contact) (id string, created bool, err error) {
	if contact.Email != "" {
		id, err := r.findByEmail(ctx, contact.Email)
		if err != nil {
			return "", false, err
		}
		if id != "" {
			return id, false, nil
		}
	}
	if contact.Phone != "" {
		id, err := r.findByPhone(ctx, contact.Phone)
		if err != nil {
			return "", false, err
		}
		if id != "" {
			return id, false, nil
		}
	}

	id, err = r.master.CreateContact(ctx, r.Sanitize(contact))
	if err != nil {
		return "", false, eris.Wrapf(err, "resolve: create contact %s", contact.ID)
	}
	r.log.Debug("contact created",
		zap.String("source_id", contact.ID),
		zap.String("target_id", id))
	return id, true, nil
}

func (r *Resolver) findByEmail(ctx context.Context, email string) (string, error) {
	candidates, err := r.master.SearchContacts(ctx, email, 20)
	if err != nil {
		return "", eris.Wrap(err, "resolve: search by email")
	}
	want := normalizeEmail(email)
	for _, c := range candidates {
		if c.ID != "" && normalizeEmail(c.Email) == want {
			return c.ID, nil
		}
	}
	return "", nil
}

func (r *Resolver) findByPhone(ctx context.Context, phone string) (string, error) {
	candidates, err := r.master.SearchContacts(ctx, phone, 20)
	if err != nil {
		return "", eris.Wrap(err, "resolve: search by phone")
	}
	want := normalizePhone(phone)
	if want == "" {
		return "", nil
	}
	for _, c := range candidates {
		if c.ID != "" && normalizePhone(c.Phone) == want {
			return c.ID, nil
		}
	}
	return "", nil
}

// Sanitize prepares a child contact for creation in the master account:
// server-assigned fields are cleared, custom-field values are rekeyed onto
// master field IDs, and the audit tag is added exactly once.
func (r *Resolver) Sanitize(contact model.Contact) model.Contact {
	out := contact
	out.ID = ""
	out.DateAdded = ""
	out.DateUpdated = ""
	out.LocationID = ""
	out.LastName = cleanLastName(contact.LastName)

	out.CustomFields = nil
	for _, fv := range contact.CustomFields {
		targetID, ok := r.fieldMap[fv.FieldID]
		if !ok {
			r.log.Debug("dropping unmapped custom field",
				zap.String("field_id", fv.FieldID),
				zap.String("contact", contact.ID))
			continue
		}
		out.CustomFields = append(out.CustomFields, model.FieldValue{FieldID: targetID, Value: fv.Value})
	}

	out.Tags = appendTagOnce(contact.Tags, r.auditTag)
	return out
}

// cleanLastName drops CRM UI suffixes like "Smith - Acme Corp".
func cleanLastName(name string) string {
	if i := strings.Index(name, " - "); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	return name
}

func appendTagOnce(tags []string, tag string) []string {
	if tag == "" {
		return tags
	}
	out := make([]string, 0, len(tags)+1)
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			continue
		}
		out = append(out, t)
	}
	return append(out, tag)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePhone compares numbers by digits only; when both sides have a
// full national number the last ten digits decide, so +1 prefixes and
// formatting never cause a miss.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}
