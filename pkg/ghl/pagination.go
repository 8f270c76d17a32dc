package ghl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/model"
)

// Cursor is the upstream continuation token pair. The API resumes listing
// after the record identified by LastID/LastTimestamp.
type Cursor struct {
	LastID        string
	LastTimestamp string
}

func (c Cursor) zero() bool {
	return c.LastID == "" && c.LastTimestamp == ""
}

func (c Cursor) apply(params url.Values) {
	if c.LastID != "" {
		params.Set("startAfterId", c.LastID)
	}
	if c.LastTimestamp != "" {
		params.Set("startAfter", c.LastTimestamp)
	}
}

// page is one fetched batch plus the cursor for the next request.
type page[T any] struct {
	items []T
	next  Cursor
}

// Pager lazily iterates a paginated collection. Iteration halts when a batch
// comes back smaller than the page size, or when the returned cursor matches
// the previous one — the upstream pagination has been observed to repeat
// cursors, and without this guard the loop never terminates.
type Pager[T any] struct {
	fetch    func(ctx context.Context, cur Cursor, limit int) (page[T], error)
	pageSize int
	cur      Cursor
	done     bool
}

// StaticPager returns a Pager over a fixed slice. Useful for dry runs and
// fakes that bypass the API.
func StaticPager[T any](items []T, pageSize int) *Pager[T] {
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := 0
	return &Pager[T]{
		pageSize: pageSize,
		fetch: func(context.Context, Cursor, int) (page[T], error) {
			end := offset + pageSize
			if end > len(items) {
				end = len(items)
			}
			batch := items[offset:end]
			offset = end
			var next Cursor
			if end < len(items) {
				next = Cursor{LastID: strconv.Itoa(end)}
			}
			return page[T]{items: batch, next: next}, nil
		},
	}
}

// Next returns the next batch. ok is false once iteration is complete; the
// final non-empty batch is returned with ok true.
func (p *Pager[T]) Next(ctx context.Context) (items []T, ok bool, err error) {
	if p.done {
		return nil, false, nil
	}

	pg, err := p.fetch(ctx, p.cur, p.pageSize)
	if err != nil {
		p.done = true
		return nil, false, err
	}
	if len(pg.items) == 0 {
		p.done = true
		return nil, false, nil
	}

	// Short page means the collection is exhausted. A repeated or missing
	// cursor means the server cannot advance; stop rather than loop.
	if len(pg.items) < p.pageSize || pg.next.zero() || pg.next == p.cur {
		p.done = true
	}
	p.cur = pg.next
	return pg.items, true, nil
}

// All drains the pager and returns every remaining item.
func (p *Pager[T]) All(ctx context.Context) ([]T, error) {
	var out []T
	for {
		batch, ok, err := p.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, batch...)
	}
}

// ContactsPager iterates all contacts in the account.
func (c *httpClient) ContactsPager(pageSize int) *Pager[model.Contact] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Pager[model.Contact]{
		pageSize: pageSize,
		fetch: func(ctx context.Context, cur Cursor, limit int) (page[model.Contact], error) {
			params := url.Values{"limit": {strconv.Itoa(limit)}}
			cur.apply(params)

			raw, err := c.request(ctx, http.MethodGet, "/contacts/", nil, params)
			if err != nil {
				return page[model.Contact]{}, eris.Wrap(err, "ghl: page contacts")
			}

			var env struct {
				Contacts []model.Contact `json:"contacts"`
				Meta     struct {
					StartAfterID string      `json:"startAfterId"`
					StartAfter   json.Number `json:"startAfter"`
				} `json:"meta"`
			}
			if err := json.Unmarshal(raw, &env); err != nil {
				return page[model.Contact]{}, eris.Wrap(err, "ghl: decode contacts page")
			}
			return page[model.Contact]{
				items: env.Contacts,
				next: Cursor{
					LastID:        env.Meta.StartAfterID,
					LastTimestamp: env.Meta.StartAfter.String(),
				},
			}, nil
		},
	}
}

// OpportunitiesPager iterates all opportunities in a pipeline. This endpoint
// has no meta block; the cursor is derived from the last record of the batch.
func (c *httpClient) OpportunitiesPager(pipelineID string, pageSize int) *Pager[model.Opportunity] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Pager[model.Opportunity]{
		pageSize: pageSize,
		fetch: func(ctx context.Context, cur Cursor, limit int) (page[model.Opportunity], error) {
			params := url.Values{"limit": {strconv.Itoa(limit)}}
			cur.apply(params)

			raw, err := c.request(ctx, http.MethodGet, "/pipelines/"+pipelineID+"/opportunities", nil, params)
			if err != nil {
				return page[model.Opportunity]{}, eris.Wrapf(err, "ghl: page opportunities %s", pipelineID)
			}

			var env struct {
				Opportunities []model.Opportunity `json:"opportunities"`
			}
			if err := json.Unmarshal(raw, &env); err != nil {
				return page[model.Opportunity]{}, eris.Wrap(err, "ghl: decode opportunities page")
			}

			var next Cursor
			if n := len(env.Opportunities); n > 0 {
				last := env.Opportunities[n-1]
				next = Cursor{LastID: last.ID, LastTimestamp: last.DateAdded}
			}
			return page[model.Opportunity]{items: env.Opportunities, next: next}, nil
		},
	}
}
