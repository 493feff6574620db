package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mapboard/internal/resilience"
)

// Filter is a single column predicate in PostgREST syntax.
type Filter struct {
	Column string
	Op     string
	Value  string
}

// Eq matches rows whose column equals v.
func Eq(column string, v any) Filter {
	return Filter{Column: column, Op: "eq", Value: fmt.Sprint(v)}
}

// Query selects rows.
type Query struct {
	Filters []Filter
	// Order is "column" or "column.desc".
	Order string
	Limit int
}

// Rows is the generic row API.
type Rows interface {
	Select(ctx context.Context, table string, q Query, out any) error
	Insert(ctx context.Context, table string, rows any, out any) error
	Update(ctx context.Context, table string, patch any, filters ...Filter) error
	Delete(ctx context.Context, table string, filters ...Filter) error
}

// RESTClient implements Rows against a PostgREST endpoint.
type RESTClient struct {
	t    *transport
	root string
}

var _ Rows = (*RESTClient)(nil)

// NewRESTClient returns a row API client for baseURL+path.
func NewRESTClient(baseURL, path, anonKey string, opts ...Option) *RESTClient {
	t := newTransport(baseURL, anonKey, opts...)
	return &RESTClient{t: t, root: t.baseURL + path}
}

func (c *RESTClient) tableURL(table string, params url.Values) string {
	u := c.root + "/" + url.PathEscape(table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func filterParams(filters []Filter) url.Values {
	v := url.Values{}
	for _, f := range filters {
		v.Add(f.Column, f.Op+"."+f.Value)
	}
	return v
}

// Select decodes matching rows into out, which must point to a slice.
// Reads are retried on transient failures.
func (c *RESTClient) Select(ctx context.Context, table string, q Query, out any) error {
	params := filterParams(q.Filters)
	params.Set("select", "*")
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	p := c.t.reads
	if p.OnRetry == nil {
		p.OnRetry = resilience.LogRetries("backend", "select "+table)
	}
	data, err := resilience.DoVal(ctx, p, func(ctx context.Context) ([]byte, error) {
		return c.t.do(ctx, call{method: http.MethodGet, url: c.tableURL(table, params)})
	})
	if err != nil {
		return eris.Wrapf(err, "backend: select %s", table)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrapf(err, "backend: decode %s rows", table)
	}
	return nil
}

// Insert writes rows (a struct, map or slice of either). When out is not
// nil the inserted rows are decoded into it. Writes are never retried.
func (c *RESTClient) Insert(ctx context.Context, table string, rows any, out any) error {
	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	data, err := c.t.do(ctx, call{
		method: http.MethodPost,
		url:    c.tableURL(table, nil),
		body:   rows,
		header: map[string]string{"Prefer": prefer},
	})
	if err != nil {
		return eris.Wrapf(err, "backend: insert %s", table)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrapf(err, "backend: decode inserted %s", table)
		}
	}
	return nil
}

// Update patches matching rows.
func (c *RESTClient) Update(ctx context.Context, table string, patch any, filters ...Filter) error {
	if len(filters) == 0 {
		return eris.Errorf("backend: update %s without a filter", table)
	}
	_, err := c.t.do(ctx, call{
		method: http.MethodPatch,
		url:    c.tableURL(table, filterParams(filters)),
		body:   patch,
		header: map[string]string{"Prefer": "return=minimal"},
	})
	if err != nil {
		return eris.Wrapf(err, "backend: update %s", table)
	}
	return nil
}

// Delete removes matching rows.
func (c *RESTClient) Delete(ctx context.Context, table string, filters ...Filter) error {
	if len(filters) == 0 {
		return eris.Errorf("backend: delete from %s without a filter", table)
	}
	_, err := c.t.do(ctx, call{
		method: http.MethodDelete,
		url:    c.tableURL(table, filterParams(filters)),
		header: map[string]string{"Prefer": "return=minimal"},
	})
	if err != nil {
		return eris.Wrapf(err, "backend: delete from %s", table)
	}
	return nil
}
