package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"xevivu-client/internal/errs"
	"xevivu-client/internal/logger"
)

// Tables is the client for the backend's queryable collections. Row-level
// security on the backend enforces authorization; this client only shapes
// queries and carries the caller's token.
type Tables struct {
	client *Client
	tokens TokenSource
}

func NewTables(client *Client, tokens TokenSource) *Tables {
	return &Tables{client: client, tokens: tokens}
}

// SelectQuery describes one scoped read. Eq filters are ANDed; Or is a raw
// disjunction in the backend's filter syntax, e.g.
// "status.eq.approved,owner_id.eq.<id>".
type SelectQuery struct {
	Table      string
	Eq         [][2]string
	Or         string
	OrderBy    string
	Descending bool
}

func (q SelectQuery) values() url.Values {
	v := url.Values{}
	v.Set("select", "*")
	for _, f := range q.Eq {
		v.Set(f[0], "eq."+f[1])
	}
	if q.Or != "" {
		v.Set("or", "("+q.Or+")")
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		v.Set("order", q.OrderBy+"."+dir)
	}
	return v
}

func (t *Tables) token() string {
	tok, _ := t.tokens.AccessToken()
	return tok
}

// Select runs a scoped read and returns the raw rows. Numbers are decoded
// as json.Number so the domain mapping can coerce them leniently.
func (t *Tables) Select(ctx context.Context, q SelectQuery) ([]map[string]any, error) {
	logger.BackendCall("tables", "select", "table", q.Table)
	resp, err := t.client.do(ctx, http.MethodGet, "/rest/v1/"+q.Table, q.values(), t.token(), nil, nil)
	if err != nil {
		logger.BackendResult("tables", "select", err, "table", q.Table)
		return nil, &errs.QueryError{Table: q.Table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
		logger.BackendResult("tables", "select", err, "table", q.Table)
		return nil, &errs.QueryError{Table: q.Table, Err: err}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		logger.BackendResult("tables", "select", err, "table", q.Table)
		return nil, &errs.QueryError{Table: q.Table, Err: fmt.Errorf("failed to decode rows: %w", err)}
	}
	logger.BackendResult("tables", "select", nil, "table", q.Table, "rows", len(rows))
	return rows, nil
}

// Insert writes one new row.
func (t *Tables) Insert(ctx context.Context, table string, row any) error {
	return t.mutate(ctx, table, "insert", http.MethodPost, nil, row, map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=minimal",
	})
}

// Upsert writes a row, merging with an existing one on conflict. Used for
// the profile record keyed by identity id.
func (t *Tables) Upsert(ctx context.Context, table string, row any) error {
	return t.mutate(ctx, table, "upsert", http.MethodPost, nil, row, map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=minimal,resolution=merge-duplicates",
	})
}

// Update patches the rows matching column=value.
func (t *Tables) Update(ctx context.Context, table string, patch map[string]any, column, value string) error {
	q := url.Values{column: []string{"eq." + value}}
	return t.mutate(ctx, table, "update", http.MethodPatch, q, patch, map[string]string{
		"Content-Type": "application/json",
		"Prefer":       "return=minimal",
	})
}

// Delete removes the rows matching column=value.
func (t *Tables) Delete(ctx context.Context, table, column, value string) error {
	q := url.Values{column: []string{"eq." + value}}
	return t.mutate(ctx, table, "delete", http.MethodDelete, q, nil, nil)
}

func (t *Tables) mutate(ctx context.Context, table, op, method string, q url.Values, body any, headers map[string]string) error {
	logger.BackendCall("tables", op, "table", table)
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &errs.MutationError{Table: table, Op: op, Err: fmt.Errorf("failed to encode payload: %w", err)}
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := t.client.do(ctx, method, "/rest/v1/"+table, q, t.token(), reader, headers)
	if err != nil {
		logger.BackendResult("tables", op, err, "table", table)
		return &errs.MutationError{Table: table, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet(resp.Body))
		logger.BackendResult("tables", op, err, "table", table)
		return &errs.MutationError{Table: table, Op: op, Err: err}
	}
	logger.BackendResult("tables", op, nil, "table", table)
	return nil
}
