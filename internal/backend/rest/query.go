package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Direction controls result ordering.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Query accumulates filters for a single table before execution. Filter
// expressions follow the gateway's column=op.value convention.
type Query struct {
	client *Client
	table  string
	params map[string][]string
}

// Select names the columns (including embedded relations) to return.
func (q *Query) Select(columns string) *Query {
	q.set("select", columns)
	return q
}

// Eq adds an equality filter on the named column.
func (q *Query) Eq(column string, value any) *Query {
	q.add(column, fmt.Sprintf("eq.%v", value))
	return q
}

// In adds a membership filter on the named column.
func (q *Query) In(column string, values []string) *Query {
	q.add(column, "in.("+strings.Join(values, ",")+")")
	return q
}

// Order sorts results by the named column.
func (q *Query) Order(column string, dir Direction) *Query {
	suffix := ".asc"
	if dir == Descending {
		suffix = ".desc"
	}
	q.add("order", column+suffix)
	return q
}

// Limit caps the number of returned rows.
func (q *Query) Limit(n int) *Query {
	q.set("limit", strconv.Itoa(n))
	return q
}

// Get executes the query and decodes the row array into dest.
func (q *Query) Get(ctx context.Context, accessToken string, dest any) error {
	return q.client.do(ctx, http.MethodGet, q.table, q.params, accessToken, nil, nil, dest)
}

// Update patches every row matching the accumulated filters.
func (q *Query) Update(ctx context.Context, accessToken string, values any) error {
	encoded, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("rest: encode update: %w", err)
	}
	headers := http.Header{}
	headers.Set("Prefer", "return=minimal")
	return q.client.do(ctx, http.MethodPatch, q.table, q.params, accessToken, bytes.NewReader(encoded), headers, nil)
}

// Delete removes every row matching the accumulated filters.
func (q *Query) Delete(ctx context.Context, accessToken string) error {
	return q.client.do(ctx, http.MethodDelete, q.table, q.params, accessToken, nil, nil, nil)
}

func (q *Query) set(key, value string) {
	q.params[key] = []string{value}
}

func (q *Query) add(key, value string) {
	q.params[key] = append(q.params[key], value)
}
