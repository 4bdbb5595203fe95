// ///////////////////////////////////////////////////////////////////////////
//
// # CrateFlow - CrateDB query and ingest nodes
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package crate

import (
	"context"
	"encoding/json"

	"github.com/pgedge/crateflow/pkg/bulk"
)

// FailedRowCount is the rowcount CrateDB reports for a bulk row that failed.
const FailedRowCount = -2

// Request is the body accepted by the _sql endpoint. Args and BulkArgs are
// mutually exclusive.
type Request struct {
	Stmt     string  `json:"stmt"`
	Args     []any   `json:"args,omitempty"`
	BulkArgs [][]any `json:"bulk_args,omitempty"`
}

// IsBulk reports whether the request carries bulk arguments. An empty,
// non-nil BulkArgs is still a bulk request.
func (r *Request) IsBulk() bool {
	return r.BulkArgs != nil
}

// MarshalJSON sends bulk_args whenever the request is bulk, even with no rows.
func (r Request) MarshalJSON() ([]byte, error) {
	body := struct {
		Stmt     string   `json:"stmt"`
		Args     []any    `json:"args,omitempty"`
		BulkArgs *[][]any `json:"bulk_args,omitempty"`
	}{Stmt: r.Stmt, Args: r.Args}
	if r.BulkArgs != nil {
		body.BulkArgs = &r.BulkArgs
	}
	return json.Marshal(body)
}

// BulkRequest wraps a built bulk insert.
func BulkRequest(b *bulk.Request) *Request {
	return &Request{Stmt: b.Stmt, BulkArgs: b.BulkArgs}
}

type BulkResult struct {
	RowCount     int64  `json:"rowcount"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (r BulkResult) Failed() bool {
	return r.RowCount == FailedRowCount
}

// Response is the decoded _sql response. Rows is set for single statements,
// Results for bulk statements.
type Response struct {
	Cols     []string     `json:"cols"`
	Rows     [][]any      `json:"rows,omitempty"`
	RowCount *int64       `json:"rowcount,omitempty"`
	Duration float64      `json:"duration"`
	Results  []BulkResult `json:"results,omitempty"`

	// Objects is filled by ParseObjects.
	Objects []any `json:"objects"`
}

// MarshalJSON keeps an empty rows list ("rows": []) for single statements
// that matched nothing, and leaves rows out of bulk responses.
func (r Response) MarshalJSON() ([]byte, error) {
	type response Response
	body := struct {
		response
		Rows *[][]any `json:"rows,omitempty"`
	}{response: response(r)}
	if r.Rows != nil {
		body.Rows = &r.Rows
	}
	return json.Marshal(body)
}

// ParseObjects derives Objects: for single statements every row zipped with
// Cols into a record, for bulk statements the rowcount of every result.
func (r *Response) ParseObjects() {
	switch {
	case r.Rows != nil:
		r.Objects = make([]any, 0, len(r.Rows))
		for _, row := range r.Rows {
			r.Objects = append(r.Objects, ZipRow(r.Cols, row))
		}
	case r.Results != nil:
		r.Objects = make([]any, 0, len(r.Results))
		for _, res := range r.Results {
			r.Objects = append(r.Objects, res.RowCount)
		}
	default:
		r.Objects = []any{}
	}
}

// ZipRow pairs each column name with the value at the same position. Columns
// without a value map to null; surplus values are dropped.
func ZipRow(cols []string, row []any) *bulk.Record {
	rec := bulk.NewRecord()
	for i, col := range cols {
		var v any
		if i < len(row) {
			v = row[i]
		}
		rec.Set(col, v)
	}
	return rec
}

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/pgedge/crateflow/pkg/crate Executor

// Executor runs statements against a cluster.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
	Close() error
}
