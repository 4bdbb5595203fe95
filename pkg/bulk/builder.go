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

// Package bulk builds parameterized multi-row INSERT requests from batches of
// loosely shaped records.
package bulk

import (
	"fmt"
	"sort"
	"strings"
)

// PayloadColumn is the single column used when records are not mapped to
// columns.
const PayloadColumn = "payload"

// Request is a parameterized statement plus one positional argument row per
// input record. Every row has exactly one entry per column of the statement.
type Request struct {
	Stmt     string  `json:"stmt"`
	BulkArgs [][]any `json:"bulk_args"`
}

// Build produces the bulk insert request for items. With mapColumns set, each
// item's fields become columns; otherwise each item is stored whole in the
// payload column. The table name is used verbatim and must already be a
// trusted identifier.
func Build(table string, items []any, mapColumns bool) *Request {
	records := make([]*Record, len(items))
	for i, item := range items {
		if mapColumns {
			records[i] = asRecord(item)
		} else {
			records[i] = NewRecord(PayloadColumn, item)
		}
	}

	cols := columnSet(records)
	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING;",
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
	)

	return &Request{
		Stmt:     stmt,
		BulkArgs: bulkArgs(cols, records),
	}
}

// Columns returns the ordered union of keys across items, as Build would
// compute it with mapColumns set.
func Columns(items []any) []string {
	records := make([]*Record, len(items))
	for i, item := range items {
		records[i] = asRecord(item)
	}
	return columnSet(records)
}

// columnSet must see the whole batch before any row is built, otherwise
// columns first seen late would leave earlier rows short.
func columnSet(records []*Record) []string {
	seen := make(map[string]struct{})
	cols := []string{}
	for _, rec := range records {
		for _, k := range rec.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}

func bulkArgs(cols []string, records []*Record) [][]any {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, len(cols))
		for i, col := range cols {
			// absent stays nil
			if v, ok := rec.Get(col); ok {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// asRecord views item as a record. Values that are not mappings have no
// fields.
func asRecord(item any) *Record {
	switch v := item.(type) {
	case *Record:
		if v == nil {
			return &Record{}
		}
		return v
	case Record:
		return &v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rec := &Record{values: make(map[string]any, len(v))}
		for _, k := range keys {
			rec.Set(k, v[k])
		}
		return rec
	default:
		return &Record{}
	}
}
