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

package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgedge/crateflow/pkg/bulk"
)

const (
	CheckMark = "✔"
	CrossMark = "✘"
)

// ConvertToPgxArg converts a value decoded from a JSON payload into something
// pgx can encode. JSON numbers become int64 when integral, float64 when they
// fit, and pgtype.Numeric otherwise; records and maps are converted
// recursively.
func ConvertToPgxArg(val any) (any, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil

	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		// Integers beyond int64 keep full precision as numeric.
		num := pgtype.Numeric{}
		if err := num.Scan(s); err != nil {
			return nil, fmt.Errorf("convert number %s: %w", s, err)
		}
		return num, nil

	case *bulk.Record:
		return ConvertToPgxArg(v.Map())

	case bulk.Record:
		return ConvertToPgxArg(v.Map())

	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			conv, err := ConvertToPgxArg(inner)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			conv, err := ConvertToPgxArg(inner)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = conv
		}
		return out, nil

	default:
		return val, nil
	}
}

// ConvertToPgxArgs converts every value of an argument row.
func ConvertToPgxArgs(row []any) ([]any, error) {
	out := make([]any, len(row))
	for i, v := range row {
		conv, err := ConvertToPgxArg(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = conv
	}
	return out, nil
}

func SafeCut(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// ChunkItems splits items into consecutive batches of at most size elements.
// A size of zero or less yields a single batch.
func ChunkItems(items []any, size int) [][]any {
	if size <= 0 || len(items) <= size {
		return [][]any{items}
	}
	chunks := make([][]any, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
