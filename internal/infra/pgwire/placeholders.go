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

package pgwire

import (
	"strconv"
	"strings"
)

// RewritePlaceholders converts the HTTP endpoint's positional "?" markers to
// the "$n" form the PostgreSQL protocol expects. Markers inside string
// literals, quoted identifiers and comments are left alone, as is a trailing
// statement terminator.
func RewritePlaceholders(stmt string) string {
	var b strings.Builder
	b.Grow(len(stmt) + 8)

	n := 0
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case c == '\'' || c == '"':
			end := skipQuoted(stmt, i, c)
			b.WriteString(stmt[i:end])
			i = end - 1
		case c == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			end := strings.IndexByte(stmt[i:], '\n')
			if end < 0 {
				end = len(stmt)
			} else {
				end += i + 1
			}
			b.WriteString(stmt[i:end])
			i = end - 1
		case c == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			end := strings.Index(stmt[i+2:], "*/")
			if end < 0 {
				end = len(stmt)
			} else {
				end += i + 4
			}
			b.WriteString(stmt[i:end])
			i = end - 1
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}

	return strings.TrimRight(strings.TrimSpace(b.String()), ";")
}

// skipQuoted returns the index just past the quoted section starting at
// start. A doubled quote character is an escaped quote.
func skipQuoted(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}
