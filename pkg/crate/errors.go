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
	"errors"
	"fmt"
)

// Error is an error reported by CrateDB itself, as opposed to a failure to
// reach it.
type Error struct {
	Message  string `json:"message"`
	Code     int    `json:"code"`
	SQLState string `json:"sqlstate,omitempty"`
	Trace    string `json:"trace,omitempty"`
	Status   int    `json:"status,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Code != 0:
		return fmt.Sprintf("crate error %d: %s", e.Code, e.Message)
	case e.SQLState != "":
		return fmt.Sprintf("crate error %s: %s", e.SQLState, e.Message)
	default:
		return "crate error: " + e.Message
	}
}

// AsServerError extracts a CrateDB error from err's chain.
func AsServerError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsServerError reports whether err was returned by CrateDB.
func IsServerError(err error) bool {
	_, ok := AsServerError(err)
	return ok
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
	ErrorTrace string `json:"error_trace"`
}
