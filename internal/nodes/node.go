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

// Package nodes implements the query and ingest nodes that messages are sent
// through.
package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/pgedge/crateflow/pkg/bulk"
	"github.com/pgedge/crateflow/pkg/types"
)

var (
	ErrUnknownNode    = errors.New("unknown node")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Node handles one message and produces the message to pass on.
type Node interface {
	Info() types.NodeInfo
	Handle(ctx context.Context, msg *types.Message) (*types.Message, error)
}

var (
	identPart  = `(?:[A-Za-z_][A-Za-z0-9_]*|"(?:[^"]|"")+")`
	tableIdent = regexp.MustCompile(`^` + identPart + `(?:\.` + identPart + `)?$`)
)

// ValidateTableName accepts "table" or "schema.table", each part either a
// plain identifier or a double-quoted one. The bulk builder places the name
// in the statement verbatim, so nothing else may get through.
func ValidateTableName(table string) error {
	if !tableIdent.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

// DecodePayload decodes a raw JSON payload so that objects keep their key
// order. An absent payload decodes to nil.
func DecodePayload(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		items, err := bulk.DecodeItems(trimmed)
		if err != nil {
			return nil, err
		}
		return items, nil
	}
	return bulk.DecodeItem(trimmed)
}

// DecodeMessage decodes a JSON message body.
func DecodeMessage(data []byte) (*types.Message, error) {
	var wire types.WireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	payload, err := DecodePayload(wire.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return &types.Message{Topic: wire.Topic, Payload: payload}, nil
}

func clone(msg *types.Message) *types.Message {
	if msg == nil {
		return &types.Message{}
	}
	out := *msg
	return &out
}
