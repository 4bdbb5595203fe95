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

package nodes

import (
	"context"
	"fmt"

	"github.com/pgedge/crateflow/pkg/bulk"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/crate"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/types"
)

// QueryNode runs a statement for every message. The configured query is the
// default; a payload object may override it with "stmt" and supply "args" or
// "bulk_args".
type QueryNode struct {
	name    string
	cluster string
	query   string
	exec    crate.Executor
}

func NewQueryNode(def config.NodeDef, cluster string, exec crate.Executor) *QueryNode {
	return &QueryNode{
		name:    def.Name,
		cluster: cluster,
		query:   def.Query,
		exec:    exec,
	}
}

func (n *QueryNode) Info() types.NodeInfo {
	return types.NodeInfo{Name: n.name, Type: config.NodeTypeQuery, Cluster: n.cluster}
}

func (n *QueryNode) Handle(ctx context.Context, msg *types.Message) (*types.Message, error) {
	out := clone(msg)

	req, err := n.buildRequest(out.Payload)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w: %w", n.name, ErrInvalidPayload, err)
	}

	resp, err := n.exec.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.name, err)
	}
	resp.ParseObjects()
	logger.Debug("node %s: statement returned %d objects", n.name, len(resp.Objects))

	out.Payload = resp
	return out, nil
}

func (n *QueryNode) buildRequest(payload any) (*crate.Request, error) {
	req := &crate.Request{Stmt: n.query}

	fields := payloadFields(payload)
	if fields == nil {
		if req.Stmt == "" {
			return nil, fmt.Errorf("no statement configured and none in payload")
		}
		return req, nil
	}

	if v, ok := fields("stmt"); ok {
		stmt, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("payload stmt must be a string, got %T", v)
		}
		req.Stmt = stmt
	}
	if req.Stmt == "" {
		return nil, fmt.Errorf("no statement configured and none in payload")
	}

	if v, ok := fields("args"); ok && v != nil {
		args, isList := v.([]any)
		if !isList {
			return nil, fmt.Errorf("payload args must be a list, got %T", v)
		}
		req.Args = args
	}

	if v, ok := fields("bulk_args"); ok && v != nil {
		bulkArgs, err := toBulkArgs(v)
		if err != nil {
			return nil, err
		}
		req.BulkArgs = bulkArgs
	}

	if req.Args != nil && req.BulkArgs != nil {
		return nil, fmt.Errorf("payload cannot carry both args and bulk_args")
	}
	return req, nil
}

// payloadFields returns a lookup over the payload's fields, or nil when the
// payload is not an object.
func payloadFields(payload any) func(string) (any, bool) {
	switch p := payload.(type) {
	case *bulk.Record:
		if p == nil {
			return nil
		}
		return p.Get
	case map[string]any:
		return func(k string) (any, bool) {
			v, ok := p[k]
			return v, ok
		}
	default:
		return nil
	}
}

func toBulkArgs(v any) ([][]any, error) {
	switch rows := v.(type) {
	case [][]any:
		return rows, nil
	case []any:
		out := make([][]any, 0, len(rows))
		for i, r := range rows {
			row, ok := r.([]any)
			if !ok {
				return nil, fmt.Errorf("payload bulk_args[%d] must be a list, got %T", i, r)
			}
			out = append(out, row)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payload bulk_args must be a list of lists, got %T", v)
	}
}
