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
	"github.com/pgedge/crateflow/pkg/common"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/crate"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/types"
)

// IngestNode bulk-inserts the message payload into a table. Every payload is
// treated as a batch; a non-list payload is a batch of one.
type IngestNode struct {
	name       string
	cluster    string
	table      string
	mapColumns bool
	batchSize  int
	exec       crate.Executor

	// OnBatch, when set, is called after every bulk request with the number
	// of items it carried.
	OnBatch func(items int)
}

func NewIngestNode(def config.NodeDef, cluster string, exec crate.Executor) (*IngestNode, error) {
	if err := ValidateTableName(def.Table); err != nil {
		return nil, fmt.Errorf("node %s: %w", def.Name, err)
	}
	return &IngestNode{
		name:       def.Name,
		cluster:    cluster,
		table:      def.Table,
		mapColumns: def.MapColumns,
		batchSize:  def.BatchSize,
		exec:       exec,
	}, nil
}

func (n *IngestNode) Info() types.NodeInfo {
	return types.NodeInfo{
		Name:       n.name,
		Type:       config.NodeTypeIngest,
		Cluster:    n.cluster,
		Table:      n.table,
		MapColumns: n.mapColumns,
	}
}

// Handle sends the payload as one or more bulk inserts. The outgoing message
// carries the record stats and, as payload, the input items CrateDB rejected
// (nil when none were). An error reported by CrateDB is attached to the
// message rather than returned; only failures to reach it are returned. When
// a batch is refused that way, the payload is the rows rejected so far
// followed by every item from the refused batch on, none of which were
// inserted.
func (n *IngestNode) Handle(ctx context.Context, msg *types.Message) (*types.Message, error) {
	out := clone(msg)
	items := asBatch(out.Payload)

	stats := &types.RecordStats{}
	var failed []any

	offset := 0
	for _, chunk := range common.ChunkItems(items, n.batchSize) {
		if len(chunk) == 0 {
			continue
		}

		req := crate.BulkRequest(bulk.Build(n.table, chunk, n.mapColumns))
		resp, err := n.exec.Execute(ctx, req)
		if err != nil {
			if ce, ok := crate.AsServerError(err); ok {
				logger.Warn("node %s: insert into %s rejected: %v", n.name, n.table, ce)
				stats.Errors = len(failed)
				out.Error = ce
				out.Records = stats
				out.Payload = append(failed, items[offset:]...)
				return out, nil
			}
			return nil, fmt.Errorf("node %s: %w", n.name, err)
		}
		offset += len(chunk)

		stats.Total += len(resp.Results)
		for i, res := range resp.Results {
			if res.Failed() && i < len(chunk) {
				failed = append(failed, chunk[i])
			}
		}
		if n.OnBatch != nil {
			n.OnBatch(len(chunk))
		}
	}

	stats.Errors = len(failed)
	out.Records = stats
	if len(failed) > 0 {
		out.Payload = failed
		logger.Warn("node %s: %d of %d records failed", n.name, stats.Errors, stats.Total)
	} else {
		out.Payload = nil
		logger.Debug("node %s: inserted %d records into %s", n.name, stats.Total, n.table)
	}
	return out, nil
}

// asBatch treats a missing payload as an empty batch.
func asBatch(payload any) []any {
	switch p := payload.(type) {
	case nil:
		return nil
	case []any:
		return p
	default:
		return []any{p}
	}
}
