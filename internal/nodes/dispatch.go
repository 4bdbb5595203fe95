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
	"time"

	"github.com/google/uuid"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/taskstore"
	"github.com/pgedge/crateflow/pkg/types"
)

// Dispatch sends msg through node and returns the outgoing message and the id
// of the task it ran as. When store is non-nil the run is recorded there;
// failing to record never fails the message.
func Dispatch(ctx context.Context, node Node, msg *types.Message, store *taskstore.Store) (*types.Message, string, error) {
	info := node.Info()
	taskID := uuid.NewString()

	var recorder *taskstore.Recorder
	if store != nil {
		var err error
		if recorder, err = taskstore.NewRecorder(store, ""); err != nil {
			logger.Warn("task %s: task tracking disabled: %v", taskID, err)
		}
	}

	taskContext := map[string]any{}
	if msg != nil && msg.Topic != "" {
		taskContext["topic"] = msg.Topic
	}

	start := time.Now()
	if err := recorder.Create(taskstore.Record{
		TaskID:      taskID,
		NodeName:    info.Name,
		NodeType:    info.Type,
		Status:      taskstore.StatusRunning,
		ClusterName: info.Cluster,
		TableName:   info.Table,
		StartedAt:   start,
		TaskContext: taskContext,
	}); err != nil {
		logger.Warn("task %s: failed to record start: %v", taskID, err)
	}

	out, err := node.Handle(ctx, msg)

	finished := time.Now()
	rec := taskstore.Record{
		TaskID:      taskID,
		Status:      taskstore.StatusCompleted,
		FinishedAt:  finished,
		TimeTaken:   finished.Sub(start).Seconds(),
		TaskContext: taskContext,
	}
	switch {
	case err != nil:
		rec.Status = taskstore.StatusFailed
		taskContext["error"] = err.Error()
	case out.Error != nil:
		rec.Status = taskstore.StatusFailed
		taskContext["error"] = out.Error.Error()
	}
	if out != nil && out.Records != nil {
		rec.Total = out.Records.Total
		rec.Errors = out.Records.Errors
	}
	if uerr := recorder.Update(rec); uerr != nil {
		logger.Warn("task %s: failed to record result: %v", taskID, uerr)
	}

	return out, taskID, err
}
