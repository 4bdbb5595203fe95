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

package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/taskstore"
)

type taskStatusResponse struct {
	TaskID      string         `json:"task_id"`
	Node        string         `json:"node"`
	NodeType    string         `json:"node_type"`
	Status      string         `json:"status"`
	Cluster     string         `json:"cluster"`
	Table       string         `json:"table,omitempty"`
	Total       int            `json:"total"`
	Errors      int            `json:"errors"`
	StartedAt   string         `json:"started_at,omitempty"`
	FinishedAt  string         `json:"finished_at,omitempty"`
	TimeTaken   float64        `json:"time_taken,omitempty"`
	TaskContext map[string]any `json:"task_context,omitempty"`
}

func (s *APIServer) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Nodes())
}

func (s *APIServer) handleNodeMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}
	defer r.Body.Close()

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/nodes/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	node, err := s.registry.Node(name)
	if err != nil {
		if errors.Is(err, nodes.ErrUnknownNode) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "message body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unable to read message body")
		return
	}

	msg, err := nodes.DecodeMessage(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if cn := clientName(r.Context()); cn != "" {
		logger.Debug("node %s: message from %s", name, cn)
	}

	out, taskID, err := nodes.Dispatch(r.Context(), node, msg, s.taskStore)
	w.Header().Set("X-Task-ID", taskID)
	if err != nil {
		if errors.Is(err, nodes.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("task %s failed: %v", taskID, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *APIServer) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}

	taskID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"))
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}
	if s.taskStore == nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}

	rec, err := s.taskStore.Get(taskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error("task %s: lookup failed: %v", taskID, err)
		writeError(w, http.StatusInternalServerError, "unable to fetch task")
		return
	}

	resp := taskStatusResponse{
		TaskID:      rec.TaskID,
		Node:        rec.NodeName,
		NodeType:    rec.NodeType,
		Status:      rec.Status,
		Cluster:     rec.ClusterName,
		Table:       rec.TableName,
		Total:       rec.Total,
		Errors:      rec.Errors,
		TimeTaken:   rec.TimeTaken,
		TaskContext: rec.TaskContext,
	}
	if !rec.StartedAt.IsZero() {
		resp.StartedAt = rec.StartedAt.Format(time.RFC3339)
	}
	if !rec.FinishedAt.IsZero() {
		resp.FinishedAt = rec.FinishedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
