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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/pkg/bulk"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/crate"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/taskstore"
	"github.com/pgedge/crateflow/pkg/types"
	"github.com/urfave/cli/v2"
)

func QueryCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return errors.New(configMissing)
	}
	clusterName, positional, err := resolveClusterArg("query", "<stmt>", "[cluster] <stmt>", 1, ctx.Args().Slice())
	if err != nil {
		return err
	}

	output := strings.ToLower(strings.TrimSpace(ctx.String("output")))
	if output != "json" && output != "table" {
		return fmt.Errorf("invalid output %q (expected json or table)", output)
	}

	payload := bulk.NewRecord("stmt", positional[0])
	if raw := ctx.String("args"); raw != "" {
		args, err := decodeJSONList("--args", raw)
		if err != nil {
			return err
		}
		payload.Set("args", args)
	}
	if raw := ctx.String("bulk-args"); raw != "" {
		rows, err := decodeJSONList("--bulk-args", raw)
		if err != nil {
			return err
		}
		payload.Set("bulk_args", rows)
	}

	cl, err := config.Cfg.Cluster(clusterName)
	if err != nil {
		return err
	}
	exec, err := nodes.NewExecutor(runContext(ctx), cl)
	if err != nil {
		return fmt.Errorf("cluster %s: %w", clusterName, err)
	}
	defer exec.Close()

	node := nodes.NewQueryNode(config.NodeDef{Name: "query"}, clusterName, exec)
	out, err := node.Handle(runContext(ctx), &types.Message{Payload: payload})
	if err != nil {
		return err
	}

	resp := out.Payload.(*crate.Response)
	if output == "table" {
		printResponse(ctx.App.Writer, resp)
		return nil
	}
	return writeJSON(ctx.App.Writer, resp)
}

func RunNodeCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return errors.New(configMissing)
	}
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("run needs exactly one argument (usage: run <node>)")
	}
	name := ctx.Args().First()

	var payload any
	if raw := ctx.String("payload"); raw != "" {
		var err error
		if payload, err = nodes.DecodePayload(json.RawMessage(raw)); err != nil {
			return fmt.Errorf("invalid --payload: %w", err)
		}
	}

	reg, err := nodes.NewRegistry(runContext(ctx), config.Cfg, nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	node, err := reg.Node(name)
	if err != nil {
		return err
	}

	recorder, err := taskstore.NewRecorder(nil, config.Cfg.Server.TaskStorePath)
	if err != nil {
		logger.Warn("task tracking disabled: %v", err)
	}
	defer recorder.Close()

	out, taskID, err := nodes.Dispatch(runContext(ctx), node, &types.Message{
		Topic:   ctx.String("topic"),
		Payload: payload,
	}, recorder.Store())
	if err != nil {
		return fmt.Errorf("task %s: %w", taskID, err)
	}
	logger.Debug("node %s: task %s finished", name, taskID)

	if err := writeJSON(ctx.App.Writer, out); err != nil {
		return err
	}
	if out.Error != nil {
		return fmt.Errorf("task %s: %w", taskID, out.Error)
	}
	return nil
}

func runContext(ctx *cli.Context) context.Context {
	if ctx.Context != nil {
		return ctx.Context
	}
	return context.Background()
}

// decodeJSONList decodes a flag value that must be a JSON array.
func decodeJSONList(flag, raw string) ([]any, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("%s must be a JSON array", flag)
	}
	items, err := bulk.DecodeItems([]byte(trimmed))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return items, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResponse renders rows as an aligned text table, or the per-row results
// of a bulk statement.
func printResponse(w io.Writer, resp *crate.Response) {
	if resp.Results != nil {
		rows := make([][]string, 0, len(resp.Results))
		for i, res := range resp.Results {
			rows = append(rows, []string{fmt.Sprint(i), fmt.Sprint(res.RowCount), res.ErrorMessage})
		}
		printTable(w, []string{"#", "rowcount", "error"}, rows)
		return
	}

	if len(resp.Cols) == 0 {
		var affected int64
		if resp.RowCount != nil {
			affected = *resp.RowCount
		}
		fmt.Fprintf(w, "OK (%d affected)\n", affected)
		return
	}

	rows := make([][]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		cells := make([]string, len(resp.Cols))
		for i := range resp.Cols {
			cells[i] = "NULL"
			if i < len(row) && row[i] != nil {
				cells[i] = formatCell(row[i])
			}
		}
		rows = append(rows, cells)
	}
	printTable(w, resp.Cols, rows)
	fmt.Fprintf(w, "(%d rows, %.3f ms)\n", len(rows), resp.Duration)
}

func formatCell(v any) string {
	switch v.(type) {
	case map[string]any, []any, *bulk.Record:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}

func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	line := func(cells []string) {
		parts := make([]string, len(headers))
		for i := range headers {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-len(cell))
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, " | "), " "))
	}

	line(headers)
	seps := make([]string, len(widths))
	for i, width := range widths {
		seps[i] = strings.Repeat("-", width)
	}
	fmt.Fprintln(w, strings.Join(seps, "-+-"))
	for _, row := range rows {
		line(row)
	}
}
