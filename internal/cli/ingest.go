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
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/pkg/bulk"
	"github.com/pgedge/crateflow/pkg/common"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/types"
	"github.com/urfave/cli/v2"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const (
	formatJSON   = "json"
	formatNDJSON = "ndjson"

	maxLineBytes = 16 << 20
)

func IngestCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return errors.New(configMissing)
	}
	clusterName, positional, err := resolveClusterArg("ingest", "<table>", "[cluster] <table>", 1, ctx.Args().Slice())
	if err != nil {
		return err
	}
	table := positional[0]

	batchSize := ctx.Int("batch-size")
	if batchSize < 0 {
		batchSize = config.Cfg.Ingest.BatchSize
	}

	path := ctx.String("file")
	format, err := inputFormat(path, ctx.String("format"))
	if err != nil {
		return err
	}
	items, err := readItems(path, format, ctx.App.Reader)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintf(ctx.App.Writer, "%s No records found in %s\n", common.CheckMark, path)
		return nil
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

	node, err := nodes.NewIngestNode(config.NodeDef{
		Name:       "ingest",
		Table:      table,
		MapColumns: ctx.Bool("map-columns"),
		BatchSize:  batchSize,
	}, clusterName, exec)
	if err != nil {
		return err
	}

	var (
		p   *mpb.Progress
		bar *mpb.Bar
	)
	if !ctx.Bool("quiet") {
		p = mpb.New(mpb.WithOutput(os.Stderr))
		bar = p.AddBar(int64(len(items)),
			mpb.BarRemoveOnComplete(),
			mpb.PrependDecorators(
				decor.Name("Inserting records:", decor.WC{W: 20}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Elapsed(decor.ET_STYLE_GO),
				decor.Name(" | "),
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			),
		)
		node.OnBatch = func(n int) { bar.IncrBy(n) }
	}

	out, err := node.Handle(runContext(ctx), &types.Message{Payload: items})
	if p != nil {
		if err != nil || out.Error != nil {
			bar.Abort(true)
		}
		p.Wait()
	}
	if err != nil {
		return err
	}
	if out.Error != nil {
		if errorsFile := ctx.String("errors-file"); errorsFile != "" {
			pending, _ := out.Payload.([]any)
			if werr := writeNDJSON(errorsFile, pending); werr != nil {
				logger.Warn("could not save %d records not inserted: %v", len(pending), werr)
			} else {
				fmt.Fprintf(ctx.App.Writer, "Wrote %d records not inserted to %s\n", len(pending), errorsFile)
			}
		}
		return fmt.Errorf("insert into %s failed: %w", table, out.Error)
	}

	return reportIngest(ctx, table, out)
}

func reportIngest(ctx *cli.Context, table string, out *types.Message) error {
	w := ctx.App.Writer
	stats := out.Records
	if stats.Errors == 0 {
		fmt.Fprintf(w, "%s Inserted %d records into %s\n", common.CheckMark, stats.Total, table)
		return nil
	}

	fmt.Fprintf(w, "%s %d of %d records into %s failed\n", common.CrossMark, stats.Errors, stats.Total, table)
	failed, _ := out.Payload.([]any)
	errorsFile := ctx.String("errors-file")
	if errorsFile == "" {
		return nil
	}
	if err := writeNDJSON(errorsFile, failed); err != nil {
		return err
	}
	fmt.Fprintf(w, "Wrote %d failed records to %s\n", len(failed), errorsFile)
	return nil
}

// inputFormat takes an explicit --format, else infers it from the extension.
func inputFormat(path, explicit string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "":
	case formatJSON:
		return formatJSON, nil
	case formatNDJSON, "jsonl":
		return formatNDJSON, nil
	default:
		return "", fmt.Errorf("invalid format %q (expected json or ndjson)", explicit)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return formatNDJSON, nil
	default:
		return formatJSON, nil
	}
}

func readItems(path, format string, stdin io.Reader) ([]any, error) {
	var r io.Reader
	if path == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	if format == formatNDJSON {
		return readNDJSON(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	items, err := bulk.DecodeItems(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}

func readNDJSON(r io.Reader) ([]any, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var items []any
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		item, err := bulk.DecodeItem(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func writeNDJSON(path string, items []any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Debug("wrote %d records to %s", len(items), path)
	return nil
}
