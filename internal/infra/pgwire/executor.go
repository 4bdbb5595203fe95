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
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgedge/crateflow/pkg/common"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/crate"
	"github.com/pgedge/crateflow/pkg/logger"
)

// Executor runs statements over CrateDB's PostgreSQL wire endpoint.
type Executor struct {
	pool *pgxpool.Pool
}

var _ crate.Executor = (*Executor)(nil)

func toConnectionString(cl config.ClusterConfig) (string, error) {
	ep, err := crate.ResolveEndpoint(cl)
	if err != nil {
		return "", err
	}

	var parts []string
	parts = append(parts, "host="+quoteValue(ep.Hostname()))

	port := ep.Port()
	if cl.Port > 0 {
		port = cl.Port
	}
	if port == 0 {
		port = config.DefaultPGPort
	}
	parts = append(parts, "port="+strconv.Itoa(port))

	if ep.User != "" {
		parts = append(parts, "user="+quoteValue(ep.User))
	}
	if ep.Password != "" {
		parts = append(parts, "password="+quoteValue(ep.Password))
	}
	if ep.Schema != "" {
		parts = append(parts, "search_path="+quoteValue(ep.Schema))
	}
	if cl.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", cl.Timeout))
	}

	switch {
	case cl.UseTLS && cl.TLSSkipVerify:
		parts = append(parts, "sslmode=require")
	case cl.UseTLS:
		parts = append(parts, "sslmode=verify-full")
	default:
		parts = append(parts, "sslmode=disable")
	}

	return strings.Join(parts, " "), nil
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// New opens a connection pool to the cluster.
func New(ctx context.Context, cl config.ClusterConfig) (*Executor, error) {
	connStr, err := toConnectionString(cl)
	if err != nil {
		return nil, err
	}
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	if cl.PoolSize > 0 {
		poolConfig.MaxConns = int32(cl.PoolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Executor{pool: pool}, nil
}

func (e *Executor) Close() error {
	if e.pool != nil {
		e.pool.Close()
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, req *crate.Request) (*crate.Response, error) {
	if req == nil || req.Stmt == "" {
		return nil, fmt.Errorf("statement is required")
	}
	sql := RewritePlaceholders(req.Stmt)

	start := time.Now()
	var (
		resp *crate.Response
		err  error
	)
	if req.IsBulk() {
		resp, err = e.executeBulk(ctx, sql, req.BulkArgs)
	} else {
		resp, err = e.executeSingle(ctx, sql, req.Args)
	}
	if err != nil {
		return nil, convertError(err)
	}
	resp.Duration = float64(time.Since(start).Microseconds()) / 1000
	logger.Debug("pgwire: %q completed in %.3fms", common.SafeCut(sql, 80), resp.Duration)
	return resp, nil
}

func (e *Executor) executeSingle(ctx context.Context, sql string, args []any) (*crate.Response, error) {
	pgArgs, err := common.ConvertToPgxArgs(args)
	if err != nil {
		return nil, err
	}

	rows, err := e.pool.Query(ctx, sql, pgArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	resp := &crate.Response{
		Cols: make([]string, len(fields)),
		Rows: [][]any{},
	}
	for i, f := range fields {
		resp.Cols[i] = f.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		resp.Rows = append(resp.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	count := rows.CommandTag().RowsAffected()
	resp.RowCount = &count
	return resp, nil
}

// rowExecer is the part of a pooled connection executeBulk needs.
type rowExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// executeBulk runs the statement once per argument row on a single
// connection. A row rejected by the server is reported like the HTTP endpoint
// does, with a rowcount of -2, and the remaining rows still run; anything
// else aborts the whole request.
func (e *Executor) executeBulk(ctx context.Context, sql string, bulkArgs [][]any) (*crate.Response, error) {
	if len(bulkArgs) == 0 {
		return runBulk(ctx, nil, sql, bulkArgs)
	}
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return runBulk(ctx, conn, sql, bulkArgs)
}

func runBulk(ctx context.Context, conn rowExecer, sql string, bulkArgs [][]any) (*crate.Response, error) {
	resp := &crate.Response{
		Cols:    []string{},
		Results: make([]crate.BulkResult, 0, len(bulkArgs)),
	}

	for i, row := range bulkArgs {
		pgArgs, err := common.ConvertToPgxArgs(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		tag, err := conn.Exec(ctx, sql, pgArgs...)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				logger.Debug("pgwire: row %d rejected: %s", i, pgErr.Message)
				resp.Results = append(resp.Results, crate.BulkResult{
					RowCount:     crate.FailedRowCount,
					ErrorMessage: pgErr.Message,
				})
				continue
			}
			return nil, err
		}
		resp.Results = append(resp.Results, crate.BulkResult{RowCount: tag.RowsAffected()})
	}
	return resp, nil
}

func convertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &crate.Error{
			Message:  pgErr.Message,
			SQLState: pgErr.Code,
			Trace:    pgErr.Detail,
		}
	}
	return err
}
