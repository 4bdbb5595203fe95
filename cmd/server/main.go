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

// Command server runs only the CrateFlow REST API.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/internal/server"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
)

func main() {
	cfgPath := os.Getenv("CRATEFLOW_CONFIG")
	if cfgPath == "" {
		cfgPath = "crateflow.yaml"
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		execPath, err := os.Executable()
		if err != nil {
			logger.Fatal("unable to determine executable path: %v", err)
		}
		root := filepath.Dir(filepath.Dir(execPath))
		cfgPath = filepath.Join(root, "crateflow.yaml")
	}
	if err := config.Init(cfgPath); err != nil {
		logger.Fatal("loading config (%s): %v", cfgPath, err)
	}
	logger.SetDebug(config.Cfg.DebugMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := nodes.NewRegistry(ctx, config.Cfg, nil)
	if err != nil {
		logger.Fatal("building nodes: %v", err)
	}
	defer reg.Close()

	api, err := server.New(config.Cfg, reg, nil)
	if err != nil {
		logger.Fatal("api server init failed: %v", err)
	}
	if err := api.Run(ctx); err != nil {
		logger.Error("%v", err)
	}
}
