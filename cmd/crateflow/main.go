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

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pgedge/crateflow/internal/cli"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
)

func main() {
	if !shouldSkipConfig(os.Args[1:]) {
		cfgPath := findConfig(os.Getenv("CRATEFLOW_CONFIG"))
		if cfgPath == "" {
			logger.Fatal("config file 'crateflow.yaml' not found (run 'crateflow config init' to create one)")
		}
		if err := config.Init(cfgPath); err != nil {
			logger.Fatal("loading config (%s): %v", cfgPath, err)
		}
		logger.Debug("using config %s", cfgPath)
	}

	app := cli.SetupCLI()
	if err := app.Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

// findConfig returns the first existing config file, in order of precedence:
// the CRATEFLOW_CONFIG path, the current dir, $HOME/.config/crateflow/ and
// /etc/crateflow/.
func findConfig(envPath string) string {
	var candidates []string
	if envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, "crateflow.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "crateflow", "crateflow.yaml"))
	}
	candidates = append(candidates, "/etc/crateflow/crateflow.yaml")

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func shouldSkipConfig(args []string) bool {
	if len(args) == 0 {
		return true
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" || arg == "--version" {
			return true
		}
	}

	var commandPath []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		commandPath = append(commandPath, arg)
		if len(commandPath) >= 2 {
			break
		}
	}

	if len(commandPath) == 0 {
		return true
	}

	if commandPath[0] == "config" {
		return len(commandPath) == 1 || commandPath[1] == "init"
	}
	return false
}
