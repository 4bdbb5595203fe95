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
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/internal/scheduler"
	"github.com/pgedge/crateflow/internal/server"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/taskstore"
	"github.com/urfave/cli/v2"
)

//go:embed default_config.yaml
var defaultConfigYAML string

const configMissing = "configuration not loaded; run inside a directory with crateflow.yaml or set CRATEFLOW_CONFIG"

func SetupCLI() *cli.App {
	debugFlag := &cli.BoolFlag{
		Name:    "debug",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
	}

	configInitFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Path to write the config file",
			Value:   "crateflow.yaml",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"x"},
			Usage:   "Overwrite the config file if it already exists",
		},
		&cli.BoolFlag{
			Name:    "stdout",
			Aliases: []string{"z"},
			Usage:   "Print the config to stdout instead of writing a file",
		},
	}

	queryFlags := []cli.Flag{
		debugFlag,
		&cli.StringFlag{
			Name:    "args",
			Aliases: []string{"a"},
			Usage:   "JSON array of statement arguments",
		},
		&cli.StringFlag{
			Name:    "bulk-args",
			Aliases: []string{"b"},
			Usage:   "JSON array of argument arrays, one per execution",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: json or table",
			Value:   "json",
		},
	}

	ingestFlags := []cli.Flag{
		debugFlag,
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "File with the records to insert (- for stdin)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Input format: json or ndjson (default: from the file extension)",
		},
		&cli.BoolFlag{
			Name:    "map-columns",
			Aliases: []string{"m"},
			Usage:   "Map each object field to a column instead of a single payload column",
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Aliases: []string{"s"},
			Usage:   "Records per bulk request (default: ingest.batch_size, 0 for a single request)",
			Value:   -1,
		},
		&cli.StringFlag{
			Name:    "errors-file",
			Aliases: []string{"e"},
			Usage:   "Write records CrateDB rejected to this file as NDJSON",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Whether to suppress progress output",
		},
	}

	runFlags := []cli.Flag{
		debugFlag,
		&cli.StringFlag{
			Name:    "payload",
			Aliases: []string{"p"},
			Usage:   "JSON payload of the message",
		},
		&cli.StringFlag{
			Name:    "topic",
			Aliases: []string{"t"},
			Usage:   "Topic of the message",
		},
	}

	app := &cli.App{
		Name:  "crateflow",
		Usage: "CrateFlow - CrateDB query and ingest nodes",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Manage CrateFlow configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create a default crateflow.yaml file",
						Flags:  configInitFlags,
						Action: ConfigInitCLI,
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Run a statement against a cluster",
				ArgsUsage: "[cluster] <stmt>",
				Flags:     queryFlags,
				Action:    QueryCLI,
				Before:    setLogLevel,
			},
			{
				Name:      "ingest",
				Usage:     "Bulk insert records from a file into a table",
				ArgsUsage: "[cluster] <table>",
				Flags:     ingestFlags,
				Action:    IngestCLI,
				Before:    setLogLevel,
			},
			{
				Name:      "run",
				Usage:     "Send one message through a configured node",
				ArgsUsage: "<node>",
				Flags:     runFlags,
				Action:    RunNodeCLI,
				Before:    setLogLevel,
			},
			{
				Name:  "start",
				Usage: "Start the scheduler for configured jobs",
				Flags: []cli.Flag{
					debugFlag,
					&cli.StringFlag{
						Name:    "component",
						Aliases: []string{"C"},
						Usage:   "Component to start: scheduler, api, or all",
						Value:   "all",
					},
				},
				Action: StartSchedulerCLI,
				Before: setLogLevel,
			},
			{
				Name:   "server",
				Usage:  "Run the CrateFlow REST API server",
				Flags:  []cli.Flag{debugFlag},
				Action: StartAPIServerCLI,
				Before: setLogLevel,
			},
		},
	}

	return app
}

func setLogLevel(ctx *cli.Context) error {
	debug := ctx.Bool("debug")
	if config.Cfg != nil && config.Cfg.DebugMode {
		debug = true
	}
	logger.SetDebug(debug)
	return nil
}

func initTemplateFile(ctx *cli.Context, content string, defaultPath string, label string, perm os.FileMode) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = defaultPath
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Fprintln(ctx.App.Writer, content)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("%s already exists at %s (use --force to overwrite)", label, outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing %s at %s: %w", label, outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", label, outputPath, err)
	}

	fmt.Fprintf(ctx.App.Writer, "Wrote %s to %s\n", label, outputPath)
	return nil
}

func ConfigInitCLI(ctx *cli.Context) error {
	return initTemplateFile(ctx, defaultConfigYAML, "crateflow.yaml", "config file", 0o600)
}

func resolveClusterArg(cmd, missingUsage, argsUsage string, required int, args []string) (string, []string, error) {
	if len(args) < required {
		if required == 1 {
			return "", nil, fmt.Errorf("missing required argument for %s: needs %s", cmd, missingUsage)
		}
		return "", nil, fmt.Errorf("missing required arguments for %s: needs %s", cmd, missingUsage)
	}

	if len(args) == required {
		cluster := config.DefaultCluster()
		if cluster == "" {
			return "", nil, fmt.Errorf("cluster name is required: specify one explicitly or set default_cluster in crateflow.yaml")
		}
		return cluster, args, nil
	}

	if len(args) == required+1 {
		cluster := strings.TrimSpace(args[0])
		if cluster == "" {
			return "", nil, fmt.Errorf("cluster name is required: specify one explicitly or set default_cluster in crateflow.yaml")
		}
		return cluster, args[1:], nil
	}

	return "", nil, fmt.Errorf("unexpected arguments for %s (usage: %s)", cmd, argsUsage)
}

func StartSchedulerCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return errors.New(configMissing)
	}

	component := strings.ToLower(strings.TrimSpace(ctx.String("component")))
	runScheduler := false
	runAPI := false
	switch component {
	case "", "all":
		runScheduler = true
		runAPI = true
	case "scheduler":
		runScheduler = true
	case "api":
		runAPI = true
	default:
		return fmt.Errorf("invalid component %q (expected scheduler, api, or all)", component)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := nodes.NewRegistry(runCtx, config.Cfg, nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	store, err := taskstore.New(config.Cfg.Server.TaskStorePath)
	if err != nil {
		return fmt.Errorf("failed to initialise task store: %w", err)
	}
	defer store.Close()

	jobs, err := scheduler.BuildJobsFromConfig(config.Cfg, reg, store)
	if err != nil {
		return err
	}

	type runner struct {
		name string
		run  func(context.Context) error
	}

	var runners []runner

	if runScheduler {
		if len(jobs) == 0 {
			logger.Info("scheduler: no enabled jobs found in configuration")
		} else {
			for _, job := range jobs {
				logger.Info("scheduler: registering job %s", job.Name)
			}
			runners = append(runners, runner{
				name: "scheduler",
				run: func(ctx context.Context) error {
					return scheduler.RunJobs(ctx, jobs)
				},
			})
		}
	}

	if runAPI {
		if ok, apiErr := canStartAPIServer(config.Cfg); ok {
			apiServer, err := server.New(config.Cfg, reg, store)
			if err != nil {
				return fmt.Errorf("api server init failed: %w", err)
			}
			runners = append(runners, runner{
				name: "api-server",
				run:  apiServer.Run,
			})
		} else if component == "api" {
			return fmt.Errorf("api server requested but cannot start: %w", apiErr)
		} else {
			logger.Info("api server not started: %v", apiErr)
		}
	}

	if len(runners) == 0 {
		return nil
	}

	errCh := make(chan error, len(runners))
	for _, r := range runners {
		go func(r runner) {
			if err := r.run(runCtx); err != nil {
				errCh <- fmt.Errorf("%s: %w", r.name, err)
				return
			}
			errCh <- nil
		}(r)
	}

	for i := 0; i < len(runners); i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			stop()
			return err
		}
	}

	return nil
}

func StartAPIServerCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return errors.New(configMissing)
	}

	if ok, err := canStartAPIServer(config.Cfg); !ok {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := nodes.NewRegistry(runCtx, config.Cfg, nil)
	if err != nil {
		return err
	}
	defer reg.Close()

	apiServer, err := server.New(config.Cfg, reg, nil)
	if err != nil {
		return err
	}

	return apiServer.Run(runCtx)
}

func canStartAPIServer(cfg *config.Config) (bool, error) {
	if cfg == nil {
		return false, fmt.Errorf("configuration not loaded")
	}
	if cfg.Server.ListenPort == 0 {
		return false, fmt.Errorf("server.listen_port is not configured")
	}
	if len(cfg.Nodes) == 0 {
		return false, fmt.Errorf("no nodes are configured")
	}
	return true, nil
}
