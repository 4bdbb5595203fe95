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

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/pkg/bulk"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/taskstore"
	"github.com/pgedge/crateflow/pkg/types"
	"gopkg.in/yaml.v3"
)

type scheduleSpec struct {
	frequency time.Duration
	cron      string
}

// BuildJobsFromConfig turns every enabled schedule_jobs entry into a job that
// sends the entry's payload through its node. Runs are recorded in store
// when it is non-nil.
func BuildJobsFromConfig(cfg *config.Config, reg *nodes.Registry, store *taskstore.Store) ([]Job, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler: configuration is not initialised")
	}
	if reg == nil {
		return nil, fmt.Errorf("scheduler: node registry is required")
	}

	var jobs []Job
	for _, def := range cfg.ScheduleJobs {
		if !def.Enabled {
			continue
		}
		name := jobName(def)

		spec, err := specFromConfig(def)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", name, err)
		}
		node, err := reg.Node(def.Node)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", name, err)
		}
		payload, err := payloadFromYAML(&def.Payload)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: payload: %w", name, err)
		}

		jobs = append(jobs, Job{
			Name:       name,
			Frequency:  spec.frequency,
			Cron:       spec.cron,
			RunOnStart: def.RunOnStart,
			Task:       nodeTask(node, def.Topic, payload, store),
		})
	}

	return jobs, nil
}

func nodeTask(node nodes.Node, topic string, payload any, store *taskstore.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		msg := &types.Message{Topic: topic, Payload: payload}
		out, taskID, err := nodes.Dispatch(ctx, node, msg, store)
		if err != nil {
			return fmt.Errorf("task %s: %w", taskID, err)
		}
		if out.Error != nil {
			return fmt.Errorf("task %s: %w", taskID, out.Error)
		}
		if out.Records != nil {
			logger.Info("scheduler: task %s sent %d records to %s (%d failed)",
				taskID, out.Records.Total, node.Info().Name, out.Records.Errors)
		}
		return nil
	}
}

func specFromConfig(def config.JobDef) (scheduleSpec, error) {
	var spec scheduleSpec

	if strings.TrimSpace(def.CrontabSchedule) != "" {
		spec.cron = strings.TrimSpace(def.CrontabSchedule)
	}
	if strings.TrimSpace(def.RunFrequency) != "" {
		freq, err := ParseFrequency(def.RunFrequency)
		if err != nil {
			return scheduleSpec{}, err
		}
		spec.frequency = freq
	}

	if spec.cron == "" && spec.frequency == 0 {
		return scheduleSpec{}, fmt.Errorf("either run_frequency or crontab_schedule must be set")
	}
	if spec.cron != "" && spec.frequency > 0 {
		return scheduleSpec{}, fmt.Errorf("cannot set both run_frequency and crontab_schedule")
	}

	return spec, nil
}

func jobName(def config.JobDef) string {
	if strings.TrimSpace(def.Name) != "" {
		return def.Name
	}
	return "node:" + def.Node
}

// payloadFromYAML converts a YAML payload into the values nodes work with.
// Mappings become records with their keys in document order.
func payloadFromYAML(n *yaml.Node) (any, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return payloadFromYAML(n.Content[0])
	case yaml.AliasNode:
		return payloadFromYAML(n.Alias)
	case yaml.MappingNode:
		rec := bulk.NewRecord()
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: %w", n.Content[i].Line, err)
			}
			val, err := payloadFromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			rec.Set(key, val)
		}
		return rec, nil
	case yaml.SequenceNode:
		items := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := payloadFromYAML(c)
			if err != nil {
				return nil, err
			}
			items = append(items, val)
		}
		return items, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	}
}
