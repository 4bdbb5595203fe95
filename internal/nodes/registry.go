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
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pgedge/crateflow/internal/infra/pgwire"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/crate"
	"github.com/pgedge/crateflow/pkg/types"
)

// ExecutorFactory opens an executor for a cluster.
type ExecutorFactory func(ctx context.Context, cl config.ClusterConfig) (crate.Executor, error)

// NewExecutor picks the transport named by the cluster's protocol.
func NewExecutor(ctx context.Context, cl config.ClusterConfig) (crate.Executor, error) {
	switch cl.Protocol {
	case config.ProtocolPG:
		exec, err := pgwire.New(ctx, cl)
		if err != nil {
			return nil, err
		}
		return exec, nil
	case config.ProtocolHTTP, "":
		client, err := crate.NewHTTPClient(cl)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cl.Protocol)
	}
}

// Registry owns the configured nodes and one executor per cluster, shared by
// every node on that cluster.
type Registry struct {
	cfg     *config.Config
	factory ExecutorFactory

	mu        sync.Mutex
	executors map[string]crate.Executor
	nodes     map[string]Node
}

func NewRegistry(ctx context.Context, cfg *config.Config, factory ExecutorFactory) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	if factory == nil {
		factory = NewExecutor
	}

	r := &Registry{
		cfg:       cfg,
		factory:   factory,
		executors: make(map[string]crate.Executor),
		nodes:     make(map[string]Node, len(cfg.Nodes)),
	}

	for _, def := range cfg.Nodes {
		node, err := r.build(ctx, def)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.nodes[def.Name] = node
	}
	return r, nil
}

func (r *Registry) build(ctx context.Context, def config.NodeDef) (Node, error) {
	cluster := r.cfg.NodeCluster(def)
	exec, err := r.Executor(ctx, cluster)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", def.Name, err)
	}

	switch def.Type {
	case config.NodeTypeQuery:
		return NewQueryNode(def, cluster, exec), nil
	case config.NodeTypeIngest:
		if def.BatchSize == 0 {
			def.BatchSize = r.cfg.Ingest.BatchSize
		}
		return NewIngestNode(def, cluster, exec)
	default:
		return nil, fmt.Errorf("node %s: unknown type %q", def.Name, def.Type)
	}
}

// Executor returns the executor for a cluster, opening it on first use.
func (r *Registry) Executor(ctx context.Context, cluster string) (crate.Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exec, ok := r.executors[cluster]; ok {
		return exec, nil
	}
	cl, err := r.cfg.Cluster(cluster)
	if err != nil {
		return nil, err
	}
	exec, err := r.factory(ctx, cl)
	if err != nil {
		return nil, fmt.Errorf("cluster %s: %w", cluster, err)
	}
	r.executors[cluster] = exec
	return exec, nil
}

// Node returns the named node or an error wrapping ErrUnknownNode.
func (r *Registry) Node(name string) (Node, error) {
	node, ok := r.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	return node, nil
}

// Nodes describes all nodes, sorted by name.
func (r *Registry) Nodes() []types.NodeInfo {
	infos := make([]types.NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		infos = append(infos, n.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, exec := range r.executors {
		if err := exec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cluster %s: %w", name, err))
		}
	}
	r.executors = make(map[string]crate.Executor)
	return errors.Join(errs...)
}
