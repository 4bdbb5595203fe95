package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
default_cluster: local
clusters:
  local:
    host: localhost
    port: 4200
  wire:
    host: crate.internal
    protocol: PG
nodes:
  - name: readings
    type: Query
    query: SELECT * FROM doc.readings
  - name: ingest-readings
    type: ingest
    cluster: wire
    table: doc.readings
    map_columns: true
schedule_jobs:
  - name: poll
    node: readings
    run_frequency: 1m
    enabled: true
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	local, err := cfg.Cluster("local")
	require.NoError(t, err)
	require.Equal(t, ProtocolHTTP, local.Protocol)
	require.Equal(t, 4200, local.Port)
	require.Equal(t, DefaultTimeout, local.Timeout)

	wire, err := cfg.Cluster("wire")
	require.NoError(t, err)
	require.Equal(t, ProtocolPG, wire.Protocol)
	require.Equal(t, DefaultPGPort, wire.Port)

	node, ok := cfg.Node("readings")
	require.True(t, ok)
	require.Equal(t, NodeTypeQuery, node.Type)
	require.Equal(t, "local", cfg.NodeCluster(node))

	ingest, ok := cfg.Node("ingest-readings")
	require.True(t, ok)
	require.Equal(t, "wire", cfg.NodeCluster(ingest))
	require.True(t, ingest.MapColumns)

	_, ok = cfg.Node("missing")
	require.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown default cluster", "default_cluster: nope\n"},
		{"missing host", "clusters:\n  a:\n    port: 4200\n"},
		{"bad protocol", "clusters:\n  a:\n    host: h\n    protocol: grpc\n"},
		{"ingest without table", "default_cluster: a\nclusters:\n  a:\n    host: h\nnodes:\n  - name: n\n    type: ingest\n"},
		{"unknown node type", "default_cluster: a\nclusters:\n  a:\n    host: h\nnodes:\n  - name: n\n    type: inject\n"},
		{"duplicate node", "default_cluster: a\nclusters:\n  a:\n    host: h\nnodes:\n  - name: n\n    type: query\n  - name: n\n    type: query\n"},
		{"node without cluster", "clusters:\n  a:\n    host: h\nnodes:\n  - name: n\n    type: query\n"},
		{"job with unknown node", "clusters:\n  a:\n    host: h\nschedule_jobs:\n  - name: j\n    node: ghost\n"},
		{"cert without key", "server:\n  tls_cert_file: c.pem\n"},
		{"client ca without tls", "server:\n  client_ca_file: ca.pem\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestInitSetsGlobal(t *testing.T) {
	t.Cleanup(func() { Cfg = nil })

	path := filepath.Join(t.TempDir(), "crateflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	require.NoError(t, Init(path))
	require.NotNil(t, Cfg)
	require.Equal(t, "local", DefaultCluster())
}

func TestInitMissingFile(t *testing.T) {
	t.Cleanup(func() { Cfg = nil })
	require.Error(t, Init(filepath.Join(t.TempDir(), "absent.yaml")))
	require.Nil(t, Cfg)
	require.Equal(t, "", DefaultCluster())
}
