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

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProtocolHTTP = "http"
	ProtocolPG   = "pg"

	NodeTypeQuery  = "query"
	NodeTypeIngest = "ingest"

	DefaultPGPort  = 5432
	DefaultTimeout = 30 // s
)

type Config struct {
	DefaultCluster string                   `yaml:"default_cluster"`
	Clusters       map[string]ClusterConfig `yaml:"clusters"`
	Nodes          []NodeDef                `yaml:"nodes"`
	Ingest         IngestConfig             `yaml:"ingest"`
	Server         ServerConfig             `yaml:"server"`

	ScheduleJobs []JobDef `yaml:"schedule_jobs"`

	DebugMode bool `yaml:"debug_mode"`
}

// ClusterConfig describes how to reach one CrateDB cluster. Host may carry a
// scheme and port ("https://crate.example.com:4200") or be a bare host name.
type ClusterConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	UseTLS        bool   `yaml:"use_tls"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	Protocol      string `yaml:"protocol"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Schema        string `yaml:"schema"`
	Timeout       int    `yaml:"timeout"` // s
	PoolSize      int    `yaml:"pool_size"`
}

type NodeDef struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Cluster    string `yaml:"cluster,omitempty"`
	Query      string `yaml:"query,omitempty"`
	Table      string `yaml:"table,omitempty"`
	MapColumns bool   `yaml:"map_columns,omitempty"`
	BatchSize  int    `yaml:"batch_size,omitempty"`
}

type IngestConfig struct {
	BatchSize int `yaml:"batch_size"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	TaskStorePath string `yaml:"taskstore_path"`

	// Client certificate auth; enabled when ClientCAFile is set.
	ClientCAFile  string   `yaml:"client_ca_file"`
	ClientCRLFile string   `yaml:"client_crl_file"`
	AllowedCNs    []string `yaml:"allowed_cns"`
}

type JobDef struct {
	Name            string    `yaml:"name"`
	Node            string    `yaml:"node"`
	Topic           string    `yaml:"topic,omitempty"`
	Payload         yaml.Node `yaml:"payload,omitempty"`
	RunFrequency    string    `yaml:"run_frequency,omitempty"`
	CrontabSchedule string    `yaml:"crontab_schedule,omitempty"`
	RunOnStart      bool      `yaml:"run_on_start"`
	Enabled         bool      `yaml:"enabled"`
}

// Cfg holds the loaded config for the whole app.
var Cfg *Config

// Load reads and parses path into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config data and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return &c, nil
}

// Init loads the config and assigns it to the package variable.
func Init(path string) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	Cfg = c
	return nil
}

// DefaultCluster returns the configured default cluster name, if any.
func DefaultCluster() string {
	if Cfg == nil {
		return ""
	}
	return strings.TrimSpace(Cfg.DefaultCluster)
}

func (c *Config) applyDefaults() {
	for name, cl := range c.Clusters {
		cl.Protocol = strings.ToLower(strings.TrimSpace(cl.Protocol))
		if cl.Protocol == "" {
			cl.Protocol = ProtocolHTTP
		}
		if cl.Protocol == ProtocolPG && cl.Port == 0 {
			cl.Port = DefaultPGPort
		}
		if cl.Timeout <= 0 {
			cl.Timeout = DefaultTimeout
		}
		c.Clusters[name] = cl
	}
	for i := range c.Nodes {
		c.Nodes[i].Type = strings.ToLower(strings.TrimSpace(c.Nodes[i].Type))
	}
}

// Cluster looks up a cluster by name.
func (c *Config) Cluster(name string) (ClusterConfig, error) {
	if c == nil {
		return ClusterConfig{}, fmt.Errorf("configuration is not loaded")
	}
	cl, ok := c.Clusters[name]
	if !ok {
		return ClusterConfig{}, fmt.Errorf("cluster %q is not defined", name)
	}
	return cl, nil
}

// Node looks up a node definition by name.
func (c *Config) Node(name string) (NodeDef, bool) {
	if c == nil {
		return NodeDef{}, false
	}
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeDef{}, false
}

// NodeCluster resolves the cluster a node talks to, falling back to the
// default cluster.
func (c *Config) NodeCluster(def NodeDef) string {
	if strings.TrimSpace(def.Cluster) != "" {
		return strings.TrimSpace(def.Cluster)
	}
	return strings.TrimSpace(c.DefaultCluster)
}

func (c *Config) Validate() error {
	if c.DefaultCluster != "" {
		if _, ok := c.Clusters[c.DefaultCluster]; !ok {
			return fmt.Errorf("default_cluster %q is not defined under clusters", c.DefaultCluster)
		}
	}

	for name, cl := range c.Clusters {
		if strings.TrimSpace(cl.Host) == "" {
			return fmt.Errorf("clusters.%s.host must be set", name)
		}
		if cl.Protocol != ProtocolHTTP && cl.Protocol != ProtocolPG {
			return fmt.Errorf("clusters.%s.protocol must be %q or %q, got %q", name, ProtocolHTTP, ProtocolPG, cl.Protocol)
		}
		if cl.Port < 0 || cl.Port > 65535 {
			return fmt.Errorf("clusters.%s.port out of range: %d", name, cl.Port)
		}
	}

	seen := make(map[string]struct{}, len(c.Nodes))
	for i, n := range c.Nodes {
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("nodes[%d].name must be set", i)
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = struct{}{}

		switch n.Type {
		case NodeTypeQuery:
		case NodeTypeIngest:
			if strings.TrimSpace(n.Table) == "" {
				return fmt.Errorf("node %q: ingest nodes need a table", n.Name)
			}
		default:
			return fmt.Errorf("node %q: unknown type %q", n.Name, n.Type)
		}

		cluster := c.NodeCluster(n)
		if cluster == "" {
			return fmt.Errorf("node %q: no cluster set and no default_cluster configured", n.Name)
		}
		if _, ok := c.Clusters[cluster]; !ok {
			return fmt.Errorf("node %q: cluster %q is not defined", n.Name, cluster)
		}
	}

	for _, job := range c.ScheduleJobs {
		if _, ok := seen[job.Node]; !ok {
			return fmt.Errorf("schedule job %q: node %q is not defined", job.Name, job.Node)
		}
	}

	srv := c.Server
	if (srv.TLSCertFile == "") != (srv.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if srv.ClientCAFile != "" && srv.TLSCertFile == "" {
		return fmt.Errorf("server.client_ca_file requires server TLS to be configured")
	}

	return nil
}
