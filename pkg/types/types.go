package types

import (
	"encoding/json"

	"github.com/pgedge/crateflow/pkg/crate"
)

// Message is the unit passed into and out of a node.
type Message struct {
	Topic   string       `json:"topic,omitempty"`
	Payload any          `json:"payload"`
	Records *RecordStats `json:"records,omitempty"`
	Error   *crate.Error `json:"error,omitempty"`
}

// RecordStats summarises an ingest: how many rows CrateDB reported on, and how
// many of them failed.
type RecordStats struct {
	Total  int `json:"total"`
	Errors int `json:"errors"`
}

// WireMessage is a Message as received over JSON, with the payload left raw
// so that it can be decoded with key order intact.
type WireMessage struct {
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type NodeInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Cluster    string `json:"cluster"`
	Table      string `json:"table,omitempty"`
	MapColumns bool   `json:"map_columns,omitempty"`
}
