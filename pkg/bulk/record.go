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

package bulk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is a field-name to value mapping that remembers the order in which
// its keys were first set. A nil value is an explicit null; a key that was
// never set is absent.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord builds a record from alternating key/value arguments.
// It panics if a key is not a string or the argument count is odd.
func NewRecord(kv ...any) *Record {
	if len(kv)%2 != 0 {
		panic("bulk.NewRecord: odd number of arguments")
	}
	r := &Record{values: make(map[string]any, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("bulk.NewRecord: key %v is %T, not string", kv[i], kv[i]))
		}
		r.Set(k, kv[i+1])
	}
	return r
}

// Set assigns v to key k. Re-setting an existing key keeps its position.
func (r *Record) Set(k string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.values[k] = v
}

// Get returns the value for k and whether k is present.
func (r *Record) Get(k string) (any, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.values[k]
	return v, ok
}

// Keys returns the record's keys in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Map returns an unordered copy of the record.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, r.Len())
	if r == nil {
		return out
	}
	for _, k := range r.keys {
		out[k] = r.values[k]
	}
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("bulk: record must be a JSON object, got %s", describeToken(tok))
	}

	r.keys = nil
	r.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("bulk: unexpected object key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("bulk: field %q: %w", key, err)
		}
		val, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("bulk: field %q: %w", key, err)
		}
		r.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return expectEOF(dec)
}

// DecodeItems turns a JSON payload into a batch. A top-level array yields one
// item per element; any other value yields a batch of one. Objects become
// *Record so that their key order survives; numbers stay json.Number.
func DecodeItems(data []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("bulk: empty payload")
	}
	if trimmed[0] != '[' {
		item, err := decodeItem(trimmed)
		if err != nil {
			return nil, err
		}
		return []any{item}, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("bulk: decode batch: %w", err)
	}
	items := make([]any, 0, len(raws))
	for i, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			return nil, fmt.Errorf("bulk: item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// DecodeItem decodes a single JSON value the same way DecodeItems decodes
// batch elements.
func DecodeItem(data []byte) (any, error) {
	return decodeItem(bytes.TrimSpace(data))
}

func decodeItem(raw []byte) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		rec := &Record{}
		if err := rec.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return rec, nil
	}
	return decodeValue(raw)
}

func decodeValue(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := expectEOF(dec); err != nil {
		return nil, err
	}
	return v, nil
}

// expectEOF fails when anything but whitespace follows the decoded value.
func expectEOF(dec *json.Decoder) error {
	_, err := dec.Token()
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return fmt.Errorf("bulk: unexpected data after JSON value: %w", err)
	default:
		return fmt.Errorf("bulk: unexpected data after JSON value at offset %d", dec.InputOffset())
	}
}

func describeToken(tok json.Token) string {
	switch v := tok.(type) {
	case json.Delim:
		return string(v)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
