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

package crate

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
)

// maxErrorBody bounds how much of a non-JSON error response is kept.
const maxErrorBody = 4096

// HTTPClient executes statements through the CrateDB HTTP endpoint.
type HTTPClient struct {
	endpoint *Endpoint
	sqlURL   string
	client   *http.Client
}

// NewHTTPClient builds a client for the given cluster.
func NewHTTPClient(cl config.ClusterConfig) (*HTTPClient, error) {
	ep, err := ResolveEndpoint(cl)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cl.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := time.Duration(cl.Timeout) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultTimeout * time.Second
	}

	return NewHTTPClientWith(ep, &http.Client{Transport: transport, Timeout: timeout}), nil
}

// NewHTTPClientWith uses an existing endpoint and http.Client.
func NewHTTPClientWith(ep *Endpoint, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{
		endpoint: ep,
		sqlURL:   ep.SQLURL(),
		client:   hc,
	}
}

// URL returns the _sql URL the client posts to.
func (c *HTTPClient) URL() string {
	return c.sqlURL
}

func (c *HTTPClient) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.Stmt == "" {
		return nil, fmt.Errorf("statement is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.endpoint.HasCredentials() {
		httpReq.SetBasicAuth(c.endpoint.User, c.endpoint.Password)
	}
	if c.endpoint.Schema != "" {
		httpReq.Header.Set("Default-Schema", c.endpoint.Schema)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", c.sqlURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	logger.Debug("POST %s -> %d in %s", c.sqlURL, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, data)
	}

	out := &Response{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func decodeError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != nil {
		return &Error{
			Message: body.Error.Message,
			Code:    body.Error.Code,
			Trace:   body.ErrorTrace,
			Status:  status,
		}
	}

	msg := string(bytes.TrimSpace(data))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("unexpected HTTP status %d: %s", status, msg)
}
