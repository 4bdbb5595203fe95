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
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pgedge/crateflow/pkg/config"
)

// SQLPath is the CrateDB HTTP endpoint that accepts statements.
const SQLPath = "_sql"

// Endpoint is a resolved cluster address plus the credentials to use with it.
type Endpoint struct {
	URL      *url.URL
	User     string
	Password string
	Schema   string
}

// SQLURL returns the full URL of the _sql endpoint.
func (e *Endpoint) SQLURL() string {
	u := *e.URL
	p := u.Path
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	u.Path = p + SQLPath
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

// Hostname returns the host without port.
func (e *Endpoint) Hostname() string {
	return e.URL.Hostname()
}

// Port returns the explicit port of the endpoint, or 0 when none is set.
func (e *Endpoint) Port() int {
	p, err := strconv.Atoi(e.URL.Port())
	if err != nil {
		return 0
	}
	return p
}

func (e *Endpoint) HasCredentials() bool {
	return e.User != ""
}

// ResolveEndpoint turns a cluster definition into an endpoint. Hosts without
// an http or https scheme get one from UseTLS; a configured port replaces any
// port already present in the host.
func ResolveEndpoint(cl config.ClusterConfig) (*Endpoint, error) {
	host := strings.TrimSpace(cl.Host)
	if host == "" {
		return nil, fmt.Errorf("cluster host is empty")
	}

	scheme := "http"
	if cl.UseTLS {
		scheme = "https"
	}

	u, err := url.Parse(host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		u, err = url.Parse(scheme + "://" + host)
		if err != nil {
			return nil, fmt.Errorf("invalid cluster host %q: %w", cl.Host, err)
		}
	}

	if cl.Port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(cl.Port))
	}

	ep := &Endpoint{
		URL:    u,
		Schema: strings.TrimSpace(cl.Schema),
	}
	if cl.User != "" {
		ep.User = cl.User
		ep.Password = cl.Password
	}
	return ep, nil
}
