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

package server

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pgedge/crateflow/pkg/config"
)

// certValidator checks client certificates once TLS has verified the chain:
// validity window, an allowed CN, and the revocation list if one is set.
type certValidator struct {
	clientCAPool   *x509.CertPool
	allowedCNs     map[string]struct{}
	revokedSerials map[string]struct{}
	hasCRL         bool
	nextUpdate     time.Time
}

func newCertValidator(srv config.ServerConfig) (*certValidator, error) {
	caPath := strings.TrimSpace(srv.ClientCAFile)
	if caPath == "" {
		return nil, fmt.Errorf("server.client_ca_file must be configured")
	}

	caPool, caCerts, err := loadCACerts(caPath)
	if err != nil {
		return nil, err
	}

	v := &certValidator{
		clientCAPool:   caPool,
		allowedCNs:     make(map[string]struct{}),
		revokedSerials: make(map[string]struct{}),
	}
	for _, cn := range srv.AllowedCNs {
		if trimmed := strings.TrimSpace(cn); trimmed != "" {
			v.allowedCNs[trimmed] = struct{}{}
		}
	}

	if crlPath := strings.TrimSpace(srv.ClientCRLFile); crlPath != "" {
		revoked, nextUpdate, err := loadCRL(crlPath, caCerts)
		if err != nil {
			return nil, err
		}
		v.hasCRL = true
		v.revokedSerials = revoked
		v.nextUpdate = nextUpdate
	}

	return v, nil
}

// Validate returns the certificate's CN when the client may call the API.
func (v *certValidator) Validate(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", fmt.Errorf("client certificate is missing")
	}
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return "", fmt.Errorf("client certificate not valid before %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return "", fmt.Errorf("client certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}

	cn := strings.TrimSpace(cert.Subject.CommonName)
	if cn == "" {
		return "", fmt.Errorf("client certificate is missing a common name (CN)")
	}
	if len(v.allowedCNs) > 0 {
		if _, ok := v.allowedCNs[cn]; !ok {
			return "", fmt.Errorf("client certificate CN %q is not allowed", cn)
		}
	}

	if v.hasCRL {
		if !v.nextUpdate.IsZero() && now.After(v.nextUpdate) {
			return "", fmt.Errorf("client CRL expired at %s", v.nextUpdate.Format(time.RFC3339))
		}
		serial := cert.SerialNumber.String()
		if _, revoked := v.revokedSerials[serial]; revoked {
			return "", fmt.Errorf("client certificate with serial %s has been revoked", serial)
		}
	}

	return cn, nil
}

func loadCACerts(path string) (*x509.CertPool, []*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read client CA file: %w", err)
	}

	pool := x509.NewCertPool()
	var certs []*x509.Certificate
	for rest := data; len(rest) > 0; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		pool.AddCert(cert)
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, nil, fmt.Errorf("no CA certificates found in %s", path)
	}
	return pool, certs, nil
}

func loadCRL(path string, caCerts []*x509.Certificate) (map[string]struct{}, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read client CRL file: %w", err)
	}

	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "X509 CRL" {
			return nil, time.Time{}, fmt.Errorf("expected X509 CRL block, found %s", block.Type)
		}
		der = block.Bytes
	}

	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse CRL: %w", err)
	}

	verified := false
	for _, ca := range caCerts {
		if crl.CheckSignatureFrom(ca) == nil {
			verified = true
			break
		}
	}
	if !verified {
		return nil, time.Time{}, fmt.Errorf("unable to verify CRL signature with configured CA certificates")
	}

	revoked := make(map[string]struct{}, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber != nil {
			revoked[entry.SerialNumber.String()] = struct{}{}
		}
	}
	return revoked, crl.NextUpdate, nil
}
