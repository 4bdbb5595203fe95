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
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pgedge/crateflow/internal/nodes"
	"github.com/pgedge/crateflow/pkg/config"
	"github.com/pgedge/crateflow/pkg/logger"
	"github.com/pgedge/crateflow/pkg/taskstore"
)

const maxBodyBytes = 64 << 20

type APIServer struct {
	cfg        *config.Config
	registry   *nodes.Registry
	server     *http.Server
	validator  *certValidator
	taskStore  *taskstore.Store
	ownsStore  bool
	listenAddr string
	useTLS     bool
}

// New builds the API server over registry. Tasks are recorded in store; when
// it is nil the store at server.taskstore_path is opened here and closed when
// Run returns.
func New(cfg *config.Config, registry *nodes.Registry, store *taskstore.Store) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	if registry == nil {
		return nil, fmt.Errorf("node registry is required")
	}
	srvCfg := cfg.Server
	if srvCfg.ListenAddress == "" {
		srvCfg.ListenAddress = "0.0.0.0"
	}
	if srvCfg.ListenPort == 0 {
		return nil, fmt.Errorf("server.listen_port must be configured")
	}

	s := &APIServer{
		cfg:        cfg,
		registry:   registry,
		listenAddr: net.JoinHostPort(srvCfg.ListenAddress, fmt.Sprint(srvCfg.ListenPort)),
		useTLS:     srvCfg.TLSCertFile != "" && srvCfg.TLSKeyFile != "",
	}

	var tlsConfig *tls.Config
	if s.useTLS {
		tlsCert, err := tls.LoadX509KeyPair(srvCfg.TLSCertFile, srvCfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server TLS keypair: %w", err)
		}
		tlsConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{tlsCert},
		}
		if srvCfg.ClientCAFile != "" {
			validator, err := newCertValidator(srvCfg)
			if err != nil {
				return nil, err
			}
			s.validator = validator
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
			tlsConfig.ClientCAs = validator.clientCAPool
		}
	}

	if store == nil {
		var err error
		store, err = taskstore.New(srvCfg.TaskStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise task store: %w", err)
		}
		s.ownsStore = true
	}
	s.taskStore = store

	s.server = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return s, nil
}

// Handler returns the routed API with logging and, when configured, client
// certificate checks applied.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/nodes", s.authenticated(http.HandlerFunc(s.handleListNodes)))
	mux.Handle("/api/v1/nodes/", s.authenticated(http.HandlerFunc(s.handleNodeMessage)))
	mux.Handle("/api/v1/tasks/", s.authenticated(http.HandlerFunc(s.handleTaskStatus)))
	return loggingMiddleware(mux)
}

func (s *APIServer) Run(ctx context.Context) error {
	if s == nil || s.server == nil {
		return fmt.Errorf("api server is not initialized")
	}
	defer func() {
		if s.ownsStore && s.taskStore != nil {
			if err := s.taskStore.Close(); err != nil {
				logger.Warn("failed to close task store: %v", err)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.useTLS {
			logger.Info("API server listening on https://%s", s.listenAddr)
			err = s.server.ListenAndServeTLS("", "")
		} else {
			logger.Info("API server listening on http://%s", s.listenAddr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

type clientContextKey struct{}

func (s *APIServer) authenticated(next http.Handler) http.Handler {
	if s.validator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			writeError(w, http.StatusUnauthorized, "client certificate required")
			return
		}
		cn, err := s.validator.Validate(r.TLS.PeerCertificates[0])
		if err != nil {
			logger.Warn("client certificate validation failed: %v", err)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), clientContextKey{}, cn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientName(ctx context.Context) string {
	cn, _ := ctx.Value(clientContextKey{}).(string)
	return cn
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s completed in %s", r.Method, r.URL.Path, time.Since(start))
	})
}
