// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/observability"
	"github.com/kadirpekel/mchat/pkg/runtime"
)

// environment is what every command that resolves agents needs.
type environment struct {
	settings *config.Settings
	logger   *slog.Logger
	obs      *observability.Manager
	rt       *runtime.Runtime
	cleanup  func()
}

func (e *environment) Close() {
	if e.rt != nil {
		if err := e.rt.Close(); err != nil {
			e.logger.Warn("Runtime cleanup failed", "error", err)
		}
	}
	if e.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.obs.Shutdown(ctx); err != nil {
			e.logger.Warn("Observability shutdown failed", "error", err)
		}
	}
	e.cleanup()
}

// setup loads settings, installs the logger and builds the runtime.
func setup(ctx context.Context, cli *CLI, callback agent.Callback) (*environment, error) {
	settings, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	l, cleanup, err := initLogger(cli, settings.Logger)
	if err != nil {
		return nil, err
	}
	env := &environment{settings: settings, logger: l, cleanup: cleanup}

	obs, err := observability.NewManager(ctx, settings.Observability)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.obs = obs

	opts := []runtime.Option{
		runtime.WithLogger(l),
		runtime.WithRecorder(obs),
		runtime.WithCallback(callback),
	}
	if len(cli.AgentPaths) > 0 {
		opts = append(opts, runtime.WithAgentPaths(cli.AgentPaths...))
	}
	rt, err := runtime.New(ctx, settings, opts...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.rt = rt
	return env, nil
}

// serveMetrics exposes Prometheus metrics on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, obs *observability.Manager, l *slog.Logger) error {
	handler := obs.MetricsHandler()
	if handler == nil {
		return errors.New("metrics are disabled in settings (observability.metrics.enabled)")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, obs.MetricsPath(), handler)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		l.Info("Serving metrics", "addr", addr, "path", obs.MetricsPath())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Metrics server failed", "error", err)
		}
	}()
	return nil
}
