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

package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxParallelConnects bounds concurrent tool-server handshakes.
const maxParallelConnects = 8

// Connector opens a connection to the tool server a locator addresses.
type Connector func(ctx context.Context, loc Locator) (Toolset, error)

// Binder turns tool references into Tool handles.
//
// Remote toolsets are connected once per distinct server and cached until
// Close, so repeated resolutions (reloads) reuse live connections.
type Binder struct {
	local   *Registry
	connect Connector
	logger  *slog.Logger

	mu   sync.Mutex
	sets map[string]Toolset
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithBinderLogger sets the binder's logger.
func WithBinderLogger(l *slog.Logger) BinderOption {
	return func(b *Binder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBinder creates a binder over the local registry. connect may be nil
// when no remote references are expected.
func NewBinder(local *Registry, connect Connector, opts ...BinderOption) *Binder {
	if local == nil {
		local, _ = NewRegistry()
	}
	b := &Binder{
		local:   local,
		connect: connect,
		logger:  slog.Default(),
		sets:    make(map[string]Toolset),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Local returns the local tool registry.
func (b *Binder) Local() *Registry { return b.local }

// Connect establishes every remote connection refs need that is not
// already open. Handshakes run in parallel; the first failure is returned.
func (b *Binder) Connect(ctx context.Context, refs []string) error {
	pending := make(map[string]Locator)

	b.mu.Lock()
	for _, ref := range refs {
		if !IsRemote(ref) {
			continue
		}
		loc, err := ParseLocator(ref)
		if err != nil {
			b.mu.Unlock()
			return err
		}
		if _, ok := b.sets[loc.Key()]; !ok {
			pending[loc.Key()] = loc
		}
	}
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if b.connect == nil {
		return errors.New("remote tool references are not supported: no connector configured")
	}

	var (
		mu        sync.Mutex
		connected = make(map[string]Toolset, len(pending))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelConnects)
	for key, loc := range pending {
		g.Go(func() error {
			ts, err := b.connect(gctx, loc)
			if err != nil {
				return fmt.Errorf("connect %s: %w", loc.Raw, err)
			}
			mu.Lock()
			connected[key] = ts
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, ts := range connected {
		if err != nil {
			// Connections opened by a failed round are not kept.
			if cerr := ts.Close(); cerr != nil {
				b.logger.Warn("Failed to close tool server", "toolset", ts.Name(), "error", cerr)
			}
			continue
		}
		if existing, ok := b.sets[key]; ok {
			_ = ts.Close()
			ts = existing
		}
		b.sets[key] = ts
		b.logger.Debug("Connected tool server", "toolset", ts.Name())
	}
	return err
}

// Bind resolves refs to tools. Remote references must have been connected
// with Connect. Duplicate tool names are an error.
func (b *Binder) Bind(ctx context.Context, refs []string) ([]Tool, error) {
	var (
		out  []Tool
		seen = make(map[string]string)
	)
	add := func(ref string, t Tool) error {
		if prev, dup := seen[t.Name()]; dup {
			return fmt.Errorf("tool %q provided by both %q and %q", t.Name(), prev, ref)
		}
		seen[t.Name()] = ref
		out = append(out, t)
		return nil
	}

	for _, ref := range refs {
		if !IsRemote(ref) {
			t, ok := b.local.Get(ref)
			if !ok {
				return nil, fmt.Errorf("unknown tool %q (available: %v)", ref, b.local.Names())
			}
			if err := add(ref, t); err != nil {
				return nil, err
			}
			continue
		}

		loc, err := ParseLocator(ref)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		ts, ok := b.sets[loc.Key()]
		b.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("tool server %s is not connected", ref)
		}

		tools, err := ts.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools of %s: %w", ref, err)
		}
		if len(loc.Filter) > 0 {
			tools = Filter(tools, StringPredicate(loc.Filter))
			if len(tools) != len(loc.Filter) {
				return nil, fmt.Errorf("%s: some of %v are not served", ref, loc.Filter)
			}
		}
		for _, t := range tools {
			if err := add(ref, t); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Close closes every cached remote connection.
func (b *Binder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for key, ts := range b.sets {
		if err := ts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ts.Name(), err))
		}
		delete(b.sets, key)
	}
	return errors.Join(errs...)
}
