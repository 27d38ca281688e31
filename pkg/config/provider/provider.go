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

// Package provider defines the source abstraction for settings and agent
// definition files.
//
// Providers load raw bytes and signal changes so the runtime can reload
// definitions without restarting.
package provider

import (
	"context"
	"log/slog"
)

// Provider abstracts a watchable byte source.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Location identifies the source for logging.
	Location() string

	// Load reads raw bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch starts watching for changes and signals via the returned channel.
	// Cancel the context to stop watching; the channel is then closed.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Option configures a FileProvider.
type Option func(*FileProvider)

// WithLogger sets the logger used for watch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *FileProvider) {
		if l != nil {
			p.logger = l
		}
	}
}
