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

package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/config/provider"
)

// Watch reloads the agents whenever a definition file changes, until ctx
// is cancelled. Failed reloads are logged and keep the previous agents.
// onReload, when not nil, is called after every reload attempt.
//
// Watch returns once watching has started. Inline definitions have no
// files to watch; Watch then does nothing.
func (r *Runtime) Watch(ctx context.Context, onReload func(error)) error {
	paths := agent.FilePaths(r.sources)
	if r.inline != nil || len(paths) == 0 {
		r.logger.Debug("No definition files to watch")
		return nil
	}

	var (
		providers []*provider.FileProvider
		channels  []<-chan struct{}
	)
	closeAll := func() {
		for _, p := range providers {
			_ = p.Close()
		}
	}
	for _, path := range paths {
		p, err := provider.NewFileProvider(path, provider.WithLogger(r.logger))
		if err != nil {
			closeAll()
			return err
		}
		providers = append(providers, p)
		ch, err := p.Watch(ctx)
		if err != nil {
			closeAll()
			return err
		}
		channels = append(channels, ch)
	}

	changed := make(chan struct{}, 1)
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
				select {
				case changed <- struct{}{}:
				default:
				}
			}
		}()
	}

	go func() {
		defer closeAll()
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case <-changed:
				err := r.Reload(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					r.logger.Error("Reload failed, keeping previous agents", "error", err)
				}
				if onReload != nil {
					onReload(err)
				}
			}
		}
	}()

	r.logger.Info("Watching agent definitions", "files", paths)
	return nil
}
