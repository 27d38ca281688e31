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
	"fmt"

	"github.com/kadirpekel/mchat/pkg/registry"
)

// Registry holds the local tools agent definitions can reference by name.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
	for _, t := range tools {
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers t under its own name.
func (r *Registry) Add(t Tool) error {
	if err := r.Register(t.Name(), t); err != nil {
		return fmt.Errorf("tool: %w", err)
	}
	return nil
}
