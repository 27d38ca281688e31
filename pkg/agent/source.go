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

package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/domain"
)

// Definitions maps names to validated definitions.
type Definitions map[string]*Definition

// Names returns the definition names, sorted.
func (d Definitions) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

var sourceExtensions = []string{".yaml", ".yml", ".json"}

// ParseSource parses one definition source: a path to a YAML or JSON
// file, a JSON string or a YAML string.
func ParseSource(source string) (Definitions, error) {
	label, data, err := readSource(source)
	if err != nil {
		return nil, err
	}

	raw, err := decodeSource(label, data)
	if err != nil {
		return nil, err
	}
	return ParseMap(label, raw)
}

// ParseMap validates every entry of raw. origin names where raw came from
// in error messages.
func ParseMap(origin string, raw map[string]any) (Definitions, error) {
	if len(raw) == 0 {
		return nil, &domain.ValidationError{Source: origin, Message: "no definitions found"}
	}

	defs := make(Definitions, len(raw))
	for name, value := range raw {
		def, err := ParseDefinition(name, value)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) && ve.Source == "" {
				ve.Source = origin
			}
			return nil, err
		}
		def.Source = origin
		defs[name] = def
	}
	return defs, nil
}

// LoadSources parses every source and merges the results. A name defined
// by two sources is a validation error.
func LoadSources(sources []string) (Definitions, error) {
	merged := make(Definitions)
	for _, src := range sources {
		defs, err := ParseSource(src)
		if err != nil {
			return nil, err
		}
		if err := merged.Merge(defs); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// Merge adds other's definitions to d. Names already present are an error
// and leave d unchanged.
func (d Definitions) Merge(other Definitions) error {
	for _, name := range other.Names() {
		if prev, dup := d[name]; dup {
			return &domain.ValidationError{
				Source:  other[name].Source,
				Name:    name,
				Message: fmt.Sprintf("already defined in %s", prev.Source),
			}
		}
	}
	for name, def := range other {
		d[name] = def
	}
	return nil
}

// FilePaths returns the sources that name existing files.
func FilePaths(sources []string) []string {
	var paths []string
	for _, src := range sources {
		if isFile(src) {
			paths = append(paths, src)
		}
	}
	return paths
}

func isFile(source string) bool {
	if strings.ContainsAny(source, "\n{") {
		return false
	}
	info, err := os.Stat(source)
	return err == nil && info.Mode().IsRegular()
}

// readSource returns a label for source and its contents.
func readSource(source string) (string, []byte, error) {
	if isFile(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", nil, &domain.ValidationError{Source: source, Err: err}
		}
		return source, data, nil
	}

	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return "", nil, &domain.ValidationError{Message: "empty definition source"}
	}
	if !strings.Contains(trimmed, "\n") && slices.Contains(sourceExtensions, strings.ToLower(filepath.Ext(trimmed))) {
		return "", nil, &domain.ValidationError{Source: trimmed, Message: "definition file not found"}
	}
	if strings.HasPrefix(trimmed, "{") {
		return "inline JSON", []byte(trimmed), nil
	}
	return "inline YAML", []byte(source), nil
}

// decodeSource decodes JSON when the text is an object and YAML otherwise.
func decodeSource(label string, data []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(data))

	var raw any
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil, &domain.ValidationError{Source: label, Message: "invalid JSON", Err: err}
		}
		if err := config.CheckJSONKeys([]byte(trimmed)); err != nil {
			return nil, &domain.ValidationError{Source: label, Message: "invalid JSON", Err: err}
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &domain.ValidationError{Source: label, Message: "invalid YAML", Err: err}
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &domain.ValidationError{
			Source:  label,
			Message: fmt.Sprintf("expected a mapping of names to definitions, got %s", describeValue(raw)),
		}
	}
	return m, nil
}

func describeValue(v any) string {
	switch v.(type) {
	case nil:
		return "nothing"
	case string:
		return "text"
	case []any:
		return "a list"
	default:
		return fmt.Sprintf("%T", v)
	}
}
