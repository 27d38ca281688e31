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

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// Load reads a settings file (YAML or JSON), expands environment
// references, decodes it strictly, applies defaults and validates it.
// Relative agent_paths are resolved against the file's directory.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.ConfigError{Op: "load settings", Err: err}
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i, p := range s.AgentPaths {
		if !filepath.IsAbs(p) {
			s.AgentPaths[i] = filepath.Join(dir, p)
		}
	}
	return s, nil
}

// Parse decodes settings from YAML or JSON bytes.
func Parse(data []byte) (*Settings, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, &domain.ConfigError{Op: "parse settings", Err: err}
	}

	s := &Settings{}
	if err := DecodeStrict(ExpandEnvInData(raw), s); err != nil {
		return nil, &domain.ConfigError{Op: "decode settings", Err: err}
	}

	s.SetDefaults()
	if err := s.Validate(); err != nil {
		return nil, &domain.ConfigError{Op: "validate settings", Err: err}
	}
	return s, nil
}

func decodeRaw(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return raw, nil
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if err := CheckJSONKeys(trimmed); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return raw, nil
	}
	if err := yaml.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return raw, nil
}

// CheckJSONKeys rejects objects that repeat a key. encoding/json keeps the
// last value silently, while the YAML decoder refuses duplicates.
func CheckJSONKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	var walk func() error
	walk = func() error {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			return nil
		}
		switch delim {
		case '{':
			seen := make(map[string]bool)
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, _ := keyTok.(string)
				if seen[key] {
					return fmt.Errorf("mapping key %q already defined", key)
				}
				seen[key] = true
				if err := walk(); err != nil {
					return err
				}
			}
		case '[':
			for dec.More() {
				if err := walk(); err != nil {
					return err
				}
			}
		}
		_, err = dec.Token()
		return err
	}
	return walk()
}

// DecodeStrict decodes input into out using yaml tags. Unknown keys and
// type mismatches are errors.
func DecodeStrict(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		TagName:          "yaml",
		WeaklyTypedInput: false,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			wholeNumberHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(input)
}

// wholeNumberHookFunc rejects fractional numbers bound for integer fields.
// JSON numbers arrive as float64 and would otherwise be truncated.
func wholeNumberHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.Float32 && f.Kind() != reflect.Float64 {
			return data, nil
		}
		switch t.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return data, nil
		}
		v := reflect.ValueOf(data).Float()
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("expected a whole number, got %v", v)
		}
		return data, nil
	}
}
