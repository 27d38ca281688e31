// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package instruction

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
)

// Built-in variable names.
const (
	VarAgent       = "agent"
	VarDescription = "description"
	VarDate        = "date"
	VarTime        = "time"
)

// placeholderRegex matches {variable}, {variable?} and brace runs around
// them. Doubled braces escape a placeholder: {{word}} renders as {word}.
var placeholderRegex = regexp.MustCompile(`{+[^{}]*}+`)

// Vars maps placeholder names to values.
type Vars map[string]string

// AgentVars returns the built-in variables for an agent at now.
func AgentVars(name, description string, now time.Time) Vars {
	return Vars{
		VarAgent:       name,
		VarDescription: description,
		VarDate:        now.Format(time.DateOnly),
		VarTime:        now.Format("15:04"),
	}
}

// Merge returns a copy of v with other's entries added, other winning.
func (v Vars) Merge(other Vars) Vars {
	out := maps.Clone(v)
	if out == nil {
		out = Vars{}
	}
	maps.Copy(out, other)
	return out
}

// Template is a parsed prompt template.
type Template struct {
	raw string
}

// New creates a template.
func New(template string) *Template {
	return &Template{raw: template}
}

// Raw returns the template text.
func (t *Template) Raw() string {
	return t.raw
}

// Render resolves the template's placeholders from vars.
func (t *Template) Render(vars Vars) (string, error) {
	return Render(t.raw, vars)
}

// Render resolves all placeholders in template from vars.
func Render(template string, vars Vars) (string, error) {
	if template == "" {
		return "", nil
	}

	var result strings.Builder
	lastIndex := 0
	for _, m := range placeholderRegex.FindAllStringIndex(template, -1) {
		start, end := m[0], m[1]
		result.WriteString(template[lastIndex:start])

		replacement, err := replaceMatch(template[start:end], vars)
		if err != nil {
			return "", err
		}
		result.WriteString(replacement)
		lastIndex = end
	}
	result.WriteString(template[lastIndex:])
	return result.String(), nil
}

func replaceMatch(match string, vars Vars) (string, error) {
	if literal, ok := unescape(match); ok {
		return literal, nil
	}
	name := strings.TrimSpace(strings.Trim(match, "{}"))

	optional := false
	if trimmed, ok := strings.CutSuffix(name, "?"); ok {
		optional = true
		name = trimmed
	}

	if !isIdentifier(name) {
		return match, nil
	}

	value, ok := vars[name]
	if !ok {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("prompt variable %q is not set", name)
	}
	return value, nil
}

// unescape strips one brace from each side of a match wrapped in doubled
// braces.
func unescape(match string) (string, bool) {
	if strings.HasPrefix(match, "{{") && strings.HasSuffix(match, "}}") {
		return match[1 : len(match)-1], true
	}
	return "", false
}

// isIdentifier reports whether s is a letter or underscore followed by
// letters, digits or underscores.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
		} else if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Placeholders returns the distinct placeholder names in template, in
// order of first appearance.
func Placeholders(template string) []string {
	var names []string
	for _, match := range placeholderRegex.FindAllString(template, -1) {
		if _, ok := unescape(match); ok {
			continue
		}
		name := strings.TrimSuffix(strings.TrimSpace(strings.Trim(match, "{}")), "?")
		if isIdentifier(name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}
