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
	"strings"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// prepareHistory converts a context window into the messages sent to the
// model of agent self.
//
// Replies of other speakers become user messages prefixed with their
// name, and tool traffic that lost its counterpart to eviction is dropped
// since providers reject unmatched tool calls and results.
func prepareHistory(self string, window []domain.Message) []domain.Message {
	answered := make(map[string]bool)
	for _, m := range window {
		if m.Role == domain.RoleTool {
			answered[m.ToolCallID] = true
		}
	}

	announced := make(map[string]bool)
	out := make([]domain.Message, 0, len(window))
	for _, m := range window {
		switch {
		case m.Role == domain.RoleAssistant && m.Source != self:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			converted := domain.NewUserMessage(m.Source + ": " + m.Content)
			converted.ID, converted.Source, converted.CreatedAt = m.ID, m.Source, m.CreatedAt
			out = append(out, converted)

		case m.Role == domain.RoleAssistant && m.HasToolCalls():
			complete := true
			for _, tc := range m.ToolCalls {
				if !answered[tc.ID] {
					complete = false
					break
				}
			}
			if !complete {
				if strings.TrimSpace(m.Content) == "" {
					continue
				}
				m.ToolCalls = nil
				out = append(out, m)
				continue
			}
			for _, tc := range m.ToolCalls {
				announced[tc.ID] = true
			}
			out = append(out, m)

		case m.Role == domain.RoleTool:
			if m.Source != self || !announced[m.ToolCallID] {
				continue
			}
			out = append(out, m)

		default:
			out = append(out, m)
		}
	}
	return out
}
