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

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SourceUser is the source recorded on messages typed by the human.
const SourceUser = "user"

// ToolCall is a tool invocation requested by a model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is one entry of a conversation transcript.
// Messages are values: context strategies store copies and never edit them.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Source     string     `json:"source"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newMessage(role Role, source, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Source:    source,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a message typed by the human.
func NewUserMessage(content string) Message {
	return newMessage(RoleUser, SourceUser, content)
}

// NewAssistantMessage creates a reply produced by the named agent.
func NewAssistantMessage(source, content string) Message {
	return newMessage(RoleAssistant, source, content)
}

// NewToolCallMessage records the tool calls an agent asked for.
func NewToolCallMessage(source, content string, calls []ToolCall) Message {
	m := newMessage(RoleAssistant, source, content)
	m.ToolCalls = calls
	return m
}

// NewToolResultMessage records the output of one tool call.
func NewToolResultMessage(source string, callID, content string, isError bool) Message {
	m := newMessage(RoleTool, source, content)
	m.ToolCallID = callID
	m.IsError = isError
	return m
}

// HasToolCalls reports whether the message requests tool execution.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a copy that shares no slices or maps with m.
func (m Message) Clone() Message {
	if len(m.ToolCalls) == 0 {
		return m
	}
	calls := make([]ToolCall, len(m.ToolCalls))
	for i, c := range m.ToolCalls {
		calls[i] = c
		if c.Arguments != nil {
			args := make(map[string]any, len(c.Arguments))
			for k, v := range c.Arguments {
				args[k] = v
			}
			calls[i].Arguments = args
		}
	}
	m.ToolCalls = calls
	return m
}
