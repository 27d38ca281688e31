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

// Package domain holds the types shared by every layer of mchat: the
// conversation message and the error taxonomy.
//
// Errors returned by the resolver, the model registry and sessions match
// the sentinels below through errors.Is. Most match exactly one. A model
// that cannot be found while resolving a definition is reported as a
// ValidationError wrapping the lookup failure, so it matches both
// ErrValidation and ErrNotFound.
//
//	ErrConfig          inconsistent construction inputs
//	ErrValidation      malformed or inconsistent definitions
//	ErrNotFound        unknown agent, team, model or role
//	ErrAsk             a conversation turn failed
//	ErrTurnInProgress  an ask was attempted while another was in flight
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfig         = errors.New("configuration error")
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrAsk            = errors.New("ask failed")
	ErrTurnInProgress = errors.New("a turn is already in progress")
)

// ConfigError reports construction inputs that contradict each other,
// such as inline agent definitions combined with definition paths.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError creates a ConfigError with a formatted message.
func NewConfigError(op, format string, args ...any) *ConfigError {
	return &ConfigError{Op: op, Err: fmt.Errorf(format, args...)}
}

// ValidationError reports a definition that cannot be resolved.
// Source, Name and Field narrow down where the problem is; any of them may be empty.
type ValidationError struct {
	Source  string
	Name    string
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation")
	if e.Source != "" {
		b.WriteString(": ")
		b.WriteString(e.Source)
	}
	if e.Name != "" {
		b.WriteString(": ")
		b.WriteString(e.Name)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
	} else if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid creates a ValidationError for the named definition.
func Invalid(name, field, format string, args ...any) *ValidationError {
	return &ValidationError{Name: name, Field: field, Message: fmt.Sprintf(format, args...)}
}

// LookupError reports an unknown agent, team, model or role.
type LookupError struct {
	Kind string
	Name string
	Msg  string
}

func (e *LookupError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *LookupError) Is(target error) bool { return target == ErrNotFound }

// NotFound creates a LookupError.
func NotFound(kind, name string) *LookupError {
	return &LookupError{Kind: kind, Name: name}
}

// AskError wraps the cause of a failed conversation turn.
type AskError struct {
	Agent string
	Err   error
}

func (e *AskError) Error() string {
	return fmt.Sprintf("ask %s: %v", e.Agent, e.Err)
}

func (e *AskError) Unwrap() error { return e.Err }

func (e *AskError) Is(target error) bool { return target == ErrAsk }
