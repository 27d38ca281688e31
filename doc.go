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

// Package mchat orchestrates conversations with LLM agents and teams.
//
// Agents and teams are declared in JSON or YAML, either inline or in
// definition files, and resolved against a registry of model endpoints:
//
//	agents:
//	  default:
//	    description: General assistant
//	    prompt: You are a helpful assistant.
//	  research:
//	    type: team
//	    team_type: round_robin
//	    agents: [searcher, writer]
//
// A runtime.Runtime loads the definitions; each conversation is a
// session.Session created with Runtime.NewConversation:
//
//	rt, err := runtime.New(ctx, settings, runtime.WithAgentPaths("agents.yaml"))
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	conv, err := rt.NewConversation(ctx, "default", false)
//	if err != nil {
//	    return err
//	}
//	result, err := conv.Ask(ctx, "Hello")
//
// The cmd/mchat binary wraps the same API in an interactive terminal
// client.
package mchat
