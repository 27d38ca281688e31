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

// Package agent resolves declarative agent and team definitions into
// blueprints and runs the instances spawned from them.
//
// # Definitions
//
// A definition source is a mapping of names to definitions, given as a
// YAML or JSON file path, a JSON string or a YAML string:
//
//	echo:
//	  description: Repeats the user
//	  prompt: You repeat the user's words.
//	  context:
//	    type: buffered
//	    buffer_size: 10
//	  tools: [today, "mcp:uvx mcp-server-time"]
//
//	research_team:
//	  type: team
//	  team_type: selector
//	  agents: [echo, critic]
//	  max_rounds: 5
//
// Each entry is decoded strictly into a Definition, a tagged union of
// AgentSpec and TeamSpec. Unknown fields, fields of the other kind and
// invalid values are validation errors.
//
// # Resolution
//
// Resolver checks the whole definition set before building anything:
// team members must exist and team membership must be acyclic. Agents are
// then resolved (prompt rendered, model selected, tools bound) and teams
// are built over their resolved members, members first.
//
// # Instances
//
// A Blueprint is immutable and shared. Spawn creates a Participant with
// its own context window; sessions drive participants turn by turn.
package agent
