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

// Package instruction renders agent prompt templates.
//
// Prompts may contain placeholders that are resolved when an agent is
// resolved:
//
//	{agent}        - the agent's name
//	{description}  - the agent's description
//	{date}         - the current date (2006-01-02)
//	{time}         - the current time (15:04)
//	{variable?}    - optional, empty string if not set
//
// Required placeholders that are not set are an error. Text in braces that
// is not an identifier, such as JSON in a prompt, is left as-is.
//
//	out, err := instruction.Render("You are {agent}. Today is {date}.", vars)
package instruction
