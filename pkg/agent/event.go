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

package agent

import (
	"github.com/kadirpekel/mchat/pkg/domain"
)

// EventKind identifies what an Event carries.
type EventKind string

const (
	// EventToken carries a streamed text delta.
	EventToken EventKind = "token"

	// EventMessage carries a completed message added to the transcript.
	EventMessage EventKind = "message"

	// EventToolCall carries a tool call about to run.
	EventToolCall EventKind = "tool_call"

	// EventToolResult carries the result of a tool call.
	EventToolResult EventKind = "tool_result"

	// EventSpeaker announces the team member about to speak.
	EventSpeaker EventKind = "speaker"
)

// Event is delivered to the Callback while a turn runs.
type Event struct {
	Kind  EventKind
	Agent string

	// Delta is set for EventToken.
	Delta string

	// Message is set for EventMessage and EventToolResult.
	Message *domain.Message

	// ToolCall is set for EventToolCall.
	ToolCall *domain.ToolCall
}

// Callback receives events. It is called from the goroutine running the
// turn and should not block.
type Callback func(Event)

func (cb Callback) emit(e Event) {
	if cb != nil {
		cb(e)
	}
}
