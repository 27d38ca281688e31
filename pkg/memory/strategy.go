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

// Package memory implements the context window strategies that decide
// which prior messages an agent's model sees on each call.
//
// Four strategies are available:
//   - unbounded: every message is kept
//   - buffered: the most recent buffer_size messages
//   - token: the most recent messages whose estimated cost fits token_limit
//   - head_tail: the first head_size messages plus the last tail_size
//
// Strategies store messages by value and never edit them. Each agent
// instance owns its own strategy; none is shared between instances.
package memory

import (
	"sync"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// Strategy type names as they appear in definitions.
const (
	TypeUnbounded = "unbounded"
	TypeBuffered  = "buffered"
	TypeToken     = "token"
	TypeHeadTail  = "head_tail"
)

// Strategy is a context window over an agent's conversation.
type Strategy interface {
	// Name returns the strategy type.
	Name() string

	// Add appends msg, evicting older messages as the policy requires.
	Add(msg domain.Message)

	// Messages returns the visible sequence, oldest first. The slice is a
	// copy owned by the caller.
	Messages() []domain.Message

	// Len returns the number of visible messages.
	Len() int

	// Clear removes every message, including retained head messages.
	Clear()

	// Snapshot captures the current state.
	Snapshot() Snapshot

	// Restore returns the strategy to a state captured by Snapshot.
	Restore(s Snapshot)
}

// Snapshot is an opaque copy of a strategy's state.
type Snapshot struct {
	head     []domain.Message
	messages []domain.Message
}

func snapshotOf(head, messages []domain.Message) Snapshot {
	return Snapshot{
		head:     cloneMessages(head),
		messages: cloneMessages(messages),
	}
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	if len(msgs) == 0 {
		return nil
	}
	return append([]domain.Message(nil), msgs...)
}

// unbounded keeps every message.
type unbounded struct {
	mu       sync.RWMutex
	messages []domain.Message
}

// NewUnbounded creates a strategy that never evicts.
func NewUnbounded() Strategy {
	return &unbounded{}
}

func (u *unbounded) Name() string { return TypeUnbounded }

func (u *unbounded) Add(msg domain.Message) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messages = append(u.messages, msg)
}

func (u *unbounded) Messages() []domain.Message {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return cloneMessages(u.messages)
}

func (u *unbounded) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.messages)
}

func (u *unbounded) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messages = nil
}

func (u *unbounded) Snapshot() Snapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return snapshotOf(nil, u.messages)
}

func (u *unbounded) Restore(s Snapshot) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messages = cloneMessages(s.messages)
}

// buffered keeps the most recent size messages.
type buffered struct {
	mu       sync.RWMutex
	size     int
	messages []domain.Message
}

// NewBuffered creates a strategy retaining the last size messages.
// size must be positive.
func NewBuffered(size int) Strategy {
	return &buffered{size: size}
}

func (b *buffered) Name() string { return TypeBuffered }

func (b *buffered) Add(msg domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	if over := len(b.messages) - b.size; over > 0 {
		b.messages = cloneMessages(b.messages[over:])
	}
}

func (b *buffered) Messages() []domain.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneMessages(b.messages)
}

func (b *buffered) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

func (b *buffered) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

func (b *buffered) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshotOf(nil, b.messages)
}

func (b *buffered) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = cloneMessages(s.messages)
}

// headTail keeps the first headSize messages ever added and the last
// tailSize of the rest.
type headTail struct {
	mu       sync.RWMutex
	headSize int
	tailSize int
	head     []domain.Message
	tail     []domain.Message
}

// NewHeadTail creates a head/tail strategy. headSize may be zero;
// tailSize must be positive.
func NewHeadTail(headSize, tailSize int) Strategy {
	return &headTail{headSize: headSize, tailSize: tailSize}
}

func (h *headTail) Name() string { return TypeHeadTail }

func (h *headTail) Add(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.head) < h.headSize {
		h.head = append(h.head, msg)
		return
	}
	h.tail = append(h.tail, msg)
	if over := len(h.tail) - h.tailSize; over > 0 {
		h.tail = cloneMessages(h.tail[over:])
	}
}

func (h *headTail) Messages() []domain.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Message, 0, len(h.head)+len(h.tail))
	out = append(out, h.head...)
	return append(out, h.tail...)
}

func (h *headTail) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.head) + len(h.tail)
}

func (h *headTail) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head, h.tail = nil, nil
}

func (h *headTail) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return snapshotOf(h.head, h.tail)
}

func (h *headTail) Restore(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = cloneMessages(s.head)
	h.tail = cloneMessages(s.messages)
}
