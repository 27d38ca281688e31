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

package memory

import (
	"sync"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// tokenLimited keeps the most recent messages whose total estimated cost
// fits the limit. Eviction removes whole messages, oldest first, and
// always leaves the newest message in place.
type tokenLimited struct {
	mu        sync.RWMutex
	limit     int
	estimator Estimator
	messages  []domain.Message
	costs     []int
	total     int
}

// NewTokenLimited creates a token-budgeted strategy. A nil estimator
// means DefaultEstimator.
func NewTokenLimited(limit int, estimator Estimator) Strategy {
	if estimator == nil {
		estimator = DefaultEstimator()
	}
	return &tokenLimited{limit: limit, estimator: estimator}
}

func (t *tokenLimited) Name() string { return TypeToken }

func (t *tokenLimited) Add(msg domain.Message) {
	cost := t.estimator.Estimate(msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	t.costs = append(t.costs, cost)
	t.total += cost
	t.evict()
}

// evict drops the oldest messages until the budget holds or one remains.
func (t *tokenLimited) evict() {
	n := 0
	for t.total > t.limit && len(t.messages)-n > 1 {
		t.total -= t.costs[n]
		n++
	}
	if n > 0 {
		t.messages = cloneMessages(t.messages[n:])
		t.costs = append([]int(nil), t.costs[n:]...)
	}
}

func (t *tokenLimited) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMessages(t.messages)
}

func (t *tokenLimited) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Tokens returns the estimated cost of the visible messages.
func (t *tokenLimited) Tokens() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

func (t *tokenLimited) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages, t.costs, t.total = nil, nil, 0
}

func (t *tokenLimited) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return snapshotOf(nil, t.messages)
}

func (t *tokenLimited) Restore(s Snapshot) {
	costs := make([]int, len(s.messages))
	total := 0
	for i, msg := range s.messages {
		costs[i] = t.estimator.Estimate(msg)
		total += costs[i]
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = cloneMessages(s.messages)
	t.costs = costs
	t.total = total
}

// Tokens reports the estimated token cost of s when it is token-limited.
func Tokens(s Strategy) (int, bool) {
	t, ok := s.(*tokenLimited)
	if !ok {
		return 0, false
	}
	return t.Tokens(), true
}
