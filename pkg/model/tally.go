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

package model

import "sync"

// Tally accumulates usage and cost across the model calls of one turn.
// A team turn may involve several models, each priced separately.
type Tally struct {
	mu    sync.Mutex
	usage Usage
	cost  float64
	calls int
}

// Record adds one call's usage priced with p.
func (t *Tally) Record(p Pricing, u *Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if u == nil {
		return
	}
	t.usage.Add(u)
	t.cost += p.Cost(u)
}

// Usage returns the accumulated usage.
func (t *Tally) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Cost returns the accumulated cost in USD.
func (t *Tally) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

// Calls returns the number of recorded calls.
func (t *Tally) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
