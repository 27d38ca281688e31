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
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/observability"
)

// TerminateKeyword ends a team turn when it appears in a member's reply.
const TerminateKeyword = "TERMINATE"

// selectorHistory is how many thread messages the selector model sees.
const selectorHistory = 10

type teamInstance struct {
	bp      *Blueprint
	thread  memory.Strategy
	members []Participant

	mu     sync.Mutex
	cursor int
	last   int
}

func (t *teamInstance) Name() string { return t.bp.Name }

func (t *teamInstance) Blueprint() *Blueprint { return t.bp }

func (t *teamInstance) Memory() memory.Strategy { return t.thread }

// Observe adds msg to the thread and to every member.
func (t *teamInstance) Observe(msg domain.Message) {
	t.thread.Add(msg)
	for _, m := range t.members {
		m.Observe(msg)
	}
}

func (t *teamInstance) Clear() {
	t.thread.Clear()
	for _, m := range t.members {
		m.Clear()
	}
	t.mu.Lock()
	t.cursor, t.last = 0, -1
	t.mu.Unlock()
}

func (t *teamInstance) Snapshot() Snapshot {
	t.mu.Lock()
	s := Snapshot{memory: t.thread.Snapshot(), cursor: t.cursor, last: t.last}
	t.mu.Unlock()
	for _, m := range t.members {
		s.members = append(s.members, m.Snapshot())
	}
	return s
}

func (t *teamInstance) Restore(s Snapshot) {
	t.thread.Restore(s.memory)
	for i, m := range t.members {
		if i < len(s.members) {
			m.Restore(s.members[i])
		}
	}
	t.mu.Lock()
	t.cursor, t.last = s.cursor, s.last
	t.mu.Unlock()
}

// Run lets members speak in turn until one says TERMINATE or MaxRounds
// replies were given. Each reply is shared with the thread and the other
// members.
func (t *teamInstance) Run(ctx context.Context, rc *RunConfig) (out *Outcome, err error) {
	rc = rc.withDefaults()
	maxRounds := t.bp.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultTeamMaxRounds
	}

	var produced []domain.Message
	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		idx, err := t.nextSpeaker(ctx, rc)
		if err != nil {
			return nil, err
		}
		speaker := t.members[idx]
		rc.Callback.emit(Event{Kind: EventSpeaker, Agent: speaker.Name()})

		rctx, span := rc.Recorder.StartSpan(ctx, observability.SpanTeamRound,
			attribute.String(observability.AttrAgentName, speaker.Name()),
			attribute.Int(observability.AttrRound, round),
		)
		res, err := speaker.Run(rctx, rc)
		observability.EndSpan(span, err)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", speaker.Name(), err)
		}
		produced = append(produced, res.Messages...)
		if len(res.Messages) == 0 {
			continue
		}

		reply := res.Messages[len(res.Messages)-1]
		t.thread.Add(reply)
		for i, m := range t.members {
			if i != idx {
				m.Observe(reply)
			}
		}
		if strings.Contains(reply.Content, TerminateKeyword) {
			return &Outcome{Messages: produced, StopReason: StopTerminated}, nil
		}
	}
	return &Outcome{Messages: produced, StopReason: StopMaxRounds}, nil
}

// nextSpeaker returns the index of the member to speak next. Round robin
// teams rotate; selector teams ask their model, excluding the previous
// speaker, and rotate when the reply names nobody.
func (t *teamInstance) nextSpeaker(ctx context.Context, rc *RunConfig) (int, error) {
	n := len(t.members)
	t.mu.Lock()
	idx, last := t.cursor%n, t.last
	t.mu.Unlock()

	if t.bp.TeamType == TeamSelector && n > 1 {
		candidates := make([]int, 0, n-1)
		for i := range n {
			if i != last {
				candidates = append(candidates, i)
			}
		}
		picked, err := t.selectSpeaker(ctx, rc, candidates)
		if err != nil {
			return 0, err
		}
		if picked >= 0 {
			idx = picked
		} else {
			rc.Logger.Debug("Selector named no member, rotating", "team", t.bp.Name)
		}
	}

	t.mu.Lock()
	t.cursor, t.last = (idx+1)%n, idx
	t.mu.Unlock()
	return idx, nil
}

// selectSpeaker asks the team model to name the next speaker among
// candidates. It returns -1 when the reply names none of them.
func (t *teamInstance) selectSpeaker(ctx context.Context, rc *RunConfig, candidates []int) (int, error) {
	var roster, names []string
	for _, i := range candidates {
		bp := t.members[i].Blueprint()
		roster = append(roster, fmt.Sprintf("%s: %s", bp.Name, bp.Description()))
		names = append(names, bp.Name)
	}

	history := t.thread.Messages()
	if len(history) > selectorHistory {
		history = history[len(history)-selectorHistory:]
	}
	var transcript []string
	for _, m := range history {
		transcript = append(transcript, fmt.Sprintf("%s: %s", m.Source, m.Content))
	}

	prompt := fmt.Sprintf(`You are in a role play game. The following roles are available:
%s

Read the following conversation. Then select the next role from [%s] to play. Only return the role.

%s`, strings.Join(roster, "\n"), strings.Join(names, ", "), strings.Join(transcript, "\n"))

	entry := t.bp.Model
	req := &model.Request{
		Messages: []domain.Message{domain.NewUserMessage(prompt)},
		Config:   t.bp.generateConfig(),
	}

	start := time.Now()
	resp, err := model.Collect(t.bp.LLM.GenerateContent(ctx, req, false), nil)
	call := observability.LLMCall{Model: entry.ID, Duration: time.Since(start), Err: err}
	if err == nil && resp.Usage != nil {
		rc.Tally.Record(entry.Pricing, resp.Usage)
		call.InputTokens = resp.Usage.PromptTokens
		call.OutputTokens = resp.Usage.CompletionTokens
		call.Cost = entry.Pricing.Cost(resp.Usage)
	}
	rc.Recorder.RecordLLMCall(ctx, call)
	if err != nil {
		return 0, fmt.Errorf("select speaker with %s: %w", entry.ID, err)
	}

	return matchSpeaker(resp.Text, names, candidates), nil
}

// matchSpeaker finds the member named in reply: an exact match first,
// then the longest name mentioned.
func matchSpeaker(reply string, names []string, candidates []int) int {
	reply = strings.Trim(strings.TrimSpace(reply), "\"'`.")
	if i := slices.Index(names, reply); i >= 0 {
		return candidates[i]
	}

	best, bestLen := -1, 0
	for i, name := range names {
		if strings.Contains(reply, name) && len(name) > bestLen {
			best, bestLen = candidates[i], len(name)
		}
	}
	return best
}
