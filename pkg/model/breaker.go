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

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kadirpekel/mchat/pkg/config"
)

// ErrCircuitOpen is returned while a model's circuit breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

const breakerInterval = 60 * time.Second

type breakerLLM struct {
	LLM
	cb *gobreaker.CircuitBreaker[*Response]
}

// WithCircuitBreaker wraps llm so that consecutive failures open a circuit
// and later calls fail fast until the open timeout elapses.
//
// The breaker observes the first response of each call: for non-streaming
// calls that is the whole response, for streaming calls the stream
// initiation. Errors after the first chunk do not trip it. Cancellation
// never counts as a failure.
func WithCircuitBreaker(llm LLM, cfg config.CircuitBreakerConfig, logger *slog.Logger) LLM {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "llm:" + llm.Name(),
		MaxRequests: 1,
		Interval:    breakerInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &breakerLLM{LLM: llm, cb: cb}
}

func (b *breakerLLM) GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		next, stop := iter.Pull2(b.LLM.GenerateContent(ctx, req, stream))
		defer stop()

		first, err := b.cb.Execute(func() (*Response, error) {
			resp, err, ok := next()
			if !ok {
				return nil, ErrNoResponse
			}
			return resp, err
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = fmt.Errorf("model %q: %w: %w", b.Name(), ErrCircuitOpen, err)
			}
			yield(nil, err)
			return
		}
		if !yield(first, nil) {
			return
		}
		for {
			resp, err, ok := next()
			if !ok {
				return
			}
			if !yield(resp, err) || err != nil {
				return
			}
		}
	}
}
