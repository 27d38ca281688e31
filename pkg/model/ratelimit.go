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
	"fmt"
	"iter"

	"golang.org/x/time/rate"

	"github.com/kadirpekel/mchat/pkg/config"
)

type limitedLLM struct {
	LLM
	limiter *rate.Limiter
}

// WithRateLimit wraps llm so that calls wait for a token from a limiter
// refilled at cfg.RequestsPerMinute. Waiting honours ctx.
func WithRateLimit(llm LLM, cfg config.RateLimitConfig) LLM {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &limitedLLM{
		LLM:     llm,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst),
	}
}

func (l *limitedLLM) GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if err := l.limiter.Wait(ctx); err != nil {
			yield(nil, fmt.Errorf("model %q rate limit: %w", l.Name(), err))
			return
		}
		for resp, err := range l.LLM.GenerateContent(ctx, req, stream) {
			if !yield(resp, err) {
				return
			}
		}
	}
}
