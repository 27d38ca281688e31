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
	"errors"
	"iter"
	"strings"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// StreamingAggregator aggregates partial streaming responses.
//
// It accumulates content from provider chunks and generates:
//   - Partial responses for real-time display (Partial=true)
//   - The aggregated response for the conversation context (Partial=false)
//
// Usage:
//
//	agg := NewStreamingAggregator()
//	for chunk := range stream {
//	    for resp, err := range agg.ProcessTextDelta(chunk.Text) {
//	        if !yield(resp, err) {
//	            return
//	        }
//	    }
//	}
//	yield(agg.Close(), nil)
type StreamingAggregator struct {
	text         strings.Builder
	toolCalls    []domain.ToolCall
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator creates a new streaming aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{}
}

// ProcessTextDelta accumulates a text delta and yields it as a partial response.
func (s *StreamingAggregator) ProcessTextDelta(text string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if text == "" {
			return
		}
		s.text.WriteString(text)
		yield(&Response{Text: text, Partial: true}, nil)
	}
}

// ProcessToolCall records a complete tool call. Tool calls are not yielded
// as partials; they appear on the aggregated response.
func (s *StreamingAggregator) ProcessToolCall(tc domain.ToolCall) {
	s.toolCalls = append(s.toolCalls, tc)
}

// SetUsage sets the usage statistics (typically from the final chunk).
func (s *StreamingAggregator) SetUsage(usage *Usage) {
	s.usage = usage
}

// SetFinishReason sets the finish reason.
func (s *StreamingAggregator) SetFinishReason(reason FinishReason) {
	s.finishReason = reason
}

// Close returns the aggregated response and resets the aggregator.
func (s *StreamingAggregator) Close() *Response {
	resp := &Response{
		Text:         s.text.String(),
		ToolCalls:    s.toolCalls,
		Usage:        s.usage,
		FinishReason: s.finishReason,
	}
	if resp.FinishReason == "" {
		resp.FinishReason = FinishReasonStop
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = FinishReasonToolCalls
		}
	}

	s.text.Reset()
	s.toolCalls = nil
	s.usage = nil
	s.finishReason = ""
	return resp
}

// ErrNoResponse is returned by Collect when a sequence ends without a final response.
var ErrNoResponse = errors.New("model returned no response")

// Collect drains seq and returns the final response. Partial text is passed
// to onDelta when it is not nil.
func Collect(seq iter.Seq2[*Response, error], onDelta func(string)) (*Response, error) {
	var final *Response
	for resp, err := range seq {
		if err != nil {
			return nil, err
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if onDelta != nil && resp.Text != "" {
				onDelta(resp.Text)
			}
			continue
		}
		final = resp
	}
	if final == nil {
		return nil, ErrNoResponse
	}
	return final, nil
}
