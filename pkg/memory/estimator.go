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
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// messageOverhead approximates the per-message framing tokens of chat
// completion formats.
const messageOverhead = 3

const defaultEncoding = "cl100k_base"

// Estimator estimates the token cost of a message.
type Estimator interface {
	Estimate(msg domain.Message) int
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(msg domain.Message) int

// Estimate calls f.
func (f EstimatorFunc) Estimate(msg domain.Message) int { return f(msg) }

// CharEstimator approximates four characters per token.
func CharEstimator() Estimator {
	return EstimatorFunc(func(msg domain.Message) int {
		return messageOverhead + len(messageText(msg))/4
	})
}

// messageText is the text a message contributes to a request.
func messageText(msg domain.Message) string {
	text := string(msg.Role) + msg.Content
	for _, tc := range msg.ToolCalls {
		text += tc.Name
		if args, err := json.Marshal(tc.Arguments); err == nil {
			text += string(args)
		}
	}
	return text
}

// tiktokenEstimator counts tokens with a tiktoken encoding, loaded on
// first use. When the encoding cannot be loaded it falls back to
// CharEstimator and keeps the load error for EstimatorErr.
type tiktokenEstimator struct {
	model    string
	once     sync.Once
	encoding *tiktoken.Tiktoken
	err      error
	fallback Estimator
	loadFunc func(model string) (*tiktoken.Tiktoken, error)
}

var (
	estimatorsMu sync.Mutex
	estimators   = make(map[string]*tiktokenEstimator)
)

// TiktokenEstimator returns the shared estimator for modelName. Unknown
// models use cl100k_base.
func TiktokenEstimator(modelName string) Estimator {
	estimatorsMu.Lock()
	defer estimatorsMu.Unlock()
	if e, ok := estimators[modelName]; ok {
		return e
	}
	e := newTiktokenEstimator(modelName, loadEncoding)
	estimators[modelName] = e
	return e
}

func newTiktokenEstimator(modelName string, load func(string) (*tiktoken.Tiktoken, error)) *tiktokenEstimator {
	return &tiktokenEstimator{model: modelName, fallback: CharEstimator(), loadFunc: load}
}

// DefaultEstimator returns the cl100k_base estimator.
func DefaultEstimator() Estimator {
	return TiktokenEstimator("")
}

// EstimatorErr returns the reason e estimates by length instead of by
// encoding, or nil. Estimators report it through an Err method.
func EstimatorErr(e Estimator) error {
	if f, ok := e.(interface{ Err() error }); ok {
		return f.Err()
	}
	return nil
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return enc, nil
		}
	}
	return tiktoken.GetEncoding(defaultEncoding)
}

func (e *tiktokenEstimator) load() {
	e.encoding, e.err = e.loadFunc(e.model)
	if e.err != nil {
		e.encoding = nil
	}
}

// Err loads the encoding and returns the load error, if any.
func (e *tiktokenEstimator) Err() error {
	e.once.Do(e.load)
	return e.err
}

func (e *tiktokenEstimator) Estimate(msg domain.Message) int {
	e.once.Do(e.load)
	if e.encoding == nil {
		return e.fallback.Estimate(msg)
	}
	return messageOverhead + len(e.encoding.Encode(messageText(msg), nil, nil))
}
