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

// Package builtin provides the local tools every runtime registers.
package builtin

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

// Clock returns the current time.
type Clock func() time.Time

// TodayArgs takes no parameters.
type TodayArgs struct{}

// NowArgs are the parameters of the now tool.
type NowArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as UTC or Europe/Istanbul; defaults to local time"`
}

// Today returns a tool reporting the current date.
func Today(clock Clock) tool.Tool {
	if clock == nil {
		clock = time.Now
	}
	return functiontool.Must(
		functiontool.Config{
			Name:        "today",
			Description: "Returns today's date and weekday.",
		},
		func(ctx context.Context, _ TodayArgs) (map[string]any, error) {
			now := clock()
			return map[string]any{
				"date":    now.Format(time.DateOnly),
				"weekday": now.Weekday().String(),
			}, nil
		},
	)
}

// Now returns a tool reporting the current time in RFC 3339 format.
func Now(clock Clock) tool.Tool {
	if clock == nil {
		clock = time.Now
	}
	return functiontool.Must(
		functiontool.Config{
			Name:        "now",
			Description: "Returns the current date and time, optionally in a given timezone.",
		},
		func(ctx context.Context, args NowArgs) (map[string]any, error) {
			now := clock()
			if args.Timezone != "" {
				loc, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return tool.ErrorResult(fmt.Sprintf("unknown timezone %q", args.Timezone)), nil
				}
				now = now.In(loc)
			}
			return map[string]any{"time": now.Format(time.RFC3339)}, nil
		},
	)
}

// All returns every built-in tool.
func All(clock Clock) []tool.Tool {
	return []tool.Tool{Today(clock), Now(clock), Fetch(DefaultFetchConfig())}
}
