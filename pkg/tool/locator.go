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

package tool

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// RemotePrefix marks a tool reference as a remote tool-server locator.
const RemotePrefix = "mcp:"

// Transport is how a remote tool server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
	TransportSSE            Transport = "sse"
)

// Locator is a parsed remote tool reference.
type Locator struct {
	// Raw is the reference as written, including the prefix.
	Raw string

	Transport Transport

	// URL is set for HTTP transports.
	URL string

	// Command and Args are set for stdio.
	Command string
	Args    []string

	// Filter restricts the exposed tools; empty exposes all.
	Filter []string
}

// IsRemote reports whether ref addresses a remote tool server.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, RemotePrefix)
}

// ParseLocator parses an "mcp:" reference.
//
// URL locators accept a "#name1,name2" fragment restricting the exposed
// tools. Anything that is not an http(s) or sse+http(s) URL is a command
// line, split with shell quoting rules and environment expansion.
func ParseLocator(ref string) (Locator, error) {
	if !IsRemote(ref) {
		return Locator{}, fmt.Errorf("%q is not a remote locator (missing %q prefix)", ref, RemotePrefix)
	}
	body := strings.TrimSpace(strings.TrimPrefix(ref, RemotePrefix))
	if body == "" {
		return Locator{}, fmt.Errorf("%q: empty locator", ref)
	}

	loc := Locator{Raw: ref}
	switch {
	case strings.HasPrefix(body, "http://"), strings.HasPrefix(body, "https://"):
		loc.Transport = TransportStreamableHTTP
	case strings.HasPrefix(body, "sse+http://"), strings.HasPrefix(body, "sse+https://"):
		loc.Transport = TransportSSE
		body = strings.TrimPrefix(body, "sse+")
	default:
		fields, err := shell.Fields(body, os.Getenv)
		if err != nil {
			return Locator{}, fmt.Errorf("%q: invalid command: %w", ref, err)
		}
		if len(fields) == 0 {
			return Locator{}, fmt.Errorf("%q: empty command", ref)
		}
		loc.Transport = TransportStdio
		loc.Command = fields[0]
		loc.Args = fields[1:]
		return loc, nil
	}

	u, err := url.Parse(body)
	if err != nil {
		return Locator{}, fmt.Errorf("%q: invalid URL: %w", ref, err)
	}
	if u.Host == "" {
		return Locator{}, fmt.Errorf("%q: URL has no host", ref)
	}
	if u.Fragment != "" {
		for _, name := range strings.Split(u.Fragment, ",") {
			if name = strings.TrimSpace(name); name != "" {
				loc.Filter = append(loc.Filter, name)
			}
		}
		u.Fragment = ""
	}
	loc.URL = u.String()
	return loc, nil
}

// Key identifies the connection a locator needs. Locators that differ only
// in their filter share a connection.
func (l Locator) Key() string {
	if l.Transport == TransportStdio {
		return string(l.Transport) + ":" + strings.Join(append([]string{l.Command}, l.Args...), "\x00")
	}
	return string(l.Transport) + ":" + l.URL
}
