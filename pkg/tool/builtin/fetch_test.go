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

package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/tool"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "mchat/"))
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "hello from the page")
		case "/big":
			fmt.Fprint(w, strings.Repeat("x", 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetchTool := Fetch(FetchConfig{MaxResponseSize: 32, Client: srv.Client()})

	t.Run("body", func(t *testing.T) {
		out, err := fetchTool.Call(context.Background(), map[string]any{
			"url":     srv.URL + "/page",
			"headers": map[string]any{"X-Test": "yes"},
		})
		require.NoError(t, err)
		assert.Equal(t, 200, out["status_code"])
		assert.Equal(t, "text/plain", out["content_type"])
		assert.Equal(t, "hello from the page", out["content"])
		assert.Equal(t, false, out["truncated"])
	})

	t.Run("truncated", func(t *testing.T) {
		out, err := fetchTool.Call(context.Background(), map[string]any{"url": srv.URL + "/big"})
		require.NoError(t, err)
		assert.Len(t, out["content"], 32)
		assert.Equal(t, true, out["truncated"])
	})

	t.Run("status reported to the model", func(t *testing.T) {
		out, err := fetchTool.Call(context.Background(), map[string]any{"url": srv.URL + "/missing"})
		require.NoError(t, err)
		require.True(t, tool.IsErrorResult(out))
		assert.Contains(t, out["error"], "HTTP 404")
	})

	t.Run("scheme", func(t *testing.T) {
		_, err := fetchTool.Call(context.Background(), map[string]any{"url": "file:///etc/passwd"})
		assert.ErrorContains(t, err, "unsupported scheme")
	})
}

func TestFetch_Domains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	allowed := Fetch(FetchConfig{AllowedDomains: []string{u.Hostname()}, Client: srv.Client()})
	out, err := allowed.Call(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "ok", out["content"])

	denied := Fetch(FetchConfig{DeniedDomains: []string{u.Hostname()}, Client: srv.Client()})
	_, err = denied.Call(context.Background(), map[string]any{"url": srv.URL})
	assert.ErrorContains(t, err, "domain not allowed")
}

func TestMatchesDomain(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"example.com", "example.com", true},
		{"API.example.com", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"badexample.com", "*.example.com", false},
		{"example.org", "example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesDomain(tt.host, tt.pattern), "%s vs %s", tt.host, tt.pattern)
	}
}
