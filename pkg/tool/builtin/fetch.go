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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/mchat"
	"github.com/kadirpekel/mchat/pkg/httpclient"
	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

// FetchArgs are the parameters of the fetch_url tool.
type FetchArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The http or https URL to fetch"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=Extra request headers"`
}

// FetchConfig restricts what fetch_url may retrieve.
type FetchConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	MaxResponseSize int64
	MaxRedirects    int

	// AllowedDomains and DeniedDomains accept exact hosts or "*.example.com".
	// Denials win.
	AllowedDomains []string
	DeniedDomains  []string

	// Client replaces the default HTTP client. Used by tests.
	Client *http.Client
}

// DefaultFetchConfig returns the limits used by All.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		MaxResponseSize: 1 << 20,
		MaxRedirects:    5,
	}
}

// Fetch returns a tool that performs GET requests and returns the body as text.
func Fetch(cfg FetchConfig) tool.Tool {
	def := DefaultFetchConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = def.MaxResponseSize
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	redirects := *hc
	redirects.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
		}
		return checkDomain(cfg, req.URL.Hostname())
	}
	client := httpclient.New(
		httpclient.WithHTTPClient(&redirects),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(500*time.Millisecond),
	)

	t, err := functiontool.NewWithValidation(
		functiontool.Config{
			Name:        "fetch_url",
			Description: "Fetches a web page or API endpoint with an HTTP GET request and returns the response body as text.",
		},
		func(ctx context.Context, args FetchArgs) (map[string]any, error) {
			return fetch(ctx, cfg, client, args)
		},
		func(args FetchArgs) error {
			u, err := url.Parse(args.URL)
			if err != nil {
				return fmt.Errorf("invalid URL: %w", err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("unsupported scheme %q", u.Scheme)
			}
			return checkDomain(cfg, u.Hostname())
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

func fetch(ctx context.Context, cfg FetchConfig, client *httpclient.Client, args FetchArgs) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "mchat/"+mchat.Version)
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return tool.ErrorResult(statusErr.Error()), nil
		}
		return nil, fmt.Errorf("fetch %s: %w", args.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	truncated := int64(len(body)) > cfg.MaxResponseSize
	if truncated {
		body = body[:cfg.MaxResponseSize]
	}

	return map[string]any{
		"url":          resp.Request.URL.String(),
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"content":      string(body),
		"truncated":    truncated,
	}, nil
}

func checkDomain(cfg FetchConfig, host string) error {
	for _, denied := range cfg.DeniedDomains {
		if matchesDomain(host, denied) {
			return fmt.Errorf("domain not allowed: %s", host)
		}
	}
	if len(cfg.AllowedDomains) == 0 {
		return nil
	}
	for _, allowed := range cfg.AllowedDomains {
		if matchesDomain(host, allowed) {
			return nil
		}
	}
	return fmt.Errorf("domain not allowed: %s", host)
}

func matchesDomain(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)
	if host == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix)
	}
	return false
}
