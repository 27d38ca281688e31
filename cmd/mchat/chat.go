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

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/session"
)

// ChatCmd runs an interactive conversation.
type ChatCmd struct {
	Agent       string `arg:"" optional:"" help:"Agent or team to chat with. Defaults to the first chooseable one."`
	Stream      bool   `default:"true" negatable:"" help:"Stream tokens as they are generated (use --no-stream to disable)."`
	Watch       bool   `help:"Reload agent definition files when they change."`
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address, e.g. :9090." placeholder:"ADDR"`
}

func (c *ChatCmd) Run(ctx context.Context, cli *CLI) error {
	out := &chatPrinter{w: os.Stdout}
	env, err := setup(ctx, cli, out.handle)
	if err != nil {
		return err
	}
	defer env.Close()

	if c.Watch {
		if err := env.rt.Watch(ctx, nil); err != nil {
			return err
		}
	}
	if c.MetricsAddr != "" {
		if err := serveMetrics(ctx, c.MetricsAddr, env.obs, env.logger); err != nil {
			return err
		}
	}

	name := c.Agent
	if name == "" {
		choices := env.rt.ChooseableAgents()
		if len(choices) == 0 {
			return errors.New("no chooseable agents defined")
		}
		name = choices[0]
	}

	conv, err := env.rt.NewConversation(ctx, name, c.Stream)
	if err != nil {
		return err
	}
	return c.loop(ctx, conv, out, os.Stdin)
}

func (c *ChatCmd) loop(ctx context.Context, conv *session.Session, out *chatPrinter, in io.Reader) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprintf(out.w, "Chatting with %s. Commands: /clear, /stream on|off, /history, /quit\n\n", conv.Agent())
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out.w, "You: ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := c.command(conv, out, input)
			if err != nil {
				fmt.Fprintf(out.w, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := conv.Ask(ctx, input)
		out.finish()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out.w, "Error: %v\n\n", err)
			continue
		}
		fmt.Fprintf(out.w, "(%d tokens, $%.4f, %s)\n\n", res.Usage.TotalTokens, res.Cost, res.StopReason)
	}
}

func (c *ChatCmd) command(conv *session.Session, out *chatPrinter, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/clear":
		if err := conv.Clear(); err != nil {
			return false, err
		}
		fmt.Fprintln(out.w, "Conversation cleared.")
	case "/stream":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, errors.New("usage: /stream on|off")
		}
		conv.SetStreamTokens(fields[1] == "on")
		fmt.Fprintf(out.w, "Streaming %s.\n", fields[1])
	case "/history":
		for _, m := range conv.Messages() {
			fmt.Fprintf(out.w, "[%s] %s\n", m.Source, m.Content)
		}
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

// chatPrinter renders turn events on the terminal.
type chatPrinter struct {
	w io.Writer

	speaking string
	partial  bool
}

func (p *chatPrinter) handle(e agent.Event) {
	switch e.Kind {
	case agent.EventToken:
		p.header(e.Agent)
		fmt.Fprint(p.w, e.Delta)
		p.partial = true

	case agent.EventToolCall:
		p.endLine()
		fmt.Fprintf(p.w, "  -> %s %v\n", e.ToolCall.Name, e.ToolCall.Arguments)

	case agent.EventToolResult:
		if e.Message.IsError {
			fmt.Fprintf(p.w, "  <- error: %s\n", truncate(e.Message.Content, 200))
		}

	case agent.EventMessage:
		if e.Message.Role != domain.RoleAssistant || e.Message.HasToolCalls() {
			return
		}
		if p.partial {
			p.endLine()
			p.speaking = ""
			return
		}
		p.header(e.Agent)
		fmt.Fprintln(p.w, e.Message.Content)
		p.speaking = ""
	}
}

func (p *chatPrinter) header(name string) {
	if p.speaking == name {
		return
	}
	p.endLine()
	fmt.Fprintf(p.w, "%s: ", name)
	p.speaking = name
}

func (p *chatPrinter) endLine() {
	if p.partial {
		fmt.Fprintln(p.w)
		p.partial = false
	}
}

func (p *chatPrinter) finish() {
	p.endLine()
	p.speaking = ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
