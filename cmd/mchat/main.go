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

// Command mchat is a terminal client for mchat agents and teams.
//
// Usage:
//
//	mchat chat --config settings.yaml default
//	mchat agents --config settings.yaml
//	mchat validate --config settings.yaml --agents agents.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/mchat"
	"github.com/kadirpekel/mchat/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Chat     ChatCmd     `cmd:"" default:"withargs" help:"Chat with an agent or team."`
	Agents   AgentsCmd   `cmd:"" help:"List agents and teams."`
	Models   ModelsCmd   `cmd:"" help:"List configured models."`
	Validate ValidateCmd `cmd:"" help:"Validate settings and agent definitions."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config     string   `short:"c" help:"Path to the settings file." type:"path" default:"settings.yaml" env:"MCHAT_CONFIG"`
	AgentPaths []string `name:"agents" short:"a" sep:"none" help:"Agent definition sources: files, JSON or YAML strings. Overrides agent_paths from settings. Repeat for several sources."`
	LogLevel   string   `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile    string   `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat  string   `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	v := mchat.GetVersion()
	fmt.Printf("mchat %s (commit %s, built %s, %s, %s)\n", v.Version, v.GitCommit, v.BuildDate, v.GoVersion, v.Platform)
	return nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("mchat"),
		kong.Description("Chat with LLM agents and teams defined in YAML or JSON."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
