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
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/logger"
)

// initLogger installs the process logger. Flags and environment variables
// win over the logger section of settings.
// The returned cleanup closes the log file, if any.
func initLogger(cli *CLI, cfg config.LoggerConfig) (*slog.Logger, func(), error) {
	levelName := cli.LogLevel
	if levelName == "" {
		levelName = cfg.Level
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Format
	}
	file := cli.LogFile
	if file == "" {
		file = cfg.File
	}

	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		output  io.Writer = os.Stderr
		cleanup           = func() {}
	)
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output, cleanup = f, closeFn
	}

	l := logger.Init(logger.Config{Level: level, Format: format, Output: output})
	return l, cleanup, nil
}
