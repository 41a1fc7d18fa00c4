// Copyright 2025 Poiesic Systems
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
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/docrag"
	"github.com/poiesic/docrag/config"
	"github.com/urfave/cli/v2"
)

// serviceOptions are appended to every docrag.New call made by a command.
var serviceOptions []docrag.Option

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docrag",
		Usage: "Ask questions about your PDF documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"DOCRAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides storage.path)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address (overrides server.addr)",
					},
					&cli.StringFlag{
						Name:  "watch",
						Usage: "Also ingest PDFs dropped into this directory",
					},
					&cli.StringFlag{
						Name:  "watch-user",
						Usage: "Owner of documents picked up by --watch",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Upload a PDF and wait until it is indexed",
				ArgsUsage: "<file>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "Owner of the document",
						Value: "cli",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Ask a question about an indexed document",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "doc",
						Usage:    "Document ID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "stream",
						Usage: "Print the answer as it is generated",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show a processing run, or the state of a document",
				ArgsUsage: "<process-id|document-id>",
				Action:    statusCommand,
			},
			{
				Name:   "stats",
				Usage:  "Count documents by processing status",
				Action: statsCommand,
			},
			{
				Name:   "reprocess",
				Usage:  "Run failed documents again",
				Action: reprocessCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pending",
						Usage: "Also run documents that were never processed",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vectors of every processed document",
				Action: reindexCommand,
			},
			{
				Name:      "watch",
				Usage:     "Ingest PDFs dropped into a directory",
				ArgsUsage: "<dir>",
				Action:    watchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "Owner of picked up documents",
					},
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period after the last write before a file is uploaded",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = config.ExpandPath(db)
		cfg.Storage.InMemory = false
	}
	return cfg, nil
}

func openService(c *cli.Context) (*docrag.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	svc, err := docrag.New(c.Context, cfg, serviceOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return svc, nil
}
