package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/docrag"
	"github.com/poiesic/docrag/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return "Badgers live in setts. A sett is a network of tunnels.", nil
}

// writeConfig points every on-disk location of the service into a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(work, 0o755))
	cfg := fmt.Sprintf(`
storage:
  path: %s
blob:
  dir: %s
ai:
  backend: gemini
  api_key: test-key
  dimensions: 8
embedding:
  batch_delay: 0s
pipeline:
  retry_delay: 0s
  document_delay: 0s
  temp_dir: %s
tracker:
  sweep_interval: 0s
`, filepath.Join(dir, "db"), filepath.Join(dir, "blobs"), work)
	path := filepath.Join(dir, "docrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func useMocks(t *testing.T) {
	t.Helper()
	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 8
	provider := mock.NewMockProviderWithServices(embedder, mock.NewMockGenerator())
	serviceOptions = []docrag.Option{docrag.WithProvider(provider), docrag.WithExtractor(stubExtractor{})}
	t.Cleanup(func() { serviceOptions = nil })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"docrag"}, args...))
	return out.String(), err
}

func TestCommandFlags(t *testing.T) {
	t.Run("ask requires doc flag", func(t *testing.T) {
		_, err := run(t, "ask", "what?")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "doc")
	})

	t.Run("ingest requires a file", func(t *testing.T) {
		_, err := run(t, "ingest")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file argument is required")
	})

	t.Run("ingest of a missing file", func(t *testing.T) {
		_, err := run(t, "ingest", filepath.Join(t.TempDir(), "missing.pdf"))
		assert.Error(t, err)
	})

	t.Run("status requires an id", func(t *testing.T) {
		_, err := run(t, "status")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "id is required")
	})

	t.Run("watch requires a directory", func(t *testing.T) {
		_, err := run(t, "watch")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "directory argument is required")
	})

	t.Run("unreadable config", func(t *testing.T) {
		_, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "stats")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot read config file")
	})
}

func TestIngestAndAsk(t *testing.T) {
	useMocks(t)
	cfg := writeConfig(t)

	pdf := filepath.Join(t.TempDir(), "badgers.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 badgers"), 0o644))

	out, err := run(t, "--config", cfg, "ingest", "--user", "alice", pdf)
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	docID := fields[0]

	out, err = run(t, "--config", cfg, "ask", "--doc", docID, "Where", "do", "badgers", "live?")
	require.NoError(t, err)
	assert.Contains(t, out, mock.DefaultAnswer)
	assert.Contains(t, out, "Sources:")

	out, err = run(t, "--config", cfg, "ask", "--stream", "--doc", docID, "Where?")
	require.NoError(t, err)
	assert.Contains(t, out, mock.DefaultAnswer)

	out, err = run(t, "--config", cfg, "status", docID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	out, err = run(t, "--config", cfg, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"completed": 1`)

	out, err = run(t, "--config", cfg, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "1 documents")

	out, err = run(t, "--config", cfg, "reprocess", "--pending")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestDBFlagOverridesConfig(t *testing.T) {
	useMocks(t)
	cfg := writeConfig(t)
	db := filepath.Join(t.TempDir(), "other-db")

	_, err := run(t, "--config", cfg, "--db", db, "stats")
	require.NoError(t, err)
	info, err := os.Stat(db)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSetupLogger(t *testing.T) {
	newLoggerApp := func(action cli.ActionFunc) *cli.App {
		return &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "log-level",
					Aliases: []string{"l"},
					Value:   "info",
				},
			},
			Before: setupLogger,
			Action: action,
		}
	}
	noop := func(c *cli.Context) error { return nil }

	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				require.NoError(t, newLoggerApp(noop).Run([]string{"test", "--log-level", level}))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		err := newLoggerApp(noop).Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newLoggerApp(func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		})
		require.NoError(t, app.Run([]string{"test", "-l", "debug"}))
	})
}
