package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/docrag/api"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/rag"
	"github.com/poiesic/docrag/watch"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func serveCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()
	cfg := svc.Config()

	addr := cfg.Server.Addr
	if c.IsSet("addr") {
		addr = c.String("addr")
	}
	watchDir := cfg.Server.WatchDir
	if c.IsSet("watch") {
		watchDir = c.String("watch")
	}
	watchUser := cfg.Server.WatchUser
	if c.IsSet("watch-user") {
		watchUser = c.String("watch-user")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := api.NewHandler(svc, slog.Default())
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if watchDir != "" {
		w := watch.New(watchDir, svc, watch.WithUser(watchUser), watch.WithInitialScan(true))
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	handler.Wait()
	return err
}

func ingestCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file argument is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	up, err := svc.Upload(c.Context, c.String("user"), path, f, info.Size())
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Uploaded %s as %s, processing...\n", path, up.Document.Id)
	svc.WaitIdle()

	doc, err := svc.GetDocument(c.Context, up.Document.Id)
	if err != nil {
		return err
	}
	if doc.Status != core.DocumentStatusCompleted {
		reason := doc.Status.String()
		if runs := svc.ProcessRecords(doc.Id); len(runs) > 0 && runs[0].Error != "" {
			reason = runs[0].Error
		}
		return fmt.Errorf("processing %s failed: %s", doc.Id, reason)
	}
	fmt.Fprintf(c.App.Writer, "%s\t%d chunks\n", doc.Id, doc.ChunkCount)
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("question argument is required")
	}
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	out := c.App.Writer
	if c.Bool("stream") {
		var sources []string
		_, err := svc.AskStream(c.Context, c.String("doc"), question, func(ev rag.Event) error {
			switch e := ev.(type) {
			case rag.MetadataEvent:
				sources = e.Sources
			case rag.ContentEvent:
				fmt.Fprint(out, e.Content)
			case rag.ErrorEvent:
				fmt.Fprint(out, e.Content)
			case rag.DoneEvent:
				fmt.Fprintln(out)
			}
			return nil
		})
		printSources(out, sources)
		return err
	}

	ans, err := svc.Ask(c.Context, c.String("doc"), question)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ans.Text)
	printSources(out, ans.Sources)
	return nil
}

func printSources(out io.Writer, sources []string) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for _, s := range sources {
		fmt.Fprintf(out, "  - %s\n", s)
	}
}

func statusCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("process or document id is required")
	}
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if rec, err := svc.ProcessRecord(id); err == nil {
		fmt.Fprintf(c.App.Writer, "process %s: %s %d%% %s\n", rec.ProcessId, rec.Status, rec.ProgressPercent, rec.Message)
		if rec.Error != "" {
			fmt.Fprintf(c.App.Writer, "error: %s\n", rec.Error)
		}
		return nil
	}

	// Runs are only tracked by the process that executed them
	doc, err := svc.GetDocument(c.Context, id)
	if err != nil {
		return fmt.Errorf("no process or document %s: %w", id, err)
	}
	fmt.Fprintf(c.App.Writer, "document %s (%s): %s, %d chunks\n", doc.Id, doc.Filename, doc.Status, doc.ChunkCount)
	return nil
}

func statsCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	stats, err := svc.Stats(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c, stats)
}

func reprocessCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	outcomes, err := svc.ReprocessFailed(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("pending") {
		pending, err := svc.ProcessPending(c.Context)
		if err != nil {
			return err
		}
		outcomes = append(outcomes, pending...)
	}
	return writeJSON(c, outcomes)
}

func reindexCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	summary, err := svc.Reindex(c.Context, os.Stderr)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	if len(summary.Failed) > 0 {
		if err := writeJSON(c, summary.Failed); err != nil {
			return err
		}
		return fmt.Errorf("%d of %d documents could not be reindexed", len(summary.Failed), summary.Documents)
	}
	fmt.Fprintf(c.App.Writer, "%d documents, %d points\n", summary.Documents, summary.Points)
	return nil
}

func watchCommand(c *cli.Context) error {
	dir := c.Args().First()
	if dir == "" {
		return fmt.Errorf("directory argument is required")
	}
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	user := c.String("user")
	if user == "" {
		user = svc.Config().Server.WatchUser
	}
	w := watch.New(dir, svc,
		watch.WithUser(user),
		watch.WithDebounce(c.Duration("debounce")),
		watch.WithInitialScan(true),
	)
	err = w.Run(ctx)
	svc.WaitIdle()
	return err
}

func writeJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
