package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/corestack/taskpipe/internal/config"
	"github.com/corestack/taskpipe/internal/correlation"
	"github.com/corestack/taskpipe/internal/interrupt"
	"github.com/corestack/taskpipe/internal/isa"
	"github.com/corestack/taskpipe/internal/model"
	"github.com/corestack/taskpipe/internal/pipeline"
	"github.com/corestack/taskpipe/internal/store"
	"github.com/corestack/taskpipe/internal/telemetry"
	"github.com/corestack/taskpipe/internal/transport"
	"github.com/corestack/taskpipe/internal/txn"
	"github.com/corestack/taskpipe/internal/view"
)

var enableQueryStdin bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the instruction pipeline daemon",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&enableQueryStdin, "query-stdin", false,
		"read view-query expressions from stdin and print matching tasks, one query per line")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("taskcored: load config: %w", err)
	}

	log := newLogger(cfg, verbose)

	ctx, cancel := signalContext()
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("taskcored: init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("taskcored: telemetry shutdown", "error", err)
		}
	}()

	s := store.New()
	corr := correlation.New(cfg.CorrelationTTL)
	txnProc := txn.New(s)
	registry := isa.NewRegistry()

	decoders := model.DefaultDecoders()
	client := transport.New(cfg.BaseURL, cfg.Token, decoders)
	isa.RegisterBuiltins(registry)

	controller := interrupt.New(corr, log)
	registerTransactionHandlers(controller, txnProc, log)

	// The View Layer has no server of its own (no HTTP/UI surface is part
	// of this daemon). It's constructed here so the process that owns the
	// store also owns view projection; --query-stdin is the one in-process
	// consumer that exercises it, mirroring the teacher's "bd query"
	// command against the daemon's live state instead of a one-shot copy.
	views := view.New(s)

	p := pipeline.New(pipeline.Config{
		TickInterval:      cfg.TickInterval,
		MaxConcurrency:    cfg.MaxConcurrency,
		MaxPending:        cfg.MaxPending,
		ExpireEveryNTicks: cfg.ExpireEveryNTicks,
	}, s, registry, corr, txnProc, client, log)
	defer p.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.Run(gctx)
		return nil
	})

	if cfg.BaseURL != "" {
		stream := interrupt.NewStream(interrupt.StreamOptions{
			BaseURL:          cfg.BaseURL,
			Token:            cfg.Token,
			KindForEventType: kindForEventType,
			Decoders:         decoders,
		}, controller, log)
		g.Go(func() error {
			stream.Run(gctx)
			return nil
		})
	} else {
		log.Warn("taskcored: no base-url configured, push event stream disabled")
	}

	if enableQueryStdin {
		g.Go(func() error {
			runQueryStdin(gctx, views, log)
			return nil
		})
	}

	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, func(next *config.Config) {
			log.Info("taskcored: config file changed, reload requires a restart to take effect",
				"tick_interval", next.TickInterval, "max_concurrency", next.MaxConcurrency)
		}, log)
		if err != nil {
			log.Warn("taskcored: config hot-reload watcher not started", "error", err)
		} else {
			g.Go(func() error {
				watcher.Run(gctx)
				return nil
			})
		}
	}

	log.Info("taskcored: daemon started",
		"tick_interval", cfg.TickInterval, "max_concurrency", cfg.MaxConcurrency, "base_url", cfg.BaseURL)

	return g.Wait()
}

// registerTransactionHandlers wires every decoded push-event kind into
// the Transaction Processor, completing the path spec.md §6 describes:
// push event -> Interrupt Controller -> (suppressed if locally
// in-flight) -> Transaction Processor.Apply.
func registerTransactionHandlers(controller *interrupt.Controller, txnProc *txn.Processor, log *slog.Logger) {
	for _, eventType := range []string{
		"task.created", "task.updated", "task.deleted",
		"area.updated", "project.updated", "project_section.updated",
		"template.updated", "recurrence.materialized", "time_block.updated",
		"view_preference.updated", "setting.updated",
	} {
		controller.Register(eventType, func(event interrupt.Event) {
			env, ok := event.Payload.(txn.Envelope)
			if !ok {
				log.Warn("taskcored: push event carried no decoded envelope", "event_type", event.Type)
				return
			}
			txnProc.Apply(env, txn.Meta{
				CorrelationID: event.CorrelationID,
				EventID:       event.EventID,
				Source:        txn.SourcePush,
			})
		})
	}
}

// runQueryStdin reads one view-query expression per line from stdin and
// prints the matching tasks as JSON to stdout, evaluating each against
// the live store rather than a snapshot. It mirrors the teacher's
// "bd query" command but against a continuously updated daemon instead
// of a one-shot CLI invocation, since this project exposes no RPC
// surface a separate process could query through.
func runQueryStdin(ctx context.Context, views *view.Layer, log *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			tasks, err := views.GetByQuery(line, time.Now())
			if err != nil {
				log.Warn("taskcored: query-stdin: invalid expression", "query", line, "error", err)
				continue
			}
			if err := enc.Encode(tasks); err != nil {
				log.Warn("taskcored: query-stdin: encode results", "error", err)
			}
		}
	}
}

// kindForEventType maps a wire event_type's dot-separated prefix to the
// entity Kind its payload decodes as (spec.md §6).
func kindForEventType(eventType string) (model.Kind, bool) {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return model.Kind(eventType[:i]), true
		}
	}
	return "", false
}

func newLogger(cfg *config.Config, verboseFlag bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verboseFlag {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
