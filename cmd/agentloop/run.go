package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/agentloop/internal/agent"
	"github.com/haasonsaas/agentloop/internal/bootstrap"
	"github.com/haasonsaas/agentloop/internal/config"
	"github.com/haasonsaas/agentloop/internal/dispatch"
	"github.com/haasonsaas/agentloop/internal/eventstream"
	"github.com/haasonsaas/agentloop/internal/loop"
	"github.com/haasonsaas/agentloop/internal/memory"
	"github.com/haasonsaas/agentloop/internal/observability"
	"github.com/haasonsaas/agentloop/internal/tools"
	"github.com/haasonsaas/agentloop/internal/usage"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		request    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single agent session to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), configPath, request, jsonOutput)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the agent config YAML file")
	cmd.Flags().StringVarP(&request, "request", "r", "", "the task request to give the agent")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "force newline-delimited JSON event output")

	return cmd
}

func runSession(ctx context.Context, configPath, request string, forceJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	primary, backups, err := bootstrap.BuildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	var tracker *usage.Tracker
	if cfg.Usage.Enabled {
		tracker = usage.NewTracker(usage.DefaultTrackerConfig())
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Warn(ctx, "metrics endpoint stopped", "error", err)
			}
		}()
	}

	var tracer *observability.Tracer
	if cfg.Tracing.Endpoint != "" {
		var shutdown func(context.Context) error
		tracer, shutdown = observability.NewTracer(observability.TraceConfig{
			ServiceName:    "agentloop",
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
			EnableInsecure: cfg.Tracing.EnableInsecure,
		})
		defer shutdown(context.Background())
	}

	router := agent.NewRouter(primary, backups, agent.RouterConfig{
		CacheEnabled:  cfg.Cache.Enabled,
		CacheCapacity: cfg.Cache.Capacity,
	}, tracker)
	if metrics != nil {
		router.WithMetrics(metrics)
	}

	mem := memory.New(memory.Config{
		MaxMessages:      cfg.Memory.MaxMessages,
		SummaryThreshold: cfg.Memory.SummaryThreshold,
		KeepRecent:       cfg.Memory.KeepRecent,
	})
	if metrics != nil {
		mem.WithMetrics(metrics)
	}

	registry := dispatch.NewRegistry()
	registerBuiltinTools(registry, cfg.EnabledTools)

	dispatcher := dispatch.New(registry, dispatch.Config{
		MaxResultLen:  cfg.Dispatcher.MaxResultLen,
		TruncateKeep:  cfg.Dispatcher.TruncateKeep,
		MaxRetries:    cfg.Dispatcher.MaxRetries,
		RetryBackoff:  cfg.Dispatcher.RetryBackoff,
		ToolTimeout:   cfg.Dispatcher.ToolTimeout,
		CacheResults:  cfg.Dispatcher.CacheResults,
		CacheCapacity: cfg.Cache.Capacity,
	})
	if metrics != nil {
		dispatcher.WithMetrics(metrics)
	}

	ctx = observability.AddSessionID(ctx, uuid.NewString())

	l := loop.New(router, mem, registry, dispatcher, loop.NoPrompt{}, loop.Config{MaxSteps: cfg.MaxSteps}).
		WithLogger(logger)
	if metrics != nil {
		l.WithMetrics(metrics)
	}
	if tracer != nil {
		l.WithTracer(tracer)
	}
	events := l.WithEvents(64)

	// The loop writes to a single channel; when the websocket bridge is on,
	// tee each event to it, dropping frames rather than stalling the render
	// path behind a slow UI client.
	var wsEvents chan loop.Event
	if cfg.EventStream.Enabled {
		wsEvents = make(chan loop.Event, 64)
		mux := http.NewServeMux()
		mux.Handle("/events", eventstream.Handler(wsEvents, slog.Default()))
		go func() {
			if err := http.ListenAndServe(cfg.EventStream.Addr, mux); err != nil {
				logger.Warn(ctx, "event stream endpoint stopped", "error", err)
			}
		}()
	}

	renderJSON := forceJSON || !term.IsTerminal(int(os.Stdout.Fd()))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if wsEvents != nil {
			defer close(wsEvents)
		}
		enc := json.NewEncoder(os.Stdout)
		for evt := range events {
			if wsEvents != nil {
				select {
				case wsEvents <- evt:
				default:
				}
			}
			renderEvent(enc, evt, renderJSON)
		}
	}()

	logger.Info(ctx, "agent session starting", "max_steps", cfg.MaxSteps)
	runErr := l.Run(ctx, request)
	<-done

	if err := registry.Cleanup(context.Background()); err != nil {
		logger.Warn(ctx, "tool cleanup failed", "error", err)
	}

	if tracker != nil && cfg.Usage.FilePath != "" {
		if err := tracker.AppendSession(cfg.Usage.FilePath); err != nil {
			logger.Warn(ctx, "failed to persist usage history", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	fmt.Println(l.FinalAnswer())
	return nil
}

// registerBuiltinTools registers the core's dependency-free tools, filtered
// by enabled if non-empty; an empty enabled list registers everything.
func registerBuiltinTools(registry *dispatch.Registry, enabled []string) {
	all := map[string]dispatch.Registration{
		"calculator": {Tool: tools.NewCalculatorTool(), SideEffectful: false},
		"planner":    {Tool: tools.NewPlannerTool(), SideEffectful: true},
	}

	want := func(name string) bool {
		if len(enabled) == 0 {
			return true
		}
		for _, e := range enabled {
			if e == name {
				return true
			}
		}
		return false
	}

	for name, reg := range all {
		if want(name) {
			registry.Register(reg.Tool, reg.SideEffectful)
		}
	}
}

// renderEvent writes one event as either a colored single-line status
// update or a newline-delimited JSON record, picked by asJSON (set when
// stdout is not a terminal or --json is given).
func renderEvent(enc *json.Encoder, evt loop.Event, asJSON bool) {
	if asJSON {
		enc.Encode(map[string]any{"kind": evt.Kind, "payload": evt.Payload})
		return
	}
	switch evt.Kind {
	case loop.EventStatus:
		fmt.Printf("\r\033[2m[%v]\033[0m\n", evt.Payload)
	case loop.EventContent:
		fmt.Printf("%v\n", evt.Payload)
	case loop.EventToolStarted:
		p := evt.Payload.(loop.ToolStartedPayload)
		fmt.Printf("\033[36m-> %s\033[0m\n", p.Name)
	case loop.EventToolFinished:
		p := evt.Payload.(loop.ToolFinishedPayload)
		if p.IsError {
			fmt.Printf("\033[31m<- %s failed: %s\033[0m\n", p.Name, p.Content)
		} else {
			fmt.Printf("\033[32m<- %s\033[0m\n", p.Name)
		}
	case loop.EventFinal:
		fmt.Printf("\033[1mfinal: %v\033[0m\n", evt.Payload)
	}
}
