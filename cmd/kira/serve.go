package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/kira/internal/bus"
	"github.com/haasonsaas/kira/internal/config"
	"github.com/haasonsaas/kira/internal/httpapi"
	"github.com/haasonsaas/kira/internal/ingress"
	"github.com/haasonsaas/kira/internal/scheduler"
	"github.com/haasonsaas/kira/internal/tools"
)

const seenEventTTL = 30 * 24 * time.Hour

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: event bus, scheduler, and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(*configPath))
		},
	}
}

func runServe(parent context.Context, cfgPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var a *app
	cfgStore, err := config.NewStore(cfgPath, func(_, _ *config.Config) {
		if a != nil {
			a.logger.Info(ctx, "configuration reloaded; wiring changes apply on restart",
				"path", cfgPath)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	cfg := cfgStore.Current()

	a, err = buildApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		if err := cfgStore.Watch(ctx); err != nil {
			a.logger.Warn(ctx, "config watch stopped", "error", err)
		}
	}()

	// Incoming messages on the bus go through the agent; replies are
	// published back for whichever channel adapter delivered them.
	handler := ingress.NewHandler(a.executor,
		ingress.WithLogger(a.logger),
		ingress.WithResponseHook(a.publishReply),
	)
	unsubscribe := handler.Attach(a.bus)
	defer unsubscribe()

	sched := scheduler.New(
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(a.metrics),
	)
	if err := a.registerJobs(sched); err != nil {
		return err
	}
	go sched.Run(ctx)

	server := httpapi.NewServer(a.executor,
		httpapi.WithLogger(a.logger),
		httpapi.WithMetrics(a.metrics),
	)
	a.logger.Info(ctx, "kira serving",
		"addr", cfg.HTTP.Addr, "vault", cfg.Vault.Path, "tz", a.loc.String())

	err = server.ListenAndServe(ctx, cfg.HTTP.Addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.logger.Info(context.Background(), "kira stopped")
	return nil
}

// registerJobs wires the standing maintenance jobs: event dedup sweep and
// the nightly rollup note.
func (a *app) registerJobs(sched *scheduler.Scheduler) error {
	if err := sched.ScheduleInterval("seen-sweep", 3600, func(ctx context.Context) error {
		n, err := a.seen.Sweep(ctx, time.Now(), seenEventTTL)
		if err != nil {
			return err
		}
		if n > 0 {
			a.logger.Info(ctx, "seen events swept", "removed", n)
		}
		return nil
	}, scheduler.WithTimeout(30*time.Second)); err != nil {
		return err
	}

	return sched.ScheduleCron("daily-rollup", "55 23 * * *", a.loc, func(ctx context.Context) error {
		res := a.registry.Execute(ctx, "rollup_daily", map[string]any{}, false)
		if res.Status != tools.StatusOK {
			return fmt.Errorf("rollup_daily: %s", res.Error)
		}
		return nil
	}, scheduler.WithTimeout(time.Minute))
}

// publishReply pushes an agent reply back onto the bus so channel adapters
// can deliver it.
func (a *app) publishReply(ctx context.Context, sessionID, text string) error {
	env := bus.New("agent", "message.reply", sessionID, map[string]any{
		"session_id": sessionID,
		"text":       text,
	}, time.Now())
	return a.bus.PublishAsync(ctx, env)
}
