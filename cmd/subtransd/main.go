// Command subtransd runs the subtitle translation pipeline daemon and
// exposes its Ingress API operations as CLI subcommands, grounded on the
// teacher's cmd/livesub entrypoint: component wiring up front, then a
// signal-driven graceful shutdown that gives in-flight work a grace
// period before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/christian-lee/subtrans/internal/cache"
	"github.com/christian-lee/subtrans/internal/cleanup"
	"github.com/christian-lee/subtrans/internal/config"
	"github.com/christian-lee/subtrans/internal/correction"
	"github.com/christian-lee/subtrans/internal/engine"
	"github.com/christian-lee/subtrans/internal/eventbus"
	"github.com/christian-lee/subtrans/internal/ingress"
	"github.com/christian-lee/subtrans/internal/mediahost"
	"github.com/christian-lee/subtrans/internal/model"
	"github.com/christian-lee/subtrans/internal/provider"
	"github.com/christian-lee/subtrans/internal/queue"
	"github.com/christian-lee/subtrans/internal/quota"
	"github.com/christian-lee/subtrans/internal/resume"
	"github.com/christian-lee/subtrans/internal/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "subtransd",
		Short: "Subtitle translation pipeline daemon and CLI",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "subtrans.yaml", "path to the daemon config file")

	root.AddCommand(serveCmd(), jobCmd())

	if err := root.Execute(); err != nil {
		slog.Error("subtransd: command failed", "err", err)
		os.Exit(1)
	}
}

// app holds every wired pipeline component, built once and shared by the
// daemon and every CLI subcommand that needs to talk to the store
// directly (job inspection commands don't need the full dispatcher).
type app struct {
	cfg        *config.HotConfig
	jobStore   store.Store
	quotaStore quota.Store
	tmCache    *cache.Cache
	bus        eventbus.Bus
	registry   *provider.Registry
	ledger     *quota.Ledger
	dispatcher *queue.Dispatcher
	ingress    *ingress.API
}

func newApp() (*app, error) {
	hc, err := config.NewHotConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := hc.Get()

	jobStore, err := store.Open(cfg.Store.JobDBPath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	quotaStore, err := quota.Open(cfg.Store.QuotaDBPath)
	if err != nil {
		return nil, fmt.Errorf("open quota store: %w", err)
	}
	tmCache, err := cache.Open(cfg.Store.CacheDBPath)
	if err != nil {
		return nil, fmt.Errorf("open translation cache: %w", err)
	}

	var bus eventbus.Bus
	if cfg.Store.RedisAddr != "" {
		bus = eventbus.NewRedisBus(redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr}))
	}

	registry := provider.NewRegistry()
	for _, p := range cfg.Providers {
		client, err := buildProvider(p)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", p.Name, err)
		}
		registry.Register(model.ProviderConfig{
			Name: p.Name, Family: model.ProviderFamily(p.Family), BaseURL: p.BaseURL,
			APIKey: p.APIKey, Priority: p.Priority, Enabled: p.Enabled,
		}, client)
	}

	qcache := quota.NewCache(0, 0)
	var alerts quota.AlertSender
	if cfg.Webhook.URL != "" {
		alerts = quota.NewWebhookAlertSender(cfg.Webhook.URL)
	}
	ledger := quota.NewLedger(quotaStore, qcache, registry, alerts)

	rules, err := correction.NewEngine(nil)
	if err != nil {
		return nil, fmt.Errorf("build correction engine: %w", err)
	}

	queueCfg := queue.Config{
		ScanConcurrency:      cfg.Queues.ScanConcurrency,
		ASRConcurrency:       cfg.Queues.ASRConcurrency,
		TranslateConcurrency: cfg.Queues.TranslateConcurrency,
		ShutdownGrace:        time.Duration(cfg.Queues.ShutdownGraceSeconds) * time.Second,
		Quota:                ledger,
	}
	eng := &engine.Engine{
		Store:         jobStore,
		Bus:           bus,
		Registry:      registry,
		Ledger:        ledger,
		Corrections:   rules,
		TMCache:       tmCache,
		MediaHost:     mediahost.NewFilesystemClient(filepath.Dir(cfg.Store.JobDBPath)),
		WorkerID:      hostnameOrDefault(),
		BatchSize:     cfg.Translation.BatchSize,
		MaxLineLength: cfg.Translation.MaxLineLength,
	}
	dispatcher := queue.New(jobStore, bus, eng, queueCfg)
	eng.Dispatcher = dispatcher

	return &app{
		cfg:        hc,
		jobStore:   jobStore,
		quotaStore: quotaStore,
		tmCache:    tmCache,
		bus:        bus,
		registry:   registry,
		ledger:     ledger,
		dispatcher: dispatcher,
		ingress:    &ingress.API{Store: jobStore, Dispatcher: dispatcher, Bus: bus, Registry: registry},
	}, nil
}

func (a *app) Close() {
	a.jobStore.Close()
	a.quotaStore.Close()
	a.tmCache.Close()
	if a.bus != nil {
		a.bus.Close()
	}
}

func buildProvider(p config.ProviderEntry) (provider.Provider, error) {
	switch model.ProviderFamily(p.Family) {
	case model.FamilyLocalHost:
		return provider.NewLocalHostProvider(p.Name, p.BaseURL), nil
	case model.FamilyOpenAICompat:
		return provider.NewOpenAICompatProvider(p.Name, p.BaseURL, p.APIKey), nil
	case model.FamilyAnthropic:
		return provider.NewAnthropicProvider(p.Name, p.APIKey), nil
	case model.FamilyGoogle:
		return provider.NewGoogleProvider(context.Background(), p.Name, p.APIKey)
	default:
		return nil, fmt.Errorf("unknown provider family %q", p.Family)
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "subtransd"
	}
	return h
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, resume scheduler, and cleanup sweeper until signaled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.cfg.Watch()

			if err := resume.ReapStaleLeases(ctx, a.jobStore, a.dispatcher); err != nil {
				slog.Error("subtransd: stale lease reap failed", "err", err)
			}

			scheduler := &resume.Scheduler{Store: a.jobStore, Dispatcher: a.dispatcher, Registry: a.registry}
			sweeper := &cleanup.Sweeper{Store: a.jobStore, WorkDir: os.TempDir()}

			go scheduler.Run(ctx)
			go sweeper.Run(ctx)

			slog.Info("subtransd: serving", "pid", os.Getpid())
			a.dispatcher.Run(ctx)
			slog.Info("subtransd: shut down cleanly")
			return nil
		},
	}
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect and control translation jobs"}
	job.AddCommand(jobCreateCmd(), jobGetCmd(), jobListCmd(), jobCancelCmd(), jobRetryCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var req ingress.CreateJobRequest
	var targetLangs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new translation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			req.TargetLangs = targetLangs
			if req.SourceType == "" {
				req.SourceType = model.SourceMedia
			}
			created, err := a.ingress.CreateJob(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Println(created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SourceRef, "source", "", "source media path or host item id")
	cmd.Flags().StringVar(&req.SourceLang, "source-lang", "", "source language (empty = auto-detect)")
	cmd.Flags().StringSliceVar(&targetLangs, "target-langs", nil, "comma-separated target languages")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "provider name")
	cmd.Flags().StringVar(&req.Model, "model", "", `model identifier ("provider:model" or bare model name)`)
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "dispatch priority, higher runs first")
	return cmd
}

func jobGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			job, err := a.ingress.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", job)
			return nil
		},
	}
}

func jobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			jobs, err := a.ingress.ListJobs(cmd.Context(), store.ListFilter{})
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Printf("%s\t%s\t%s\n", j.ID, j.Status, j.Phase)
			}
			return nil
		},
	}
}

func jobCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running or queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.ingress.CancelJob(cmd.Context(), args[0])
		},
	}
}

func jobRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a failed or cancelled job, resuming from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			retry, err := a.ingress.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(retry.ID)
			return nil
		},
	}
}
