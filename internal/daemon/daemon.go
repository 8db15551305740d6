package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/koromind/koro/internal/api"
	"github.com/koromind/koro/internal/config"
	"github.com/koromind/koro/internal/logger"
	"github.com/koromind/koro/internal/metrics"
	"github.com/koromind/koro/internal/telegram"
	"github.com/koromind/koro/pkg/approval"
	"github.com/koromind/koro/pkg/brain"
	"github.com/koromind/koro/pkg/overlay"
	"github.com/koromind/koro/pkg/ratelimit"
	"github.com/koromind/koro/pkg/runtime"
	"github.com/koromind/koro/pkg/state"
	"github.com/koromind/koro/pkg/voice"
)

// Daemon wires every component and runs them until shutdown.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	store     *state.Store
	limiter   *ratelimit.Limiter
	approvals *approval.Coordinator
	overlay   *overlay.Loader
	voice     voice.Engine
	runner    *runtime.Runner
	brain     *brain.Brain
	metrics   *metrics.Metrics

	// Services
	bot       *telegram.Bot
	apiServer *api.Server
	scheduler *cron.Cron

	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a daemon instance with every component initialized in
// dependency order.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		metrics: metrics.New(),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		cancel()
		d.store.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.Zerolog()

	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(d.config.WorkspacePath, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	store, err := state.NewStore(d.config.StateDBPath(),
		state.WithMaxSessions(d.config.Sessions.Max),
		state.WithLogger(zl),
	)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	d.store = store
	zl.Info().Str("path", d.config.StateDBPath()).Msg("state store initialized")

	if err := store.MigrateLegacyJSON(d.config.LegacyStatePath()); err != nil {
		return fmt.Errorf("failed to migrate legacy state: %w", err)
	}

	d.limiter = ratelimit.New(
		ratelimit.WithCooldown(time.Duration(d.config.RateLimit.CooldownMS)*time.Millisecond),
		ratelimit.WithPerMinuteLimit(d.config.RateLimit.PerMinute),
		ratelimit.WithLogger(zl),
	)

	d.approvals = approval.NewCoordinator(
		approval.WithTimeout(time.Duration(d.config.Approvals.TimeoutSeconds)*time.Second),
		approval.WithMaxPending(d.config.Approvals.MaxPending),
		approval.WithLogger(zl),
	)

	d.overlay = overlay.NewLoader(d.config.WorkspacePath, overlay.WithLogger(zl))
	if _, err := d.overlay.Load(); err != nil {
		zl.Warn().Err(err).Msg("workspace overlay failed to load, continuing without it")
	}

	if d.config.Voice.ElevenLabsAPIKey != "" {
		opts := []voice.ElevenLabsOption{voice.WithLogger(zl)}
		if d.config.Voice.VoiceID != "" {
			opts = append(opts, voice.WithVoiceID(d.config.Voice.VoiceID))
		}
		d.voice = newInstrumentedVoice(voice.NewElevenLabs(d.config.Voice.ElevenLabsAPIKey, opts...), d.metrics)
		zl.Info().Msg("speech engine initialized")
	}

	provider, err := runtime.NewProvider(d.config.Provider.Name, d.config.ProviderAPIKey())
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	transcripts, err := runtime.NewTranscripts(d.config.TranscriptsDir(), zl)
	if err != nil {
		return fmt.Errorf("failed to create transcript store: %w", err)
	}
	runner, err := runtime.NewRunner(runtime.RunnerConfig{
		Provider:    provider,
		Toolbox:     runtime.NewToolbox(),
		Transcripts: transcripts,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	d.runner = runner
	zl.Info().Str("provider", provider.Name()).Msg("runtime initialized")

	b, err := brain.New(brain.Config{
		Store:      store,
		Approvals:  d.approvals,
		Overlay:    d.overlay,
		Voice:      d.voice,
		Runtime:    runner,
		Logger:     zl,
		WorkingDir: d.config.WorkspacePath,
		System:     d.config.Provider.SystemPrompt,
		MaxTurns:   d.config.Provider.MaxTurns,
	})
	if err != nil {
		return fmt.Errorf("failed to create brain: %w", err)
	}
	d.brain = b

	return nil
}

func (d *Daemon) initializeServices() error {
	zl := d.logger.Zerolog()

	bot, err := telegram.New(&d.config.Telegram, telegram.HandlerConfig{
		Brain:   d.brain,
		Store:   d.store,
		Limiter: d.limiter,
		Metrics: d.metrics,
		Logger:  zl,
	}, zl)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.bot = bot

	if d.config.API.Enabled {
		server, err := api.NewServer(api.Config{
			Host:         d.config.API.Host,
			Port:         d.config.API.Port,
			SharedSecret: d.config.API.SharedSecret,
			Brain:        d.brain,
			Store:        d.store,
			Metrics:      d.metrics,
			Logger:       zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		d.apiServer = server
	}

	d.scheduler = cron.New()
	if _, err := d.scheduler.AddFunc("@every 1m", d.sweepApprovals); err != nil {
		return fmt.Errorf("failed to schedule approval sweep: %w", err)
	}

	return nil
}

// sweepApprovals drops stale approval records and refreshes the gauge.
func (d *Daemon) sweepApprovals() {
	removed := d.approvals.Sweep()
	d.metrics.ApprovalsPending.Set(float64(d.approvals.PendingCount()))
	if removed > 0 {
		zl := d.logger.Zerolog()
		zl.Debug().Int("removed", removed).Msg("approval sweep completed")
	}
}

// Start brings every service up.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	zl := d.logger.Zerolog()
	zl.Info().Msg("starting koro daemon")

	if err := d.lifecycle.Start(); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.overlay.Watch(d.ctx, func(cfg *overlay.Config) {
			zl.Info().Msg("workspace overlay reloaded")
		}); err != nil && d.ctx.Err() == nil {
			zl.Warn().Err(err).Msg("overlay watcher stopped")
		}
	}()

	d.scheduler.Start()

	if d.apiServer != nil {
		if err := d.apiServer.Start(); err != nil {
			return err
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.bot.Run(d.ctx); err != nil && d.ctx.Err() == nil {
			zl.Error().Err(err).Msg("telegram bot stopped unexpectedly")
		}
	}()

	zl.Info().Msg("koro daemon started")
	return nil
}

// Stop shuts every service down in reverse order.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	zl := d.logger.Zerolog()
	zl.Info().Msg("stopping koro daemon")

	d.cancel()

	schedulerCtx := d.scheduler.Stop()
	select {
	case <-schedulerCtx.Done():
	case <-time.After(5 * time.Second):
		zl.Warn().Msg("scheduler jobs did not finish in time")
	}

	if d.apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.apiServer.Stop(ctx); err != nil {
			zl.Warn().Err(err).Msg("API server shutdown failed")
		}
		cancel()
	}

	d.wg.Wait()

	if err := d.store.Close(); err != nil {
		zl.Warn().Err(err).Msg("state store close failed")
	}
	if err := d.lifecycle.Stop(); err != nil {
		zl.Warn().Err(err).Msg("lifecycle cleanup failed")
	}

	zl.Info().Msg("koro daemon stopped")
	return nil
}

// Run starts the daemon and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	zl := d.logger.Zerolog()
	zl.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	return d.Stop()
}

// Status describes the daemon's runtime state.
type Status struct {
	Running          bool
	Uptime           time.Duration
	PendingApprovals int
}

// Status reports the current daemon state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.PendingApprovals = d.approvals.PendingCount()
	}
	return status
}
