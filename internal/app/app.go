// Package app wires the process together: config, logging, storage, the
// scheduler core, the Telegram transport, and the retention janitor.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.Store
	adapter *telegram.Adapter
	notif   *notifier.Service
	sched   *reminder.Service

	cron *cron.Cron
	sup  *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, adapter, log.With(logx.String("comp", "notifier")))

	clock := clockwork.NewRealClock()
	sched := reminder.New(reminder.Config{
		FireWorkers:   cfg.Scheduler.FireWorkers,
		FireQueueSize: cfg.Scheduler.FireQueueSize,
	}, clock, store, store, notif, bus, log.With(logx.String("comp", "scheduler")))

	defLoc := time.UTC
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
		defLoc = loc
	}
	router := telegram.NewRouter(sched, store, clock, defLoc, log.With(logx.String("comp", "router")))
	router.Register(adapter.Bot())

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		adapter: adapter,
		notif:   notif,
		sched:   sched,
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Re-arm persisted timers before anything can mutate them.
	if err := a.sched.Recover(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("scheduler.run", a.sched.Run)

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	// Event log tap, debug level to stay quiet in production.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	if err := a.startRetention(a.cfgm.Get()); err != nil {
		return err
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}

	a.log.Info("started", logx.Int("pending", a.sched.Pending()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// applyConfig handles hot-reloadable sections. Storage, telegram token, and
// scheduler sizing need a restart and are logged as such.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if ncfg, err := mapNotifierConfig(cfg); err == nil {
		a.notif.Apply(ncfg)
	} else {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	}
	a.log.Info("config applied")
}

func (a *App) startRetention(cfg *config.Config) error {
	if cfg == nil || cfg.Retention == nil || !cfg.Retention.Enabled {
		return nil
	}
	schedule := strings.TrimSpace(cfg.Retention.Schedule)
	if schedule == "" {
		schedule = "@daily"
	}
	keepFor, err := config.ParseDurationOrDefault("retention.keep_for", cfg.Retention.KeepFor, 720*time.Hour)
	if err != nil {
		return err
	}

	log := a.log.With(logx.String("comp", "retention"))
	a.cron = cron.New()
	_, err = a.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.store.PruneInactive(ctx, time.Now().Add(-keepFor))
		if err != nil {
			log.Error("prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			log.Info("pruned", logx.Int64("rows", n))
		}
	})
	if err != nil {
		return fmt.Errorf("retention.schedule: %w", err)
	}
	a.cron.Start()
	log.Info("janitor scheduled", logx.String("schedule", schedule), logx.Duration("keep_for", keepFor))
	return nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	out.RatePerSec = n.RatePerSec
	out.RetryMax = n.RetryMax

	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", n.SendTimeout); err != nil {
		return out, err
	}
	return out, nil
}

// validateConfig gates hot reloads: a bad edit is rejected instead of applied.
func validateConfig(cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Scheduler.FireWorkers < 0 {
		return fmt.Errorf("scheduler.fire_workers must be >= 0")
	}
	if cfg.Scheduler.FireQueueSize < 0 {
		return fmt.Errorf("scheduler.fire_queue_size must be >= 0")
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if r := cfg.Retention; r != nil && r.Enabled {
		if s := strings.TrimSpace(r.Schedule); s != "" {
			if _, err := cron.ParseStandard(s); err != nil {
				return fmt.Errorf("retention.schedule: %w", err)
			}
		}
		if _, err := config.ParseDurationField("retention.keep_for", r.KeepFor); err != nil {
			return err
		}
	}
	return nil
}
