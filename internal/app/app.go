// Package app wires configuration, transport, scheduling, the firing pipeline
// and storage into one runnable daemon.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reportbot/internal/config"
	"reportbot/internal/delivery"
	"reportbot/internal/eventbus"
	"reportbot/internal/render"
	"reportbot/internal/report"
	"reportbot/internal/runtime/supervisor"
	"reportbot/internal/schedule"
	"reportbot/internal/storage"
	"reportbot/internal/transport/telegram"
	"reportbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	adapter   *telegram.Adapter
	deliverer *delivery.Deliverer
	runner    *Runner
	sched     *schedule.Service

	jobs []schedule.Job

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Delivery.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	srcTimeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	source, err := report.NewHTTPSource(report.Config{
		BaseURL:   cfg.Source.BaseURL,
		TokenURL:  cfg.Source.TokenURL,
		AppID:     cfg.Source.AppID,
		AppSecret: cfg.Source.AppSecret,
		Timeout:   srcTimeout,
	}, log.With(logx.String("comp", "source")))
	if err != nil {
		return nil, err
	}

	retryBase, err := config.ParseDurationOrDefault("delivery.retry_base", cfg.Delivery.RetryBase, config.DefaultRetryBase)
	if err != nil {
		return nil, err
	}
	deliverer := delivery.New(delivery.Config{
		MaxRetries: cfg.MaxRetriesCount(),
		RetryBase:  retryBase,
	}, adapter, log.With(logx.String("comp", "delivery")), bus)

	renderer := render.New(cfg.Render.OutputDir)
	runner := NewRunner(source, renderer, deliverer, store, log.With(logx.String("comp", "runner")), bus)

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	sched := schedule.New(
		schedule.Policy{
			IgnoreThreshold:  cfg.IgnoreThresholdMinutes(),
			CatchUpThreshold: cfg.CatchUpThresholdMinutes(),
		},
		schedule.NewCronTimers(loc),
		runner.Fire,
		log.With(logx.String("comp", "scheduler")),
		bus,
	)

	jobs := make([]schedule.Job, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		jobs = append(jobs, schedule.Job{
			Report:       j.Report,
			Name:         j.Name,
			Chat:         j.Chat,
			Time:         j.Time,
			EveryMinutes: j.Every,
		})
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   adapter,
		deliverer: deliverer,
		runner:    runner,
		sched:     sched,
		jobs:      jobs,
	}
	adapter.SetStatusProviders(a.statusText, a.jobsText)
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context(), a.jobs)

	// Event logging for observability/debug.
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

	// Hot reload: only logging and delivery tuning apply live. Everything else
	// is fixed at startup and changing it logs a restart hint.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest queued config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("jobs", len(a.jobs)))
	return nil
}

func (a *App) applyReload(old, cur *config.Config) {
	if old == nil || cur == nil {
		return
	}

	if !sameSection(old.Logging, cur.Logging) {
		a.logs.Apply(logx.Config{
			Level:   cur.Logging.Level,
			Console: cur.Logging.Console,
			File: logx.FileConfig{
				Enabled: cur.Logging.File.Enabled,
				Path:    cur.Logging.File.Path,
			},
		})
		a.log.Info("logging config applied", logx.String("level", cur.Logging.Level))
	}

	if !sameSection(old.Delivery, cur.Delivery) {
		retryBase, err := config.ParseDurationOrDefault("delivery.retry_base", cur.Delivery.RetryBase, config.DefaultRetryBase)
		if err != nil {
			a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
		} else {
			a.deliverer.Apply(delivery.Config{
				MaxRetries: cur.MaxRetriesCount(),
				RetryBase:  retryBase,
			})
			a.log.Info("delivery config applied",
				logx.Int("max_retries", cur.MaxRetriesCount()),
				logx.Duration("retry_base", retryBase))
		}
	}

	// Fixed-at-startup sections.
	for _, s := range []struct {
		name    string
		changed bool
	}{
		{"jobs", !sameSection(old.Jobs, cur.Jobs)},
		{"scheduler", !sameSection(old.Scheduler, cur.Scheduler)},
		{"source", !sameSection(old.Source, cur.Source)},
		{"storage", !sameSection(old.Storage, cur.Storage)},
		{"telegram", !sameSection(old.Telegram, cur.Telegram)},
	} {
		if s.changed {
			a.log.Warn("config changed; restart required for changes to take effect",
				logx.String("section", s.name))
		}
	}
}

func sameSection(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded stop steps so one component can't stall the whole shutdown.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) { _ = a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) {
		if a.store != nil {
			_ = a.store.Close()
		}
	})
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Done is closed when the app supervisor context is canceled.
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

func (a *App) statusText(ctx context.Context) string {
	if a.store == nil {
		return "history disabled (no storage configured)"
	}
	recs, err := a.store.RecentFirings(ctx, 10)
	if err != nil {
		return fmt.Sprintf("history unavailable: %v", err)
	}
	if len(recs) == 0 {
		return "no firings recorded yet"
	}
	var b strings.Builder
	b.WriteString("recent firings:\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%s  %s  %s", r.StartedAt.Format("01-02 15:04"), r.Report, r.Status)
		if r.Attempts > 1 {
			fmt.Fprintf(&b, " (%d attempts)", r.Attempts)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) jobsText(ctx context.Context) string {
	_ = ctx
	if len(a.jobs) == 0 {
		return "no jobs configured"
	}
	var b strings.Builder
	b.WriteString("configured jobs:\n")
	for _, j := range a.jobs {
		fmt.Fprintf(&b, "%s  %s  at %s", j.Report, j.Name, j.Time)
		if j.EveryMinutes > 0 {
			fmt.Fprintf(&b, "  every %dm", j.EveryMinutes)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
