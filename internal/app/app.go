package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"greenthumb/internal/mailer"
	"greenthumb/internal/metrics"
	"greenthumb/internal/reminder"
	"greenthumb/internal/store"
	"greenthumb/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	st   store.Store
	mail *mailer.SMTP
	rem  *reminder.Service
	prom *metrics.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
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

	sc, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	log.Info("store opened", logx.String("driver", sc.Driver))

	mc, err := mapMailConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := mailer.NewSMTP(mc, log.With(logx.String("comp", "mail")))
	if err != nil {
		return nil, err
	}

	rem := reminder.New(reminder.Config{Enabled: cfg.Scheduler.Enabled},
		st, sender, log.With(logx.String("comp", "reminder")))

	prom := metrics.NewServer(mapMetricsConfig(cfg), log.With(logx.String("comp", "metrics")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		mail:    sender,
		rem:     rem,
		prom:    prom,
	}, nil
}

// Reminders exposes the scheduling service for CLI subcommands.
func (a *App) Reminders() *reminder.Service { return a.rem }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(cfg *Config) error {
		if _, err := mapStoreConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMailConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.rem.Start(a.sup.Context())
	a.prom.Start()

	// First reconciliation pass. A store that is still warming up yields a
	// skipped report; keep retrying in the background until a pass sticks.
	rep, err := a.rem.Reconcile(a.sup.Context())
	if err != nil {
		return err
	}
	if rep.Skipped {
		a.log.Warn("initial reconcile skipped; retrying in background", logx.String("reason", rep.Reason))
		a.sup.Go0("reconcile.bootstrap", func(c context.Context) {
			t := time.NewTicker(5 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					rep, err := a.rem.Reconcile(c)
					if err != nil {
						a.log.Error("reconcile failed", logx.Err(err))
						return
					}
					if !rep.Skipped {
						return
					}
				}
			}
		})
	}

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				sections, attrs := SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.applyReload(c, newCfg, sections)

				// A committed reload re-runs reconciliation so trigger state
				// follows whatever the new config enables.
				if rep, err := a.rem.Reconcile(c); err != nil {
					a.log.Error("reconcile after reload failed", logx.Err(err))
				} else if rep.Skipped {
					a.log.Warn("reconcile after reload skipped", logx.String("reason", rep.Reason))
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(ctx context.Context, cfg *Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
		case "scheduler":
			a.rem.Apply(ctx, reminder.Config{Enabled: cfg.Scheduler.Enabled})
		case "metrics":
			stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			a.prom.Stop(stopCtx)
			cancel()
			a.prom = metrics.NewServer(mapMetricsConfig(cfg), a.log.With(logx.String("comp", "metrics")))
			a.prom.Start()
		case "store", "mail":
			a.log.Warn("config changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		// Cancel the run context first so background loops start unwinding.
		a.sup.Cancel()
	}

	// Run each shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("reminder", 3*time.Second, func(c context.Context) error { a.rem.Stop(c); return nil })
	step("metrics", 1*time.Second, func(c context.Context) error { a.prom.Stop(c); return nil })
	step("store", 1*time.Second, func(context.Context) error { return a.st.Close() })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
