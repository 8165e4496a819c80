// Package app wires the bot together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"meetbot/internal/bot"
	"meetbot/internal/broadcast"
	"meetbot/internal/config"
	"meetbot/internal/eventbus"
	"meetbot/internal/i18n"
	"meetbot/internal/meetup"
	"meetbot/internal/relay"
	"meetbot/internal/runtime/supervisor"
	"meetbot/internal/scheduler"
	"meetbot/internal/storage"
	"meetbot/internal/transport"
	"meetbot/internal/transport/telegram"
	logx "meetbot/pkg/logx"
)

// conversationStates is what both state backends provide.
type conversationStates interface {
	meetup.StateStore
	scheduler.Sweeper
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	tr   *i18n.Translator

	store   *storage.Store
	states  conversationStates
	adapter *telegram.Adapter

	mailer    *broadcast.Service
	handler   *bot.Handler
	relay     *relay.Relay
	sched     *scheduler.Service
	reminders *scheduler.Reminders

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// The log chat sender is the adapter, which needs a logger first.
	logs, log := logx.New(cfg.LogConfig(), nil)
	root := log
	log = log.With(logx.String("comp", "app"))

	tr, err := i18n.New(cfg.I18n.DefaultLocale, root.With(logx.String("comp", "i18n")))
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", store.Driver()))

	a := &App{cfgm: cfgm, log: log, logs: logs, bus: eventbus.New(), tr: tr, store: store, updates: make(chan transport.Update, 256)}
	if err := a.build(cfg, root); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	ttl, err := conversationTTL(cfg)
	if err != nil {
		return err
	}
	switch cfg.Conversation.Backend {
	case "storage":
		a.states = storage.NewStateStore(a.store, ttl)
	default:
		a.states = meetup.NewMemoryStates(ttl)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return err
	}
	a.adapter, err = telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
		root.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.logs.SetSender(a.adapter)

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	a.mailer = broadcast.New(dc, a.store, a.adapter, a.bus, root.With(logx.String("comp", "broadcast")))

	a.handler = bot.New(mapBotConfig(cfg), bot.Deps{
		Directory: a.store,
		Lifecycle: meetup.NewLifecycle(a.store, a.bus, root.With(logx.String("comp", "lifecycle"))),
		Intake:    meetup.NewIntake(a.store, a.states, a.bus, root.With(logx.String("comp", "intake"))),
		States:    a.states,
		Mailer:    a.mailer,
		Out:       a.adapter,
		Tr:        a.tr,
	}, root.With(logx.String("comp", "bot")))

	a.relay = relay.New(a.store, a.adapter, a.tr, root.With(logx.String("comp", "relay")))

	lead, err := reminderLead(cfg)
	if err != nil {
		return err
	}
	schedLog := root.With(logx.String("comp", "scheduler"))
	a.sched = scheduler.New(mapSchedulerConfig(cfg), schedLog)
	a.reminders = scheduler.NewReminders(a.store, lead, a.remind, schedLog)
	if err := a.sched.Add(scheduler.JobReminders, cfg.Scheduler.ReminderSpec, jobTimeout, a.reminders.Job()); err != nil {
		return err
	}
	return a.sched.Add(scheduler.JobSweep, cfg.Scheduler.SweepSpec, jobTimeout, scheduler.SweepJob(a.states, schedLog))
}

// remind sends a speaker the reminder with a start button.
func (a *App) remind(ctx context.Context, speaker meetup.User, talk meetup.Talk) error {
	loc := time.Local
	if cfg := a.cfgm.Get(); cfg != nil {
		loc = cfg.Location()
	}
	locale := a.tr.Default()
	text := a.tr.T(locale, "speaker_reminder", map[string]any{
		"Title": talk.Title,
		"Start": talk.StartAt.In(loc).Format("15:04"),
	})
	panel := (&transport.Panel{}).Row(transport.Button{Label: a.tr.T(locale, "btn_start_talk", nil), Action: bot.ActionStartTalk})
	_, err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: speaker.ExternalID}, text, &transport.SendOptions{Panel: panel})
	return err
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateReload(a.sched, cfg)
	})

	a.mailer.Start(runCtx)
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if err := a.adapter.UpdateMenuCommands(runCtx, a.handler.Commands(a.tr.Default())); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.handler.Run(c, a.updates)
	})
	a.sup.Go("relay", func(c context.Context) error {
		return a.relay.Run(c, a.bus)
	})
	a.sched.Start(runCtx)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("app started")
	return nil
}

// applyConfig pushes a reloaded config into the running components.
// Token, storage and the conversation backend need a restart.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	if restart := config.RequiresRestart(prev, cfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(cfg.LogConfig())
	a.handler.SetOrganizers(cfg.Telegram.OrganizerIDs)

	if dc, err := mapDispatchConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.mailer.Apply(dc)
	}
	if lead, err := reminderLead(cfg); err != nil {
		a.log.Warn("invalid reminder lead; keeping previous", logx.Err(err))
	} else {
		a.reminders.SetLead(lead)
	}

	for name, spec := range map[string]string{
		scheduler.JobReminders: cfg.Scheduler.ReminderSpec,
		scheduler.JobSweep:     cfg.Scheduler.SweepSpec,
	} {
		if err := a.sched.Reschedule(name, spec); err != nil {
			a.log.Warn("reschedule failed", logx.String("job", name), logx.Err(err))
		}
	}
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(cfg))
	switch {
	case wasEnabled && !cfg.Scheduler.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
		a.log.Info("scheduler disabled via config")
	case !wasEnabled && cfg.Scheduler.Enabled:
		a.sched.Start(ctx)
		a.log.Info("scheduler enabled via config")
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	// Dispatch runs finish before the adapter closes the delivery channel.
	a.step(ctx, "broadcast", 3*time.Second, func(c context.Context) error { a.mailer.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and never past ctx's deadline.
// A step that overruns is logged and left running.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
