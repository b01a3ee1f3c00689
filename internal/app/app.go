package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dripbot/internal/bot"
	"dripbot/internal/clock"
	"dripbot/internal/config"
	"dripbot/internal/delivery"
	"dripbot/internal/domain"
	"dripbot/internal/drip"
	"dripbot/internal/eventbus"
	"dripbot/internal/metrics"
	"dripbot/internal/reply"
	"dripbot/internal/report"
	"dripbot/internal/runtime/supervisor"
	"dripbot/internal/storage"
	kit "dripbot/internal/transport"
	"dripbot/internal/transport/telegram/adapter"
	"dripbot/internal/transport/telegram/router"
	logx "dripbot/pkg/logx"
	"dripbot/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *adapter.Adapter
	router  *router.Router
	bot     *bot.Handler

	replies *reply.Producer
	phrases *reply.Phrases

	scheds map[domain.Class]*drip.Scheduler
	runMu  sync.Mutex
	runs   map[domain.Class]*supervisor.Supervisor

	report     *report.Service
	metrics    *metrics.Metrics
	metricsSrv *metrics.Server
	notify     *systemd.Notifier

	updates  chan kit.Update
	cfgSub   chan *config.Config
	stopOnce sync.Once
}

// New loads the config and builds every component. It fails when the config
// is invalid, the bot handshake fails or the store cannot be opened.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// The telegram sink stays quiet until the adapter is attached below.
	logs, log := logx.NewService(logConfig(cfg), nil)
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log)

	ad, err := adapter.New(ctx, adapterConfig(cfg), log)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logs.SetSender(ad)

	st, err := storage.Open(storageConfig(cfg), log)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	msgs, err := domain.LoadMessages(cfg.Drip.MessagesPath)
	if err != nil {
		appLog.Warn("message file unusable, using built-in sequence",
			logx.String("path", cfg.Drip.MessagesPath), logx.Err(err))
	}
	appLog.Info("messages loaded", logx.Int("count", msgs.Len()))

	bus := eventbus.New()
	exec := delivery.NewExecutor(ad, clock.Real(), deliveryConfig(cfg), log)

	scheds := make(map[domain.Class]*drip.Scheduler, 2)
	views := make([]bot.SchedulerView, 0, 2)
	for _, class := range domain.Classes() {
		s := drip.New(class, st.Recipients(class), exec, msgs, dripParams(cfg, class), drip.Options{Bus: bus, Log: log})
		scheds[class] = s
		views = append(views, s)
	}

	phrases := reply.NewPhrases(replyPhrases(cfg), nil)
	replies := reply.New(replyPolicy(cfg), phrases, log)

	loc, _ := cfg.Location()
	h, err := bot.New(bot.Deps{
		Users:      st.Recipients(domain.Individual),
		Groups:     st.Recipients(domain.Group),
		Replies:    replies,
		Deliver:    exec,
		Counter:    st,
		Schedulers: views,
		Location:   loc,
		Log:        log,
	})
	if err != nil {
		_ = st.Close()
		_ = logs.Close()
		return nil, err
	}
	r := router.New(log, ad, bot.RouterTexts(router.Options{}))
	h.Register(r)
	r.SetOwners(cfg.Telegram.OwnerUserIDs)
	r.SetBotUsername(ad.Username())

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logs,
		bus:     bus,
		store:   st,
		adapter: ad,
		router:  r,
		bot:     h,
		replies: replies,
		phrases: phrases,
		scheds:  scheds,
		runs:    map[domain.Class]*supervisor.Supervisor{},
		report:  report.New(reportConfig(cfg), st, ad, log),
		metrics: metrics.New(bus),
		notify:  systemd.New(),
		updates: make(chan kit.Update, 256),
	}
	if cfg.Metrics.Enabled {
		a.metricsSrv = metrics.NewServer(a.metrics.Registry(), map[string]metrics.Check{
			"store":      st.Ping,
			"supervisor": a.supervisorHealth,
		}, log)
		if cfg.Metrics.Pprof {
			a.metricsSrv.EnablePprof()
		}
	}
	return a, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
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
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	menuCtx, cancel := context.WithTimeout(c, 10*time.Second)
	if err := a.router.UpdateMenu(menuCtx); err != nil {
		a.log.Warn("command menu update failed", logx.Err(err))
	}
	cancel()
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	for _, class := range domain.Classes() {
		if classConfig(cfg, class).On() {
			a.startScheduler(class)
		} else {
			a.log.Info("drip scheduler disabled", logx.String("class", class.String()))
		}
	}

	a.sup.Go("metrics.collect", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})
	if a.metricsSrv != nil {
		addr, err := a.metricsSrv.Start(metricsAddr(cfg))
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		a.log.Info("metrics listening", logx.String("addr", addr))
	}

	if err := a.report.Start(c); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	// Subscribe before the watcher runs so no reload is missed.
	a.cfgSub = a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.notify.Watchdog(c, a.healthy); err != nil {
			a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		}
	})
	if sent, err := a.notify.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified: ready")
	}
	a.updateStatus()

	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// startScheduler runs one class under its own supervisor so it can be
// stopped and started again on reload. A panicking cycle restarts the loop.
func (a *App) startScheduler(class domain.Class) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runs[class] != nil {
		return
	}
	s := a.scheds[class]
	sub := supervisor.New(a.sup.Context(), supervisor.WithLogger(a.log))
	sub.GoRestart("drip."+class.String(), s.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	a.runs[class] = sub
}

// stopScheduler cancels the class loop and waits for its in-flight delivery.
func (a *App) stopScheduler(ctx context.Context, class domain.Class) error {
	a.runMu.Lock()
	sub := a.runs[class]
	delete(a.runs, class)
	a.runMu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Stop(ctx)
}

func (a *App) runningClasses() []string {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	var out []string
	for _, class := range domain.Classes() {
		if a.runs[class] != nil {
			out = append(out, class.String())
		}
	}
	return out
}

func (a *App) updateStatus() {
	running := a.runningClasses()
	msg := "idle: no drip scheduler running"
	if len(running) > 0 {
		msg = "dripping to " + strings.Join(running, ", ")
	}
	_, _ = a.notify.Status(msg)
}

func (a *App) supervisorHealth(context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	return a.sup.Err()
}

func (a *App) healthy(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return a.supervisorHealth(ctx)
}

// drainBudget covers the scheduler drain grace plus the detached write-back.
func (a *App) drainBudget() time.Duration {
	var grace time.Duration
	for _, s := range a.scheds {
		grace = max(grace, s.Params().DrainGrace)
	}
	return grace + 6*time.Second
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Unwind every loop at once; the steps below only wait.
	a.sup.Cancel()

	a.step(ctx, "drip", a.drainBudget(), func(c context.Context) error {
		var errs []error
		for _, class := range domain.Classes() {
			if err := a.stopScheduler(c, class); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", class, err))
			}
		}
		return errors.Join(errs...)
	})
	a.step(ctx, "report", 2*time.Second, a.report.Stop)
	a.step(ctx, "metrics", 2*time.Second, func(c context.Context) error {
		if a.metricsSrv == nil {
			return nil
		}
		return a.metricsSrv.Stop(c)
	})
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 4*time.Second, a.sup.Wait)
	// Last: the drain above still writes schedules back.
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
}

// step runs one shutdown step bounded by max and by ctx's own deadline. A
// step that overruns is left behind and reported when it finally returns.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached, continuing",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
