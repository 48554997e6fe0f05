// Package app assembles the gateway: config, logging, ledger, transport,
// session, dispatch, HTTP surface and the retention job.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"wagate/internal/config"
	"wagate/internal/dispatch"
	"wagate/internal/eventbus"
	"wagate/internal/httpapi"
	"wagate/internal/ledger"
	"wagate/internal/runtime/supervisor"
	"wagate/internal/session"
	"wagate/internal/transport/whatsapp"
	"wagate/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	log  logx.Logger
	logs *logx.Service

	bus    eventbus.Bus
	store  ledger.Store
	sess   *session.Session
	engine *dispatch.Engine
	api    *httpapi.Server
	cron   *cron.Cron

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc := logx.NewService(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := logSvc.Logger().With(logx.String("comp", "app"))

	store, err := ledger.Open(ledger.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: mustDuration(cfg.Storage.BusyTimeout),
	}, logSvc.Logger().With(logx.String("comp", "ledger")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	bus := eventbus.New()

	provider := whatsapp.New(whatsapp.Config{
		StorePath: cfg.Transport.StorePath,
	}, logSvc.Logger().With(logx.String("comp", "whatsapp")))

	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sess: session.New(provider, store, bus, nil, // supervisor attached in Start
			logSvc.Logger().With(logx.String("comp", "session")),
			session.Config{
				ReconnectDelay:  mustDuration(cfg.Session.ReconnectDelay),
				ErrorRetryDelay: mustDuration(cfg.Session.ErrorRetryDelay),
				ManualDelay:     mustDuration(cfg.Session.ManualDelay),
			}),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sess.AttachSupervisor(a.sup)

	a.engine = dispatch.New(a.sess, a.store, a.bus, a.sup,
		a.logs.Logger().With(logx.String("comp", "dispatch")),
		float64(a.cfg.Dispatch.RatePerSec))

	a.api = httpapi.New(httpapi.Config{
		Addr:      a.cfg.HTTP.Addr,
		BodyLimit: a.cfg.HTTP.BodyLimit,
	}, a.sess, a.engine, a.store, a.bus,
		a.logs.Logger().With(logx.String("comp", "http")))

	a.sess.Start()

	a.sup.Go("http.serve", func(context.Context) error {
		return a.api.Start()
	})

	if a.cfg.Storage.Retention.Enabled {
		if err := a.startRetention(); err != nil {
			return err
		}
	}

	a.startConfigWatch()

	// Debug visibility into bus traffic; subscribers drop on their own.
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("gateway started", logx.String("addr", a.cfg.HTTP.Addr))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	// Cancel the run context first so background loops start unwinding while
	// the HTTP server drains.
	if a.sup != nil {
		a.sup.Cancel()
	}
	if a.cron != nil {
		a.cron.Stop()
	}

	if a.api != nil {
		if err := a.api.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
	}

	a.sess.Stop()

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("supervisor stop", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("closing ledger", logx.Err(err))
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) startRetention() error {
	maxAge, err := config.ParseDurationField("storage.retention.max_age", a.cfg.Storage.Retention.MaxAge)
	if err != nil {
		return err
	}
	spec := a.cfg.Storage.Retention.Cron

	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		cutoff := time.Now().Add(-maxAge)
		n, err := a.store.PruneBefore(context.Background(), cutoff)
		if err != nil {
			a.log.Error("ledger prune failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("ledger pruned", logx.Int64("rows", n), logx.Time("cutoff", cutoff))
		}
	})
	if err != nil {
		return fmt.Errorf("retention cron %q: %w", spec, err)
	}
	c.Start()
	a.cron = c
	a.log.Info("retention enabled", logx.String("cron", spec), logx.Duration("max_age", maxAge))
	return nil
}

// startConfigWatch hot-applies the settings that are safe to change at
// runtime: log level/sinks and the dispatch rate. Everything else needs a
// restart and says so.
func (a *App) startConfigWatch() {
	// Restart on failure with backoff: a lost inotify watch (editor renames,
	// fd pressure) should not take hot reload away for the process lifetime.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return config.Watch(c, a.cfgPath, a.log.With(logx.String("comp", "config")), func(cfg *config.Config) {
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.engine.SetRate(float64(cfg.Dispatch.RatePerSec))

			if cfg.Storage != a.cfg.Storage || cfg.Transport != a.cfg.Transport || cfg.HTTP != a.cfg.HTTP {
				a.log.Warn("storage/transport/http config changed; restart required")
			}
			a.cfg = cfg
		})
	})
}

// mustDuration is for fields Validate() already checked.
func mustDuration(raw string) time.Duration {
	d, err := config.ParseDurationOrDefault("", raw, 0)
	if err != nil {
		return 0
	}
	return d
}
