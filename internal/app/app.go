// Package app assembles the maintenance host from a resolved config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"yumimaint/internal/catalog"
	"yumimaint/internal/config"
	"yumimaint/internal/db"
	"yumimaint/internal/domain"
	"yumimaint/internal/engine"
	"yumimaint/internal/events"
	"yumimaint/internal/host"
	"yumimaint/internal/migrate"
	"yumimaint/internal/prompt"
	"yumimaint/internal/reactor"
	"yumimaint/internal/repo"
	"yumimaint/internal/server"
)

// DueCheckJob names the periodic sweep on the reactor.
const DueCheckJob = "due_check"

// IO is where the host talks to the printer.
type IO struct {
	// Prompt receives "// action:prompt_*" lines.
	Prompt io.Writer
	// Console receives command acknowledgements and echoed audit entries.
	Console io.Writer
	// NoAudit keeps the audit log untouched, for one-shot inspection commands.
	NoAudit bool
}

type App struct {
	Config  *config.Config
	Log     *zap.SugaredLogger
	DB      *sql.DB
	Repo    repo.Repo
	Tasks   []domain.Task
	Events  *events.Writer
	Model   *prompt.Model
	Reactor *reactor.Reactor
	Engine  *engine.Engine
}

// Open connects the store, loads history and builds an initialized engine.
// cfg must already be resolved against its workspace.
func Open(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger, streams IO) (*App, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	tasks, err := catalog.Load(cfg.Paths.Catalog)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Path: cfg.Paths.Database})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Paths.Database, err)
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		DB:      conn,
		Repo:    repo.Repo{DB: conn},
		Tasks:   tasks,
		Model:   prompt.NewModel(log.Named("prompt")),
		Reactor: reactor.New(log.Named("reactor")),
	}
	a.Events = &events.Writer{Path: cfg.Paths.LogFile, Echo: streams.Console, Log: log}

	opts := engine.DefaultOptions()
	opts.Title = cfg.Prompt.Title
	opts.PostponeLabel = cfg.Prompt.PostponeLabel
	opts.ConfirmLabel = cfg.Prompt.ConfirmLabel
	if cfg.Schedule.TimeFormat != "" {
		opts.TimeFormat = cfg.Schedule.TimeFormat
	}
	e := engine.New(a.Repo, tasks, opts)
	if !streams.NoAudit {
		e.Events = a.Events
	}
	e.Timers = a.Reactor
	e.Log = log.Named("engine")
	ui := prompt.Tee{a.Model}
	if streams.Prompt != nil {
		ui = append(ui, prompt.NewWriter(streams.Prompt))
	}
	e.UI = ui
	if err := e.Init(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	a.Engine = e
	log.Infow("maintenance host initialized", "tasks", len(tasks), "database", cfg.Paths.Database)
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Run drives the host until ctx ends: it starts the reactor, arms first-run
// reminders and the periodic due check, serves console commands from in and,
// when enabled, the HTTP API. Closed or failing console input does not stop the
// host; timers and the API keep running.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reactorErr := make(chan error, 1)
	go func() { reactorErr <- a.Reactor.Run(ctx) }()

	if spec := a.Config.Schedule.DueCheck; spec != "" {
		if err := a.Reactor.Every(DueCheckJob, spec, func() {
			if n := a.Engine.CheckDue(); n > 0 {
				a.Log.Infow("due check requested prompts", "count", n)
			}
		}); err != nil {
			return err
		}
	}
	if err := a.Reactor.Call(ctx, func() {
		a.Engine.OnReady()
		if a.Config.Schedule.CheckOnReady {
			a.Engine.CheckDue()
		}
	}); err != nil {
		return err
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.Config.API.Enabled {
		handler, err := a.Handler()
		if err != nil {
			return err
		}
		srv = &http.Server{Addr: a.Config.API.Addr, Handler: handler}
		go func() {
			a.Log.Infow("serving maintenance API", "addr", a.Config.API.Addr, "base_path", a.Config.API.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
	}

	consoleErr := make(chan error, 1)
	if in != nil {
		console := &host.Console{Engine: a.Engine, Reactor: a.Reactor, Out: out, Log: a.Log.Named("console")}
		go func() { consoleErr <- console.Serve(ctx, in) }()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return err
		case err := <-consoleErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Warnw("console input failed; host keeps running", "error", err)
			} else {
				a.Log.Infow("console input closed; host keeps running")
			}
			consoleErr = nil
		case err := <-reactorErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handler builds the HTTP API over this host.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:   a.Engine,
		Reactor:  a.Reactor,
		Model:    a.Model,
		LogPath:  a.Config.Paths.LogFile,
		BasePath: a.Config.API.BasePath,
		Auth:     server.AuthConfig{JWTSecret: a.Config.API.JWTSecret},
		Log:      a.Log.Named("api"),
	})
}
