package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oprreport/internal/config"
	"github.com/oprreport/internal/mailer"
	"github.com/oprreport/internal/model"
	"github.com/oprreport/internal/notify"
	"github.com/oprreport/internal/render"
	"github.com/oprreport/internal/store"
	"github.com/oprreport/internal/window"
)

const mailTimeout = 30 * time.Second

type RecordSource interface {
	Fetch(ctx context.Context, w window.Window) ([]model.Record, error)
}

type Notifier interface {
	NotifySuccess(ctx context.Context, subject, htmlBody, attachmentPath string) error
	NotifyFailure(ctx context.Context, cause error) error
}

// App runs the report pipeline once.
type App struct {
	config   *config.RunConfig
	logger   *slog.Logger
	source   RecordSource
	renderer render.Renderer
	notifier Notifier
	remove   func(string) error

	stage Stage
}

// New wires the production components for cfg. Console output goes to out.
func New(cfg *config.RunConfig, logger *slog.Logger, runID string, out io.Writer) (*App, error) {
	renderer, err := render.New(cfg, out, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:   cfg,
		logger:   logger,
		source:   store.NewSource(cfg.Database, cfg.Tunnel, logger),
		renderer: renderer,
		remove:   os.Remove,
		stage:    StageConfiguring,
	}
	if !cfg.DumpToConsole {
		app.notifier = newNotifier(cfg.Mail, runID, logger)
	}
	return app, nil
}

func newNotifier(mail config.Mail, runID string, logger *slog.Logger) *notify.Notifier {
	m := mailer.New(mailer.Config{
		Server:  mail.Server,
		User:    mail.User,
		Pass:    mail.Pass,
		Timeout: mailTimeout,
	})
	return notify.New(m, mail, runID, logger)
}

func (app *App) Stage() Stage {
	return app.stage
}

// Run computes the window, fetches, renders and delivers the report. A
// failure in any stage is reported by email and Run returns nil; only a
// failure to send that email is returned. In console mode nothing is mailed
// and stage failures are returned directly.
func (app *App) Run(ctx context.Context) error {
	app.enter(StageWindowComputed)
	w, err := window.Compute(app.config.AsOf, app.config.IntervalDays)
	if err != nil {
		return app.fail(ctx, &config.Error{Setting: "INTERVAL", Err: err}, "")
	}
	app.logger.Debug("window computed", "start", w.Start, "end", w.End)

	app.enter(StageFetching)
	records, err := app.source.Fetch(ctx, w)
	if err != nil {
		return app.fail(ctx, err, "")
	}
	app.logger.Info("records fetched", "records", len(records))

	app.enter(StageRendering)
	art, err := app.renderer.Render(ctx, records)
	if err != nil {
		return app.fail(ctx, err, "")
	}
	if art.Kind == render.KindText {
		app.enter(StageDone)
		return nil
	}

	app.enter(StageNotifying)
	subject := strings.TrimSuffix(art.Filename, filepath.Ext(art.Filename))
	if err := app.notifier.NotifySuccess(ctx, subject, notify.SuccessBody(app.config.Title), art.Path); err != nil {
		return app.fail(ctx, err, art.Path)
	}

	app.enter(StageCleanup)
	if err := app.remove(art.Path); err != nil {
		return app.fail(ctx, fmt.Errorf("remove %s: %w", art.Path, err), "")
	}

	app.enter(StageDone)
	app.logger.Info("report sent", "subject", subject, "records", len(records))
	return nil
}

// fail moves to StageFailed, removes any artifact left behind and reports
// cause.
func (app *App) fail(ctx context.Context, cause error, artifact string) error {
	app.enter(StageFailed)
	app.logger.Error("run failed", "stage", failedStage(cause), "err", cause)

	if artifact != "" {
		if err := app.remove(artifact); err != nil && !errors.Is(err, os.ErrNotExist) {
			app.logger.Warn("could not remove report file", "path", artifact, "err", err)
		}
	}

	if app.config.DumpToConsole || app.notifier == nil {
		return cause
	}
	if err := app.notifier.NotifyFailure(ctx, cause); err != nil {
		return fmt.Errorf("report failure %q: %w", cause, err)
	}
	return nil
}

func (app *App) enter(s Stage) {
	app.logger.Debug("stage", "from", app.stage, "to", s)
	app.stage = s
}

// failedStage names the pipeline step a stage error came from.
func failedStage(err error) string {
	var (
		cfgErr    *config.Error
		storeErr  *store.Error
		renderErr *render.Error
		notifyErr *notify.Error
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &storeErr):
		return "data source"
	case errors.As(err, &renderErr):
		return "render"
	case errors.As(err, &notifyErr):
		return "notify"
	default:
		return "unclassified"
	}
}

// failureNotifier builds the notifier used when no App could be built.
var failureNotifier = func(mail config.Mail, runID string, logger *slog.Logger) Notifier {
	return newNotifier(mail, runID, logger)
}

// ReportConfigFailure reports a failed config.Load using the settings that
// can still be resolved from args and env.
func ReportConfigFailure(ctx context.Context, cause error, args []string, env config.LookupFunc, runID string, logger *slog.Logger) error {
	fb := config.ResolveFallback(args, env)
	return ReportFailure(ctx, cause, fb.Mail, fb.Dump, runID, logger)
}

// ReportFailure mails cause to mail's recipients. Nothing is sent in console
// mode or without mail settings; cause is returned instead.
func ReportFailure(ctx context.Context, cause error, mail config.Mail, dump bool, runID string, logger *slog.Logger) error {
	logger.Error("run failed", "stage", failedStage(cause), "err", cause)

	if dump || !mail.Configured() {
		return cause
	}
	if err := failureNotifier(mail, runID, logger).NotifyFailure(ctx, cause); err != nil {
		return fmt.Errorf("report failure %q: %w", cause, err)
	}
	return nil
}
