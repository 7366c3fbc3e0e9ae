package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	ErrAppInit = errors.New("error initializing app")
)

// App holds attributes for running a toolshed command.
type App struct {
	// Viper loads configuration parameters.
	v *viper.Viper
	// App configuration.
	Config *Configuration
	// TermCh is the channel to terminate the app based on a signal
	TermCh chan os.Signal
	// Logger is the app logger
	Logger *logrus.Logger
	// logFile is closed on Close when logs are written to a file.
	logFile io.Closer
}

// New returns a new toolshed application object with the configuration loaded
func New(_ context.Context, kind model.AppKind, cfgFile string, loglevel model.LogLevel) (app *App, err error) {
	if !validKind(kind) {
		return nil, errors.Wrap(ErrAppInit, "invalid app kind: "+string(kind))
	}

	app = &App{
		v:      viper.New(),
		Config: &Configuration{},
		TermCh: make(chan os.Signal, 1),
		Logger: logrus.New(),
	}

	if err := app.LoadConfiguration(cfgFile, kind); err != nil {
		return nil, err
	}

	// set here again since LoadConfiguration could overwrite it.
	app.Config.AppKind = kind

	// the log level flag takes precedence over the configuration file.
	if loglevel != "" {
		app.Config.LogLevel = string(loglevel)
	}

	switch model.LogLevel(app.Config.LogLevel) {
	case model.LogLevelDebug:
		app.Logger.Level = logrus.DebugLevel
	case model.LogLevelTrace:
		app.Logger.Level = logrus.TraceLevel
	default:
		app.Logger.Level = logrus.InfoLevel
	}

	app.Logger.SetFormatter(&logrus.JSONFormatter{})

	if app.Config.LogFile != "" {
		// nolint:gomnd // file permissions are clearer in this form.
		fh, err := os.OpenFile(app.Config.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, errors.Wrap(ErrAppInit, "log file: "+err.Error())
		}

		app.Logger.SetOutput(fh)
		app.logFile = fh
	}

	// register for SIGINT, SIGTERM
	signal.Notify(app.TermCh, syscall.SIGINT, syscall.SIGTERM)

	return app, nil
}

// Close releases resources held by the app.
func (a *App) Close() error {
	signal.Stop(a.TermCh)

	if a.logFile != nil {
		return a.logFile.Close()
	}

	return nil
}

// Context returns a child context that is canceled when the app receives a termination signal.
func (a *App) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		select {
		case <-a.TermCh:
			a.Logger.Info("received termination signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// NewLogrusEntryFromLogger returns a logger contextualized with the given logrus fields.
func NewLogrusEntryFromLogger(fields logrus.Fields, logger *logrus.Logger) *logrus.Entry {
	loggerEntry := logger.WithFields(fields)
	loggerEntry.Level = logger.Level

	return loggerEntry
}

func validKind(kind model.AppKind) bool {
	for _, k := range model.AppKinds() {
		if k == kind {
			return true
		}
	}

	return false
}
