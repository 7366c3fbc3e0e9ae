package watchdog

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStaleAfter    = 10 * time.Minute
	DefaultCheckInterval = time.Minute

	timestampLayout = "Mon 2006-01-02 15:04:05 MST"
)

var (
	ErrServiceState = errors.New("service state unavailable")
	ErrRestart      = errors.New("service restart failed")
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Systemctl queries and restarts systemd units.
type Systemctl struct {
	run     CommandRunner
	useSudo bool
}

// NewSystemctl returns a Systemctl running commands with run, restarts go through sudo when useSudo is set.
func NewSystemctl(run CommandRunner, useSudo bool) *Systemctl {
	if run == nil {
		run = ExecRunner
	}

	return &Systemctl{run: run, useSudo: useSudo}
}

// ActiveEnterTimestamp returns the time the unit last entered the active state.
func (s *Systemctl) ActiveEnterTimestamp(ctx context.Context, unit string) (time.Time, error) {
	out, err := s.run(ctx, "systemctl", "show", unit, "--property=ActiveEnterTimestamp")
	if err != nil {
		return time.Time{}, errors.Wrap(ErrServiceState, err.Error())
	}

	return parseActiveEnterTimestamp(string(out))
}

// Restart restarts the unit.
func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	name, args := "systemctl", []string{"restart", unit}
	if s.useSudo {
		name, args = "sudo", append([]string{"systemctl"}, args...)
	}

	if out, err := s.run(ctx, name, args...); err != nil {
		return errors.Wrap(ErrRestart, err.Error()+": "+strings.TrimSpace(string(out)))
	}

	return nil
}

func parseActiveEnterTimestamp(out string) (time.Time, error) {
	_, value, found := strings.Cut(strings.TrimSpace(out), "=")
	value = strings.TrimSpace(value)

	if !found || value == "" || value == "n/a" {
		return time.Time{}, errors.Wrap(ErrServiceState, "unit has not been active")
	}

	// systemctl --timestamp=unix
	if strings.HasPrefix(value, "@") {
		secs, err := strconv.ParseInt(value[1:], 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrap(ErrServiceState, err.Error())
		}

		return time.Unix(secs, 0), nil
	}

	ts, err := time.ParseInLocation(timestampLayout, value, time.Local)
	if err != nil {
		return time.Time{}, errors.Wrap(ErrServiceState, err.Error())
	}

	return ts, nil
}

// ServiceManager reports the start time of a unit and restarts it.
type ServiceManager interface {
	ActiveEnterTimestamp(ctx context.Context, unit string) (time.Time, error)
	Restart(ctx context.Context, unit string) error
}

// Options defines the watchdog parameters.
type Options struct {
	Unit          string
	LogFile       string
	StaleAfter    time.Duration
	CheckInterval time.Duration
}

// Watchdog restarts a service that stopped writing to its log file.
type Watchdog struct {
	services ServiceManager
	opts     Options
	logger   *logrus.Entry
	now      func() time.Time
}

// New returns a Watchdog for the unit.
func New(services ServiceManager, opts Options, logger *logrus.Logger) *Watchdog {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}

	return &Watchdog{
		services: services,
		opts:     opts,
		logger:   logger.WithFields(logrus.Fields{"component": "watchdog", "unit": opts.Unit}),
		now:      time.Now,
	}
}

// Check restarts the unit when both its log file and its start are older than the stale threshold.
func (w *Watchdog) Check(ctx context.Context) (restarted bool, err error) {
	started, err := w.services.ActiveEnterTimestamp(ctx, w.opts.Unit)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(w.opts.LogFile)
	if err != nil {
		return false, errors.Wrap(ErrServiceState, "log file: "+err.Error())
	}

	now := w.now()
	sinceLog := now.Sub(info.ModTime())
	sinceStart := now.Sub(started)

	if sinceLog <= w.opts.StaleAfter || sinceStart <= w.opts.StaleAfter {
		return false, nil
	}

	w.logger.WithFields(logrus.Fields{
		"sinceLog":   sinceLog.Round(time.Second).String(),
		"sinceStart": sinceStart.Round(time.Second).String(),
	}).Warn("no log activity, restarting service")

	if err := w.services.Restart(ctx, w.opts.Unit); err != nil {
		return false, err
	}

	w.logger.Info("service restarted")

	return true, nil
}

// Run checks the unit every check interval until ctx is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("watchdog started")

	ticker := time.NewTicker(w.opts.CheckInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("check failed")
		}

		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return nil
		case <-ticker.C:
		}
	}
}
