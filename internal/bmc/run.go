package bmc

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/toolshed/internal/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation is applied to each target BMC.
type Operation interface {
	Name() string
	Apply(ctx context.Context, target Target) error
}

// Failure is a target the operation failed on.
type Failure struct {
	Target Target
	Err    error
}

// Report is the outcome of an operation run.
type Report struct {
	RunID     uuid.UUID
	Operation string
	Succeeded []Target
	Failed    []Failure
}

// Err returns the failures as one error, nil when every target succeeded.
func (r *Report) Err() error {
	var merr *multierror.Error

	for _, f := range r.Failed {
		merr = multierror.Append(merr, errors.Wrap(f.Err, f.Target.IP.String()))
	}

	return merr.ErrorOrNil()
}

// Print writes the summary of successful and failed targets.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "SUCCESSFUL (%d):\n", len(r.Succeeded))

	for _, t := range r.Succeeded {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", t.IP, t.MAC, t.Serial)
	}

	fmt.Fprintf(w, "FAILED (%d):\n", len(r.Failed))

	for _, f := range r.Failed {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%v\n", f.Target.IP, f.Target.MAC, f.Target.Serial, f.Err)
	}
}

// Runner applies an operation to a set of targets.
type Runner struct {
	concurrency int
	logger      *logrus.Entry
}

// NewRunner returns a Runner applying the operation to up to concurrency targets at a time.
func NewRunner(concurrency int, logger *logrus.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Runner{
		concurrency: concurrency,
		logger:      logger.WithField("component", "bmc.runner"),
	}
}

// Run applies the operation to every target, targets not reached before ctx is canceled are failed.
func (r *Runner) Run(ctx context.Context, targets []Target, op Operation) *Report {
	report := &Report{
		RunID:     uuid.New(),
		Operation: op.Name(),
	}

	ctx, span := otel.Tracer(pkgName).Start(ctx, "Run")
	defer span.End()

	span.SetAttributes(
		attribute.String("run.id", report.RunID.String()),
		attribute.String("run.operation", op.Name()),
		attribute.Int("run.targets", len(targets)),
	)

	logger := r.logger.WithFields(logrus.Fields{"runID": report.RunID.String(), "operation": op.Name()})

	var mu sync.Mutex

	wp := workerpool.New(r.concurrency)

	for _, target := range targets {
		target := target

		wp.Submit(func() {
			err := ctx.Err()
			if err == nil {
				startTS := time.Now()
				err = op.Apply(ctx, target)

				metrics.ObserveBMCOperation(op.Name(), startTS, err)
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				logger.WithFields(logrus.Fields{"IP": target.IP.String(), "serial": target.Serial}).
					WithError(err).Warn("operation failed")

				report.Failed = append(report.Failed, Failure{Target: target, Err: err})

				return
			}

			logger.WithFields(logrus.Fields{"IP": target.IP.String(), "serial": target.Serial}).Info("operation successful")

			report.Succeeded = append(report.Succeeded, target)
		})
	}

	wp.StopWait()

	sort.Slice(report.Succeeded, func(i, j int) bool {
		return lessIP(report.Succeeded[i].IP, report.Succeeded[j].IP)
	})

	sort.Slice(report.Failed, func(i, j int) bool {
		return lessIP(report.Failed[i].Target.IP, report.Failed[j].Target.IP)
	})

	logger.WithFields(logrus.Fields{
		"succeeded": len(report.Succeeded),
		"failed":    len(report.Failed),
	}).Info("run complete")

	return report
}

func setTraceSpanTargetAttributes(span trace.Span, target Target) {
	span.SetAttributes(
		attribute.String("bmc.host", target.IP.String()),
		attribute.String("bmc.mac", target.MAC),
		attribute.String("bmc.serial", target.Serial),
	)
}
