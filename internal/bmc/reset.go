package bmc

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrFactoryReset = errors.New("BMC factory reset error")
)

// CommandRunner runs an external command with the additional environment variables and returns its combined output.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	return cmd.CombinedOutput()
}

// FactoryResetter restores the BMC factory defaults with the Supermicro raw IPMI command,
// which resets the ADMIN password to its factory value.
type FactoryResetter struct {
	ipmitool string
	run      CommandRunner
	logger   *logrus.Entry
}

// NewFactoryResetter returns a FactoryResetter running the given ipmitool executable.
func NewFactoryResetter(ipmitool string, run CommandRunner, logger *logrus.Logger) *FactoryResetter {
	if ipmitool == "" {
		ipmitool = "ipmitool"
	}

	if run == nil {
		run = ExecRunner
	}

	return &FactoryResetter{
		ipmitool: ipmitool,
		run:      run,
		logger:   logger.WithField("component", "bmc.reset"),
	}
}

// Name returns the operation name.
func (f *FactoryResetter) Name() string {
	return OpResetAdmin
}

// Apply sends the factory defaults command to the target BMC.
//
// The password is passed through the IPMI_PASSWORD environment variable so it does not show up in the process list.
func (f *FactoryResetter) Apply(ctx context.Context, target Target) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "FactoryResetter.Apply")
	defer span.End()

	setTraceSpanTargetAttributes(span, target)

	out, err := f.run(
		ctx,
		[]string{"IPMI_PASSWORD=" + target.Password},
		f.ipmitool,
		"-I", "lanplus",
		"-H", target.IP.String(),
		"-U", AdminUser,
		"-E",
		"raw", "0x30", "0x48", "0x1",
	)

	f.logger.WithFields(logrus.Fields{"IP": target.IP.String(), "output": string(out)}).Debug("ipmitool")

	if err != nil {
		span.SetStatus(codes.Error, "ipmitool: "+err.Error())

		return errors.Wrap(ErrFactoryReset, err.Error()+": "+strings.TrimSpace(string(out)))
	}

	if !resetSucceeded(out) {
		span.SetStatus(codes.Error, "unexpected ipmitool output")

		return errors.Wrap(ErrFactoryReset, "unexpected response: "+strings.TrimSpace(string(out)))
	}

	return nil
}

// resetSucceeded returns true when the raw command response is empty, 00 or ff.
func resetSucceeded(out []byte) bool {
	resp := strings.Join(strings.Fields(string(out)), "")

	switch strings.ToLower(resp) {
	case "", "00", "ff":
		return true
	default:
		return false
	}
}
