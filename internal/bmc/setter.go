package bmc

import (
	"context"
	"time"

	"github.com/bombsimon/logrusr/v4"
	"github.com/jacobweinstock/registrar"
	"github.com/metal-toolbox/bmclib"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const (
	// AdminUser is the BMC user logged in with and updated.
	AdminUser = "ADMIN"

	// AdminRole is the role the updated user keeps.
	AdminRole = "Administrator"

	// logoutTimeout is the timeout value for each bmc logout attempt.
	logoutTimeout = time.Minute

	// bmclib will attempt multiple providers (drivers) - to perform an action,
	// this is maximum amount of time bmclib will spend performing a query on a BMC.
	bmclibProviderTimeout = 60 * time.Second

	pkgName = "internal/bmc"

	OpSetPassword = "set-password"
	OpResetAdmin  = "reset-admin"
)

var (
	ErrConnect    = errors.New("BMC connection error")
	ErrUserUpdate = errors.New("BMC user update error")
)

// BMCClient defines the bmclib client methods used to update a user,
// this is mainly to swap the bmclib instance for tests
type BMCClient interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	UpdateUser(ctx context.Context, user, pass, role string) (ok bool, err error)
}

// ClientFactory returns a BMC client for the host, logged in with the user and password.
type ClientFactory func(host, user, pass string) BMCClient

// PasswordSetter updates the ADMIN user password on BMCs.
type PasswordSetter struct {
	newClient   ClientFactory
	user        string
	newPassword string
	logger      *logrus.Entry
}

// NewPasswordSetter returns a PasswordSetter that sets the ADMIN password to newPassword
// using the given bmclib drivers, the ipmi driver is used when none are given.
func NewPasswordSetter(newPassword string, drivers []string, providerTimeout time.Duration, logger *logrus.Logger) *PasswordSetter {
	if len(drivers) == 0 {
		drivers = []string{"ipmi"}
	}

	if providerTimeout <= 0 {
		providerTimeout = bmclibProviderTimeout
	}

	return &PasswordSetter{
		user:        AdminUser,
		newPassword: newPassword,
		logger:      logger.WithField("component", "bmc.setter"),
		newClient: func(host, user, pass string) BMCClient {
			return newBMCClient(host, user, pass, drivers, providerTimeout, logger)
		},
	}
}

// Name returns the operation name.
func (p *PasswordSetter) Name() string {
	return OpSetPassword
}

// Apply logs into the target BMC with its inventory password and sets the new password.
func (p *PasswordSetter) Apply(ctx context.Context, target Target) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "PasswordSetter.Apply")
	defer span.End()

	setTraceSpanTargetAttributes(span, target)

	client := p.newClient(target.IP.String(), p.user, target.Password)

	if err := client.Open(ctx); err != nil {
		span.SetStatus(codes.Error, "BMC login: "+err.Error())

		return errors.Wrap(ErrConnect, err.Error())
	}

	// ctx is not passed to logout to ensure that
	// the bmc logout is carried out even if the context is canceled.
	defer p.logout(client, target)

	ok, err := client.UpdateUser(ctx, p.user, p.newPassword, AdminRole)
	if err != nil {
		span.SetStatus(codes.Error, "BMC UpdateUser(): "+err.Error())

		return errors.Wrap(ErrUserUpdate, err.Error())
	}

	if !ok {
		span.SetStatus(codes.Error, "BMC UpdateUser() returned false")

		return errors.Wrap(ErrUserUpdate, "no provider updated the user")
	}

	return nil
}

func (p *PasswordSetter) logout(client BMCClient, target Target) {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	if err := client.Close(ctx); err != nil {
		p.logger.WithFields(
			logrus.Fields{
				"IP":  target.IP.String(),
				"err": err,
			}).Warn("error in bmc connection close")
	}
}

// newBMCClient initializes a bmclib client with the given credentials
func newBMCClient(host, user, pass string, drivers []string, providerTimeout time.Duration, l *logrus.Logger) *bmclib.Client {
	logger := logrus.New()
	logger.Formatter = l.Formatter
	logger.Out = l.Out

	// setup a logr logger for bmclib
	// bmclib uses logr, for which the trace logs are logged with log.V(3),
	// this is a hax so the logrusr lib will enable trace logging
	// since any value that is less than (logrus.LogLevel - 4) >= log.V(3) is ignored
	// https://github.com/bombsimon/logrusr/blob/master/logrusr.go#L64
	switch l.GetLevel() {
	case logrus.TraceLevel:
		logger.Level = 7
	case logrus.DebugLevel:
		logger.Level = 5
	}

	logruslogr := logrusr.New(logger)

	bmcClient := bmclib.NewClient(
		host,
		user,
		pass,
		bmclib.WithLogger(logruslogr),
		bmclib.WithPerProviderTimeout(providerTimeout),
	)

	// limit the providers to the configured protocols, in the order given.
	selected := registrar.Drivers{}
	for _, d := range drivers {
		selected = append(selected, bmcClient.Registry.Using(d)...)
	}

	bmcClient.Registry.Drivers = selected

	return bmcClient
}
