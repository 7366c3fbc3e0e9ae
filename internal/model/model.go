package model

import (
	"github.com/pkg/errors"
)

type (
	AppKind  string
	LogLevel string
)

const (
	AppName = "toolshed"

	// AppKindBMC identifies the BMC password tooling.
	AppKindBMC AppKind = "bmc"
	// AppKindMailbot identifies the mail to telegram relay bot.
	AppKindMailbot AppKind = "mailbot"
	// AppKindWatchdog identifies the mailbot service watchdog.
	AppKindWatchdog AppKind = "watchdog"
	// AppKindParking identifies the parking report tooling.
	AppKindParking AppKind = "parking"
	// AppKindCSV identifies the csv cleaning tools.
	AppKindCSV AppKind = "csv"

	LogLevelInfo  LogLevel = "info"
	LogLevelDebug LogLevel = "debug"
	LogLevelTrace LogLevel = "trace"

	ProfilingEndpoint = "localhost:9091"

	// EnvVarDumpFixtures when set to true, dumps intermediate data structures as files for debugging.
	EnvVarDumpFixtures = "DEBUG_DUMP_FIXTURES"

	// EnvVarLogFile is the environment variable the log file parameter is read from.
	EnvVarLogFile = "TOOLSHED_LOG_FILE"
)

var (
	ErrConfig = errors.New("configuration error")
)

// AppKinds returns the supported application kinds.
func AppKinds() []AppKind {
	return []AppKind{AppKindBMC, AppKindMailbot, AppKindWatchdog, AppKindParking, AppKindCSV}
}
