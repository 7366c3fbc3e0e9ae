package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/equinix-labs/otel-init-go/otelinit"
	"github.com/metal-toolbox/toolshed/internal/app"
	"github.com/metal-toolbox/toolshed/internal/helpers"
	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	errParseCLIParam = errors.New("parameter parse failed")
)

var (
	// cfgFile is the configuration file
	cfgFile string
	// logLevel sets the app log level, one of info, debug, trace
	logLevel string
	// logFile when set, logs are appended to this file
	logFile string
	// enableProfiling enables the pprof endpoint on localhost:9091
	enableProfiling bool
)

// RootCmd is the cli root command instance, subcommands register themselves here.
var RootCmd = &cobra.Command{
	Use:           model.AppName,
	Short:         "toolshed bundles the BMC, mail relay, parking report and csv cleaning tools",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if enableProfiling {
			helpers.EnablePProfile()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, otelShutdown := otelinit.InitOpenTelemetry(context.Background(), model.AppName)

	err := RootCmd.ExecuteContext(ctx)

	otelShutdown(ctx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// newApp initializes the app for the given kind with the root command flags applied.
func newApp(ctx context.Context, kind model.AppKind) (*app.App, error) {
	if logLevel != "" && !validLogLevel(logLevel) {
		return nil, errors.Wrap(errParseCLIParam, "invalid --log-level: "+logLevel)
	}

	if logFile != "" {
		// the flag wins over config and env, which are applied in app.New
		os.Setenv(model.EnvVarLogFile, logFile)
	}

	return app.New(ctx, kind, cfgFile, model.LogLevel(logLevel))
}

func validLogLevel(l string) bool {
	switch model.LogLevel(l) {
	case model.LogLevelInfo, model.LogLevelDebug, model.LogLevelTrace:
		return true
	}

	return false
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file in YAML format")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "set logging level - info, debug, trace")
	RootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to the given file instead of stderr")
	RootCmd.PersistentFlags().BoolVar(&enableProfiling, "enable-pprof", false, "Enable profiling endpoint at: "+model.ProfilingEndpoint)
}
