package cmd

import (
	"github.com/metal-toolbox/toolshed/internal/app"
	"github.com/metal-toolbox/toolshed/internal/mailbot"
	"github.com/metal-toolbox/toolshed/internal/mailbox"
	"github.com/metal-toolbox/toolshed/internal/metrics"
	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/metal-toolbox/toolshed/internal/telegram"
	"github.com/metal-toolbox/toolshed/internal/watchdog"
	"github.com/spf13/cobra"
)

var cmdMailbot = &cobra.Command{
	Use:   "mailbot",
	Short: "Relay the images attached to sent mail to subscribed Telegram chats",
}

var cmdMailbotRun = &cobra.Command{
	Use:   "run",
	Short: "Run the mail relay bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		toolshed, err := newApp(cmd.Context(), model.AppKindMailbot)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		ctx, cancel := toolshed.Context(cmd.Context())
		defer cancel()

		cfg := toolshed.Config.Mailbot

		if cfg.MetricsListenAddress != "" {
			metrics.ListenAndServe(cfg.MetricsListenAddress, toolshed.Logger)
		}

		store, err := mailbot.OpenStore(ctx, cfg.DBPath)
		if err != nil {
			return err
		}

		defer store.Close()

		bot, err := telegram.New(cfg.BotToken, toolshed.Logger)
		if err != nil {
			return err
		}

		mb := mailbox.New(mailboxOptions(cfg.Mailbox), mailbox.DialTLS, toolshed.Logger)

		relay := mailbot.New(store, mb, bot, mailbot.Options{
			ToAddress:    cfg.ToAddress,
			AllowedUsers: cfg.AllowedUsers,
			PicturesDir:  cfg.PicturesDir,
			PollInterval: cfg.PollInterval,
			Lookback:     cfg.Mailbox.Lookback,
			RestartDelay: cfg.RestartDelay,
		}, toolshed.Logger)

		return relay.Run(ctx)
	},
}

var cmdMailbotWatchdog = &cobra.Command{
	Use:   "watchdog",
	Short: "Restart the mail relay bot service when its log file goes stale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		toolshed, err := newApp(cmd.Context(), model.AppKindWatchdog)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		ctx, cancel := toolshed.Context(cmd.Context())
		defer cancel()

		cfg := toolshed.Config.Watchdog

		w := watchdog.New(
			watchdog.NewSystemctl(watchdog.ExecRunner, cfg.UseSudo),
			watchdog.Options{
				Unit:          cfg.Unit,
				LogFile:       cfg.LogFile,
				StaleAfter:    cfg.StaleAfter,
				CheckInterval: cfg.CheckInterval,
			},
			toolshed.Logger,
		)

		return w.Run(ctx)
	},
}

func mailboxOptions(m app.MailboxOptions) mailbox.Options {
	return mailbox.Options{
		Server:     m.Server,
		Username:   m.Username,
		Password:   m.Password,
		Folder:     m.Folder,
		Retries:    m.FetchRetries,
		RetryDelay: m.RetryDelay,
	}
}

func init() {
	cmdMailbot.AddCommand(cmdMailbotRun, cmdMailbotWatchdog)
	RootCmd.AddCommand(cmdMailbot)
}
