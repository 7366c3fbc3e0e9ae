package app

import (
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jeremywohl/flatten"
	"github.com/joho/godotenv"
	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

var (
	ErrConfig = model.ErrConfig
)

const (
	DefaultIMAPServer      = "imap.gmail.com:993"
	DefaultSentFolder      = "[Gmail]/Sent Mail"
	DefaultPollInterval    = time.Minute
	DefaultLookback        = time.Hour
	DefaultFetchRetries    = 3
	DefaultRetryDelay      = 5 * time.Second
	DefaultRestartDelay    = 10 * time.Second
	DefaultStaleAfter      = 10 * time.Minute
	DefaultCheckInterval   = time.Minute
	DefaultPingCount       = 3
	DefaultPingTimeout     = 5 * time.Second
	DefaultSweepWorkers    = 20
	DefaultMaxAddresses    = 65536
	DefaultBMCUser         = "ADMIN"
	DefaultProviderTimeout = 60 * time.Second
)

// Configuration holds application configuration read from a YAML or set by env variables.
//
// nolint:govet // prefer readability over field alignment optimization for this case.
type Configuration struct {
	// LogLevel is the app verbose logging level.
	// one of - info, debug, trace
	LogLevel string `mapstructure:"log_level"`

	// LogFile when set, logs are appended to this file instead of stderr.
	LogFile string `mapstructure:"log_file"`

	// AppKind is the tool being run.
	AppKind model.AppKind `mapstructure:"app_kind"`

	// BMC defines the BMC password tooling parameters.
	BMC BMCOptions `mapstructure:"bmc"`

	// Mailbot defines the mail relay bot parameters.
	Mailbot MailbotOptions `mapstructure:"mailbot"`

	// Watchdog defines the mailbot service watchdog parameters.
	Watchdog WatchdogOptions `mapstructure:"watchdog"`

	// Parking defines the parking report parameters.
	Parking ParkingOptions `mapstructure:"parking"`
}

// BMCOptions defines the BMC password tooling configuration.
type BMCOptions struct {
	// Username is the BMC user that is logged in with and updated.
	Username string `mapstructure:"username"`

	// Drivers limits the bmclib providers used, defaults to ipmi.
	Drivers []string `mapstructure:"drivers"`

	// ProviderTimeout is the maximum time bmclib spends on one provider.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`

	// Concurrency is the number of BMCs operated on at once.
	Concurrency int `mapstructure:"concurrency"`

	// IPMIToolPath is the ipmitool executable used for raw commands.
	IPMIToolPath string `mapstructure:"ipmitool_path"`

	// IPListFile is where the list of matched BMC addresses is written.
	IPListFile string `mapstructure:"ip_list_file"`

	Sweep SweepOptions `mapstructure:"sweep"`
}

// SweepOptions defines the ping sweep parameters.
type SweepOptions struct {
	PingCount    int           `mapstructure:"ping_count"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	Privileged   bool          `mapstructure:"privileged"`
	Workers      int           `mapstructure:"workers"`
	MaxAddresses int           `mapstructure:"max_addresses"`
}

// MailboxOptions defines an IMAP mailbox.
type MailboxOptions struct {
	Server       string        `mapstructure:"server"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Folder       string        `mapstructure:"folder"`
	Lookback     time.Duration `mapstructure:"lookback"`
	FetchRetries int           `mapstructure:"fetch_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// MailbotOptions defines the mail relay bot configuration.
type MailbotOptions struct {
	Mailbox MailboxOptions `mapstructure:"mailbox"`

	// ToAddress only sent mail addressed to this recipient is relayed.
	ToAddress string `mapstructure:"to_address"`

	// BotToken is the Telegram bot API token.
	BotToken string `mapstructure:"bot_token"`

	// AllowedUsers is the list of @usernames permitted to subscribe.
	AllowedUsers []string `mapstructure:"allowed_users"`

	DBPath       string        `mapstructure:"db_path"`
	PicturesDir  string        `mapstructure:"pictures_dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`

	// MetricsListenAddress when set, exposes prometheus metrics on this address.
	MetricsListenAddress string `mapstructure:"metrics_listen_address"`
}

// WatchdogOptions defines the mailbot service watchdog configuration.
type WatchdogOptions struct {
	Unit          string        `mapstructure:"unit"`
	LogFile       string        `mapstructure:"log_file"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	UseSudo       bool          `mapstructure:"use_sudo"`
}

// ParkingOptions defines the parking report configuration.
type ParkingOptions struct {
	// Accounts are the mailboxes camera exports are downloaded from.
	Accounts []MailboxOptions `mapstructure:"accounts"`

	DBPath      string `mapstructure:"db_path"`
	CSVDir      string `mapstructure:"csv_dir"`
	MonthlyDir  string `mapstructure:"monthly_dir"`
	MappingFile string `mapstructure:"mapping_file"`

	// Channels are ip=channel pairs, the camera IP address found in an export file name
	// selects the channel of its rows.
	Channels []string `mapstructure:"channels"`

	SpreadsheetID      string `mapstructure:"spreadsheet_id"`
	ServiceAccountFile string `mapstructure:"service_account_file"`
}

// ChannelMap returns the configured camera channels keyed by IP address.
func (p *ParkingOptions) ChannelMap() (map[string]string, error) {
	channels := make(map[string]string, len(p.Channels))

	for _, pair := range p.Channels {
		ip, ch, ok := strings.Cut(pair, "=")
		if !ok || net.ParseIP(strings.TrimSpace(ip)) == nil || strings.TrimSpace(ch) == "" {
			return nil, errors.Wrap(ErrConfig, "invalid parking channel, expected ip=channel: "+pair)
		}

		channels[strings.TrimSpace(ip)] = strings.TrimSpace(ch)
	}

	return channels, nil
}

// LoadConfiguration loads application configuration
//
// Reads in the cfgFile when available and overrides from environment variables.
func (a *App) LoadConfiguration(cfgFile string, kind model.AppKind) error {
	// legacy deployments are configured with a .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(ErrConfig, ".env load error: "+err.Error())
	}

	a.v.SetConfigType("yaml")
	a.v.SetEnvPrefix(model.AppName)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if cfgFile != "" {
		fh, err := os.Open(cfgFile)
		if err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}

		defer fh.Close()

		if err = a.v.ReadConfig(fh); err != nil {
			return errors.Wrap(ErrConfig, "ReadConfig error:"+err.Error())
		}
	}

	a.setDefaults()

	if err := a.envBindVars(); err != nil {
		return errors.Wrap(ErrConfig, "env var bind error:"+err.Error())
	}

	if err := a.v.Unmarshal(a.Config); err != nil {
		return errors.Wrap(ErrConfig, "Unmarshal error: "+err.Error())
	}

	a.envVarLegacyOverrides()

	switch kind {
	case model.AppKindMailbot:
		return a.validateMailbot()
	case model.AppKindWatchdog:
		return a.validateWatchdog()
	case model.AppKindParking:
		_, err := a.Config.Parking.ChannelMap()
		return err
	}

	return nil
}

func (a *App) setDefaults() {
	a.v.SetDefault("log_level", string(model.LogLevelInfo))

	a.v.SetDefault("bmc.username", DefaultBMCUser)
	a.v.SetDefault("bmc.drivers", []string{"ipmi"})
	a.v.SetDefault("bmc.provider_timeout", DefaultProviderTimeout)
	a.v.SetDefault("bmc.concurrency", 1)
	a.v.SetDefault("bmc.ipmitool_path", "ipmitool")
	a.v.SetDefault("bmc.ip_list_file", "ip.txt")
	a.v.SetDefault("bmc.sweep.ping_count", DefaultPingCount)
	a.v.SetDefault("bmc.sweep.ping_timeout", DefaultPingTimeout)
	a.v.SetDefault("bmc.sweep.privileged", true)
	a.v.SetDefault("bmc.sweep.workers", DefaultSweepWorkers)
	a.v.SetDefault("bmc.sweep.max_addresses", DefaultMaxAddresses)

	a.v.SetDefault("mailbot.mailbox.server", DefaultIMAPServer)
	a.v.SetDefault("mailbot.mailbox.folder", DefaultSentFolder)
	a.v.SetDefault("mailbot.mailbox.lookback", DefaultLookback)
	a.v.SetDefault("mailbot.mailbox.fetch_retries", DefaultFetchRetries)
	a.v.SetDefault("mailbot.mailbox.retry_delay", DefaultRetryDelay)
	a.v.SetDefault("mailbot.db_path", "mail_bot.db")
	a.v.SetDefault("mailbot.pictures_dir", "Pictures")
	a.v.SetDefault("mailbot.poll_interval", DefaultPollInterval)
	a.v.SetDefault("mailbot.restart_delay", DefaultRestartDelay)

	a.v.SetDefault("watchdog.unit", "telegram-mail-bot.service")
	a.v.SetDefault("watchdog.log_file", "mail_bot.log")
	a.v.SetDefault("watchdog.stale_after", DefaultStaleAfter)
	a.v.SetDefault("watchdog.check_interval", DefaultCheckInterval)
	a.v.SetDefault("watchdog.use_sudo", true)

	a.v.SetDefault("parking.db_path", "processed_emails.db")
	a.v.SetDefault("parking.csv_dir", "csvdata")
	a.v.SetDefault("parking.monthly_dir", "csvbymonth")
	a.v.SetDefault("parking.mapping_file", "plate_mapping.txt")
	a.v.SetDefault("parking.service_account_file", "service-account-key.json")
	a.v.SetDefault("parking.channels", []string{"192.168.4.103=CH01", "192.168.4.104=CH02"})
}

// envBindVars binds environment variables to the struct
// without a configuration file being unmarshalled,
// this is a workaround for a viper bug,
//
// This can be replaced by the solution in https://github.com/spf13/viper/pull/1429
// once that PR is merged.
func (a *App) envBindVars() error {
	envKeysMap := map[string]interface{}{}
	if err := mapstructure.Decode(a.Config, &envKeysMap); err != nil {
		return err
	}

	// Flatten nested conf map
	flat, err := flatten.Flatten(envKeysMap, "", flatten.DotStyle)
	if err != nil {
		return errors.Wrap(err, "Unable to flatten config")
	}

	for k := range flat {
		if err := a.v.BindEnv(k); err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	return nil
}

// envVarLegacyOverrides applies the legacy .env variable names,
// when the equivalent TOOLSHED_ parameter was not set.
func (a *App) envVarLegacyOverrides() {
	mb := &a.Config.Mailbot

	setIfEmpty(&mb.Mailbox.Username, "EMAIL")
	setIfEmpty(&mb.Mailbox.Password, "EMAIL_PASSWORD")
	setIfEmpty(&mb.ToAddress, "TOEMAIL")
	setIfEmpty(&mb.BotToken, "TELEGRAM_BOT_TOKEN")
	setIfEmpty(&a.Config.Parking.SpreadsheetID, "SPREADSHEET_ID")

	if len(mb.AllowedUsers) == 0 && os.Getenv("ALLOWED_USERS") != "" {
		mb.AllowedUsers = SplitList(os.Getenv("ALLOWED_USERS"))
	}

	// a single comma separated env value is not split by viper when a config file sets the key.
	if len(mb.AllowedUsers) == 1 && strings.Contains(mb.AllowedUsers[0], ",") {
		mb.AllowedUsers = SplitList(mb.AllowedUsers[0])
	}

	// EMAIL1/EMAIL2 pairs configure the parking export mailboxes.
	if len(a.Config.Parking.Accounts) == 0 {
		for _, n := range []string{"1", "2"} {
			user, pass := os.Getenv("EMAIL"+n), os.Getenv("EMAIL"+n+"_PASSWORD")
			if user == "" || pass == "" {
				continue
			}

			a.Config.Parking.Accounts = append(a.Config.Parking.Accounts, MailboxOptions{
				Server:       DefaultIMAPServer,
				Username:     user,
				Password:     pass,
				Folder:       DefaultSentFolder,
				FetchRetries: DefaultFetchRetries,
				RetryDelay:   DefaultRetryDelay,
			})
		}
	}
}

func (a *App) validateMailbot() error {
	mb := &a.Config.Mailbot

	if mb.BotToken == "" {
		return errors.Wrap(ErrConfig, "missing parameter: mailbot.bot_token")
	}

	if mb.Mailbox.Username == "" || mb.Mailbox.Password == "" {
		return errors.Wrap(ErrConfig, "missing parameter: mailbot.mailbox.username/password")
	}

	if mb.ToAddress == "" {
		return errors.Wrap(ErrConfig, "missing parameter: mailbot.to_address")
	}

	if mb.PollInterval <= 0 {
		return errors.Wrap(ErrConfig, "mailbot.poll_interval must be positive")
	}

	if mb.Mailbox.FetchRetries < 1 {
		mb.Mailbox.FetchRetries = 1
	}

	return nil
}

func (a *App) validateWatchdog() error {
	wd := &a.Config.Watchdog

	if wd.Unit == "" {
		return errors.Wrap(ErrConfig, "missing parameter: watchdog.unit")
	}

	if wd.LogFile == "" {
		return errors.Wrap(ErrConfig, "missing parameter: watchdog.log_file")
	}

	if wd.CheckInterval <= 0 {
		return errors.Wrap(ErrConfig, "watchdog.check_interval must be positive")
	}

	return nil
}

func setIfEmpty(dst *string, envVar string) {
	if *dst != "" {
		return
	}

	*dst = os.Getenv(envVar)
}

// SplitList splits a comma separated list, trimming whitespace and dropping empty elements.
func SplitList(s string) []string {
	var out []string

	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}

	return out
}
