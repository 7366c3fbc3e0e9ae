package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/toolshed/internal/app"
	"github.com/metal-toolbox/toolshed/internal/mailbox"
	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/metal-toolbox/toolshed/internal/parking"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// xlsDir is the directory the DVR xlsx exports are read from
	xlsDir string
	// combinedDir is the directory the combined csv is written to
	combinedDir string
	// reportDir is the directory parking duration reports are written to
	reportDir string
	// skipDownload skips fetching exports from the mailboxes
	skipDownload bool
	// skipUpload skips uploading the interval files to Google Sheets
	skipUpload bool
)

var cmdParking = &cobra.Command{
	Use:   "parking",
	Short: "Build parking duration reports from ANPR camera exports",
}

var cmdParkingCombine = &cobra.Command{
	Use:   "combine",
	Short: "Combine the DVR xlsx exports into a single csv file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		toolshed, err := newApp(cmd.Context(), model.AppKindParking)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		out, err := parking.NewCombiner(toolshed.Logger).Combine(xlsDir, combinedDir)
		if err != nil {
			if errors.Is(err, parking.ErrNoExports) {
				fmt.Fprintln(cmd.OutOrStdout(), "No xlsx files found")
				return nil
			}

			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Created combined file: "+out)

		return nil
	},
}

var cmdParkingReport = &cobra.Command{
	Use:   "report <combined.csv>",
	Short: "Sum the parked hours per car and day from a combined csv file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		toolshed, err := newApp(cmd.Context(), model.AppKindParking)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		out, err := parking.Report(args[0], reportDir, toolshed.Logger)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Report has been saved to "+out)

		return nil
	},
}

var cmdParkingIntervals = &cobra.Command{
	Use:   "intervals",
	Short: "Download camera exports from mail, build monthly stay intervals and upload them to Google Sheets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		toolshed, err := newApp(cmd.Context(), model.AppKindParking)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		ctx, cancel := toolshed.Context(cmd.Context())
		defer cancel()

		return runIntervals(ctx, toolshed)
	},
}

func runIntervals(ctx context.Context, toolshed *app.App) error {
	cfg := toolshed.Config.Parking
	logger := toolshed.Logger.WithField("component", "parking")

	channels, err := cfg.ChannelMap()
	if err != nil {
		return err
	}

	mapping, err := parking.LoadPlateMapping(cfg.MappingFile, logger)
	if err != nil {
		return err
	}

	if !skipDownload {
		if err := downloadExports(ctx, toolshed); err != nil {
			return err
		}
	}

	months, err := parking.NewMonthlyBuilder(channels, mapping, toolshed.Logger).Build(cfg.CSVDir, cfg.MonthlyDir)
	if err != nil {
		return err
	}

	logger.WithField("months", months).Info("monthly files built")

	if skipUpload {
		return nil
	}

	if cfg.SpreadsheetID == "" {
		logger.Warn("no spreadsheet id configured, skipped upload")
		return nil
	}

	client, err := parking.NewSheetsClient(ctx, cfg.ServiceAccountFile, toolshed.Logger)
	if err != nil {
		return err
	}

	failed, err := parking.NewUploader(client, cfg.SpreadsheetID, toolshed.Logger).UploadDir(ctx, cfg.MonthlyDir)
	if err != nil {
		return err
	}

	if failed > 0 {
		return errors.Wrap(parking.ErrSheets, fmt.Sprintf("%d month(s) failed to upload", failed))
	}

	logger.Info("processing completed")

	return nil
}

// downloadExports fetches the exports of every configured account, a failing account does not stop the others.
func downloadExports(ctx context.Context, toolshed *app.App) error {
	cfg := toolshed.Config.Parking

	if len(cfg.Accounts) == 0 {
		toolshed.Logger.Warn("no mail accounts configured, skipped download")
		return nil
	}

	store, err := parking.OpenStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}

	defer store.Close()

	downloader := parking.NewDownloader(store, cfg.CSVDir, toolshed.Logger)

	var merr *multierror.Error

	for _, account := range cfg.Accounts {
		mb := mailbox.New(mailboxOptions(account), mailbox.DialTLS, toolshed.Logger)

		n, err := downloader.Download(ctx, account.Username, mb)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, account.Username))
			continue
		}

		toolshed.Logger.WithFields(logrus.Fields{"account": account.Username, "files": n}).Info("exports downloaded")
	}

	// the exports already on disk are still processed
	if merr != nil {
		toolshed.Logger.WithError(merr).Error("export download failed")
	}

	return nil
}

func init() {
	cmdParkingCombine.Flags().StringVar(&xlsDir, "in", "xlsdata", "directory of the DVR xlsx exports")
	cmdParkingCombine.Flags().StringVar(&combinedDir, "out", "csvdata", "directory the combined csv is written to")
	cmdParkingReport.Flags().StringVar(&reportDir, "out", "reports", "directory the report is written to")
	cmdParkingIntervals.Flags().BoolVar(&skipDownload, "skip-download", false, "process the exports already in the csv directory")
	cmdParkingIntervals.Flags().BoolVar(&skipUpload, "skip-upload", false, "do not upload the interval files to Google Sheets")

	cmdParking.AddCommand(cmdParkingCombine, cmdParkingReport, cmdParkingIntervals)
	RootCmd.AddCommand(cmdParking)
}
