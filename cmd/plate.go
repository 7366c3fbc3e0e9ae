package cmd

import (
	"fmt"

	"github.com/metal-toolbox/toolshed/internal/csvclean"
	"github.com/metal-toolbox/toolshed/internal/plate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	// plateColumnFile is a csv file whose first column is normalized
	plateColumnFile string
)

var cmdPlate = &cobra.Command{
	Use:   "plate",
	Short: "Licence plate helpers",
}

var cmdPlateNormalize = &cobra.Command{
	Use:   "normalize [value...]",
	Short: "Print plates in upper case Latin letters and digits, or normalize the first column of a csv file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if plateColumnFile == "" {
			if len(args) == 0 {
				return errors.Wrap(errParseCLIParam, "expected plate values or --column <file.csv>")
			}

			for _, v := range args {
				fmt.Fprintln(cmd.OutOrStdout(), plate.Normalize(v))
			}

			return nil
		}

		cleaner, toolshed, err := newCleaner(cmd)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		out, err := cleaner.NormalizePlates(plateColumnFile)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Processed file saved as: "+out)

		return nil
	},
}

func init() {
	cmdPlateNormalize.Flags().StringVar(&plateColumnFile, "column", "", "normalize the first column of this csv file from the second row on")
	cmdPlateNormalize.Flags().StringVar(&inputEncoding, "encoding", string(csvclean.EncodingUTF8), "input file encoding, utf-8 or cp1251")

	cmdPlate.AddCommand(cmdPlateNormalize)
	RootCmd.AddCommand(cmdPlate)
}
