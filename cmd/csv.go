package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/metal-toolbox/toolshed/internal/app"
	"github.com/metal-toolbox/toolshed/internal/csvclean"
	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/spf13/cobra"
)

var (
	// inputEncoding is the character encoding of the input csv
	inputEncoding string
)

var cmdCSV = &cobra.Command{
	Use:   "csv",
	Short: "Clean and deduplicate NVR vehicle list exports",
}

var cmdCSVDedupe = &cobra.Command{
	Use:   "dedupe <file.csv>",
	Short: "Reduce the vehicle list to plate, make and owner keeping the first row per plate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cleaner, toolshed, err := newCleaner(cmd)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		result, err := cleaner.Dedupe(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()

		fmt.Fprintf(w, "Checking for duplicates in the first column: '%s'\n", csvclean.ColPlate)

		if len(result.Duplicates) == 0 {
			fmt.Fprintln(w, "No duplicates found.")
		}

		for _, d := range result.Duplicates {
			fmt.Fprintf(w, "\nValue '%s' found in the following lines:\n", d.Value)

			for i, line := range d.Lines {
				fmt.Fprintf(w, "  Line %d: %s\n", line, strings.Join(d.Rows[i], ", "))
			}
		}

		fmt.Fprintf(w, "\nCreated a new file without duplicates: %s\n", result.Output)

		return nil
	},
}

var cmdCSVClean = &cobra.Command{
	Use:   "clean <file.csv>",
	Short: "Strip parenthesized text and non word characters from every cell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cleaner, toolshed, err := newCleaner(cmd)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		out, err := cleaner.Clean(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Processed file saved as: "+out)

		return nil
	},
}

var cmdCSVAutoclean = &cobra.Command{
	Use:   "autoclean <file.csv>",
	Short: "Reformat dates, drop duplicate rows keeping the last and clean the plate column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cleaner, toolshed, err := newCleaner(cmd)
		if err != nil {
			return err
		}

		defer toolshed.Close()

		result, err := cleaner.Autoclean(args[0])
		if err != nil {
			return err
		}

		printAutoclean(cmd.OutOrStdout(), result)

		return nil
	},
}

func printAutoclean(w io.Writer, r *csvclean.AutocleanResult) {
	if r.TotalDuplicates == 0 {
		fmt.Fprintln(w, "No duplicates found")
	} else {
		fmt.Fprintln(w, "\nFound duplicates:")

		for _, d := range r.Duplicates {
			fmt.Fprintf(w, "'%s' appears %d times\n", d.Value, d.Count)
		}

		fmt.Fprintf(w, "\nTotal duplicates found: %d\n", r.TotalDuplicates)
	}

	fmt.Fprintf(w, "\nRows before: %d\n", r.RowsBefore)
	fmt.Fprintf(w, "Rows after: %d\n", r.RowsAfter)
	fmt.Fprintf(w, "Removed %d duplicate rows\n", r.Removed())
	fmt.Fprintf(w, "\nProcessed file saved as: %s\n", r.Output)
}

// newCleaner sets up the app and returns a csv Cleaner for the --encoding flag,
// the caller closes the returned app.
func newCleaner(cmd *cobra.Command) (*csvclean.Cleaner, *app.App, error) {
	enc, err := csvclean.ParseEncoding(inputEncoding)
	if err != nil {
		return nil, nil, err
	}

	toolshed, err := newApp(cmd.Context(), model.AppKindCSV)
	if err != nil {
		return nil, nil, err
	}

	return csvclean.NewCleaner(enc, toolshed.Logger), toolshed, nil
}

func init() {
	cmdCSV.PersistentFlags().StringVar(&inputEncoding, "encoding", string(csvclean.EncodingUTF8), "input file encoding, utf-8 or cp1251")

	cmdCSV.AddCommand(cmdCSVDedupe, cmdCSVClean, cmdCSVAutoclean)
	RootCmd.AddCommand(cmdCSV)
}
