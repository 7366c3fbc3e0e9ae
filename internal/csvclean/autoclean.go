package csvclean

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	shortDateLayout = "02-01-06 15:04"
	isoDateLayout   = "2006-01-02 15:04"
)

var shortDateRe = regexp.MustCompile(`\d{2}-\d{2}-\d{2}\s+\d{1,2}:\d{2}`)

// DuplicateCount is a first column value present on more than one row.
type DuplicateCount struct {
	Value string
	Count int
}

// AutocleanResult describes an Autoclean run.
type AutocleanResult struct {
	Output     string
	RowsBefore int
	RowsAfter  int
	// Duplicates lists the non empty duplicated values in order of first appearance.
	Duplicates []DuplicateCount
	// TotalDuplicates counts every row whose first column value is not unique, empty values included.
	TotalDuplicates int
	// DateColumns are the columns reformatted to YYYY-MM-DD HH:MM.
	DateColumns []string
}

// Removed returns the number of rows dropped as duplicates.
func (r *AutocleanResult) Removed() int {
	return r.RowsBefore - r.RowsAfter
}

// Autoclean prepares an NVR vehicle list for import: DD-MM-YY HH:MM columns are reformatted, rows
// sharing a first column value are reduced to the last one and the first column is cleaned with
// CleanPlate. The result is written to <base>_modified<ext>.
func Autoclean(path string, enc Encoding) (*AutocleanResult, error) {
	records, err := ReadFile(path, enc)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 || len(records[0]) == 0 {
		return nil, errors.Wrap(ErrInput, filepath.Base(path)+": no header")
	}

	header := records[0]
	rows := make([][]string, 0, len(records)-1)

	for n, rec := range records[1:] {
		if len(rec) > len(header) {
			return nil, errors.Wrapf(ErrInput, "%s: line %d has %d fields, header has %d",
				filepath.Base(path), n+2, len(rec), len(header))
		}

		row := make([]string, len(header))
		copy(row, rec)
		rows = append(rows, row)
	}

	result := &AutocleanResult{
		Output:     ModifiedPath(path),
		RowsBefore: len(rows),
	}

	for col := range header {
		if reformatDates(rows, col) {
			result.DateColumns = append(result.DateColumns, header[col])
		}
	}

	counts := map[string]int{}
	last := map[string]int{}
	order := []string{}

	for i, row := range rows {
		if _, ok := counts[row[0]]; !ok {
			order = append(order, row[0])
		}

		counts[row[0]]++
		last[row[0]] = i
	}

	for _, v := range order {
		if counts[v] < 2 {
			continue
		}

		result.TotalDuplicates += counts[v]

		if v != "" {
			result.Duplicates = append(result.Duplicates, DuplicateCount{Value: v, Count: counts[v]})
		}
	}

	out := [][]string{header}

	for i, row := range rows {
		if last[row[0]] != i {
			continue
		}

		row[0] = CleanPlate(row[0])
		out = append(out, row)
	}

	result.RowsAfter = len(out) - 1

	if err := writeQuotedFile(result.Output, out); err != nil {
		return nil, err
	}

	return result, nil
}

// reformatDates rewrites column col from DD-MM-YY HH:MM to YYYY-MM-DD HH:MM when its first value looks
// like such a date. The column is left untouched when any value does not parse, empty values stay empty.
func reformatDates(rows [][]string, col int) bool {
	if len(rows) == 0 || !shortDateRe.MatchString(rows[0][col]) {
		return false
	}

	formatted := make([]string, len(rows))

	for i, row := range rows {
		v := strings.Join(strings.Fields(row[col]), " ")
		if v == "" {
			continue
		}

		t, err := time.Parse(shortDateLayout, v)
		if err != nil {
			return false
		}

		formatted[i] = t.Format(isoDateLayout)
	}

	for i, row := range rows {
		row[col] = formatted[i]
	}

	return true
}
