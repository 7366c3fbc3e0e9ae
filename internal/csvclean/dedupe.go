package csvclean

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// Columns of the NVR vehicle list.
const (
	ColPlate = "Гос. номер"
	ColMake  = "Марка тех.пасп."
	ColOwner = "Собственник"

	// NoData replaces an empty make or owner.
	NoData = "Нет данных"
)

var ErrColumn = errors.New("required column missing")

// Duplicate is a plate found on more than one line.
type Duplicate struct {
	Value string
	// Lines are the file line numbers, the header is line 1.
	Lines []int
	// Rows are the cleaned rows in line order.
	Rows [][]string
}

// DedupeResult describes a Dedupe run.
type DedupeResult struct {
	Output     string
	Rows       int
	Duplicates []Duplicate
}

// Dedupe reduces the vehicle list to plate, make and owner with the plate limited to ASCII letters and
// digits. Rows without a plate are dropped and the first row of a plate is kept. The result is written
// to output_<name> next to the input.
func Dedupe(path string, enc Encoding) (*DedupeResult, error) {
	records, err := ReadFile(path, enc)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, errors.Wrap(ErrInput, filepath.Base(path)+": empty file")
	}

	idx := map[string]int{}
	for i, name := range records[0] {
		if _, ok := idx[name]; !ok {
			idx[name] = i
		}
	}

	for _, col := range []string{ColPlate, ColMake, ColOwner} {
		if _, ok := idx[col]; !ok {
			return nil, errors.Wrap(ErrColumn, col)
		}
	}

	out := [][]string{{ColPlate, ColMake, ColOwner}}
	seen := map[string]*Duplicate{}
	order := []string{}

	for n, rec := range records[1:] {
		get := func(col string) string {
			if i := idx[col]; i < len(rec) {
				return rec[i]
			}

			return ""
		}

		value := asciiAlnum(get(ColPlate))
		if value == "" {
			continue
		}

		row := []string{value, orNoData(get(ColMake)), orNoData(get(ColOwner))}

		d, ok := seen[value]
		if !ok {
			d = &Duplicate{Value: value}
			seen[value] = d
			order = append(order, value)

			out = append(out, row)
		}

		d.Lines = append(d.Lines, n+2)
		d.Rows = append(d.Rows, row)
	}

	result := &DedupeResult{
		Output: filepath.Join(filepath.Dir(path), "output_"+filepath.Base(path)),
		Rows:   len(out) - 1,
	}

	for _, v := range order {
		if d := seen[v]; len(d.Lines) > 1 {
			result.Duplicates = append(result.Duplicates, *d)
		}
	}

	if err := writeFile(result.Output, out); err != nil {
		return nil, err
	}

	return result, nil
}

func orNoData(s string) string {
	if s == "" {
		return NoData
	}

	return s
}
