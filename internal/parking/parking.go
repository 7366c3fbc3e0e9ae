// Package parking builds parking duration reports from ANPR camera exports.
package parking

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// utf8BOM prefixes the files spreadsheet applications are expected to open.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var (
	ErrInput  = errors.New("parking input error")
	ErrOutput = errors.New("parking output error")
)

// timeLayouts are the timestamp formats seen in camera and DVR exports.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"01-02-06 15:04",
	"2006-01-02",
}

// ParseTime parses an export timestamp in local time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.Wrap(ErrInput, "unrecognized timestamp: "+s)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// formatFloat renders a float the way the reports always have, integral values keep a ".0".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}

	return s
}

// writeCSV writes records to path, creating the parent directory.
func writeCSV(path string, records [][]string, bom bool) error {
	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(ErrOutput, err.Error())
	}

	buf := &bytes.Buffer{}
	if bom {
		buf.Write(utf8BOM)
	}

	w := csv.NewWriter(buf)
	if err := w.WriteAll(records); err != nil {
		return errors.Wrap(ErrOutput, path+": "+err.Error())
	}

	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return errors.Wrap(ErrOutput, err.Error())
	}

	return nil
}

// readCSV reads all records from path, a leading BOM is dropped.
func readCSV(path string) ([][]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrInput, err.Error())
	}

	return parseCSV(bytes.NewReader(bytes.TrimPrefix(b, utf8BOM)), path)
}

func parseCSV(r io.Reader, name string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(ErrInput, name+": "+err.Error())
	}

	return records, nil
}
