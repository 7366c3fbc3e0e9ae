package parking

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	// ExportNameLayout is the time layout of the DVR export file names.
	ExportNameLayout = "2006-01-02_15_04_05"

	eventMarker  = "Интеллектуальн"
	brokenMarker = "Тип события:ANPR Автомобильный номер: Канал:"
	anprPrefix   = "Тип события:ANPR Автомобильный номер:"
)

var (
	ErrNoExports = errors.New("no xlsx files found")

	// droppedColumns are the export columns left out of the combined file.
	droppedColumns = map[int]bool{0: true, 2: true, 3: true}
)

type export struct {
	path  string
	taken time.Time
}

// Combiner merges the DVR xlsx exports of a directory into a single csv.
type Combiner struct {
	logger *logrus.Entry
}

// NewCombiner returns a Combiner.
func NewCombiner(logger *logrus.Logger) *Combiner {
	return &Combiner{logger: logger.WithField("component", "parking.combine")}
}

// Combine reads the exports in inDir and writes combined_<start>_to_<end>.csv to outDir,
// the path of the written file is returned.
func (c *Combiner) Combine(inDir, outDir string) (string, error) {
	exports, err := c.listExports(inDir)
	if err != nil {
		return "", err
	}

	if len(exports) == 0 {
		return "", ErrNoExports
	}

	var combined [][]string

	for _, e := range exports {
		rows, err := readExport(e.path)
		if err != nil {
			return "", err
		}

		combined = append(combined, filterExportRows(rows)...)

		c.logger.WithField("file", filepath.Base(e.path)).Info("processed export")
	}

	name := "combined_" + exports[0].taken.Format("2006-01-02") +
		"_to_" + exports[len(exports)-1].taken.Format("2006-01-02") + ".csv"
	out := filepath.Join(outDir, name)

	if err := writeCSV(out, combined, false); err != nil {
		return "", err
	}

	return out, nil
}

func (c *Combiner) listExports(dir string) ([]export, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(ErrInput, err.Error())
	}

	exports := []export{}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".xlsx") {
			continue
		}

		taken, err := time.ParseInLocation(ExportNameLayout, strings.SplitN(name, ".", 2)[0], time.Local)
		if err != nil {
			c.logger.WithField("file", name).Warn("skipped export, file name is not a timestamp")
			continue
		}

		exports = append(exports, export{path: filepath.Join(dir, name), taken: taken})
	}

	sort.SliceStable(exports, func(i, j int) bool {
		return exports[i].taken.Before(exports[j].taken)
	})

	return exports, nil
}

func readExport(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(ErrInput, path+": "+err.Error())
	}

	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(ErrInput, path+": "+err.Error())
	}

	return rows, nil
}

// filterExportRows keeps the recognition events of a sheet, drops the unused columns and the
// first remaining row.
func filterExportRows(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	kept := [][]string{}

	for _, row := range rows {
		if !rowContains(row, eventMarker) || rowContains(row, brokenMarker) {
			continue
		}

		out := make([]string, 0, width)

		for i := 0; i < width; i++ {
			if droppedColumns[i] {
				continue
			}

			var cell string
			if i < len(row) {
				cell = strings.ReplaceAll(row[i], anprPrefix, "")
			}

			out = append(out, cell)
		}

		kept = append(kept, out)
	}

	if len(kept) == 0 {
		return kept
	}

	return kept[1:]
}

func rowContains(row []string, s string) bool {
	for _, cell := range row {
		if strings.Contains(cell, s) {
			return true
		}
	}

	return false
}
