package parking

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeExport(t *testing.T, path string, rows [][]interface{}) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	require.NoError(t, f.SaveAs(path))
}

func TestFilterExportRows(t *testing.T) {
	rows := [][]string{
		{"1", "2024-05-01 08:00:00", "x", "y", "Интеллектуальный анализ", "Тип события:ANPR Автомобильный номер:A1 Канал:1"},
		{"2", "2024-05-01 08:05:00", "x", "y", "Интеллектуальный анализ", "Тип события:ANPR Автомобильный номер:B2 Канал:2"},
		{"3", "2024-05-01 08:06:00", "x", "y", "Интеллектуальный анализ", "Тип события:ANPR Автомобильный номер: Канал:2"},
		{"4", "2024-05-01 08:07:00", "x", "y", "Движение"},
		{"5", "2024-05-01 08:08:00", "x", "y", "Интеллектуальный анализ", "Тип события:ANPR Автомобильный номер:C3 Канал:1"},
	}

	got := filterExportRows(rows)

	// the first kept row is dropped as the sheet header
	assert.Equal(t, [][]string{
		{"2024-05-01 08:05:00", "Интеллектуальный анализ", "B2 Канал:2"},
		{"2024-05-01 08:08:00", "Интеллектуальный анализ", "C3 Канал:1"},
	}, got)

	assert.Empty(t, filterExportRows(nil))
}

func TestCombine(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	row := func(ts, info string) []interface{} {
		return []interface{}{"n", ts, "x", "y", "Интеллектуальный анализ " + info}
	}

	writeExport(t, filepath.Join(in, "2024-05-03_10_00_00.xlsx"), [][]interface{}{
		row("2024-05-03 09:00:00", "header"),
		row("2024-05-03 09:10:00", "Тип события:ANPR Автомобильный номер:C3 Канал:1"),
	})
	writeExport(t, filepath.Join(in, "2024-05-01_10_00_00.xlsx"), [][]interface{}{
		row("2024-05-01 09:00:00", "header"),
		row("2024-05-01 09:10:00", "Тип события:ANPR Автомобильный номер:A1 Канал:1"),
	})
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.xlsx"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(in, "readme.txt"), []byte("x"), 0o600))

	path, err := NewCombiner(logrus.New()).Combine(in, out)
	require.NoError(t, err)
	assert.Equal(t, "combined_2024-05-01_to_2024-05-03.csv", filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"2024-05-01 09:10:00,Интеллектуальный анализ A1 Канал:1\n"+
			"2024-05-03 09:10:00,Интеллектуальный анализ C3 Канал:1\n",
		string(got),
	)
}

func TestCombineNoExports(t *testing.T) {
	_, err := NewCombiner(logrus.New()).Combine(t.TempDir(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoExports)
}
