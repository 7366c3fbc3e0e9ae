package csvclean

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}

	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	return logger, buf
}

func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))

		entries = append(entries, entry)
	}

	return entries
}

func TestCleanerAutocleanLogsResult(t *testing.T) {
	logger, buf := newBufferLogger()

	path := writeInput(t, "nvr.csv", "Гос. номер,Начало\nA1,01-05-24 8:05\nA1,02-05-24 9:00\nB2,03-05-24 10:00\n")

	result, err := NewCleaner(EncodingUTF8, logger).Autoclean(path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed())

	entries := logEntries(t, buf)
	require.Len(t, entries, 1)

	assert.Equal(t, "autocleaned", entries[0]["msg"])
	assert.Equal(t, "csvclean", entries[0]["component"])
	assert.Equal(t, float64(3), entries[0]["rowsBefore"])
	assert.Equal(t, float64(2), entries[0]["rowsAfter"])
	assert.Equal(t, float64(1), entries[0]["removed"])
}

func TestCleanerDedupeLogsResult(t *testing.T) {
	logger, buf := newBufferLogger()

	path := writeInput(t, "export.csv", "Гос. номер,Марка тех.пасп.,Собственник\nA1,x,y\nA1,z,w\n")

	_, err := NewCleaner(EncodingUTF8, logger).Dedupe(path)
	require.NoError(t, err)

	entries := logEntries(t, buf)
	require.Len(t, entries, 1)

	assert.Equal(t, "deduplicated", entries[0]["msg"])
	assert.Equal(t, float64(1), entries[0]["rows"])
	assert.Equal(t, float64(1), entries[0]["duplicates"])
}

func TestCleanerLogsFailure(t *testing.T) {
	logger, buf := newBufferLogger()

	_, err := NewCleaner(EncodingUTF8, logger).Clean(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, ErrInput)

	entries := logEntries(t, buf)
	require.Len(t, entries, 1)

	assert.Equal(t, "clean failed", entries[0]["msg"])
	assert.Equal(t, "error", entries[0]["level"])
}
