package parking

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()

	ts, err := ParseTime(s)
	require.NoError(t, err)

	return ts
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024-05-01 08:30:00", "2024-05-01 08:30:00", false},
		{" 2024-05-01 08:30 ", "2024-05-01 08:30:00", false},
		{"01.05.2024 08:30:15", "2024-05-01 08:30:15", false},
		{"2024-05-01T08:30:00", "2024-05-01 08:30:00", false},
		{"yesterday", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInput)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format(time.DateTime))
		})
	}
}

func TestReadEvents(t *testing.T) {
	records := [][]string{
		{"2024-05-01 08:00:00", "A123BC77 Канал:1"},
		{"not a time", "A123BC77 Канал:2"},
		{"2024-05-01 09:00:00", "   "},
		{"2024-05-01 10:00:00"},
		{"2024-05-01 17:00:00", "A123BC77 Канал:2 extra"},
	}

	events := ReadEvents(records, logrus.NewEntry(logrus.New()))
	require.Len(t, events, 2)

	assert.Equal(t, "A123BC77", events[0].Plate)
	assert.Equal(t, ChannelEntry, events[0].Channel)
	assert.Equal(t, ChannelExit, events[1].Channel)
}

func TestDurations(t *testing.T) {
	ev := func(ts, plate, ch string) Event {
		return Event{Time: at(t, ts), Plate: plate, Channel: ch}
	}

	tests := []struct {
		name   string
		events []Event
		want   []Duration
	}{
		{
			"single stay",
			[]Event{
				ev("2024-05-01 08:00:00", "A1", "1"),
				ev("2024-05-01 17:30:00", "A1", "2"),
			},
			[]Duration{{Plate: "A1", Date: "2024-05-01", Hours: 9.5}},
		},
		{
			"exit before entry is ignored",
			[]Event{
				ev("2024-05-01 07:00:00", "A1", "2"),
				ev("2024-05-01 08:00:00", "A1", "1"),
				ev("2024-05-01 09:00:00", "A1", "2"),
			},
			[]Duration{{Plate: "A1", Date: "2024-05-01", Hours: 1}},
		},
		{
			"an exit is paired once",
			[]Event{
				ev("2024-05-01 08:00:00", "A1", "1"),
				ev("2024-05-01 08:30:00", "A1", "1"),
				ev("2024-05-01 09:00:00", "A1", "2"),
			},
			[]Duration{{Plate: "A1", Date: "2024-05-01", Hours: 1}},
		},
		{
			"entry without exit counts zero",
			[]Event{ev("2024-05-02 08:00:00", "B2", "1")},
			[]Duration{{Plate: "B2", Date: "2024-05-02", Hours: 0}},
		},
		{
			"sorted by date then plate",
			[]Event{
				ev("2024-05-02 08:00:00", "A1", "1"),
				ev("2024-05-02 08:20:00", "A1", "2"),
				ev("2024-05-01 08:00:00", "C3", "1"),
				ev("2024-05-01 08:00:00", "B2", "1"),
				ev("2024-05-01 08:10:00", "B2", "2"),
			},
			[]Duration{
				{Plate: "B2", Date: "2024-05-01", Hours: 0.17},
				{Plate: "C3", Date: "2024-05-01", Hours: 0},
				{Plate: "A1", Date: "2024-05-02", Hours: 0.33},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Durations(tt.events))
		})
	}
}

func TestReport(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "combined.csv")

	data := "2024-05-01 08:00:00,A1 Канал:1\n" +
		"2024-05-01 10:00:00,A1 Канал:2\n" +
		"2024-05-03 10:00:00,B2 Канал:1\n"
	require.NoError(t, os.WriteFile(input, []byte(data), 0o600))

	out, err := Report(input, filepath.Join(dir, "reports"), logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "parking_duration_2024-05-01_to_2024-05-03.csv", filepath.Base(out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "car_number,date,hours\nA1,2024-05-01,2.0\nB2,2024-05-03,0.0\n", string(got))
}

func TestReportNoEvents(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "combined.csv")
	require.NoError(t, os.WriteFile(input, []byte("garbage\n"), 0o600))

	_, err := Report(input, dir, logrus.New())
	assert.ErrorIs(t, err, ErrNoEvents)
}
