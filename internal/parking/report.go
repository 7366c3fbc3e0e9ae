package parking

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	ChannelEntry = "1"
	ChannelExit  = "2"
)

var (
	ErrNoEvents = errors.New("no parking events in input")

	channelRe = regexp.MustCompile(`Канал:(\d+)`)
)

// Event is a single plate recognition.
type Event struct {
	Time    time.Time
	Plate   string
	Channel string
}

// Duration is the time a car spent parked on a day.
type Duration struct {
	Plate string
	Date  string
	Hours float64
}

// ReadEvents parses combined rows of the form datetime,info. Rows that do not parse are
// logged and skipped.
func ReadEvents(records [][]string, logger *logrus.Entry) []Event {
	events := make([]Event, 0, len(records))

	for i, rec := range records {
		if len(rec) < 2 {
			logger.WithField("line", i+1).Warn("skipped row, expected datetime and info")
			continue
		}

		t, err := ParseTime(rec[0])
		if err != nil {
			logger.WithField("line", i+1).WithError(err).Warn("skipped row")
			continue
		}

		fields := strings.Fields(rec[1])
		if len(fields) == 0 {
			logger.WithField("line", i+1).Warn("skipped row, no plate")
			continue
		}

		var channel string
		if m := channelRe.FindStringSubmatch(rec[1]); m != nil {
			channel = m[1]
		}

		events = append(events, Event{Time: t, Plate: fields[0], Channel: channel})
	}

	return events
}

// Durations sums the parked time per plate and day. Every entry is paired with the first exit
// strictly after it, that exit and the ones before it are not paired again.
func Durations(events []Event) []Duration {
	type key struct{ date, plate string }

	groups := map[key][]Event{}
	order := []key{}

	for _, e := range events {
		k := key{date: e.Time.Format("2006-01-02"), plate: e.Plate}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}

		groups[k] = append(groups[k], e)
	}

	out := make([]Duration, 0, len(order))

	for _, k := range order {
		out = append(out, Duration{
			Plate: k.plate,
			Date:  k.date,
			Hours: round(parkedTime(groups[k]).Hours(), 2),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}

		return out[i].Plate < out[j].Plate
	})

	return out
}

func parkedTime(events []Event) time.Duration {
	var entries, exits []time.Time

	for _, e := range events {
		switch e.Channel {
		case ChannelEntry:
			entries = append(entries, e.Time)
		case ChannelExit:
			exits = append(exits, e.Time)
		}
	}

	sortTimes(entries)
	sortTimes(exits)

	var total time.Duration

	for _, entry := range entries {
		for i, exit := range exits {
			if !exit.After(entry) {
				continue
			}

			total += exit.Sub(entry)

			// drop this exit and the ones not after it
			rest := exits[i+1:]
			for len(rest) > 0 && !rest[0].After(exit) {
				rest = rest[1:]
			}

			exits = rest

			break
		}
	}

	return total
}

func sortTimes(ts []time.Time) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
}

// Report writes parking_duration_<min>_to_<max>.csv for the combined input file into outDir.
func Report(input, outDir string, logger *logrus.Logger) (string, error) {
	l := logger.WithField("component", "parking.report")

	records, err := readCSV(input)
	if err != nil {
		return "", err
	}

	events := ReadEvents(records, l)
	if len(events) == 0 {
		return "", errors.Wrap(ErrNoEvents, input)
	}

	minDate, maxDate := events[0].Time, events[0].Time
	for _, e := range events[1:] {
		if e.Time.Before(minDate) {
			minDate = e.Time
		}

		if e.Time.After(maxDate) {
			maxDate = e.Time
		}
	}

	rows := [][]string{{"car_number", "date", "hours"}}
	for _, d := range Durations(events) {
		rows = append(rows, []string{d.Plate, d.Date, formatFloat(d.Hours)})
	}

	name := "parking_duration_" + minDate.Format("2006-01-02") + "_to_" + maxDate.Format("2006-01-02") + ".csv"
	out := filepath.Join(outDir, name)

	if err := writeCSV(out, rows, false); err != nil {
		return "", err
	}

	l.WithFields(logrus.Fields{"file": out, "rows": len(rows) - 1}).Info("report written")

	return out, nil
}
