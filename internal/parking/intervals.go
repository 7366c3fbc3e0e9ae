package parking

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Column names of the camera csv exports.
const (
	ColChannel  = "Канал"
	ColPlate    = "Номерной знак"
	ColAllowed  = "Белый список"
	ColTaken    = "Время мом. снимка"
	ColFacing   = "ТС спереди или сзади"
	ColPasses   = "Количество проездов"
	ColTotal    = "Суммарное время (дни)"
	ColDetails  = "Детали проездов"
	Unlicensed  = "Не лицензировано"
	UnknownChan = "Unknown"

	ChannelOpen  = "CH01"
	ChannelClose = "CH02"

	minutesPerDay = 1440
)

var (
	dataColumns     = []string{ColChannel, ColPlate, ColAllowed, ColTaken, ColFacing}
	intervalColumns = []string{ColPlate, ColPasses, ColTotal, ColDetails}

	// numericColumns are uploaded to the spreadsheet as numbers.
	numericColumns = []string{ColPasses, ColTotal}

	cameraIPRe  = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	fileDateRe  = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	intervalsRe = regexp.MustCompile(`^intervals_(\d{4}-\d{2})\.csv$`)
)

// DefaultChannels maps the camera addresses to the channel they record.
func DefaultChannels() map[string]string {
	return map[string]string{
		"192.168.4.103": ChannelOpen,
		"192.168.4.104": ChannelClose,
	}
}

// PlateMapping maps recognized plate variants to the plate they stand for.
type PlateMapping map[string]string

// Resolve returns the mapped plate, or plate when it has no mapping.
func (p PlateMapping) Resolve(plate string) string {
	if target, ok := p[plate]; ok {
		return target
	}

	return plate
}

// LoadPlateMapping reads a mapping file of target=src1,src2;src3 lines.
// A missing file results in an empty mapping.
func LoadPlateMapping(path string, logger *logrus.Entry) (PlateMapping, error) {
	mapping := PlateMapping{}

	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.WithField("file", path).Warn("plate mapping file not found")
			return mapping, nil
		}

		return nil, errors.Wrap(ErrInput, err.Error())
	}

	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		target, sources, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}

		target = strings.TrimSpace(target)

		for _, src := range strings.Split(strings.ReplaceAll(sources, ";", ","), ",") {
			mapping[strings.TrimSpace(src)] = target
		}

		mapping[target] = target
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(ErrInput, path+": "+err.Error())
	}

	return mapping, nil
}

// ChannelForFile returns the channel of the camera whose address appears in the file name.
func ChannelForFile(name string, channels map[string]string) string {
	for _, ip := range cameraIPRe.FindAllString(name, -1) {
		if ch, ok := channels[ip]; ok {
			return ch
		}
	}

	return UnknownChan
}

// Sighting is a camera export row.
type Sighting struct {
	Channel string
	Plate   string
	Allowed string
	Taken   time.Time
	Facing  string
}

// Interval is a stay between an opening and a closing channel sighting.
type Interval struct {
	Start   time.Time
	End     time.Time
	Minutes float64
}

// PlateIntervals are the stays of a plate in a month.
type PlateIntervals struct {
	Plate     string
	Intervals []Interval
}

// TotalDays returns the summed stays in days rounded to 3 places.
func (p *PlateIntervals) TotalDays() float64 {
	var total float64
	for _, i := range p.Intervals {
		total += i.Minutes
	}

	return round(total/minutesPerDay, 3)
}

// Details returns the stays formatted as (start -> end: N мин) joined by a comma.
func (p *PlateIntervals) Details() string {
	parts := make([]string, 0, len(p.Intervals))

	for _, i := range p.Intervals {
		parts = append(parts, "("+i.Start.Format(time.DateTime)+" -> "+i.End.Format(time.DateTime)+": "+
			formatFloat(i.Minutes)+" мин)")
	}

	return strings.Join(parts, ", ")
}

// ReadSightings reads a camera csv export, the channel is taken from the file name.
// Rows of unlicensed plates are dropped.
func ReadSightings(path string, channels map[string]string) ([]Sighting, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	idx := map[string]int{}
	for i, name := range records[0] {
		idx[strings.TrimSpace(name)] = i
	}

	for _, col := range []string{ColPlate, ColAllowed, ColTaken, ColFacing} {
		if _, ok := idx[col]; !ok {
			return nil, errors.Wrap(ErrInput, path+": missing column "+col)
		}
	}

	channel := ChannelForFile(filepath.Base(path), channels)
	sightings := make([]Sighting, 0, len(records)-1)

	var merr *multierror.Error

	for n, rec := range records[1:] {
		get := func(col string) string {
			if i := idx[col]; i < len(rec) {
				return rec[i]
			}

			return ""
		}

		if get(ColPlate) == Unlicensed {
			continue
		}

		taken, err := ParseTime(get(ColTaken))
		if err != nil {
			merr = multierror.Append(merr, errors.Wrap(err, filepath.Base(path)+" line "+strconv.Itoa(n+2)))
			continue
		}

		sightings = append(sightings, Sighting{
			Channel: channel,
			Plate:   get(ColPlate),
			Allowed: get(ColAllowed),
			Taken:   taken,
			Facing:  get(ColFacing),
		})
	}

	return sightings, merr.ErrorOrNil()
}

// SortSightings orders sightings by plate then time.
func SortSightings(s []Sighting) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Plate != s[j].Plate {
			return s[i].Plate < s[j].Plate
		}

		return s[i].Taken.Before(s[j].Taken)
	})
}

// CalculateIntervals pairs the opening and closing sightings per mapped plate. An opening
// sighting starts a stay unless one is already open, a closing sighting ends the open stay.
// Plates are returned in the order they first appear, plates without a stay are left out.
func CalculateIntervals(sightings []Sighting, mapping PlateMapping) []PlateIntervals {
	byPlate := map[string][]Sighting{}
	order := []string{}

	for _, s := range sightings {
		plate := mapping.Resolve(s.Plate)
		if _, ok := byPlate[plate]; !ok {
			order = append(order, plate)
		}

		byPlate[plate] = append(byPlate[plate], s)
	}

	out := []PlateIntervals{}

	for _, plate := range order {
		events := byPlate[plate]
		sort.SliceStable(events, func(i, j int) bool { return events[i].Taken.Before(events[j].Taken) })

		pi := PlateIntervals{Plate: plate}

		var open *time.Time

		for i := range events {
			switch {
			case events[i].Channel == ChannelOpen && open == nil:
				open = &events[i].Taken
			case events[i].Channel == ChannelClose && open != nil:
				pi.Intervals = append(pi.Intervals, Interval{
					Start:   *open,
					End:     events[i].Taken,
					Minutes: round(events[i].Taken.Sub(*open).Minutes(), 2),
				})
				open = nil
			}
		}

		if len(pi.Intervals) > 0 {
			out = append(out, pi)
		}
	}

	return out
}

// MonthlyBuilder groups the downloaded camera exports by month and writes the monthly data and
// interval files.
type MonthlyBuilder struct {
	Channels map[string]string
	Mapping  PlateMapping
	logger   *logrus.Entry
}

// NewMonthlyBuilder returns a MonthlyBuilder, channels default to DefaultChannels when empty.
func NewMonthlyBuilder(channels map[string]string, mapping PlateMapping, logger *logrus.Logger) *MonthlyBuilder {
	if len(channels) == 0 {
		channels = DefaultChannels()
	}

	return &MonthlyBuilder{
		Channels: channels,
		Mapping:  mapping,
		logger:   logger.WithField("component", "parking.intervals"),
	}
}

// Build reads the csv exports in csvDir and writes data_<YYYY-MM>.csv per month into outDir, and
// intervals_<YYYY-MM>.csv for the months with at least one stay. The months read are returned in order.
func (b *MonthlyBuilder) Build(csvDir, outDir string) ([]string, error) {
	entries, err := os.ReadDir(csvDir)
	if err != nil {
		return nil, errors.Wrap(ErrInput, err.Error())
	}

	months := map[string][]Sighting{}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}

		m := fileDateRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		day, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			b.logger.WithField("file", name).Warn("skipped export, invalid date in file name")
			continue
		}

		sightings, err := ReadSightings(filepath.Join(csvDir, name), b.Channels)
		if err != nil {
			if sightings == nil {
				return nil, err
			}

			b.logger.WithField("file", name).WithError(err).Warn("skipped rows")
		}

		key := day.Format("2006-01")
		months[key] = append(months[key], sightings...)
	}

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, month := range keys {
		sightings := months[month]
		SortSightings(sightings)

		if err := writeCSV(filepath.Join(outDir, "data_"+month+".csv"), dataRecords(sightings), true); err != nil {
			return nil, err
		}

		intervals := CalculateIntervals(sightings, b.Mapping)
		intervalsPath := filepath.Join(outDir, "intervals_"+month+".csv")

		// months without a completed stay get no intervals file and are not uploaded.
		if len(intervals) == 0 {
			if err := os.Remove(intervalsPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, errors.Wrap(ErrOutput, err.Error())
			}

			b.logger.WithField("month", month).Info("no stays, intervals file skipped")
		} else if err := writeCSV(intervalsPath, intervalRecords(intervals), true); err != nil {
			return nil, err
		}

		b.logger.WithFields(logrus.Fields{
			"month":     month,
			"sightings": len(sightings),
			"plates":    len(intervals),
		}).Info("monthly files written")
	}

	return keys, nil
}

func dataRecords(sightings []Sighting) [][]string {
	records := [][]string{dataColumns}

	for _, s := range sightings {
		records = append(records, []string{s.Channel, s.Plate, s.Allowed, s.Taken.Format(time.DateTime), s.Facing})
	}

	return records
}

func intervalRecords(intervals []PlateIntervals) [][]string {
	records := [][]string{intervalColumns}

	for i := range intervals {
		pi := &intervals[i]
		records = append(records, []string{
			pi.Plate,
			strconv.Itoa(len(pi.Intervals)),
			formatFloat(pi.TotalDays()),
			pi.Details(),
		})
	}

	return records
}

// IntervalFiles returns the intervals_<YYYY-MM>.csv files in dir keyed by month.
func IntervalFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(ErrInput, err.Error())
	}

	files := map[string]string{}

	for _, entry := range entries {
		if m := intervalsRe.FindStringSubmatch(entry.Name()); m != nil {
			files[m[1]] = filepath.Join(dir, entry.Name())
		}
	}

	return files, nil
}
