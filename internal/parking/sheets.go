package parking

import (
	"context"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	// sheetNameLayout names the sheet of a month.
	sheetNameLayout = "01.2006"
	// clearRange is the cell range reset before a month is written.
	clearRange = "!A1:Z"
)

var ErrSheets = errors.New("google sheets error")

// SheetsClient is the subset of the Google Sheets API the uploader needs.
type SheetsClient interface {
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)
	AddSheet(ctx context.Context, spreadsheetID, title string) error
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error
}

// googleSheets implements SheetsClient on the sheets v4 service.
type googleSheets struct {
	svc *sheets.Service
}

// NewSheetsClient authenticates with the service account key file and returns a SheetsClient.
func NewSheetsClient(ctx context.Context, keyFile string, logger *logrus.Logger) (SheetsClient, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrap(ErrSheets, "service account key: "+err.Error())
	}

	jwt, err := google.JWTConfigFromJSON(key, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, errors.Wrap(ErrSheets, "service account key: "+err.Error())
	}

	retryableClient := retryablehttp.NewClient()
	retryableClient.HTTPClient = otelhttp.DefaultClient
	retryableClient.Logger = logger.WithField("component", "parking.sheets")

	// the token source and API calls share the retrying transport
	ctx = context.WithValue(ctx, oauth2.HTTPClient, retryableClient.StandardClient())

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, errors.Wrap(ErrSheets, err.Error())
	}

	return &googleSheets{svc: svc}, nil
}

func (g *googleSheets) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	ss, err := g.svc.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(ErrSheets, err.Error())
	}

	titles := make([]string, 0, len(ss.Sheets))

	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}

	return titles, nil
}

func (g *googleSheets) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}}},
		},
	}

	if _, err := g.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return errors.Wrap(ErrSheets, "add sheet "+title+": "+err.Error())
	}

	return nil
}

func (g *googleSheets) Clear(ctx context.Context, spreadsheetID, rng string) error {
	if _, err := g.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return errors.Wrap(ErrSheets, "clear "+rng+": "+err.Error())
	}

	return nil
}

func (g *googleSheets) Update(ctx context.Context, spreadsheetID, rng string, values [][]interface{}) error {
	_, err := g.svc.Spreadsheets.Values.Update(spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return errors.Wrap(ErrSheets, "update "+rng+": "+err.Error())
	}

	return nil
}

// Uploader writes the monthly interval files to a spreadsheet, a sheet per month.
type Uploader struct {
	client        SheetsClient
	spreadsheetID string
	logger        *logrus.Entry
}

// NewUploader returns an Uploader for the spreadsheet.
func NewUploader(client SheetsClient, spreadsheetID string, logger *logrus.Logger) *Uploader {
	return &Uploader{
		client:        client,
		spreadsheetID: spreadsheetID,
		logger:        logger.WithField("component", "parking.sheets"),
	}
}

// SheetName returns the sheet title of a YYYY-MM month.
func SheetName(month string) (string, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return "", errors.Wrap(ErrInput, "month: "+month)
	}

	return t.Format(sheetNameLayout), nil
}

// UploadDir uploads every intervals_<YYYY-MM>.csv file in dir. A failed month is logged and the
// remaining months are still uploaded, the number of failed months is returned.
func (u *Uploader) UploadDir(ctx context.Context, dir string) (int, error) {
	files, err := IntervalFiles(dir)
	if err != nil {
		return 0, err
	}

	months := make([]string, 0, len(files))
	for m := range files {
		months = append(months, m)
	}

	sort.Strings(months)

	var failed int

	for _, month := range months {
		if err := u.Upload(ctx, month, files[month]); err != nil {
			u.logger.WithField("month", month).WithError(err).Error("upload failed")

			failed++

			continue
		}

		u.logger.WithField("month", month).Info("sheet updated")
	}

	return failed, nil
}

// Upload replaces the content of the month sheet with the csv file, creating the sheet when missing.
func (u *Uploader) Upload(ctx context.Context, month, path string) error {
	name, err := SheetName(month)
	if err != nil {
		return err
	}

	records, err := readCSV(path)
	if err != nil {
		return err
	}

	titles, err := u.client.SheetTitles(ctx, u.spreadsheetID)
	if err != nil {
		return err
	}

	if !contains(titles, name) {
		if err := u.client.AddSheet(ctx, u.spreadsheetID, name); err != nil {
			return err
		}
	}

	if err := u.client.Clear(ctx, u.spreadsheetID, name+clearRange); err != nil {
		return err
	}

	return u.client.Update(ctx, u.spreadsheetID, name+"!A1", sheetValues(records))
}

// sheetValues converts csv records to sheet cells. Cells below the header of the pass count and total
// time columns are sent as numbers, every other cell as text.
func sheetValues(records [][]string) [][]interface{} {
	values := make([][]interface{}, 0, len(records))

	var numeric []bool

	for i, rec := range records {
		if i == 0 {
			numeric = make([]bool, len(rec))
			for c, name := range rec {
				numeric[c] = contains(numericColumns, name)
			}
		}

		row := make([]interface{}, 0, len(rec))

		for c, cell := range rec {
			if i > 0 && c < len(numeric) && numeric[c] {
				if n, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
					row = append(row, n)
					continue
				}
			}

			row = append(row, cell)
		}

		values = append(values, row)
	}

	return values
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
