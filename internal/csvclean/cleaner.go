package csvclean

import (
	"github.com/sirupsen/logrus"
)

// Cleaner runs the csv cleanup operations on files of one encoding and logs their outcome.
type Cleaner struct {
	enc    Encoding
	logger *logrus.Entry
}

// NewCleaner returns a Cleaner reading input files in enc.
func NewCleaner(enc Encoding, logger *logrus.Logger) *Cleaner {
	return &Cleaner{
		enc:    enc,
		logger: logger.WithFields(logrus.Fields{"component": "csvclean", "encoding": enc}),
	}
}

// Clean runs Clean on the file.
func (c *Cleaner) Clean(path string) (string, error) {
	out, err := Clean(path, c.enc)
	if err != nil {
		c.logger.WithError(err).WithField("file", path).Error("clean failed")
		return "", err
	}

	c.logger.WithFields(logrus.Fields{"file": path, "output": out}).Info("cleaned")

	return out, nil
}

// Dedupe runs Dedupe on the file.
func (c *Cleaner) Dedupe(path string) (*DedupeResult, error) {
	result, err := Dedupe(path, c.enc)
	if err != nil {
		c.logger.WithError(err).WithField("file", path).Error("dedupe failed")
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"file":       path,
		"output":     result.Output,
		"rows":       result.Rows,
		"duplicates": len(result.Duplicates),
	}).Info("deduplicated")

	return result, nil
}

// Autoclean runs Autoclean on the file.
func (c *Cleaner) Autoclean(path string) (*AutocleanResult, error) {
	result, err := Autoclean(path, c.enc)
	if err != nil {
		c.logger.WithError(err).WithField("file", path).Error("autoclean failed")
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"file":        path,
		"output":      result.Output,
		"rowsBefore":  result.RowsBefore,
		"rowsAfter":   result.RowsAfter,
		"removed":     result.Removed(),
		"dateColumns": result.DateColumns,
	}).Info("autocleaned")

	return result, nil
}

// NormalizePlates runs NormalizePlates on the file.
func (c *Cleaner) NormalizePlates(path string) (string, error) {
	out, err := NormalizePlates(path, c.enc)
	if err != nil {
		c.logger.WithError(err).WithField("file", path).Error("plate normalization failed")
		return "", err
	}

	c.logger.WithFields(logrus.Fields{"file": path, "output": out}).Info("plates normalized")

	return out, nil
}
