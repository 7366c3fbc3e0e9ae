// Package csvclean cleans and deduplicates the vehicle list exports of the NVR.
package csvclean

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/metal-toolbox/toolshed/internal/plate"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

// Encoding is the character encoding of an input file.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingCP1251 Encoding = "cp1251"
)

var (
	ErrEncoding = errors.New("unsupported encoding")
	ErrInput    = errors.New("csv input error")
	ErrOutput   = errors.New("csv output error")

	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	parenthesizedRe = regexp.MustCompile(`\([^)]*\)`)
)

// ParseEncoding returns the Encoding for a name, the empty name is utf-8.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "_", "-")) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "cp1251", "windows-1251":
		return EncodingCP1251, nil
	}

	return "", errors.Wrap(ErrEncoding, name)
}

// ReadFile reads every record of a csv file decoded from enc, a leading BOM is dropped.
func ReadFile(path string, enc Encoding) ([][]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(ErrInput, err.Error())
	}

	defer fh.Close()

	var r io.Reader = fh

	switch enc {
	case EncodingUTF8, "":
		br := bufio.NewReader(fh)
		if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
			_, _ = br.Discard(len(utf8BOM))
		}

		r = br
	case EncodingCP1251:
		r = charmap.Windows1251.NewDecoder().Reader(fh)
	default:
		return nil, errors.Wrap(ErrEncoding, string(enc))
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(ErrInput, filepath.Base(path)+": "+err.Error())
	}

	return records, nil
}

// writeFile writes records with minimal quoting, CRLF terminated.
func writeFile(path string, records [][]string) error {
	buf := &bytes.Buffer{}

	w := csv.NewWriter(buf)
	w.UseCRLF = true

	if err := w.WriteAll(records); err != nil {
		return errors.Wrap(ErrOutput, err.Error())
	}

	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return errors.Wrap(ErrOutput, err.Error())
	}

	return nil
}

// writeQuotedFile writes records with a BOM, every field quoted and each record terminated by ",\n",
// the layout the NVR import expects.
func writeQuotedFile(path string, records [][]string) error {
	buf := &bytes.Buffer{}
	buf.Write(utf8BOM)

	for _, rec := range records {
		for i, field := range rec {
			if i > 0 {
				buf.WriteByte(',')
			}

			buf.WriteByte('"')
			buf.WriteString(strings.ReplaceAll(field, `"`, `""`))
			buf.WriteByte('"')
		}

		buf.WriteString(",\n")
	}

	// nolint:gomnd // file permissions are clearer in this form.
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return errors.Wrap(ErrOutput, err.Error())
	}

	return nil
}

// ModifiedPath returns <base>_modified<ext> for path.
func ModifiedPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_modified" + ext
}

// CleanValue removes parenthesized text and every character that is not a letter, digit or underscore.
func CleanValue(s string) string {
	s = parenthesizedRe.ReplaceAllString(s, "")

	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' {
			return r
		}

		return -1
	}, s)
}

// CleanPlate cleans a value like CleanValue and replaces Cyrillic lookalike letters with Latin ones.
func CleanPlate(s string) string {
	return plate.Transliterate(CleanValue(s))
}

// asciiAlnum keeps the ASCII letters and digits of s.
func asciiAlnum(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}

		return -1
	}, s)
}

// Clean applies CleanValue to every cell of the file and writes <base>_modified<ext>. Rows with only
// empty cells are dropped. The output path is returned.
func Clean(path string, enc Encoding) (string, error) {
	records, err := ReadFile(path, enc)
	if err != nil {
		return "", err
	}

	out := make([][]string, 0, len(records))

	for _, rec := range records {
		if allEmpty(rec) {
			continue
		}

		cleaned := make([]string, len(rec))
		for i, v := range rec {
			cleaned[i] = CleanValue(v)
		}

		out = append(out, cleaned)
	}

	dst := ModifiedPath(path)
	if err := writeFile(dst, out); err != nil {
		return "", err
	}

	return dst, nil
}

func allEmpty(rec []string) bool {
	for _, v := range rec {
		if v != "" {
			return false
		}
	}

	return true
}

// NormalizePlates applies plate.Normalize to the first column of every row below the header and writes
// <base>_modified<ext>. Empty cells are left empty.
func NormalizePlates(path string, enc Encoding) (string, error) {
	records, err := ReadFile(path, enc)
	if err != nil {
		return "", err
	}

	for i, rec := range records {
		if i == 0 || len(rec) == 0 {
			continue
		}

		rec[0] = plate.Normalize(rec[0])
	}

	dst := ModifiedPath(path)
	if err := writeFile(dst, records); err != nil {
		return "", err
	}

	return dst, nil
}
