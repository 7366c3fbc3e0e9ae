package inventory

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/toolshed/internal/netscan"
	"github.com/pkg/errors"
)

// fieldsPerLine is the item number, serial number, ipmi mac, unique password.
const fieldsPerLine = 4

var (
	ErrFormat   = errors.New("invalid inventory line")
	ErrNotFound = errors.New("not found in inventory")
)

// Entry is one server in the inventory.
type Entry struct {
	Item     string
	Serial   string
	MAC      string
	Password string
}

// Inventory holds the servers listed in an inventory file, indexed by MAC address.
type Inventory struct {
	entries []Entry
	byMAC   map[string]int
}

// Load reads the inventory from the file at path.
func Load(path string) (*Inventory, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer fh.Close()

	return Read(fh)
}

// Read reads an inventory of lines in the format
// item number, serial number, ipmi mac, unique password
//
// Fields are split on commas without quoting rules, so a password may contain any character but a comma.
// Blank lines are ignored, all lines with a different number of fields are returned in the error.
func Read(r io.Reader) (*Inventory, error) {
	scanner := bufio.NewScanner(r)

	inv := &Inventory{byMAC: map[string]int{}}

	var merr *multierror.Error

	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		rec := strings.Split(text, ",")
		if len(rec) != fieldsPerLine {
			merr = multierror.Append(
				merr,
				errors.Wrap(ErrFormat, "line "+strconv.Itoa(line)+": "+text),
			)

			continue
		}

		entry := Entry{
			Item:     strings.TrimSpace(rec[0]),
			Serial:   strings.TrimSpace(rec[1]),
			MAC:      netscan.NormalizeMAC(rec[2]),
			Password: strings.TrimSpace(rec[3]),
		}

		inv.byMAC[entry.MAC] = len(inv.entries)
		inv.entries = append(inv.entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	return inv, nil
}

// Len returns the number of entries.
func (i *Inventory) Len() int {
	return len(i.entries)
}

// EntryForMAC returns the entry with the given MAC address, in any common notation.
func (i *Inventory) EntryForMAC(mac string) (Entry, error) {
	idx, ok := i.byMAC[netscan.NormalizeMAC(mac)]
	if !ok {
		return Entry{}, errors.Wrap(ErrNotFound, mac)
	}

	return i.entries[idx], nil
}

// PasswordForMAC returns the unique password of the server with the given MAC address.
func (i *Inventory) PasswordForMAC(mac string) (string, error) {
	e, err := i.EntryForMAC(mac)
	if err != nil {
		return "", err
	}

	return e.Password, nil
}
