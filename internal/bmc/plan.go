package bmc

import (
	"bufio"
	"bytes"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/metal-toolbox/toolshed/internal/inventory"
	"github.com/metal-toolbox/toolshed/internal/netscan"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrPasswordFile = errors.New("password file error")
)

// Target is a BMC found on the network that is listed in the inventory.
type Target struct {
	IP       net.IP
	MAC      string
	Item     string
	Serial   string
	Password string
}

// Plan joins the IP -> MAC addresses found on the network with the inventory
// and returns the targets ordered by IP address.
func Plan(ipToMAC map[string]net.HardwareAddr, inv *inventory.Inventory, logger *logrus.Entry) []Target {
	targets := []Target{}

	for ip, hw := range ipToMAC {
		entry, err := inv.EntryForMAC(hw.String())
		if err != nil {
			logger.WithFields(logrus.Fields{"ip": ip, "mac": hw.String()}).Debug("no inventory match")
			continue
		}

		targets = append(targets, Target{
			IP:       net.ParseIP(ip),
			MAC:      netscan.NormalizeMAC(hw.String()),
			Item:     entry.Item,
			Serial:   entry.Serial,
			Password: entry.Password,
		})
	}

	sort.Slice(targets, func(i, j int) bool {
		return lessIP(targets[i].IP, targets[j].IP)
	})

	return targets
}

func lessIP(a, b net.IP) bool {
	return bytes.Compare(a.To16(), b.To16()) < 0
}

// WriteIPList writes the target IP addresses to path, one per line.
func WriteIPList(path string, targets []Target) error {
	// nolint:gomnd // file permissions are clearer in this form.
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(fh)

	for _, t := range targets {
		if _, err := w.WriteString(t.IP.String() + "\n"); err != nil {
			fh.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		fh.Close()
		return err
	}

	return fh.Close()
}

// ReadPasswordFile returns the new password stored in the file at path.
func ReadPasswordFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(ErrPasswordFile, err.Error())
	}

	password := strings.TrimRight(string(b), "\r\n")
	if strings.TrimSpace(password) == "" {
		return "", errors.Wrap(ErrPasswordFile, "file is empty: "+path)
	}

	return password, nil
}
