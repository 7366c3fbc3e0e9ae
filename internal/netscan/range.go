package netscan

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrRange = errors.New("invalid address range")
)

// ParseRange returns the IPv4 addresses from start to end inclusive.
//
// max limits the number of addresses returned, a value <= 0 disables the limit.
func ParseRange(start, end string, max int) ([]net.IP, error) {
	first, err := parseIPv4(start)
	if err != nil {
		return nil, err
	}

	last, err := parseIPv4(end)
	if err != nil {
		return nil, err
	}

	if last < first {
		return nil, errors.Wrap(ErrRange, "end address "+end+" is before start address "+start)
	}

	count := uint64(last-first) + 1
	if max > 0 && count > uint64(max) {
		return nil, errors.Wrap(
			ErrRange,
			strconv.FormatUint(count, 10)+" addresses exceeds the limit of "+strconv.Itoa(max),
		)
	}

	ips := make([]net.IP, 0, count)
	for n := uint64(first); n <= uint64(last); n++ {
		ips = append(ips, uint32ToIP(uint32(n)))
	}

	return ips, nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, errors.Wrap(ErrRange, "invalid IP address: "+s)
	}

	v4 := ip.To4()
	if v4 == nil {
		return 0, errors.Wrap(ErrRange, "not an IPv4 address: "+s)
	}

	return binary.BigEndian.Uint32(v4), nil
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, n)

	return ip
}
