package netscan

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aabbccddeeff"},
		{"aa-bb-cc-dd-ee-ff", "aabbccddeeff"},
		{" 0C:C4:7A:00:11:22 ", "0cc47a001122"},
		{"0cc47a001122", "0cc47a001122"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMAC(tt.in))
		})
	}
}

func TestParseARPOutput(t *testing.T) {
	ip := net.ParseIP("192.168.1.20")

	// nolint:govet // struct field ordering is fine as is for tests
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr error
	}{
		{
			"linux net-tools",
			"? (192.168.1.20) at 0c:c4:7a:00:11:22 [ether] on eth0\n",
			"0c:c4:7a:00:11:22",
			nil,
		},
		{
			"windows",
			"Interface: 192.168.1.5 --- 0xb\n  Internet Address      Physical Address      Type\n  192.168.1.20          0c-c4-7a-00-11-22     dynamic\n",
			"0c:c4:7a:00:11:22",
			nil,
		},
		{
			"incomplete entry",
			"? (192.168.1.20) at <incomplete> on eth0\n",
			"",
			ErrNotFound,
		},
		{
			"zero mac",
			"? (192.168.1.20) at 00:00:00:00:00:00 [ether] on eth0\n",
			"",
			ErrNotFound,
		},
		{
			"other address only",
			"? (192.168.1.21) at 0c:c4:7a:00:11:22 [ether] on eth0\n",
			"",
			ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseARPOutput(ip, []byte(tt.out))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestResolverFallback(t *testing.T) {
	hw, _ := net.ParseMAC("0c:c4:7a:00:11:22")

	var called []string

	lookup := func(name string, ret net.HardwareAddr, err error) namedLookup {
		return namedLookup{name, func(_ context.Context, _ net.IP) (net.HardwareAddr, error) {
			called = append(called, name)
			return ret, err
		}}
	}

	r := NewResolver(&fakePinger{}, logrus.New())
	r.lookups = []namedLookup{
		lookup("netlink", nil, ErrNotFound),
		lookup("arping", net.HardwareAddr{0, 0, 0, 0, 0, 0}, nil),
		lookup("arp", hw, nil),
	}

	got, err := r.Resolve(context.Background(), net.ParseIP("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, hw, got)
	assert.Equal(t, []string{"netlink", "arping", "arp"}, called)
}

func TestResolveAll(t *testing.T) {
	hw, _ := net.ParseMAC("0c:c4:7a:00:11:22")

	r := NewResolver(nil, logrus.New())
	r.lookups = []namedLookup{
		{"static", func(_ context.Context, ip net.IP) (net.HardwareAddr, error) {
			if ip.String() == "10.0.0.1" {
				return hw, nil
			}

			return nil, errors.New("no entry")
		}},
	}

	got := r.ResolveAll(context.Background(), []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")})

	assert.Equal(t, map[string]net.HardwareAddr{"10.0.0.1": hw}, got)
}
