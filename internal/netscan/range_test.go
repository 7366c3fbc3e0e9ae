package netscan

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	// nolint:govet // struct field ordering is fine as is for tests
	tests := []struct {
		name    string
		start   string
		end     string
		max     int
		want    []string
		wantErr error
	}{
		{
			"last octet sweep",
			"192.168.1.10",
			"192.168.1.12",
			0,
			[]string{"192.168.1.10", "192.168.1.11", "192.168.1.12"},
			nil,
		},
		{
			"single address",
			"10.0.0.1",
			"10.0.0.1",
			0,
			[]string{"10.0.0.1"},
			nil,
		},
		{
			"crosses an octet boundary",
			"10.0.0.254",
			"10.0.1.1",
			0,
			[]string{"10.0.0.254", "10.0.0.255", "10.0.1.0", "10.0.1.1"},
			nil,
		},
		{
			"end before start",
			"10.0.0.5",
			"10.0.0.1",
			0,
			nil,
			ErrRange,
		},
		{
			"invalid start",
			"10.0.0",
			"10.0.0.1",
			0,
			nil,
			ErrRange,
		},
		{
			"IPv6 rejected",
			"::1",
			"::2",
			0,
			nil,
			ErrRange,
		},
		{
			"limit exceeded",
			"10.0.0.0",
			"10.0.1.0",
			256,
			nil,
			ErrRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.start, tt.end, tt.max)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)

			gotStr := make([]string, 0, len(got))
			for _, ip := range got {
				gotStr = append(gotStr, ip.String())
				assert.Len(t, ip, net.IPv4len)
			}

			assert.Equal(t, tt.want, gotStr)
		})
	}
}
