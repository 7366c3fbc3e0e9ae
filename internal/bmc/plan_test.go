package bmc

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metal-toolbox/toolshed/internal/inventory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()

	hw, err := net.ParseMAC(s)
	require.NoError(t, err)

	return hw
}

func TestPlan(t *testing.T) {
	inv, err := inventory.Read(strings.NewReader(`1001,SN1,0C:C4:7A:00:00:01,pw1
1002,SN2,0c-c4-7a-00-00-02,pw2
1003,SN3,0cc47a000003,pw3
`))
	require.NoError(t, err)

	ipToMAC := map[string]net.HardwareAddr{
		"10.0.0.20": mustMAC(t, "0c:c4:7a:00:00:02"),
		"10.0.0.3":  mustMAC(t, "0c:c4:7a:00:00:01"),
		"10.0.0.9":  mustMAC(t, "aa:bb:cc:dd:ee:ff"),
	}

	got := Plan(ipToMAC, inv, logrus.NewEntry(logrus.New()))

	expected := []Target{
		{IP: net.ParseIP("10.0.0.3"), MAC: "0cc47a000001", Item: "1001", Serial: "SN1", Password: "pw1"},
		{IP: net.ParseIP("10.0.0.20"), MAC: "0cc47a000002", Item: "1002", Serial: "SN2", Password: "pw2"},
	}

	assert.Equal(t, expected, got)
}

func TestWriteIPList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ip.txt")

	// an existing file is replaced
	require.NoError(t, os.WriteFile(path, []byte("stale\nstale\nstale\n"), 0o600))

	err := WriteIPList(path, []Target{{IP: net.ParseIP("10.0.0.3")}, {IP: net.ParseIP("10.0.0.20")}})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3\n10.0.0.20\n", string(b))
}

func TestReadPasswordFile(t *testing.T) {
	dir := t.TempDir()

	// nolint:govet // struct field ordering is fine as is for tests
	tests := []struct {
		name    string
		content *string
		want    string
		wantErr bool
	}{
		{"trailing newline trimmed", strp("hunter2\n"), "hunter2", false},
		{"crlf trimmed", strp("hunter2\r\n"), "hunter2", false},
		{"empty", strp(""), "", true},
		{"whitespace only", strp("  \n"), "", true},
		{"missing", nil, "", true},
	}

	for idx, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "pw"+string(rune('a'+idx)))
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o600))
			}

			got, err := ReadPasswordFile(path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPasswordFile)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func strp(s string) *string {
	return &s
}
