package inventory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Read(t *testing.T) {
	csvee := `1001,S411XA000123,0C:C4:7A:00:11:22, pw-one
1002, S411XA000124, 0c-c4-7a-00-11-23,pw-two

1003,S411XA000125,0cc47a001124,pw-three
`

	inv, err := Read(strings.NewReader(csvee))
	require.NoError(t, err)

	assert.Equal(t, 3, inv.Len())

	// nolint:govet // struct field ordering is fine as is for tests
	tests := []struct {
		mac     string
		want    string
		wantErr error
	}{
		{"0c:c4:7a:00:11:22", "pw-one", nil},
		{"0C-C4-7A-00-11-23", "pw-two", nil},
		{"0c:c4:7a:00:11:24", "pw-three", nil},
		{"0c:c4:7a:00:11:25", "", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.mac, func(t *testing.T) {
			got, err := inv.PasswordForMAC(tt.mac)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	e, err := inv.EntryForMAC("0cc47a001123")
	require.NoError(t, err)
	assert.Equal(t, Entry{Item: "1002", Serial: "S411XA000124", MAC: "0cc47a001123", Password: "pw-two"}, e)
}

func Test_ReadBadLines(t *testing.T) {
	csvee := `1001,S411XA000123,0C:C4:7A:00:11:22,pw-one
1002,S411XA000124,0c:c4:7a:00:11:23
1003,S411XA000125,0cc47a001124,pw-three,extra
`

	_, err := Read(strings.NewReader(csvee))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrFormat)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "line 3")
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func Test_ReadPasswordCharacters(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"bare quote", `1,SN1,aa:bb:cc:dd:ee:ff,pa"ss`, `pa"ss`},
		{"leading quote", `1,SN1,aa:bb:cc:dd:ee:ff,"pass`, `"pass`},
		{"quoted", `1,SN1,aa:bb:cc:dd:ee:ff,"pass"`, `"pass"`},
		{"crlf", "1,SN1,aa:bb:cc:dd:ee:ff,p@ss!\r", "p@ss!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Read(strings.NewReader(tt.line + "\n2,SN2,aa:bb:cc:dd:ee:01,ok\n"))
			require.NoError(t, err)
			assert.Equal(t, 2, inv.Len())

			got, err := inv.PasswordForMAC("aa:bb:cc:dd:ee:ff")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			got, err = inv.PasswordForMAC("aa:bb:cc:dd:ee:01")
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func Test_Load(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, os.IsNotExist(err))

	path := filepath.Join(t.TempDir(), "inventory.txt")
	require.NoError(t, os.WriteFile(path, []byte("1,SN1,aa:bb:cc:dd:ee:ff,secret\n"), 0o600))

	inv, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, inv.Len())
}
