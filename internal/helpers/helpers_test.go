package helpers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/metal-toolbox/toolshed/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpDebugFile(t *testing.T) {
	type target struct {
		IP  string
		MAC string
	}

	// nolint:govet // struct field ordering is fine as is for tests
	tests := []struct {
		name     string
		env      string
		wantDump bool
	}{
		{
			"dump disabled",
			"",
			false,
		},
		{
			"dump enabled",
			"true",
			true,
		},
		{
			"dump enabled, case insensitive",
			"TRUE",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(model.EnvVarDumpFixtures, tt.env)

			name := filepath.Join(t.TempDir(), "dump.txt")
			DumpDebugFile(name, []target{{IP: "10.0.0.1", MAC: "aabbccddeeff"}})

			b, err := os.ReadFile(name)
			if !tt.wantDump {
				assert.True(t, os.IsNotExist(err))
				return
			}

			require.NoError(t, err)
			assert.Contains(t, string(b), "aabbccddeeff")
		})
	}
}
