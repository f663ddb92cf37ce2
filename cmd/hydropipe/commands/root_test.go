package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevelFlags(t *testing.T) {
	tests := []struct {
		name         string
		flags        []string
		wantDefault  string
		wantPackages map[string]string
		wantErr      bool
	}{
		{
			name:         "empty",
			flags:        nil,
			wantDefault:  "",
			wantPackages: map[string]string{},
		},
		{
			name:         "bare default",
			flags:        []string{"debug"},
			wantDefault:  "debug",
			wantPackages: map[string]string{},
		},
		{
			name:        "per package",
			flags:       []string{"info", "silver.loader=debug", "harvest=warn"},
			wantDefault: "info",
			wantPackages: map[string]string{
				"silver.loader": "debug",
				"harvest":       "warn",
			},
		},
		{
			name:    "invalid level",
			flags:   []string{"verbose"},
			wantErr: true,
		},
		{
			name:    "invalid package level",
			flags:   []string{"harvest=loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defaultLevel, packages, err := parseLogLevelFlags(tt.flags)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, defaultLevel)
			assert.Equal(t, tt.wantPackages, packages)
		})
	}
}
