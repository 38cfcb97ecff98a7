package version

import (
	"testing"

	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVersionCompatibility(t *testing.T) {
	tests := []struct {
		name            string
		engineVersion   string
		requiredVersion string
		expectError     bool
		errorContains   string
	}{
		// Compatible cases (from the requirements table)
		{
			name:            "exact match",
			engineVersion:   "1.2.0",
			requiredVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "engine patch higher",
			engineVersion:   "1.2.1",
			requiredVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "required patch higher",
			engineVersion:   "1.2.0",
			requiredVersion: "1.2.5",
			expectError:     false,
		},
		{
			name:            "same major minor different patch",
			engineVersion:   "2.5.10",
			requiredVersion: "2.5.3",
			expectError:     false,
		},

		// Incompatible cases (from the requirements table)
		{
			name:            "engine minor higher",
			engineVersion:   "1.3.0",
			requiredVersion: "1.2.0",
			expectError:     true,
			errorContains:   "minor version mismatch",
		},
		{
			name:            "engine minor lower",
			engineVersion:   "1.1.0",
			requiredVersion: "1.2.0",
			expectError:     true,
			errorContains:   "minor version mismatch",
		},
		{
			name:            "major version differs",
			engineVersion:   "2.0.0",
			requiredVersion: "1.2.0",
			expectError:     true,
			errorContains:   "major version mismatch",
		},
		{
			name:            "engine is main",
			engineVersion:   "main",
			requiredVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "engine is main with different required",
			engineVersion:   "main",
			requiredVersion: "1.3.0",
			expectError:     false,
		},
		{
			name:            "both are main",
			engineVersion:   "main",
			requiredVersion: "main",
			expectError:     false,
		},
		{
			name:            "required is main",
			engineVersion:   "1.2.0",
			requiredVersion: "main",
			expectError:     false,
		},

		// Edge cases with v prefix
		{
			name:            "v prefix on engine",
			engineVersion:   "v1.2.0",
			requiredVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "v prefix on required",
			engineVersion:   "1.2.0",
			requiredVersion: "v1.2.0",
			expectError:     false,
		},
		{
			name:            "v prefix on both",
			engineVersion:   "v1.2.0",
			requiredVersion: "v1.2.0",
			expectError:     false,
		},

		// Edge cases with prerelease and metadata
		{
			name:            "prerelease version",
			engineVersion:   "1.2.0-alpha",
			requiredVersion: "1.2.0",
			expectError:     false,
		},
		{
			name:            "build metadata",
			engineVersion:   "1.2.0+build123",
			requiredVersion: "1.2.0",
			expectError:     false,
		},

		// Invalid versions
		{
			name:            "invalid engine version",
			engineVersion:   "not-a-version",
			requiredVersion: "1.2.0",
			expectError:     true,
			errorContains:   "invalid engine version",
		},
		{
			name:            "invalid required version",
			engineVersion:   "1.2.0",
			requiredVersion: "not-a-version",
			expectError:     true,
			errorContains:   "invalid required version",
		},
		{
			name:            "empty engine version",
			engineVersion:   "",
			requiredVersion: "1.2.0",
			expectError:     true,
			errorContains:   "invalid engine version",
		},
		{
			name:            "unpinned required version",
			engineVersion:   "1.2.0",
			requiredVersion: "",
			expectError:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersionCompatibility(tt.engineVersion, tt.requiredVersion)

			if tt.expectError {
				require.Error(t, err)
				assert.False(t, errors.HasCode(err, errors.ErrCodeUnknown))
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v)
}
