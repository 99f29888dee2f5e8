package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBuildInfo(t *testing.T) {
	testCases := []struct {
		name        string
		info        *debug.BuildInfo
		expected    string
		expectError bool
	}{
		{
			name:     "main module",
			info:     &debug.BuildInfo{Main: debug.Module{Path: ThisModulePath, Version: "v1.2.3"}},
			expected: "1.2.3",
		},
		{
			name: "dependency",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "github.com/example/app", Version: "v0.0.1"},
				Deps: []*debug.Module{{Path: ThisModulePath, Version: "v0.4.0"}},
			},
			expected: "0.4.0",
		},
		{
			name: "devel build",
			info: &debug.BuildInfo{Main: debug.Module{Path: ThisModulePath, Version: "(devel)"}},
		},
		{
			name: "not found",
			info: &debug.BuildInfo{Main: debug.Module{Path: "github.com/example/app"}},
		},
		{
			name:        "bad version",
			info:        &debug.BuildInfo{Main: debug.Module{Path: ThisModulePath, Version: "not-a-version"}},
			expectError: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := fromBuildInfo(tc.info)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.expected == "" {
				assert.Nil(t, v)
				return
			}
			require.NotNil(t, v)
			assert.Equal(t, tc.expected, v.String())
		})
	}
}
