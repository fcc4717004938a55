package lower_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamlang/loamgc/ir"
	"github.com/loamlang/loamgc/lower"
	"github.com/loamlang/loamgc/rt"
)

func TestParsePolicy(t *testing.T) {
	testCases := []struct {
		name      string
		config    string
		expectErr string
		expect    lower.Policy
	}{
		{
			name:   "empty config",
			expect: lower.DefaultPolicy(),
		},
		{
			name:   "moving inline",
			config: "collector: moving\ninline_bump: true\n",
			expect: lower.Policy{
				Flavor:     lower.FlavorMoving,
				InlineBump: true,
				Layout:     rt.DefaultLayout(),
			},
		},
		{
			name:   "partial layout override",
			config: "layout:\n  gc_stack: 32\n  alloc_bytes: 48\n",
			expect: lower.Policy{
				Flavor: lower.FlavorNonMoving,
				Layout: rt.Layout{GCStack: 32, Cursor: 8, Limit: 16, AllocBytes: 48},
			},
		},
		{
			name:      "unknown field",
			config:    "nursery: 4096\n",
			expectErr: "parsing policy",
		},
		{
			name:      "unknown flavor",
			config:    "collector: compacting\n",
			expectErr: "unknown collector flavor",
		},
		{
			name:      "misaligned layout offset",
			config:    "layout:\n  cursor: 12\n",
			expectErr: "not word-aligned",
		},
		{
			name:      "colliding layout offsets",
			config:    "layout:\n  cursor: 0\n",
			expectErr: "collide",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pol, err := lower.ParsePolicy([]byte(tc.config))
			if tc.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, pol)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	pol, err := lower.LoadPolicy(strings.NewReader("collector: moving\n"))
	require.NoError(t, err)
	assert.Equal(t, lower.FlavorMoving, pol.Flavor)
	assert.Equal(t, rt.DefaultLayout(), pol.Layout)
}

func TestParseFlavor(t *testing.T) {
	fl, err := lower.ParseFlavor("")
	require.NoError(t, err)
	assert.Equal(t, lower.FlavorNonMoving, fl)

	fl, err = lower.ParseFlavor("moving")
	require.NoError(t, err)
	assert.Equal(t, lower.FlavorMoving, fl)

	_, err = lower.ParseFlavor("generational")
	require.Error(t, err)

	assert.Equal(t, "nonmoving", lower.FlavorNonMoving.String())
	assert.Equal(t, "moving", lower.FlavorMoving.String())
	assert.Equal(t, "Flavor(9)", lower.Flavor(9).String())
}

func TestNewRejectsBadPolicy(t *testing.T) {
	pol := lower.DefaultPolicy()
	pol.Layout.Cursor = 4
	_, err := lower.New(ir.NewModule("m"), pol)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not word-aligned")
}
