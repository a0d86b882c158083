package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileTableSkipsDisabledAndKeepsOrder(t *testing.T) {
	tbl, err := CompileTable([]Mapping{
		{Input: "/a/*", Output: "/first", DestIP: "127.0.0.1", DestPort: 1000, Enabled: true},
		{Input: "/a/b", Output: "/disabled", DestIP: "127.0.0.1", DestPort: 1001, Enabled: false},
		{Input: "/a/b", Output: "/second", DestIP: "127.0.0.1", DestPort: 1002, Enabled: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	rt, ok := tbl.Lookup("/a/b")
	require.True(t, ok)
	assert.Equal(t, "/first", rt.Output)
	assert.Equal(t, Endpoint{IP: "127.0.0.1", Port: 1000}, rt.Dest)

	_, ok = tbl.Lookup("/b")
	assert.False(t, ok)
}

func TestCompileTableRejectsBadMappings(t *testing.T) {
	tests := []struct {
		name string
		m    Mapping
		want error
	}{
		{"pattern", Mapping{Input: "/a/[x", Output: "/b", DestIP: "127.0.0.1", DestPort: 1, Enabled: true}, ErrMalformedPattern},
		{"output", Mapping{Input: "/a", Output: "b", DestIP: "127.0.0.1", DestPort: 1, Enabled: true}, ErrInvalidMapping},
		{"port", Mapping{Input: "/a", Output: "/b", DestIP: "127.0.0.1", DestPort: 0, Enabled: true}, ErrInvalidMapping},
		{"ip", Mapping{Input: "/a", Output: "/b", DestIP: "nope", DestPort: 1, Enabled: true}, ErrInvalidMapping},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileTable([]Mapping{tt.m})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	// A disabled mapping is never compiled.
	_, err := CompileTable([]Mapping{{Input: "/a/[x", Enabled: false}})
	assert.NoError(t, err)
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, float32(3.5), ParseValue("3.5"))
	assert.Equal(t, float32(2), ParseValue("2"))
	assert.Equal(t, "go", ParseValue("go"))

	v, err := NormalizeValue(float64(0.5))
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), v)
	_, err = NormalizeValue(map[string]any{})
	assert.Error(t, err)
}
