package oscmatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/c", false},
		{"/a/b", "/a/b/c", false},
		{"/a/*", "/a/b", true},
		{"/a/*", "/a/bc", true},
		{"/a/*", "/a/", true},
		{"/a/*", "/a/b/c", false},
		{"/a/?", "/a/b", true},
		{"/a/?", "/a/bb", false},
		{"/a/?", "/a/", false},
		{"/a/{x,y}", "/a/x", true},
		{"/a/{x,y}", "/a/y", true},
		{"/a/{x,y}", "/a/z", false},
		{"/a/{foo,fo}o", "/a/foo", true},
		{"/ch/[0-9]", "/ch/7", true},
		{"/ch/[0-9]", "/ch/x", false},
		{"/ch/[!0-9]", "/ch/x", true},
		{"/ch/[!0-9]", "/ch/7", false},
		{"/ch/[a-c-]", "/ch/-", true},
		{"/mix/*/fader[12]", "/mix/3/fader2", true},
		{"/mix/*/fader[12]", "/mix/3/fader3", false},
		{"/x/a*b*c", "/x/aXXbYYc", true},
		{"/x/a*b*c", "/x/aXXbYY", false},
		{"/x/**", "/x/anything", true},
		{"/*", "/", true},
		{"/ü/?", "/ü/é", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			t.Parallel()
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.topic))
			assert.Equal(t, tt.want, Match(tt.topic, tt.pattern))
		})
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	t.Parallel()
	p := MustCompile("/a/{x,y}/*")
	for i := 0; i < 3; i++ {
		assert.True(t, p.Match("/a/x/q"))
		assert.False(t, p.Match("/a/z/q"))
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	t.Parallel()
	for _, pattern := range []string{
		"",
		"foo",
		"/a/[abc",
		"/a/[]",
		"/a/[!]",
		"/a/[z-a]",
		"/a/{x,y",
		"/a/{}",
		"/a/{x,*}",
		"/a/b]",
		"/a/b}",
	} {
		_, err := Compile(pattern)
		require.Errorf(t, err, "pattern %q", pattern)
		assert.True(t, errors.Is(err, ErrMalformed))

		var pe *PatternError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, pattern, pe.Pattern)
		assert.False(t, Match("/a/b", pattern))
	}
}

func TestPatternErrorOffset(t *testing.T) {
	t.Parallel()
	_, err := Compile("/ok/[abc")
	var pe *PatternError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 4, pe.Pos)
}

func TestLiteral(t *testing.T) {
	t.Parallel()
	assert.True(t, MustCompile("/a/b").Literal())
	assert.False(t, MustCompile("/a/*").Literal())
	assert.Equal(t, "/a/*", MustCompile("/a/*").String())

	var nilPattern *Pattern
	assert.False(t, nilPattern.Match("/a"))
}
