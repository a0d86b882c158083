package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	logx "oscrelay/pkg/logx"
)

func TestDropLogIsRateLimited(t *testing.T) {
	in := &Instance{
		snap:      Snapshot{ID: "desk"},
		logs:      NewLogStore(DefaultLogCapacity, logx.Nop()),
		dropLimit: rate.NewLimiter(0, dropLogBurst),
	}
	for i := 0; i < 20; i++ {
		in.logDrop("/fader")
	}
	lines := in.logs.Tail("desk", -1)
	assert.Len(t, lines, dropLogBurst)
	assert.Equal(t, uint64(20-dropLogBurst), in.dropSilenced.Load())

	in.dropLimit.SetLimit(rate.Inf)
	in.logDrop("/fader")
	last := in.logs.Tail("desk", 1)
	require.Len(t, last, 1)
	assert.True(t, strings.HasSuffix(last[0].Text, "[15 suppressed]"), last[0].Text)
	assert.Zero(t, in.dropSilenced.Load())
}

func TestStopCancelsInstanceContext(t *testing.T) {
	r := newTestRegistry(t, Options{})
	require.True(t, r.Start(snapshot("desk")))

	r.mu.Lock()
	in := r.instances["desk"]
	r.mu.Unlock()
	require.NotNil(t, in)
	ctx := in.sup.Context()
	require.NoError(t, ctx.Err())

	require.True(t, r.Stop("desk"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
