package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "oscrelay/pkg/logx"
)

func TestLogStoreKeepsMostRecent(t *testing.T) {
	s := NewLogStore(100, logx.Nop())
	for i := 0; i < 150; i++ {
		s.Append("desk", fmt.Sprintf("msg %d", i))
	}

	all := s.Tail("desk", -1)
	require.Len(t, all, 100)
	assert.Equal(t, "msg 50", all[0].Text)
	assert.Equal(t, "msg 149", all[99].Text)

	last := s.Tail("desk", 3)
	require.Len(t, last, 3)
	assert.Equal(t, []string{"msg 147", "msg 148", "msg 149"}, []string{last[0].Text, last[1].Text, last[2].Text})
}

func TestLogStoreGlobalAndClear(t *testing.T) {
	s := NewLogStore(10, logx.Nop())
	s.Append("a", "one")
	s.Append("b", "two")
	s.AppendGlobal("global")

	s.Clear("a")
	assert.Empty(t, s.Tail("a", -1))
	assert.Len(t, s.Tail("b", -1), 1)
	assert.Equal(t, []string{"a", "b"}, s.ConfigIDs())

	g := s.GlobalTail(20)
	require.Len(t, g, 1)
	assert.Equal(t, "global", g[0].Text)

	assert.Empty(t, s.Tail("missing", 5))
}

func TestEntryString(t *testing.T) {
	e := Entry{At: time.Date(2024, 1, 2, 9, 4, 5, 0, time.UTC), Text: "hello"}
	assert.Equal(t, "[09:04:05] hello", e.String())
}

func TestLogStoreConcurrentAppends(t *testing.T) {
	s := NewLogStore(100, logx.Nop())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Append("desk", fmt.Sprintf("%d-%d", w, i))
				_ = s.Tail("desk", 20)
			}
		}(w)
	}
	wg.Wait()

	entries := s.Tail("desk", -1)
	require.Len(t, entries, 100)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].At.Before(entries[i-1].At))
	}
}
