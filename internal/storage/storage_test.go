package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "oscrelay/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "state", "oscrelay.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)

			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{
					Actor:    "http",
					Action:   "start",
					ConfigID: fmt.Sprintf("cfg-%d", i),
					OK:       i%2 == 0,
					Error:    map[bool]string{true: "", false: "bind failed"}[i%2 == 0],
				}))
			}

			got, err := st.ListAudit(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "cfg-4", got[0].ConfigID)
			assert.Equal(t, "cfg-2", got[2].ConfigID)
			assert.True(t, got[0].OK)
			assert.Equal(t, "bind failed", got[1].Error)
			assert.NotEmpty(t, got[0].ID)
			assert.False(t, got[0].At.IsZero())
			require.NoError(t, st.Close())

			// Entries survive a reopen.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			got, err = st.ListAudit(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, got, 5)
		})
	}
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "a.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AppendAudit(context.Background(), AuditEntry{Action: "x"}), ErrClosed)
}
