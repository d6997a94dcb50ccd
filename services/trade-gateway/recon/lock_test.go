package recon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalLockerIsPerKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "supra")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "supra")
	require.NoError(t, err)
	require.False(t, ok)

	other, ok, err := l.TryLock(ctx, "aptos")
	require.NoError(t, err)
	require.True(t, ok)
	other()

	unlock()
	again, ok, err := l.TryLock(ctx, "supra")
	require.NoError(t, err)
	require.True(t, ok)
	again()
}

func TestRedisLockerRejectsBadURL(t *testing.T) {
	_, err := NewRedisLocker("not a url", 0)
	require.Error(t, err)
}
