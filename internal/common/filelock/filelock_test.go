package filelock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_Exclusive(t *testing.T) {
	dir := t.TempDir()
	first := New(dir)
	second := New(dir)

	require.NoError(t, first.Acquire())
	defer first.Unlock()

	err := second.Acquire()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Unlock())
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	assert.NoError(t, New(t.TempDir()).Unlock())
}
