package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaferun(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		ledger := NewErrorLedger("")
		out := Saferun(ledger, OpCreate, "a", func() (int, error) { return 42, nil })
		assert.True(t, out.OK())
		assert.Equal(t, 42, out.Value)
		assert.Zero(t, ledger.Len())
	})

	t.Run("error", func(t *testing.T) {
		ledger := NewErrorLedger("")
		boom := errors.New("boom")
		out := Saferun(ledger, OpDelete, "b", func() (int, error) { return 7, boom })
		require.False(t, out.OK())
		assert.Zero(t, out.Value)
		assert.Equal(t, OpDelete, out.Err.Op)
		assert.Equal(t, "b", out.Err.Path)
		assert.ErrorIs(t, out.Err, boom)
		assert.ErrorIs(t, ledger.Err("b"), boom)
	})

	t.Run("panic", func(t *testing.T) {
		ledger := NewErrorLedger("")
		out := Saferun(ledger, OpReplace, "c", func() (bool, error) { panic("kaboom") })
		require.False(t, out.OK())
		assert.ErrorIs(t, out.Err, ErrPanic)
		assert.Contains(t, out.Err.Error(), "kaboom")
		assert.Equal(t, 1, ledger.Len())
	})

	t.Run("nil ledger", func(t *testing.T) {
		out := Saferun(nil, OpCreate, "d", func() (string, error) { return "", errors.New("x") })
		assert.False(t, out.OK())
	})
}
