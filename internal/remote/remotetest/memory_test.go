package remotetest

import (
	"context"
	"errors"
	"testing"

	"github.com/openmined/treesync/internal/remote"
	"github.com/stretchr/testify/assert"
)

func TestMemory_Contract(t *testing.T) {
	RunContract(t, func(t *testing.T) remote.Remote { return NewMemory() })
}

func TestMemory_FailOn(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.FailOn(OpList, "", boom)

	_, err := m.List(context.Background(), "any/dir")
	assert.ErrorIs(t, err, boom)

	var rerr *remote.Error
	assert.ErrorAs(t, err, &rerr)
	assert.Len(t, m.Calls(OpList), 1)
}
