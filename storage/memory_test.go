package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTripsDedup(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.CheckDedup("fp1")
	assert.False(t, ok)

	s.WriteDedup("fp1", []byte("result"))

	v, ok := s.CheckDedup("fp1")
	require.True(t, ok)
	assert.Equal(t, []byte("result"), v)
}

func TestMemoryStoreWriteMessageAndState(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.WriteMessage("aimesh_messages", "m1", []byte("payload")))
	require.NoError(t, s.WriteTaskState("aimesh_messages", TaskState{MessageID: "m1", Status: "processed"}))
	require.NoError(t, s.HealthCheck())
}

func TestMemoryStoreSatisfiesStoreInterface(t *testing.T) {
	var _ Store = NewMemoryStore()
}
