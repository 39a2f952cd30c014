package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ttkn/pkg/platform/audit"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	first := audit.Event{ID: uuid.New(), Subject: "alice", Action: "tokens_minted"}
	require.NoError(t, s.Write(ctx, first))
	require.NoError(t, s.Write(ctx, first))
	require.NoError(t, s.Write(ctx, audit.Event{ID: uuid.New(), Subject: "bob", Action: "tokens_minted"}))
	require.NoError(t, s.Write(ctx, audit.Event{ID: uuid.New(), Subject: "alice", Action: "person_added"}))

	alice, err := s.ListBySubject(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, first.ID, alice[0].ID)

	recent, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "bob", recent[0].Subject)
	assert.Equal(t, "person_added", recent[1].Action)

	s.Clear()
	require.NoError(t, s.Write(ctx, first))
	all, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
