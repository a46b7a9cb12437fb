package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-exchange/broker"
	"github.com/warp/lead-exchange/store/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) broker.Repository {
		s, err := New(filepath.Join(t.TempDir(), "leads.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_InMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) broker.Repository {
		s, err := New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "leads.db")

	s, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.CreateBuyer(ctx, broker.Buyer{
		ID: "b1", SellerID: "s1", Name: "Alpha", Email: "a@example.com", Status: broker.BuyerActive,
	}))
	require.NoError(t, s.Close())

	// Migrations are idempotent.
	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	b, err := s.GetBuyer(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", b.Name)
}
