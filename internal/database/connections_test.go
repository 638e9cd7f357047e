package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/models"
)

func TestChannelConnectionUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conn := &models.ChannelConnection{
		Channel:     "airbnb",
		PropertyID:  1,
		EndpointURL: "https://channel.example.com/v1",
		APIKey:      "secret",
		IsActive:    true,
	}
	require.NoError(t, store.CreateChannelConnection(ctx, conn))
	require.NotZero(t, conn.ID)

	// Same (channel, property) pair updates in place.
	update := &models.ChannelConnection{
		Channel:     "airbnb",
		PropertyID:  1,
		EndpointURL: "https://channel.example.com/v2",
		IsActive:    true,
	}
	require.NoError(t, store.CreateChannelConnection(ctx, update))

	got, err := store.GetChannelConnection(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://channel.example.com/v2", got.EndpointURL)
	assert.Nil(t, got.LastSyncedAt)
}

func TestListActiveChannelConnections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateChannelConnection(ctx, &models.ChannelConnection{
		Channel: "airbnb", PropertyID: 1, EndpointURL: "https://a.example.com", IsActive: true,
	}))
	require.NoError(t, store.CreateChannelConnection(ctx, &models.ChannelConnection{
		Channel: "booking", PropertyID: 1, EndpointURL: "https://b.example.com", IsActive: true,
	}))
	require.NoError(t, store.CreateChannelConnection(ctx, &models.ChannelConnection{
		Channel: "expedia", PropertyID: 1, EndpointURL: "https://c.example.com", IsActive: false,
	}))

	conns, err := store.ListActiveChannelConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "airbnb", conns[0].Channel)
	assert.Equal(t, "booking", conns[1].Channel)
}

func TestTouchChannelConnection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	conn := &models.ChannelConnection{
		Channel: "airbnb", PropertyID: 1, EndpointURL: "https://a.example.com", IsActive: true,
	}
	require.NoError(t, store.CreateChannelConnection(ctx, conn))

	before := time.Now().Add(-time.Second)
	require.NoError(t, store.TouchChannelConnection(ctx, conn.ID))

	got, err := store.GetChannelConnection(ctx, conn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.After(before))
}
