package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stayops/internal/models"
)

// CreateChannelConnection registers a channel integration. Existing
// (channel, property) pairs are updated in place.
func (s *Store) CreateChannelConnection(ctx context.Context, conn *models.ChannelConnection) error {
	query := `INSERT INTO channel_connections (channel, property_id, endpoint_url, api_key, is_active, created_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(channel, property_id) DO UPDATE SET
                  endpoint_url = excluded.endpoint_url,
                  api_key = excluded.api_key,
                  is_active = excluded.is_active`
	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		conn.Channel,
		conn.PropertyID,
		conn.EndpointURL,
		conn.APIKey,
		conn.IsActive,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create channel connection: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil && conn.ID == 0 {
		conn.ID = id
	}
	conn.CreatedAt = now
	return nil
}

// GetChannelConnection returns one connection by id.
func (s *Store) GetChannelConnection(ctx context.Context, id int64) (*models.ChannelConnection, error) {
	query := `SELECT id, channel, property_id, endpoint_url, api_key, is_active, last_synced_at, created_at
              FROM channel_connections WHERE id = ?`
	var c models.ChannelConnection
	var apiKey sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Channel,
		&c.PropertyID,
		&c.EndpointURL,
		&apiKey,
		&c.IsActive,
		&c.LastSyncedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.APIKey = apiKey.String
	return &c, nil
}

// ListActiveChannelConnections returns every active integration; the sync
// trigger fans one task out per entry.
func (s *Store) ListActiveChannelConnections(ctx context.Context) ([]models.ChannelConnection, error) {
	query := `SELECT id, channel, property_id, endpoint_url, api_key, is_active, last_synced_at, created_at
              FROM channel_connections WHERE is_active = 1 ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel connections: %w", err)
	}
	defer rows.Close()

	var conns []models.ChannelConnection
	for rows.Next() {
		var c models.ChannelConnection
		var apiKey sql.NullString
		if err := rows.Scan(
			&c.ID,
			&c.Channel,
			&c.PropertyID,
			&c.EndpointURL,
			&apiKey,
			&c.IsActive,
			&c.LastSyncedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan channel connection: %w", err)
		}
		c.APIKey = apiKey.String
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// TouchChannelConnection stamps a successful sync.
func (s *Store) TouchChannelConnection(ctx context.Context, id int64) error {
	query := `UPDATE channel_connections SET last_synced_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	return err
}
