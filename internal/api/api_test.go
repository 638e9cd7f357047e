package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/config"
	"stayops/internal/database"
	"stayops/internal/idempotency"
	"stayops/internal/models"
	"stayops/internal/queue"
)

type apiFixture struct {
	server *HTTPServer
	pool   *database.Manager
	queue  *queue.Queue
	redis  *miniredis.Miniredis
	idem   *idempotency.MemoryStore
	dbCfg  config.DatabaseConfig
}

func newAPIFixture(t *testing.T, mutate func(cfg *config.Config)) *apiFixture {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Path:                   filepath.Join(t.TempDir(), "test.db"),
			StartupBudgetSeconds:   1,
			AttemptIntervalSeconds: 1,
			ConnectTimeoutSeconds:  5,
			MaxOpenConns:           5,
			MaxIdleConns:           2,
		},
		Sync: config.SyncConfig{
			QueueKey:      "sync:queue",
			DeadLetterKey: "sync:deadletter",
		},
		API: config.APIConfig{Port: 8080},
	}
	if mutate != nil {
		mutate(cfg)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pool := database.NewManager(cfg.Database, zerolog.Nop())
	t.Cleanup(func() { _ = pool.Close() })

	q := queue.New(client, cfg.Sync, zerolog.Nop())
	idem := idempotency.NewMemoryStore(time.Hour)

	return &apiFixture{
		server: NewHTTPServer(cfg, pool, q, idem, zerolog.Nop()),
		pool:   pool,
		queue:  q,
		redis:  mr,
		idem:   idem,
		dbCfg:  cfg.Database,
	}
}

func (fx *apiFixture) store(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.OpenDirectStore(context.Background(), fx.dbCfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func (fx *apiFixture) seedProperty(t *testing.T) *models.Property {
	t.Helper()
	p := &models.Property{Name: "Seaside Villa", TotalUnits: 2, IsActive: true}
	require.NoError(t, fx.store(t).CreateProperty(context.Background(), p))
	return p
}

func (fx *apiFixture) seedConnection(t *testing.T, channel string, propertyID int64) *models.ChannelConnection {
	t.Helper()
	conn := &models.ChannelConnection{
		Channel:     channel,
		PropertyID:  propertyID,
		EndpointURL: "https://channel.example.com",
		IsActive:    true,
	}
	require.NoError(t, fx.store(t).CreateChannelConnection(context.Background(), conn))
	return conn
}

func (fx *apiFixture) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthAllUp(t *testing.T) {
	fx := newAPIFixture(t, nil)
	_, err := fx.pool.EnsurePool(context.Background())
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Database      string   `json:"database"`
		TaskQueue     string   `json:"task_queue"`
		ActiveWorkers []string `json:"active_workers"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "up", body.Database)
	assert.Equal(t, "up", body.TaskQueue)
	assert.NotNil(t, body.ActiveWorkers)
	assert.Empty(t, body.ActiveWorkers)
}

func TestHealthDatabaseDown(t *testing.T) {
	fx := newAPIFixture(t, nil)
	// No pool construction happened, so the database reports down.

	rec := fx.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Database  string `json:"database"`
		TaskQueue string `json:"task_queue"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "down", body.Database)
	assert.Equal(t, "up", body.TaskQueue)
}

func TestHealthQueueDown(t *testing.T) {
	fx := newAPIFixture(t, nil)
	_, err := fx.pool.EnsurePool(context.Background())
	require.NoError(t, err)
	fx.redis.Close()

	rec := fx.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TaskQueue string `json:"task_queue"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "down", body.TaskQueue)
}

func TestSyncTriggerFansOutPerConnection(t *testing.T) {
	fx := newAPIFixture(t, nil)
	p := fx.seedProperty(t)
	fx.seedConnection(t, "airbnb", p.ID)
	fx.seedConnection(t, "booking", p.ID)

	rec := fx.do(t, http.MethodPost, "/api/v1/sync", []byte(`{"sync_type":"availability"}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		Status  string   `json:"status"`
		TaskIDs []string `json:"task_ids"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "queued", body.Status)
	require.Len(t, body.TaskIDs, 2)

	depth, err := fx.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	// Every task has its durable queued row before the broker push.
	store := fx.store(t)
	for _, taskID := range body.TaskIDs {
		entry, err := store.GetSyncLogByTaskID(context.Background(), taskID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, models.SyncQueued, entry.Status)
		assert.Equal(t, models.OpAvailability, entry.OperationType)
	}
}

func TestSyncTriggerRejectsUnknownType(t *testing.T) {
	fx := newAPIFixture(t, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/sync", []byte(`{"sync_type":"teleportation"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/sync", []byte(`not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/sync", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncTriggerNoActiveConnections(t *testing.T) {
	fx := newAPIFixture(t, nil)

	rec := fx.do(t, http.MethodPost, "/api/v1/sync", []byte(`{"sync_type":"pricing"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TaskIDs []string `json:"task_ids"`
	}
	decodeBody(t, rec, &body)
	assert.Empty(t, body.TaskIDs)
}

func TestSyncLogQuery(t *testing.T) {
	fx := newAPIFixture(t, nil)
	store := fx.store(t)

	for _, taskID := range []string{"t1", "t2", "t3"} {
		require.NoError(t, store.CreateSyncLogEntry(context.Background(), &models.SyncLogEntry{
			ConnectionID:  1,
			OperationType: models.OpPricing,
			Direction:     models.DirectionOutbound,
			Status:        models.SyncQueued,
			TaskID:        taskID,
		}))
	}

	rec := fx.do(t, http.MethodGet, "/api/v1/sync/log?limit=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []models.SyncLogEntry `json:"entries"`
		Limit   int                   `json:"limit"`
		Offset  int                   `json:"offset"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Entries, 2)
	assert.Equal(t, 2, body.Limit)

	rec = fx.do(t, http.MethodGet, "/api/v1/sync/log?limit=2&offset=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Len(t, body.Entries, 1)
	assert.Equal(t, 2, body.Offset)

	rec = fx.do(t, http.MethodGet, "/api/v1/sync/log?connection_id=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func bookingPayload(guest string) []byte {
	return []byte(`{"property_id":1,"guest_name":"` + guest + `","check_in":"2026-09-10","check_out":"2026-09-12"}`)
}

func TestCreateBookingIdempotentReplay(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.seedProperty(t)

	headers := map[string]string{"Idempotency-Key": "req-1", "Content-Type": "application/json"}

	first := fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), headers)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotency-Replayed"))

	second := fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String(), "replay must return the original response")

	// Only one booking was actually created.
	store := fx.store(t)
	bookings, err := store.ListRecentBookings(context.Background(), 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestCreateBookingIdempotencyConflict(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.seedProperty(t)

	headers := map[string]string{"Idempotency-Key": "req-1"}

	rec := fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), headers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Someone Else"), headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateBookingInFlightDuplicate(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.seedProperty(t)

	payload := bookingPayload("Anna Keller")

	// A pending record with no response yet is what an in-flight request
	// leaves behind after reserving its key.
	_, created, err := fx.idem.Put(context.Background(), idempotency.Record{
		Key:         "req-1",
		Fingerprint: idempotency.Fingerprint(payload),
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)

	rec := fx.do(t, http.MethodPost, "/api/v1/bookings", payload, map[string]string{"Idempotency-Key": "req-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	store := fx.store(t)
	bookings, err := store.ListRecentBookings(context.Background(), 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, bookings, "a duplicate of an in-flight request must not insert a booking")
}

func TestCreateBookingFailedAttemptFreesKey(t *testing.T) {
	fx := newAPIFixture(t, nil)

	headers := map[string]string{"Idempotency-Key": "req-1"}
	payload := bookingPayload("Anna Keller")

	// No property exists yet, so the first keyed attempt fails.
	rec := fx.do(t, http.MethodPost, "/api/v1/bookings", payload, headers)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// The failure released the reservation, so a retry with the same key
	// goes through once the property exists.
	fx.seedProperty(t)
	rec = fx.do(t, http.MethodPost, "/api/v1/bookings", payload, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotency-Replayed"))
}

func TestCreateBookingDistinctKeysAreIndependent(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.seedProperty(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), map[string]string{"Idempotency-Key": "req-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), map[string]string{"Idempotency-Key": "req-2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotency-Replayed"))

	store := fx.store(t)
	bookings, err := store.ListRecentBookings(context.Background(), 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, bookings, 2)
}

func TestCreateBookingWithoutKey(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.seedProperty(t)

	for i := 0; i < 2; i++ {
		rec := fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	store := fx.store(t)
	bookings, err := store.ListRecentBookings(context.Background(), 1, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, bookings, 2, "without a key every request creates a booking")
}

func TestCreateBookingValidation(t *testing.T) {
	fx := newAPIFixture(t, nil)
	fx.seedProperty(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing guest", `{"property_id":1,"check_in":"2026-09-10","check_out":"2026-09-12"}`, http.StatusBadRequest},
		{"bad dates", `{"property_id":1,"guest_name":"Anna","check_in":"soon","check_out":"2026-09-12"}`, http.StatusBadRequest},
		{"checkout before checkin", `{"property_id":1,"guest_name":"Anna","check_in":"2026-09-12","check_out":"2026-09-10"}`, http.StatusBadRequest},
		{"unknown property", `{"property_id":99,"guest_name":"Anna","check_in":"2026-09-10","check_out":"2026-09-12"}`, http.StatusNotFound},
		{"unknown field", `{"property_id":1,"guest_name":"Anna","check_in":"2026-09-10","check_out":"2026-09-12","vip":true}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := fx.do(t, http.MethodPost, "/api/v1/bookings", []byte(tc.body), nil)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAvailabilityEndpoint(t *testing.T) {
	fx := newAPIFixture(t, nil)
	p := fx.seedProperty(t)

	rec := fx.do(t, http.MethodPost, "/api/v1/bookings", bookingPayload("Anna Keller"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/availability/1?from=2026-09-10&days=3", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Availability []models.Availability `json:"availability"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Availability, 3)
	assert.EqualValues(t, p.TotalUnits-1, body.Availability[0].Available)
	assert.EqualValues(t, p.TotalUnits, body.Availability[2].Available)

	rec = fx.do(t, http.MethodGet, "/api/v1/availability/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/availability/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	fx := newAPIFixture(t, func(cfg *config.Config) {
		cfg.API.Auth = config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "ops-key", Name: "ops"},
				{Key: "readonly-key", Name: "reporting", Permissions: []string{"read:synclog"}},
			},
		}
	})

	rec := fx.do(t, http.MethodGet, "/api/v1/sync/log", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/sync/log", nil, map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = fx.do(t, http.MethodGet, "/api/v1/sync/log", nil, map[string]string{"x-api-key": "ops-key"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Scoped key can read the log but not trigger syncs.
	rec = fx.do(t, http.MethodGet, "/api/v1/sync/log", nil, map[string]string{"x-api-key": "readonly-key"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = fx.do(t, http.MethodPost, "/api/v1/sync", []byte(`{"sync_type":"pricing"}`), map[string]string{"x-api-key": "readonly-key"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Health stays open for liveness checks.
	rec = fx.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.NotEqual(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	fx := newAPIFixture(t, func(cfg *config.Config) {
		cfg.API.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		rec := fx.do(t, http.MethodGet, "/api/v1/sync/log", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := fx.do(t, http.MethodGet, "/api/v1/sync/log", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
