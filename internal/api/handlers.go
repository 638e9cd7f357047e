package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stayops/internal/database"
	"stayops/internal/idempotency"
	"stayops/internal/metrics"
	"stayops/internal/models"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("healthz")

	dbStatus := "down"
	if s.pool.Healthy() {
		dbStatus = "up"
	}

	queueStatus := "down"
	if err := s.queue.Ping(r.Context()); err == nil {
		queueStatus = "up"
	}

	workers, err := s.queue.ActiveWorkers(r.Context())
	if err != nil {
		workers = nil
	}
	if workers == nil {
		workers = []string{}
	}

	status := http.StatusOK
	if dbStatus == "down" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"database":       dbStatus,
		"task_queue":     queueStatus,
		"active_workers": workers,
	})
}

func (s *HTTPServer) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_trigger")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		SyncType string `json:"sync_type"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !models.IsValidOperation(body.SyncType) {
		writeError(w, http.StatusBadRequest, "sync_type must be one of availability, pricing, reservation")
		return
	}

	store, err := s.store(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable, retry later")
		return
	}

	conns, err := store.ListActiveChannelConnections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list channel connections")
		return
	}
	if len(conns) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "queued", "task_ids": []string{}})
		return
	}

	taskIDs := make([]string, 0, len(conns))
	for _, conn := range conns {
		task := models.SyncTask{
			TaskID:        uuid.NewString(),
			ConnectionID:  conn.ID,
			OperationType: body.SyncType,
			EnqueuedAt:    time.Now(),
		}

		entry := &models.SyncLogEntry{
			ConnectionID:  conn.ID,
			OperationType: body.SyncType,
			Direction:     models.DirectionOutbound,
			Status:        models.SyncQueued,
			TaskID:        task.TaskID,
		}
		if err := store.CreateSyncLogEntry(r.Context(), entry); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record sync task")
			return
		}

		// The queued row survives broker failures: workers poll the log
		// for lost tasks, so an enqueue error is non-fatal here.
		if err := s.queue.Enqueue(r.Context(), task); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("broker enqueue failed, task left for log poll")
		}
		taskIDs = append(taskIDs, task.TaskID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "task_ids": taskIDs})
}

func (s *HTTPServer) handleSyncLog(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync_log")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := parseSyncLogFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store, err := s.store(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable, retry later")
		return
	}

	entries, err := store.ListSyncLog(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query sync log")
		return
	}
	if entries == nil {
		entries = []models.SyncLogEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		status, body := s.createBooking(r.Context(), payload)
		writeRaw(w, status, body)
		return
	}

	// Reserve the key before any side effect, so a concurrent duplicate
	// cannot insert a second booking while this request is in flight.
	reserved := idempotency.Record{
		Key:         key,
		Fingerprint: idempotency.Fingerprint(payload),
		CreatedAt:   time.Now(),
	}
	stored, created, err := s.idem.Put(r.Context(), reserved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "idempotency lookup failed")
		return
	}
	if !created {
		switch idempotency.Check(stored, reserved.Fingerprint) {
		case idempotency.OutcomeConflict:
			writeError(w, http.StatusConflict, idempotency.ErrConflict.Error())
		default:
			if stored.Pending() {
				writeError(w, http.StatusConflict, "request with this idempotency key is still being processed")
				return
			}
			replay(w, stored)
		}
		return
	}

	status, body := s.createBooking(r.Context(), payload)
	if status == http.StatusCreated {
		reserved.StatusCode = status
		reserved.Body = body
		if err := s.idem.Complete(r.Context(), reserved); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("idempotency record not persisted")
		}
	} else if err := s.idem.Release(r.Context(), key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("idempotency reservation not released")
	}
	writeRaw(w, status, body)
}

// createBooking performs the actual insert and returns the response to
// write, which doubles as the snapshot for keyed requests.
func (s *HTTPServer) createBooking(ctx context.Context, payload []byte) (int, []byte) {
	var req struct {
		PropertyID int64  `json:"property_id"`
		GuestName  string `json:"guest_name"`
		GuestEmail string `json:"guest_email"`
		Phone      string `json:"phone"`
		CheckIn    string `json:"check_in"`
		CheckOut   string `json:"check_out"`
		Comment    string `json:"comment"`
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid JSON body")
	}

	if req.PropertyID == 0 || req.GuestName == "" {
		return errorResponse(http.StatusBadRequest, "property_id and guest_name are required")
	}
	checkIn, err := time.Parse("2006-01-02", req.CheckIn)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid check_in; expected YYYY-MM-DD")
	}
	checkOut, err := time.Parse("2006-01-02", req.CheckOut)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid check_out; expected YYYY-MM-DD")
	}
	if !checkOut.After(checkIn) {
		return errorResponse(http.StatusBadRequest, "check_out must be after check_in")
	}

	store, err := s.store(ctx)
	if err != nil {
		return errorResponse(http.StatusServiceUnavailable, "database unavailable, retry later")
	}

	if _, err := store.GetProperty(ctx, req.PropertyID); err != nil {
		if database.IsNotFound(err) {
			return errorResponse(http.StatusNotFound, "property not found")
		}
		return errorResponse(http.StatusInternalServerError, "failed to load property")
	}

	booking := &models.Booking{
		PropertyID: req.PropertyID,
		GuestName:  req.GuestName,
		GuestEmail: req.GuestEmail,
		Phone:      req.Phone,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     models.StatusPending,
		Comment:    req.Comment,
	}
	if err := store.CreateBooking(ctx, booking); err != nil {
		return errorResponse(http.StatusInternalServerError, "failed to create booking")
	}

	body, err := json.Marshal(map[string]any{"booking": booking})
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "failed to encode booking")
	}
	return http.StatusCreated, body
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/availability/"
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	propertyID, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || propertyID <= 0 {
		writeError(w, http.StatusBadRequest, "property id is required")
		return
	}

	from := time.Now()
	if v := strings.TrimSpace(r.URL.Query().Get("from")); v != "" {
		from, err = time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
			return
		}
	}
	days := 14
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil || days <= 0 || days > 365 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
	}

	store, err := s.store(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable, retry later")
		return
	}

	availability, err := store.GetAvailability(r.Context(), propertyID, from, days)
	if err != nil {
		if database.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "property not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to compute availability")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"availability": availability})
}

func parseSyncLogFilter(r *http.Request) (models.SyncLogFilter, error) {
	var filter models.SyncLogFilter
	q := r.URL.Query()

	if v := strings.TrimSpace(q.Get("connection_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, errors.New("invalid connection_id")
		}
		filter.ConnectionID = id
	}
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid from; expected RFC3339")
		}
		filter.From = t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid to; expected RFC3339")
		}
		filter.To = t
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}
	if filter.Limit == 0 {
		filter.Limit = models.DefaultSyncLogPageSize
	}
	return filter, nil
}

func errorResponse(status int, message string) (int, []byte) {
	body, _ := json.Marshal(map[string]string{"error": message})
	return status, body
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func replay(w http.ResponseWriter, record *idempotency.Record) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotency-Replayed", "true")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.Body)
}
