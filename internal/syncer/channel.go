package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stayops/internal/models"
)

// ChannelClient pushes booking data to one third-party channel. Beyond
// succeeded/failed/transient the integration is opaque to the engine.
type ChannelClient interface {
	PushAvailability(ctx context.Context, conn models.ChannelConnection, days []models.Availability) error
	PushPricing(ctx context.Context, conn models.ChannelConnection, rates []models.RateDay) error
	PushReservations(ctx context.Context, conn models.ChannelConnection, bookings []models.Booking) error
}

// HTTPChannelClient talks JSON over HTTP to a connection's endpoint.
// It is the single boundary where wire-level failures become Classes.
type HTTPChannelClient struct {
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPChannelClient(timeout time.Duration, logger zerolog.Logger) *HTTPChannelClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPChannelClient{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *HTTPChannelClient) PushAvailability(ctx context.Context, conn models.ChannelConnection, days []models.Availability) error {
	return c.push(ctx, conn, "availability", map[string]any{"property_id": conn.PropertyID, "days": days})
}

func (c *HTTPChannelClient) PushPricing(ctx context.Context, conn models.ChannelConnection, rates []models.RateDay) error {
	return c.push(ctx, conn, "pricing", map[string]any{"property_id": conn.PropertyID, "rates": rates})
}

func (c *HTTPChannelClient) PushReservations(ctx context.Context, conn models.ChannelConnection, bookings []models.Booking) error {
	return c.push(ctx, conn, "reservations", map[string]any{"property_id": conn.PropertyID, "reservations": bookings})
}

func (c *HTTPChannelClient) push(ctx context.Context, conn models.ChannelConnection, resource string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewChannelError(ClassInternal, fmt.Errorf("encode payload: %w", err))
	}

	url := strings.TrimSuffix(conn.EndpointURL, "/") + "/" + resource
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewChannelError(ClassValidation, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return NewChannelError(ClassConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("channel %s returned %d: %s", conn.Channel, resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return NewChannelError(ClassNotFound, cause)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return NewChannelError(ClassValidation, cause)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return NewChannelError(ClassConnectivity, cause)
	default:
		return NewChannelError(ClassInternal, cause)
	}
}
