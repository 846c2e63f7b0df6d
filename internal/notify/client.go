package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AttendanceRecorded is the event published when an automatic attendance
// record is created. Delivery is fire-and-forget.
type AttendanceRecorded struct {
	StudentID  string    `json:"studentId"`
	MaterialID string    `json:"materialId"`
	CourseID   string    `json:"courseId"`
	Date       string    `json:"date"`
	Week       int       `json:"week"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Client calls the notification service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client; with skip set sends are dropped.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Send delivers one event. Failures are for the caller to log and drop; the
// attendance record is already durable.
func (c *Client) Send(ctx context.Context, evt AttendanceRecorded) error {
	if c.Skip {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/internal/notifications/attendance", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notification service request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service error: %s", resp.Status)
	}
	return nil
}
