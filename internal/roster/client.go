package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Student is one enrolled student as reported by the enrollment service.
type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source provides course rosters to the reporter.
type Source interface {
	Students(ctx context.Context, courseID string) ([]Student, error)
}

// Client calls the enrollment service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set it serves a small fixture roster.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Students lists enrolled students for a course.
func (c *Client) Students(ctx context.Context, courseID string) ([]Student, error) {
	if c.Skip {
		return []Student{
			{ID: "student-1", Name: "Dev Student One"},
			{ID: "student-2", Name: "Dev Student Two"},
			{ID: "student-3", Name: "Dev Student Three"},
		}, nil
	}

	url := fmt.Sprintf("%s/internal/courses/%s/students", c.BaseURL, courseID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("roster service error: %s", resp.Status)
	}

	var out struct {
		Students []Student `json:"students"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Students, nil
}
