package material

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"videoattend/internal/store"
)

// ErrUnknownMaterial means the course-material service has no such material.
var ErrUnknownMaterial = errors.New("unknown material")

// Config is the attendance-relevant slice of a course material, owned by
// the course-material service and read-only here.
type Config struct {
	MaterialID          string    `json:"materialId"`
	CourseID            string    `json:"courseId"`
	Week                int       `json:"week"`
	Date                string    `json:"date"` // YYYY-MM-DD meeting date
	DurationSeconds     float64   `json:"durationSeconds"`
	IsAttendanceTrigger bool      `json:"isAttendanceTrigger"`
	ThresholdPercent    float64   `json:"attendanceThreshold"`
	SessionStart        time.Time `json:"sessionStart"`
	SessionEnd          time.Time `json:"sessionEnd"`
}

// Threshold returns the completion threshold as a ratio in (0, 1],
// defaulting to 80% when the material config omits it.
func (c Config) Threshold() float64 {
	if c.ThresholdPercent <= 0 || c.ThresholdPercent > 100 {
		return 0.8
	}
	return c.ThresholdPercent / 100
}

// Source provides material configs to the ingestion path.
type Source interface {
	Get(ctx context.Context, materialID string) (*Config, error)
}

// Client calls the course-material service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set it serves a fixture config for local
// development without the collaborator running.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Get fetches the attendance config for one material.
func (c *Client) Get(ctx context.Context, materialID string) (*Config, error) {
	if c.Skip {
		now := time.Now().UTC()
		return &Config{
			MaterialID:          materialID,
			CourseID:            "course-dev",
			Week:                1,
			Date:                now.Format("2006-01-02"),
			DurationSeconds:     600,
			IsAttendanceTrigger: true,
			ThresholdPercent:    80,
			SessionStart:        now.Add(-time.Hour),
			SessionEnd:          now.Add(time.Hour),
		}, nil
	}

	url := fmt.Sprintf("%s/internal/materials/%s/attendance-config", c.BaseURL, materialID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("material service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMaterial, materialID)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("material service error: %s", resp.Status)
	}

	var out Config
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Cached is a redis read-through cache over a Source. Material configs
// change rarely; stale-by-minutes reads are fine for the ingestion path.
type Cached struct {
	src   Source
	redis *store.Redis
	ttl   time.Duration
}

// NewCached wraps a source with a redis cache.
func NewCached(src Source, redis *store.Redis, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{src: src, redis: redis, ttl: ttl}
}

// Get returns the cached config, hitting the source on miss.
func (c *Cached) Get(ctx context.Context, materialID string) (*Config, error) {
	key := "videoattend:material:" + materialID
	if raw, ok := c.redis.CacheGet(ctx, key); ok {
		var cfg Config
		if err := json.Unmarshal([]byte(raw), &cfg); err == nil {
			return &cfg, nil
		}
	}
	cfg, err := c.src.Get(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(cfg); err == nil {
		c.redis.CacheSet(ctx, key, string(raw), c.ttl)
	}
	return cfg, nil
}
