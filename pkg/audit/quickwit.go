package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrSearchUnavailable is returned by Search when no index is configured
var ErrSearchUnavailable = errors.New("audit search is not configured")

// QuickwitConfig configures the Quickwit sink
type QuickwitConfig struct {
	BaseURL       string
	IndexID       string
	Timeout       time.Duration
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultQuickwitConfig returns the defaults for an index on localhost
func DefaultQuickwitConfig() QuickwitConfig {
	return QuickwitConfig{
		BaseURL:       "http://localhost:7280",
		IndexID:       "config-generator-audit",
		Timeout:       10 * time.Second,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// QuickwitClient talks to the Quickwit REST API
type QuickwitClient struct {
	baseURL    string
	indexID    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewQuickwitClient creates a new Quickwit client
func NewQuickwitClient(cfg QuickwitConfig, logger *zap.Logger) *QuickwitClient {
	return &QuickwitClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		indexID: cfg.IndexID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// IndexID returns the index events are written to
func (c *QuickwitClient) IndexID() string {
	return c.indexID
}

// CreateIndex creates an index. An existing index is not an error.
func (c *QuickwitClient) CreateIndex(ctx context.Context, cfg *IndexConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal index config: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/indexes", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.logger.Info("audit index already exists", zap.String("index_id", cfg.IndexID))
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("failed to create index", resp)
	}

	c.logger.Info("audit index created", zap.String("index_id", cfg.IndexID))
	return nil
}

// IndexExists reports whether the configured index exists
func (c *QuickwitClient) IndexExists(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/indexes/"+c.indexID, "", nil)
	if err != nil {
		return false, fmt.Errorf("failed to check index: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// Ingest writes events as NDJSON
func (c *QuickwitClient) Ingest(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			c.logger.Error("failed to marshal audit event", zap.Error(err), zap.String("event_id", events[i].ID))
		}
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/"+c.indexID+"/ingest", "application/x-ndjson", &buf)
	if err != nil {
		return fmt.Errorf("failed to ingest events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("failed to ingest events", resp)
	}
	return nil
}

// Search runs a query against the index, newest events first
func (c *QuickwitClient) Search(ctx context.Context, query *SearchQuery) (*SearchResult, error) {
	maxHits := query.MaxHits
	if maxHits <= 0 {
		maxHits = 20
	}
	searchReq := map[string]interface{}{
		"query":        buildQueryString(query),
		"max_hits":     maxHits,
		"start_offset": query.StartOffset,
		"sort_by":      "-timestamp",
	}
	if query.StartTime != nil {
		searchReq["start_timestamp"] = query.StartTime.Unix()
	}
	if query.EndTime != nil {
		searchReq["end_timestamp"] = query.EndTime.Unix()
	}

	data, err := json.Marshal(searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/"+c.indexID+"/search", "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("search failed", resp)
	}

	var searchResp struct {
		Hits        []json.RawMessage `json:"hits"`
		NumHits     int64             `json:"num_hits"`
		ElapsedSecs float64           `json:"elapsed_secs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &SearchResult{
		NumHits:     searchResp.NumHits,
		ElapsedSecs: searchResp.ElapsedSecs,
		Hits:        make([]Event, 0, len(searchResp.Hits)),
	}
	for _, hit := range searchResp.Hits {
		var event Event
		if err := json.Unmarshal(hit, &event); err != nil {
			c.logger.Warn("skipping undecodable audit hit", zap.Error(err))
			continue
		}
		result.Hits = append(result.Hits, event)
	}
	return result, nil
}

// HealthCheck checks that Quickwit is ready
func (c *QuickwitClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health/readyz", "", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quickwit unhealthy: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *QuickwitClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

func statusError(msg string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: status=%d body=%s", msg, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildQueryString(query *SearchQuery) string {
	var parts []string

	if len(query.EventTypes) > 0 {
		types := make([]string, len(query.EventTypes))
		for i, t := range query.EventTypes {
			types[i] = string(t)
		}
		parts = append(parts, fmt.Sprintf("event_type:(%s)", strings.Join(types, " OR ")))
	}
	if query.Outcome != "" {
		parts = append(parts, "outcome:"+string(query.Outcome))
	}
	if query.ResourceType != "" {
		parts = append(parts, "resource_type:"+query.ResourceType)
	}
	if query.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("resource_id:%q", query.ResourceID))
	}
	if query.Query != "" {
		parts = append(parts, query.Query)
	}

	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " AND ")
}
