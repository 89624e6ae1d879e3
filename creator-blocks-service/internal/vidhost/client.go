package vidhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config represents video hosting service configuration
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// UploadSession is the video host's upload target for a piece of content.
// The client transfers bytes directly to UploadURL; this service never
// proxies them.
type UploadSession struct {
	UploadID  string `json:"upload_id"`
	UploadURL string `json:"upload_url"`
}

// ContentInfo is the host's authoritative report for transferred content.
// SizeGB overrides any client-side estimate at finalize time.
type ContentInfo struct {
	VideoID         string  `json:"video_id"`
	SizeGB          float64 `json:"size_gb"`
	DurationMinutes float64 `json:"duration_minutes"`
	Ready           bool    `json:"ready"`
}

// Client talks to the external video hosting service.
type Client interface {
	RegisterUpload(ctx context.Context, videoID, title string) (*UploadSession, error)
	GetContentInfo(ctx context.Context, videoID string) (*ContentInfo, error)
}

// HTTPClient implements Client against the host's REST API.
type HTTPClient struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new video host client
func NewClient(cfg *Config, logger *zap.Logger) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RegisterUpload asks the host for an upload session the client can
// stream bytes to.
func (c *HTTPClient) RegisterUpload(ctx context.Context, videoID, title string) (*UploadSession, error) {
	payload := map[string]string{
		"video_id": videoID,
		"title":    title,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/uploads", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload registration failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upload registration returned status %d", resp.StatusCode)
	}

	var session UploadSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode upload session: %w", err)
	}

	c.logger.Info("Upload registered with video host",
		zap.String("video_id", videoID),
		zap.String("upload_id", session.UploadID),
	)
	return &session, nil
}

// GetContentInfo fetches the authoritative size and duration of
// transferred content.
func (c *HTTPClient) GetContentInfo(ctx context.Context, videoID string) (*ContentInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/v1/videos/"+videoID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build content info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("video %s not found on host", videoID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("content info returned status %d", resp.StatusCode)
	}

	var info ContentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode content info: %w", err)
	}
	return &info, nil
}
