// Package trellis is the HTTP client for the external 3D generation
// service. Submissions carry a correlation ID so completion lookups can
// never hand one job another job's result.
package trellis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"meshforge/internal/core/domain"
	"meshforge/internal/core/ports"
)

type Client struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

var _ ports.Generator = (*Client)(nil)

func NewClient(logger *slog.Logger, baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5001"
	}
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type submitPayload struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// Submit enqueues a generation request. The service answers 202 and works
// asynchronously; there is no way to cancel once submitted.
func (c *Client) Submit(ctx context.Context, correlationID, prompt string) error {
	body, err := json.Marshal(submitPayload{ID: correlationID, Prompt: prompt})
	if err != nil {
		return fmt.Errorf("encoding generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("generation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("generation submission failed: status=%d body=%s", resp.StatusCode, string(data))
	}

	c.logger.Info("generation submitted", "correlation_id", correlationID)
	return nil
}

type statusPayload struct {
	Status    string `json:"status"` // queued | running | succeeded | failed
	RemoteID  string `json:"remote_id"`
	AssetPath string `json:"asset_path"`
	Error     string `json:"error"`
}

// Completion polls the service for the job identified by the correlation
// ID. It returns (nil, nil) while the job is still queued or running.
func (c *Client) Completion(ctx context.Context, correlationID string) (*domain.GenerationResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/generate/"+correlationID, nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("generation service has no job for correlation id %s", correlationID)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generation status failed: status=%d body=%s", resp.StatusCode, string(data))
	}

	var status statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding generation status: %w", err)
	}

	switch status.Status {
	case "queued", "running":
		return nil, nil
	case "succeeded":
		if status.AssetPath == "" {
			return nil, fmt.Errorf("generation succeeded but reported no asset path")
		}
		return &domain.GenerationResult{RemoteID: status.RemoteID, AssetPath: status.AssetPath}, nil
	case "failed":
		if status.Error == "" {
			status.Error = "generation failed"
		}
		return nil, fmt.Errorf("generation failed: %s", status.Error)
	default:
		return nil, fmt.Errorf("generation service reported unknown status %q", status.Status)
	}
}
