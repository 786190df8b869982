package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Replicate API root
	DefaultBaseURL = "https://api.replicate.com/v1"
	// DefaultModelVersion is the image-to-video model used for stickers
	DefaultModelVersion = "d68b6e09eedbac7a49e3d8644999d93579c386a083768235cabca88796d70d82"
)

var (
	// ErrNotConfigured is returned when no API token was supplied
	ErrNotConfigured = errors.New("media: replicate API token not configured")
	// ErrPredictionFailed is returned when the model reports failure or cancellation
	ErrPredictionFailed = errors.New("media: prediction failed")
	// ErrNoOutput is returned when a prediction succeeds without an output URL
	ErrNoOutput = errors.New("media: prediction returned no output")
)

// Prediction statuses reported by Replicate
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is a Replicate prediction resource
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  interface{}     `json:"error"`
}

// OutputURL returns the first URL in the prediction output, which is either a string or a list
func (p *Prediction) OutputURL() (string, error) {
	if len(p.Output) == 0 || string(p.Output) == "null" {
		return "", ErrNoOutput
	}

	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil && single != "" {
		return single, nil
	}

	var list []string
	if err := json.Unmarshal(p.Output, &list); err == nil && len(list) > 0 && list[0] != "" {
		return list[0], nil
	}

	return "", ErrNoOutput
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithPollInterval sets how long to wait between status checks
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithLimiter replaces the outbound request limiter
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// Client is a Replicate API client with rate limiting
type Client struct {
	token        string
	version      string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	pollInterval time.Duration
}

// NewClient creates a new Replicate client
func NewClient(token, version string, opts ...Option) *Client {
	if version == "" {
		version = DefaultModelVersion
	}
	c := &Client{
		token:   token,
		version: version,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:      rate.NewLimiter(5, 2),
		pollInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has credentials
func (c *Client) Configured() bool {
	return c.token != ""
}

// doRequest performs an authenticated request and decodes the JSON response
func (c *Client) doRequest(ctx context.Context, method, url string, payload, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreatePrediction starts an image-to-animation prediction for the image at imageURL
func (c *Client) CreatePrediction(ctx context.Context, imageURL string) (*Prediction, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := map[string]interface{}{
		"version": c.version,
		"input": map[string]interface{}{
			"input_image":      imageURL,
			"motion_bucket_id": 127,
			"fps":              8,
			"num_frames":       16,
		},
	}

	var p Prediction
	if err := c.doRequest(ctx, http.MethodPost, c.baseURL+"/predictions", payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrediction fetches the current state of a prediction
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	var p Prediction
	if err := c.doRequest(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Animate creates a prediction and polls it until it finishes or ctx expires.
// It returns the URL of the generated animation.
func (c *Client) Animate(ctx context.Context, imageURL string) (string, error) {
	p, err := c.CreatePrediction(ctx, imageURL)
	if err != nil {
		return "", err
	}
	slog.Debug("Prediction created", "id", p.ID, "status", p.Status)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		switch p.Status {
		case StatusSucceeded:
			return p.OutputURL()
		case StatusFailed, StatusCanceled:
			return "", fmt.Errorf("%w: %v", ErrPredictionFailed, p.Error)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("prediction %s did not finish: %w", p.ID, ctx.Err())
		case <-ticker.C:
		}

		next, err := c.GetPrediction(ctx, p.ID)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("prediction %s did not finish: %w", p.ID, ctx.Err())
			}
			return "", err
		}
		p = next
	}
}
