package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	headerRequestID       = "X-Request-Id"
	headerRequestFileName = "X-Request-FileName"
	maxStateBodyBytes     = 64 << 10
)

// Client talks to the playback relay over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) FetchState(ctx context.Context) (PlaybackState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/player", nil)
	if err != nil {
		return PlaybackState{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return PlaybackState{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PlaybackState{}, fmt.Errorf("%w: relay status %d", ErrTransport, resp.StatusCode)
	}

	var state PlaybackState
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStateBodyBytes)).Decode(&state); err != nil {
		return PlaybackState{}, fmt.Errorf("%w: invalid state payload: %v", ErrTransport, err)
	}

	return state, nil
}

func (c *Client) Play(ctx context.Context, id, fileName string, content []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.BaseURL+"/player/play", bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerRequestID, id)
	req.Header.Set(headerRequestFileName, fileName)

	return c.do(req)
}

func (c *Client) PowerOn(ctx context.Context) error {
	return c.switchPort(ctx, "ON")
}

func (c *Client) PowerOff(ctx context.Context) error {
	return c.switchPort(ctx, "OFF")
}

func (c *Client) switchPort(ctx context.Context, mode string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/player/port/"+mode, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxStateBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: relay status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}
