package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Brownie44l1/fish-api/internal/predict"
)

const DefaultTimeout = 60 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Result is one round trip to POST /predict. Body keeps the raw JSON so
// callers can print it as the server sent it.
type Result struct {
	Status int
	Took   time.Duration
	Body   json.RawMessage
}

func (c *Client) Predict(ctx context.Context, req predict.Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Result{Status: resp.StatusCode, Took: time.Since(start), Body: body}, nil
}

// EncodeFile reads a local image and returns it as standard base64.
func EncodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Pretty indents a JSON body, falling back to the first 500 bytes of raw text.
func Pretty(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		if len(body) > 500 {
			body = body[:500]
		}
		return string(body)
	}
	return buf.String()
}

// SaveThumbnail writes the decoded image_thumb_base64 of a successful
// prediction to path.
func SaveThumbnail(body []byte, path string) error {
	var resp predict.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !resp.OK || resp.ImageThumbBase64 == "" {
		return fmt.Errorf("response carries no thumbnail")
	}
	data, err := base64.StdEncoding.DecodeString(resp.ImageThumbBase64)
	if err != nil {
		return fmt.Errorf("thumbnail is not valid base64: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
