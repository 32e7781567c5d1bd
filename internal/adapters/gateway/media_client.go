package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrImageTooLarge is returned when an attachment exceeds the download limit
var ErrImageTooLarge = errors.New("image exceeds size limit")

// MediaClient downloads customer attachments from the platform CDN
type MediaClient struct {
	httpClient *http.Client
	maxBytes   int64
}

// NewMediaClient creates an attachment downloader bounded to maxBytes
func NewMediaClient(timeout time.Duration, maxBytes int64) *MediaClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &MediaClient{httpClient: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

// Fetch downloads the image and reports its MIME type
func (c *MediaClient) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download failed: status %d", resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		return nil, "", ErrImageTooLarge
	}

	// Read one byte past the limit to detect oversize bodies without Content-Length
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, "", ErrImageTooLarge
	}

	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
