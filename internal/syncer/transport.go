package syncer

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

// Client reads and writes exported packages against an opaque key-value blob
// store: one JSON document per blob, addressed by an externally issued
// identifier and an access token. There is no delta protocol; every push
// replaces the whole document.
type Client struct {
	BaseURL string
	BlobID  string
	Token   string

	httpClient *http.Client
}

// NewClient returns a transport client. Sync is an explicit user action, so
// failures here are surfaced to the caller rather than swallowed.
func NewClient(baseURL, blobID, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		BlobID:     blobID,
		Token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) url() string {
	return c.BaseURL + "/" + c.BlobID
}

// Push uploads the package, replacing the remote document.
func (c *Client) Push(ctx context.Context, pkg *Package) error {
	body, err := json.Marshal(pkg)
	if err != nil {
		return fmt.Errorf("encoding package: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pushing package: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError("push", resp)
	}
	return nil
}

// Pull downloads and decodes the remote package.
func (c *Client) Pull(ctx context.Context) (*Package, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pulling package: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError("pull", resp)
	}

	var pkg Package
	if err := json.NewDecoder(resp.Body).Decode(&pkg); err != nil {
		return nil, fmt.Errorf("decoding remote package: %w", err)
	}
	return &pkg, nil
}

// responseError turns a non-2xx response into an actionable error. The first
// line of the body is included because blob stores put the reason there.
func responseError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	msg := strings.TrimSpace(string(snippet))
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("sync %s rejected: access token refused (%s)", op, resp.Status)
	case http.StatusNotFound:
		return fmt.Errorf("sync %s failed: blob not found (%s)", op, resp.Status)
	}
	if msg != "" {
		return fmt.Errorf("sync %s failed: %s: %s", op, resp.Status, msg)
	}
	return fmt.Errorf("sync %s failed: %s", op, resp.Status)
}
