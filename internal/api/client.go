// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fleetsync/playback/pkg/core"
)

const (
	requestTimeout = 30 * time.Second
	maxResponse    = 1 << 20
)

// ErrEmptyLink is returned when a segment has no link to resolve.
var ErrEmptyLink = errors.New("segment has no link")

// StatusError is a non-200 reply from the gateway.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Op, e.Status)
}

// Client talks to the video gateway that signs segment links and accepts
// fleet exports.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a gateway client. A trailing slash on baseURL is ignored.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// do sends req and returns the body of a 200 reply, capped at maxResponse.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, fmt.Errorf("%s read: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, Status: resp.StatusCode}
	}
	return body, nil
}

// Healthcheck reports whether the gateway answers.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return err
	}
	_, err = c.do("healthcheck", req)
	return err
}

// ResolveLink turns a segment's opaque link into a playable URL. Links that
// are already absolute http(s) URLs are returned unchanged.
func (c *Client) ResolveLink(ctx context.Context, seg core.VideoSegmentDescriptor) (string, error) {
	if seg.Link == "" {
		return "", ErrEmptyLink
	}
	if isPlayable(seg.Link) {
		return seg.Link, nil
	}

	q := url.Values{
		"link":      {seg.Link},
		"camera":    {strconv.Itoa(seg.CameraID)},
		"timestamp": {strconv.FormatInt(seg.Timestamp, 10)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/video/resolve?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	body, err := c.do("resolve", req)
	if err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode resolve response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("resolve returned no url for %q", seg.Link)
	}
	return out.URL, nil
}

func isPlayable(link string) bool {
	u, err := url.Parse(link)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// UploadExport streams a fleet export file to the gateway as a multipart form.
func (c *Client) UploadExport(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeExportForm(form, c.apiKey, filepath.Base(path), f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/exports", pr)
	if err != nil {
		_ = pr.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	_, err = c.do("upload", req)
	return err
}

func writeExportForm(form *multipart.Writer, secret, name string, src io.Reader) error {
	if err := form.WriteField("secret", secret); err != nil {
		return err
	}
	if err := form.WriteField("filename", name); err != nil {
		return err
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return form.Close()
}
