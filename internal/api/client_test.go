// internal/api/client_test.go
package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
)

var _ synchronizer.LinkResolver = (*Client)(nil)

func TestNew(t *testing.T) {
	c := New("http://localhost:5000", "secret123")

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.Equal(t, "secret123", c.apiKey)
	assert.NotNil(t, c.httpClient)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	assert.Equal(t, "http://localhost:5000", c.baseURL)
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", "") // unlikely to be listening
	assert.Error(t, c.Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := New(server.URL, "").Healthcheck(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Contains(t, err.Error(), "503")
}

func TestResolveLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video/resolve", r.URL.Path)
		assert.Equal(t, "k3y", r.Header.Get("X-API-Key"))
		assert.Equal(t, "cam1/0007.mp4", r.URL.Query().Get("link"))
		assert.Equal(t, "1", r.URL.Query().Get("camera"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("timestamp"))
		_, _ = io.WriteString(w, `{"url": "https://cdn.example.com/signed/0007.mp4"}`)
	}))
	defer server.Close()

	seg := core.VideoSegmentDescriptor{CameraID: 1, Timestamp: 1700000000, Link: "cam1/0007.mp4"}
	got, err := New(server.URL, "k3y").ResolveLink(context.Background(), seg)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/signed/0007.mp4", got)
}

func TestResolveLink_AbsoluteURLPassesThrough(t *testing.T) {
	c := New("http://localhost:59999", "")
	seg := core.VideoSegmentDescriptor{CameraID: 2, Link: "https://cdn.example.com/0001.mp4"}

	got, err := c.ResolveLink(context.Background(), seg)
	require.NoError(t, err)
	assert.Equal(t, seg.Link, got)
}

func TestResolveLink_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		link    string
		wantErr string
	}{
		{name: "empty link", link: "", wantErr: "no link"},
		{name: "server error", status: http.StatusNotFound, link: "x", wantErr: "404"},
		{name: "bad json", status: http.StatusOK, body: "{", link: "x", wantErr: "decode"},
		{name: "scheme without host", status: http.StatusOK, body: `{}`, link: "http:cam1", wantErr: "no url"},
		{name: "no url", status: http.StatusOK, body: `{}`, link: "x", wantErr: "no url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := New(server.URL, "").ResolveLink(context.Background(), core.VideoSegmentDescriptor{CameraID: 1, Link: tt.link})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveLink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"url": "https://x"}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(server.URL, "").ResolveLink(ctx, core.VideoSegmentDescriptor{Link: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUploadExport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet_20261015_120000.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/exports", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "k3y", r.FormValue("secret"))
		assert.Equal(t, "fleet_20261015_120000.json.gz", r.FormValue("filename"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "payload", string(data))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL, "k3y").UploadExport(context.Background(), path))
}

func TestUploadExport_FileNotFound(t *testing.T) {
	err := New("http://localhost:59999", "").UploadExport(context.Background(), "/nonexistent/file.json.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open file")
}

func TestUploadExport_ServerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New(server.URL, "").UploadExport(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
