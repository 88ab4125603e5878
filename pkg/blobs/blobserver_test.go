package blobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func newBlobServer(t *testing.T, upstream ArtifactReader) (*BlobServer, *url.URL) {
	t.Helper()
	s := &BlobServer{CacheDir: t.TempDir(), Upstream: upstream}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}
	return s, u
}

func TestBlobServerServesCache(t *testing.T) {
	s, u := newBlobServer(t, nil)
	if err := os.WriteFile(filepath.Join(s.CacheDir, "deadbeef"), []byte("cached"), 0644); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	resp, err := http.Get(u.JoinPath("deadbeef").String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "cached" {
		t.Errorf("GET = %d %q, want 200 cached", resp.StatusCode, b)
	}
}

func TestBlobServerStatusCodes(t *testing.T) {
	_, u := newBlobServer(t, nil)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/0123abcd", http.StatusNotFound},
		{http.MethodGet, "/not-hex", http.StatusBadRequest},
		{http.MethodGet, "/a/b", http.StatusNotFound},
		{http.MethodPost, "/0123abcd", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, u.String()+tt.path, nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestBlobServerFillsFromUpstream(t *testing.T) {
	upstream := &fakeReader{contents: "from-gcs"}
	s, u := newBlobServer(t, upstream)

	r := &Resolver{
		CacheDir:   t.TempDir(),
		Blobserver: &ModelServer{BlobserverURL: u},
	}
	got, err := r.Resolve(context.Background(), "blob:cafe01")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b, _ := os.ReadFile(got); string(b) != "from-gcs" {
		t.Errorf("resolved contents %q, want from-gcs", b)
	}
	if len(upstream.refs()) != 1 || upstream.refs()[0].Key != "cafe01" {
		t.Errorf("upstream calls = %v, want one for cafe01", upstream.refs())
	}
	if _, err := os.Stat(filepath.Join(s.CacheDir, "cafe01")); err != nil {
		t.Errorf("blob not cached on the server: %v", err)
	}

	// The server now answers from its cache.
	f, err := s.GetBlob(context.Background(), "cafe01")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	f.Close()
	if len(upstream.refs()) != 1 {
		t.Errorf("upstream calls = %d after cache fill, want 1", len(upstream.refs()))
	}
}

func TestBlobServerMissingUpstream(t *testing.T) {
	upstream := &fakeReader{err: os.ErrNotExist}
	_, u := newBlobServer(t, upstream)

	r := &Resolver{CacheDir: t.TempDir(), Blobserver: &ModelServer{BlobserverURL: u}, MaxDownloadAttempts: 3}
	_, err := r.Resolve(context.Background(), "blob:0000")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Resolve error = %v, want os.ErrNotExist", err)
	}
	if len(upstream.refs()) != 1 {
		t.Errorf("upstream calls = %d, want 1 (not found is not retried)", len(upstream.refs()))
	}
}
