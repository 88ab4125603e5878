package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// HTTPStore downloads artifacts from full http(s) URLs.
type HTTPStore struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ ArtifactReader = (*HTTPStore)(nil)

func (h *HTTPStore) Download(ctx context.Context, ref ArtifactRef, destPath string) error {
	return downloadToFile(ctx, h.Client, ref.Key, destPath)
}

// ModelServer downloads artifacts by hash from a blobserver.
type ModelServer struct {
	// BlobserverURL is the base URL to the blobserver, typically http://blobserver
	BlobserverURL *url.URL
	Client        *http.Client
}

var _ ArtifactReader = (*ModelServer)(nil)

func (l *ModelServer) Download(ctx context.Context, ref ArtifactRef, destPath string) error {
	u := l.BlobserverURL.JoinPath(ref.Key)
	return downloadToFile(ctx, l.Client, u.String(), destPath)
}

func downloadToFile(ctx context.Context, client *http.Client, url string, destPath string) error {
	log := klog.FromContext(ctx)

	log.Info("downloading from url", "url", url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	startedAt := time.Now()

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("model %q not found: %w", url, os.ErrNotExist)
		}
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("unexpected status downloading from %q: %v", url, resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, destPath)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", url, err)
	}

	log.Info("downloaded model", "url", url, "bytes", n, "duration", time.Since(startedAt))

	return nil
}
