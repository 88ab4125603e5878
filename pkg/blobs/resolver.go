// Package blobs turns the model location given to LoadModel into a local
// path the agent can open, downloading remote artifacts into a cache.
package blobs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	"k8s.io/klog/v2"
)

// Resolver maps model locations to local paths. Supported forms are a
// local path, gs://bucket/object, http(s)://..., and blob:<hash> served
// by Blobserver.
type Resolver struct {
	// CacheDir receives downloaded artifacts.
	CacheDir string
	// Blobserver serves blob:<hash> locations; nil disables them.
	Blobserver ArtifactReader
	// HTTP serves http and https locations.
	HTTP ArtifactReader
	// GCS returns a reader for a bucket; defaults to GCSStore.
	GCS func(bucket string) ArtifactReader

	// MaxDownloadAttempts is the number of times to attempt a download before failing.
	MaxDownloadAttempts int
	RetryDelay          time.Duration
}

// Resolve returns an absolute local path for location.
func (r *Resolver) Resolve(ctx context.Context, location string) (string, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		bucket, object, ok := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if !ok || bucket == "" || object == "" {
			return "", fmt.Errorf("model location %q must be gs://<bucket>/<object>", location)
		}
		newGCS := r.GCS
		if newGCS == nil {
			newGCS = func(bucket string) ArtifactReader { return &GCSStore{Bucket: bucket} }
		}
		return r.fetch(ctx, location, newGCS(bucket), ArtifactRef{Key: object}, path.Base(object))

	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		reader := r.HTTP
		if reader == nil {
			reader = &HTTPStore{}
		}
		return r.fetch(ctx, location, reader, ArtifactRef{Key: location}, path.Base(location))

	case strings.HasPrefix(location, "blob:"):
		if r.Blobserver == nil {
			return "", fmt.Errorf("model location %q needs a blobserver", location)
		}
		hash := strings.TrimPrefix(location, "blob:")
		if hash == "" {
			return "", fmt.Errorf("model location %q has no hash", location)
		}
		return r.fetch(ctx, location, r.Blobserver, ArtifactRef{Key: hash}, hash)

	default:
		return localPath(location)
	}
}

func localPath(location string) (string, error) {
	if _, err := os.Stat(location); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("model path %q does not exist: %w", location, os.ErrNotExist)
		}
		return "", fmt.Errorf("checking model path %q: %w", location, err)
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("resolving model path %q: %w", location, err)
	}
	return abs, nil
}

// cachePath is stable per location, so a second LoadModel of the same
// artifact reuses the download.
func (r *Resolver) cachePath(location, name string) (string, error) {
	if r.CacheDir == "" {
		return "", fmt.Errorf("no cache directory configured for remote model %q", location)
	}
	sum := blake3.Sum256([]byte(location))
	name = strings.Map(func(c rune) rune {
		if c == '/' || c == os.PathSeparator {
			return '_'
		}
		return c
	}, name)
	return filepath.Join(r.CacheDir, hex.EncodeToString(sum[:8])+"-"+name), nil
}

func (r *Resolver) fetch(ctx context.Context, location string, reader ArtifactReader, ref ArtifactRef, name string) (string, error) {
	log := klog.FromContext(ctx)

	destPath, err := r.cachePath(location, name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(destPath); err == nil {
		log.V(1).Info("using cached model", "location", location, "path", destPath)
		return filepath.Abs(destPath)
	}
	if err := os.MkdirAll(r.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory %q: %w", r.CacheDir, err)
	}

	if err := r.downloadToFile(ctx, reader, ref, destPath); err != nil {
		return "", fmt.Errorf("downloading model %q: %w", location, err)
	}
	return filepath.Abs(destPath)
}

func (r *Resolver) downloadToFile(ctx context.Context, reader ArtifactReader, ref ArtifactRef, destPath string) error {
	log := klog.FromContext(ctx)

	maxAttempts := r.MaxDownloadAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempt := 0
	for {
		attempt++

		err := reader.Download(ctx, ref, destPath)
		if err == nil {
			return nil
		}

		if attempt >= maxAttempts || errors.Is(err, os.ErrNotExist) {
			return err
		}

		log.Error(err, "downloading model, will retry", "ref", ref, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.RetryDelay):
		}
	}
}
