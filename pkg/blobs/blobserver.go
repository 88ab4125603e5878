package blobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// BlobServer serves model artifacts by content hash over HTTP: GET /<hash>.
// It is the server side of ModelServer.
type BlobServer struct {
	// CacheDir holds one file per hash.
	CacheDir string
	// Upstream, if set, fills cache misses; the hash is the artifact key.
	Upstream ArtifactReader

	mu sync.Mutex
}

var _ http.Handler = (*BlobServer)(nil)

func (s *BlobServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			s.serveGETBlob(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *BlobServer) serveGETBlob(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()
	log := klog.FromContext(ctx)

	if !validHash(hash) {
		http.Error(w, "invalid blob hash", http.StatusBadRequest)
		return
	}

	f, err := s.GetBlob(ctx, hash)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting blob", "hash", hash)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	log.V(2).Info("serving blob", "path", f.Name())
	http.ServeFile(w, r, f.Name())
}

// GetBlob opens the cached blob for hash, fetching it from Upstream first
// if needed.
func (s *BlobServer) GetBlob(ctx context.Context, hash string) (*os.File, error) {
	localPath := filepath.Join(s.CacheDir, hash)
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening blob %q: %w", hash, err)
	}

	if s.Upstream == nil {
		return nil, fmt.Errorf("blob %q: %w", hash, os.ErrNotExist)
	}

	// Cache fills are serialized; recheck after taking the lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, err := os.Open(localPath); err == nil {
		return f, nil
	}
	if err := s.Upstream.Download(ctx, ArtifactRef{Key: hash}, localPath); err != nil {
		return nil, fmt.Errorf("fetching blob %q: %w", hash, err)
	}
	return os.Open(localPath)
}

func validHash(hash string) bool {
	if hash == "" || len(hash) > 128 {
		return false
	}
	for _, c := range hash {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
