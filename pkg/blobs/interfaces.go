package blobs

import "context"

// ArtifactReader fetches model artifacts into local files.
type ArtifactReader interface {
	// If no such artifact exists, Download should return an error for which errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, ref ArtifactRef, destPath string) error
}

// ArtifactRef names an artifact within one ArtifactReader: an object name
// for GCS, a full URL for HTTP, a content hash for a blobserver.
type ArtifactRef struct {
	Key string
}
