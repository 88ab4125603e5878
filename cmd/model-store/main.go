package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/edgeagent/pkg/blobs"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// We expect CACHE_DIR to be set when deployed, but default sensibly for local dev
		cacheDir = "~/.cache/edge-agent/blobs"
	}
	cacheBucket := os.Getenv("CACHE_BUCKET")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)

	flagSet := pflag.NewFlagSet("model-store", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", listen, "listen address")
	flagSet.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flagSet.StringVar(&cacheBucket, "cache-bucket", cacheBucket, "gs://<bucket> to fill cache misses from; empty serves only the cache")
	flagSet.AddGoFlagSet(klogFlags)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	s := &blobs.BlobServer{CacheDir: cacheDir}

	if cacheBucket != "" {
		if !strings.HasPrefix(cacheBucket, "gs://") {
			return fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
		}
		bucket := strings.TrimSuffix(strings.TrimPrefix(cacheBucket, "gs://"), "/")
		log.Info("using GCS cache", "bucket", bucket)
		s.Upstream = &blobs.GCSStore{Bucket: bucket}
	}

	log.Info("serving blobs", "listen", listen, "cacheDir", cacheDir)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}
