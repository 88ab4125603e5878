// Package config loads client settings for talking to the edge agent.
//
// Values are layered: built-in defaults, then the YAML file named by
// EDGE_AGENT_CONFIG (or --config), then individual environment variables.
// Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"k8s.io/examples/AI/edgeagent/pkg/agentclient"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig     = "EDGE_AGENT_CONFIG"
	EnvSocket     = "EDGE_AGENT_SOCKET"
	EnvCacheDir   = "EDGE_AGENT_CACHE_DIR"
	EnvBlobserver = "EDGE_AGENT_BLOBSERVER"
)

// Config is the client configuration.
type Config struct {
	// Socket is the agent's Unix socket path.
	// Default: /tmp/sagemaker_edge_agent_example.sock
	Socket string `yaml:"socket"`

	// Timeout bounds each remote call, as a Go duration. Empty means none.
	Timeout string `yaml:"timeout"`

	// CacheDir receives downloaded model artifacts.
	CacheDir string `yaml:"cache_dir"`

	// Blobserver is the base URL serving blob:<hash> model locations.
	Blobserver string `yaml:"blobserver"`

	// DownloadAttempts bounds retries of a model download.
	// Default: 3
	DownloadAttempts int `yaml:"download_attempts"`

	// SharedMemory configures shared memory inputs.
	SharedMemory SharedMemoryConfig `yaml:"shared_memory"`
}

// SharedMemoryConfig configures shared memory inputs.
type SharedMemoryConfig struct {
	// Ownership is "transfer" (the agent removes segments) or "release"
	// (the client removes them once the reply is in).
	// Default: transfer
	Ownership string `yaml:"ownership"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	cacheDir := ""
	if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "edge-agent")
	}
	return &Config{
		Socket:           agentclient.DefaultSocketPath,
		CacheDir:         cacheDir,
		DownloadAttempts: 3,
		SharedMemory: SharedMemoryConfig{
			Ownership: tensor.TransferToAgent.String(),
		},
	}
}

// Load returns the defaults overlaid with the file at path (if non-empty)
// and then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from the EDGE_AGENT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvSocket); v != "" {
		c.Socket = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvBlobserver); v != "" {
		c.Blobserver = v
	}
}

// Validate checks that every field parses.
func (c *Config) Validate() error {
	if c.Socket == "" {
		return fmt.Errorf("socket must be set")
	}
	if _, err := c.RPCTimeout(); err != nil {
		return err
	}
	if _, err := c.BlobserverURL(); err != nil {
		return err
	}
	if c.DownloadAttempts < 1 {
		return fmt.Errorf("download_attempts must be at least 1, got %d", c.DownloadAttempts)
	}
	if _, err := c.Ownership(); err != nil {
		return err
	}
	return nil
}

// RPCTimeout parses Timeout; zero means no deadline.
func (c *Config) RPCTimeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		// Bare numbers are seconds.
		secs, convErr := strconv.Atoi(c.Timeout)
		if convErr != nil {
			return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout %q must not be negative", c.Timeout)
	}
	return d, nil
}

// BlobserverURL parses Blobserver; nil when unset.
func (c *Config) BlobserverURL() (*url.URL, error) {
	if c.Blobserver == "" {
		return nil, nil
	}
	u, err := url.Parse(c.Blobserver)
	if err != nil {
		return nil, fmt.Errorf("invalid blobserver %q: %w", c.Blobserver, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("blobserver %q must be an http or https URL", c.Blobserver)
	}
	return u, nil
}

func (c *Config) Ownership() (tensor.Ownership, error) {
	return tensor.ParseOwnership(c.SharedMemory.Ownership)
}
