package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/edgeagent/pkg/agentclient"
	"k8s.io/examples/AI/edgeagent/pkg/blobs"
	"k8s.io/examples/AI/edgeagent/pkg/config"
)

func main() {
	ctx := context.Background()
	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

type options struct {
	ConfigPath       string
	Socket           string
	Timeout          string
	CacheDir         string
	Blobserver       string
	DownloadAttempts int
	Ownership        string
}

func (o *options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.ConfigPath, "config", os.Getenv(config.EnvConfig), "path to a YAML config file (env "+config.EnvConfig+")")
	flagSet.StringVar(&o.Socket, "socket", "", "agent Unix socket path (env "+config.EnvSocket+")")
	flagSet.StringVar(&o.Timeout, "timeout", "", "deadline for each remote call, e.g. 10s")
	flagSet.StringVar(&o.CacheDir, "cache-dir", "", "directory for downloaded models (env "+config.EnvCacheDir+")")
	flagSet.StringVar(&o.Blobserver, "blobserver", "", "base URL serving blob:<hash> models (env "+config.EnvBlobserver+")")
	flagSet.IntVar(&o.DownloadAttempts, "download-attempts", 0, "attempts per model download")
	flagSet.StringVar(&o.Ownership, "shm-ownership", "", "who removes shared memory inputs: transfer or release")
}

// apply overrides cfg with every flag set on the command line.
func (o *options) apply(flagSet *pflag.FlagSet, cfg *config.Config) error {
	if flagSet.Changed("socket") {
		cfg.Socket = o.Socket
	}
	if flagSet.Changed("timeout") {
		cfg.Timeout = o.Timeout
	}
	if flagSet.Changed("cache-dir") {
		cfg.CacheDir = o.CacheDir
	}
	if flagSet.Changed("blobserver") {
		cfg.Blobserver = o.Blobserver
	}
	if flagSet.Changed("download-attempts") {
		cfg.DownloadAttempts = o.DownloadAttempts
	}
	if flagSet.Changed("shm-ownership") {
		cfg.SharedMemory.Ownership = o.Ownership
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var opts options

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)

	flagSet := pflag.NewFlagSet("edge-agent-client", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	opts.AddFlags(flagSet)
	flagSet.AddGoFlagSet(klogFlags)
	flagSet.Usage = func() {
		printUsage(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() == 0 {
		printUsage(os.Stderr)
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := opts.apply(flagSet, cfg); err != nil {
		return err
	}

	log := klog.FromContext(ctx)

	client, err := agentclient.Dial(cfg.Socket)
	if err != nil {
		return err
	}
	defer client.Close()

	if client.Timeout, err = cfg.RPCTimeout(); err != nil {
		return err
	}
	if client.Selector.Ownership, err = cfg.Ownership(); err != nil {
		return err
	}

	resolver := &blobs.Resolver{
		CacheDir:            cfg.CacheDir,
		MaxDownloadAttempts: cfg.DownloadAttempts,
		RetryDelay:          2 * time.Second,
	}
	blobserverURL, err := cfg.BlobserverURL()
	if err != nil {
		return err
	}
	if blobserverURL != nil {
		resolver.Blobserver = &blobs.ModelServer{BlobserverURL: blobserverURL}
	}

	log.V(2).Info("starting edge-agent-client", "socket", cfg.Socket, "command", flagSet.Arg(0))

	a := &app{
		client:   client,
		resolver: resolver,
		out:      stdout,
	}
	return a.dispatch(ctx, flagSet.Args())
}
