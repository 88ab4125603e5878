package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/edgeagent/pkg/agent/agenttest"
	"k8s.io/examples/AI/edgeagent/pkg/agentclient"
	"k8s.io/examples/AI/edgeagent/pkg/config"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	socketPath := agentclient.DefaultSocketPath
	if v := os.Getenv(config.EnvSocket); v != "" {
		socketPath = v
	}
	removeSegments := true
	var preload []string

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)

	flagSet := pflag.NewFlagSet("edge-agent-dev", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", socketPath, "Unix socket to listen on")
	flagSet.BoolVar(&removeSegments, "remove-segments", removeSegments, "remove shared memory inputs after reading them")
	flagSet.StringSliceVar(&preload, "model", nil, "name=url of a model to register at startup (repeatable)")
	flagSet.AddGoFlagSet(klogFlags)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log := klog.FromContext(ctx)

	server := agenttest.NewServer(shm.SysV{})
	server.RemoveSegments = removeSegments
	for _, m := range preload {
		name, url, ok := strings.Cut(m, "=")
		if !ok || name == "" || url == "" {
			return fmt.Errorf("--model %q must be name=url", m)
		}
		server.AddModel(name, url)
		log.Info("registered model", "model", name, "url", url)
	}

	log.Info("starting edge-agent-dev", "socket", socketPath)
	return server.Serve(ctx, socketPath)
}
