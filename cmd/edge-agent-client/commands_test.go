package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/bmp"

	"k8s.io/examples/AI/edgeagent/pkg/agent/agenttest"
	"k8s.io/examples/AI/edgeagent/pkg/agentclient"
	"k8s.io/examples/AI/edgeagent/pkg/blobs"
	"k8s.io/examples/AI/edgeagent/pkg/config"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
	"k8s.io/examples/AI/edgeagent/pkg/shm/shmtest"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

type testEnv struct {
	app        *app
	out        *bytes.Buffer
	server     *agenttest.Server
	fake       *shmtest.OS
	recorder   *shmtest.Recorder
	socketPath string
}

func startAgent(t *testing.T) (*agenttest.Server, *shmtest.OS, *shmtest.Recorder, string) {
	t.Helper()

	rec := &shmtest.Recorder{}
	fake := shmtest.New(rec)
	srv := agenttest.NewServer(fake)
	srv.Events = rec

	// Unix socket paths are length limited, so avoid t.TempDir's long names.
	dir, err := os.MkdirTemp("", "agent")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "agent.sock")

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.ServeListener(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("server exited: %v", err)
		}
	})
	return srv, fake, rec, socketPath
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv, fake, rec, socketPath := startAgent(t)

	client, err := agentclient.Dial(socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	m := shm.NewManager()
	m.OS = fake
	m.Keys = shm.NewFixedKeys("AAAAAAAAAA", "BBBBBBBBBB")
	client.Selector = &tensor.Selector{Segments: m}
	client.Timeout = 5 * time.Second

	out := &bytes.Buffer{}
	return &testEnv{
		app: &app{
			client:   client,
			resolver: &blobs.Resolver{CacheDir: t.TempDir()},
			out:      out,
		},
		out:        out,
		server:     srv,
		fake:       fake,
		recorder:   rec,
		socketPath: socketPath,
	}
}

func writeTestBMP(t *testing.T, size int) string {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			m.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	p := filepath.Join(t.TempDir(), "input.bmp")
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("creating bmp: %v", err)
	}
	defer f.Close()
	if err := bmp.Encode(f, m); err != nil {
		t.Fatalf("encoding bmp: %v", err)
	}
	return p
}

func writeModelFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "model.tflite")
	if err := os.WriteFile(p, []byte("model"), 0644); err != nil {
		t.Fatalf("writing model: %v", err)
	}
	return p
}

func TestLoadDescribeUnload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	modelPath := writeModelFile(t)

	if err := env.app.dispatch(ctx, []string{"LoadModel", modelPath, "resnet"}); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if err := env.app.dispatch(ctx, []string{"DescribeModel", "resnet"}); err != nil {
		t.Fatalf("DescribeModel: %v", err)
	}
	if err := env.app.dispatch(ctx, []string{"ListModels"}); err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if err := env.app.dispatch(ctx, []string{"UnloadModel", "resnet"}); err != nil {
		t.Fatalf("UnloadModel: %v", err)
	}

	out := env.out.String()
	for _, want := range []string{
		"Loaded model resnet from " + modelPath,
		"Model: resnet",
		"URL: " + modelPath,
		"1 model(s) loaded",
		"Unloaded model resnet",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoadModelMissingPath(t *testing.T) {
	env := newTestEnv(t)

	err := env.app.dispatch(context.Background(), []string{"LoadModel", filepath.Join(t.TempDir(), "missing"), "resnet"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadModel error = %v, want os.ErrNotExist", err)
	}
	if got := env.server.Captures(); len(got) != 0 {
		t.Errorf("unexpected captures %v", got)
	}
}

func TestPredictCommands(t *testing.T) {
	tests := []struct {
		command   string
		shm       bool
		captureID string
	}{
		{command: "Predict"},
		{command: "PredictSHM", shm: true},
		{command: "PredictAndCapture", captureID: "capture"},
		{command: "PredictSHMAndCapture", shm: true, captureID: "captureshm"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			env := newTestEnv(t)
			env.server.AddModel("resnet", "/models/resnet")
			imagePath := writeTestBMP(t, 4)

			err := env.app.dispatch(context.Background(), []string{tt.command, "resnet", imagePath, "data", "4", "4", "3"})
			if err != nil {
				t.Fatalf("%s: %v", tt.command, err)
			}

			out := env.out.String()
			if !strings.Contains(out, "Flattened RAW Output Tensor:1\n") {
				t.Errorf("output missing tensor header:\n%s", out)
			}

			inputs := env.server.Inputs()
			if len(inputs) != 1 || len(inputs[0]) != 4*4*3 {
				t.Fatalf("agent saw inputs %v, want one of 48 values", inputs)
			}

			created := 0
			for _, e := range env.recorder.Events() {
				if strings.HasPrefix(e, "create ") {
					created++
				}
			}
			if tt.shm && created != 1 {
				t.Errorf("created %d segments, want 1", created)
			}
			if !tt.shm && created != 0 {
				t.Errorf("created %d segments for inline predict", created)
			}

			captures := env.server.Captures()
			if tt.captureID == "" {
				if len(captures) != 0 {
					t.Errorf("unexpected captures %v", captures)
				}
				return
			}
			if len(captures) != 1 || !strings.HasPrefix(captures[0].CaptureID, tt.captureID) {
				t.Fatalf("captures = %v, want one with prefix %q", captures, tt.captureID)
			}
			if !strings.Contains(out, "Captured "+captures[0].CaptureID) {
				t.Errorf("output missing capture id:\n%s", out)
			}
		})
	}
}

func TestPredictShapeMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.server.AddModel("resnet", "/models/resnet")
	imagePath := writeTestBMP(t, 4)

	err := env.app.dispatch(context.Background(), []string{"PredictSHM", "resnet", imagePath, "data", "8", "8", "3"})
	if err == nil {
		t.Fatalf("PredictSHM with a mismatched shape succeeded")
	}
	if events := env.recorder.Events(); len(events) != 0 {
		t.Errorf("shared memory touched on a rejected input: %v", events)
	}
}

func TestPredictUnknownModel(t *testing.T) {
	env := newTestEnv(t)
	imagePath := writeTestBMP(t, 2)

	err := env.app.dispatch(context.Background(), []string{"PredictSHM", "nope", imagePath, "data", "2", "2", "3"})
	if !errors.Is(err, agentclient.ErrModelNotFound) {
		t.Fatalf("error = %v, want ErrModelNotFound", err)
	}
	if live := env.fake.Live(); live != 0 {
		t.Errorf("%d segments left after unknown model", live)
	}
}

func TestPredictArgErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var usage *usageError
	if err := env.app.dispatch(ctx, []string{"Predict", "resnet"}); !errors.As(err, &usage) {
		t.Errorf("short Predict error = %v, want usage error", err)
	}
	for _, dims := range [][]string{{"x", "2", "3"}, {"2", "0", "3"}, {"2", "2", "-3"}} {
		args := append([]string{"Predict", "resnet", "in.bmp", "data"}, dims...)
		if err := env.app.dispatch(ctx, args); err == nil {
			t.Errorf("dispatch(%v) succeeded, want error", args)
		}
	}
	if err := env.app.dispatch(ctx, []string{"Frobnicate"}); err == nil {
		t.Errorf("unknown command succeeded")
	}
}

func TestParsePredictArgsShape(t *testing.T) {
	req, err := parsePredictArgs([]string{"m", "img.bmp", "data", "224", "112", "3"})
	if err != nil {
		t.Fatalf("parsePredictArgs: %v", err)
	}
	want := []int64{1, 3, 224, 112}
	for i := range want {
		if req.shape[i] != want[i] {
			t.Fatalf("shape = %v, want %v", req.shape, want)
		}
	}
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t)
	modelPath := writeModelFile(t)
	imagePath := writeTestBMP(t, 224)

	if err := env.app.dispatch(context.Background(), []string{"Check", "resnet18-v1", modelPath, imagePath}); err != nil {
		t.Fatalf("Check: %v", err)
	}

	captures := env.server.Captures()
	if len(captures) != 2 {
		t.Fatalf("got %d captures, want 2", len(captures))
	}
	if !strings.HasPrefix(captures[0].CaptureID, "capture") || strings.HasPrefix(captures[0].CaptureID, "captureshm") {
		t.Errorf("first capture id %q, want inline capture", captures[0].CaptureID)
	}
	if !strings.HasPrefix(captures[1].CaptureID, "captureshm") {
		t.Errorf("second capture id %q, want shm capture", captures[1].CaptureID)
	}
	if found, err := env.app.client.FindModel(context.Background(), "resnet18-v1"); err != nil || found {
		t.Errorf("model still loaded after Check: %v, %v", found, err)
	}
}

func TestCheckUnsupportedModel(t *testing.T) {
	env := newTestEnv(t)
	if err := env.app.dispatch(context.Background(), []string{"Check", "yolo", "m", "i.bmp"}); err == nil {
		t.Fatalf("Check of an unsupported model succeeded")
	}
}

func TestCheckStopsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.server.AddModel("resnet18-v1", "/already/loaded")

	err := env.app.dispatch(context.Background(), []string{"Check", "resnet18-v1", writeModelFile(t), writeTestBMP(t, 2)})
	if !errors.Is(err, agentclient.ErrAliasInUse) {
		t.Fatalf("Check error = %v, want ErrAliasInUse", err)
	}
	if len(env.server.Inputs()) != 0 {
		t.Errorf("predict ran after a failed load")
	}
}

func TestRunFlagsOverrideEnv(t *testing.T) {
	_, _, _, socketPath := startAgent(t)

	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvSocket, filepath.Join(t.TempDir(), "wrong.sock"))
	t.Setenv(config.EnvCacheDir, t.TempDir())
	t.Setenv(config.EnvBlobserver, "")

	var out bytes.Buffer
	err := run(context.Background(), []string{"--socket", socketPath, "--timeout", "5s", "ListModels"}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "0 model(s) loaded") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--shm-ownership", "borrow", "ListModels"}, &out); err == nil {
		t.Errorf("run with an invalid ownership succeeded")
	}
	if err := run(context.Background(), nil, &out); err == nil {
		t.Errorf("run without a command succeeded")
	}
}
