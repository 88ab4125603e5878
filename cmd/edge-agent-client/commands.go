package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/agentclient"
	"k8s.io/examples/AI/edgeagent/pkg/blobs"
	"k8s.io/examples/AI/edgeagent/pkg/imageinput"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

const predictArgs = "[model_name] [input_bmp_image] [input_name] [w] [h] [c]"

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: edge-agent-client [flags] <command> [args]

Commands:
  ListModels
  LoadModel [model_path] [model_name]
  UnloadModel [model_name]
  DescribeModel [model_name]
  Predict %[1]s
  PredictSHM %[1]s
  PredictAndCapture %[1]s
  PredictSHMAndCapture %[1]s
  Check [model_name] [model_path] [image_path]

model_path may be a local file, gs://bucket/object, an http(s) URL, or
blob:<hash> when a blobserver is configured.
`, predictArgs)
}

// usageError reports a command invoked with the wrong arguments.
type usageError struct {
	command string
	args    string
	hint    string
}

func (e *usageError) Error() string {
	msg := fmt.Sprintf("usage: edge-agent-client %s %s", e.command, e.args)
	if e.hint != "" {
		msg += "\n" + e.hint
	}
	return msg
}

const listHint = "To find what models are already loaded, try the ListModels command"

type app struct {
	client   *agentclient.Client
	resolver *blobs.Resolver
	out      io.Writer
}

func (a *app) dispatch(ctx context.Context, args []string) error {
	command, args := args[0], args[1:]

	switch command {
	case "ListModels":
		return a.listModels(ctx)

	case "LoadModel":
		if len(args) < 2 {
			return &usageError{command: command, args: "[model_path] [model_name]"}
		}
		return a.loadModel(ctx, args[0], args[1])

	case "UnloadModel":
		if len(args) < 1 {
			return &usageError{command: command, args: "[model_name]", hint: listHint}
		}
		return a.unloadModel(ctx, args[0])

	case "DescribeModel":
		if len(args) < 1 {
			return &usageError{command: command, args: "[model_name]", hint: listHint}
		}
		return a.describeModel(ctx, args[0])

	case "Predict", "PredictSHM", "PredictAndCapture", "PredictSHMAndCapture":
		if len(args) < 6 {
			return &usageError{command: command, args: predictArgs, hint: listHint}
		}
		req, err := parsePredictArgs(args)
		if err != nil {
			return err
		}
		if strings.HasPrefix(command, "PredictSHM") {
			req.transport = tensor.SharedMemory
		}
		req.capture = strings.HasSuffix(command, "AndCapture")
		return a.predict(ctx, req)

	case "Check":
		if len(args) < 3 {
			return &usageError{command: command, args: "[model_name] [model_path] [image_path]", hint: supportedCheckModels()}
		}
		return a.check(ctx, args[0], args[1], args[2])

	default:
		printUsage(os.Stderr)
		return fmt.Errorf("command %q not valid", command)
	}
}

func (a *app) listModels(ctx context.Context) error {
	models, err := a.client.ListModels(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d model(s) loaded\n", len(models))
	for _, m := range models {
		printModel(a.out, m)
	}
	return nil
}

func (a *app) loadModel(ctx context.Context, location, name string) error {
	path, err := a.resolver.Resolve(ctx, location)
	if err != nil {
		return fmt.Errorf("model %q: %w", name, err)
	}
	if _, err := a.client.LoadModel(ctx, path, name); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Loaded model %s from %s\n", name, path)
	return nil
}

func (a *app) unloadModel(ctx context.Context, name string) error {
	if err := a.client.UnloadModel(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Unloaded model %s\n", name)
	return nil
}

func (a *app) describeModel(ctx context.Context, name string) error {
	m, err := a.client.DescribeModel(ctx, name)
	if err != nil {
		return err
	}
	printModel(a.out, m)
	return nil
}

func printModel(w io.Writer, m *api.Model) {
	fmt.Fprintf(w, "Model: %s\n", m.Name)
	fmt.Fprintf(w, "  URL: %s\n", m.URL)
	for _, t := range m.InputTensorMetadatas {
		fmt.Fprintf(w, "  Input: %s %v %v\n", t.GetName(), t.GetDataType(), t.GetShape())
	}
	for _, t := range m.OutputTensorMetadatas {
		fmt.Fprintf(w, "  Output: %s %v %v\n", t.GetName(), t.GetDataType(), t.GetShape())
	}
}

type predictRequest struct {
	model     string
	imagePath string
	inputName string
	// shape is [1, c, w, h].
	shape     []int64
	transport tensor.Transport
	capture   bool
}

func parsePredictArgs(args []string) (*predictRequest, error) {
	dims := make([]int64, 3)
	for i, name := range []string{"w", "h", "c"} {
		s := args[3+i]
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", name, n)
		}
		dims[i] = n
	}
	w, h, c := dims[0], dims[1], dims[2]
	return &predictRequest{
		model:     args[0],
		imagePath: args[1],
		inputName: args[2],
		shape:     []int64{1, c, w, h},
	}, nil
}

func (a *app) predict(ctx context.Context, req *predictRequest) error {
	log := klog.FromContext(ctx)

	img, err := imageinput.ReadBMP(req.imagePath)
	if err != nil {
		return err
	}
	input, err := img.Input(req.inputName, req.shape)
	if err != nil {
		return err
	}
	log.V(1).Info("read image", "path", req.imagePath, "width", img.Width, "height", img.Height)

	result, err := a.client.Predict(ctx, agentclient.PredictInput{
		Model:     req.model,
		Input:     input,
		Transport: req.transport,
		Capture:   req.capture,
	})
	if err != nil {
		return err
	}

	outputs, err := agentclient.OutputFloat32(result)
	if err != nil {
		return err
	}
	for i, values := range outputs {
		fmt.Fprintf(a.out, "Flattened RAW Output Tensor:%d\n", i+1)
		for _, v := range values {
			fmt.Fprintf(a.out, "%v ", v)
		}
		fmt.Fprintln(a.out)
	}

	if req.capture {
		if result.CaptureErr != nil {
			fmt.Fprintf(os.Stderr, "capture %s failed: %v\n", result.CaptureID, result.CaptureErr)
		} else {
			fmt.Fprintf(a.out, "Captured %s\n", result.CaptureID)
		}
	}
	return nil
}

// checkModels are the models Check knows the input layout of; the value
// is the square input size.
var checkModels = map[string]int64{
	"resnet18-v1":           224,
	"ssd-512-mobilenet-voc": 512,
}

func supportedCheckModels() string {
	return "Supported models: resnet18-v1, ssd-512-mobilenet-voc"
}

// check exercises the whole surface against one model: load, predict
// inline and over shared memory with capture, then unload. The first
// failure stops it.
func (a *app) check(ctx context.Context, model, modelPath, imagePath string) error {
	size, ok := checkModels[model]
	if !ok {
		return fmt.Errorf("model %q is not supported by Check\n%s", model, supportedCheckModels())
	}
	dim := strconv.FormatInt(size, 10)
	args := []string{model, imagePath, "data", dim, dim, "3"}

	if err := a.loadModel(ctx, modelPath, model); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	for _, transport := range []tensor.Transport{tensor.Inline, tensor.SharedMemory} {
		req, err := parsePredictArgs(args)
		if err != nil {
			return err
		}
		req.transport = transport
		req.capture = true
		if err := a.predict(ctx, req); err != nil {
			return fmt.Errorf("check: predict over %v: %w", transport, err)
		}
	}
	if err := a.unloadModel(ctx, model); err != nil {
		return fmt.Errorf("check: %w", err)
	}
	return nil
}
