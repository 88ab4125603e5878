// Package agentclient talks to the edge agent over its Unix socket: model
// management, inference, and capture.
package agentclient

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

// DefaultSocketPath is where the agent listens unless configured otherwise.
const DefaultSocketPath = "/tmp/sagemaker_edge_agent_example.sock"

// Client issues one blocking call per operation; calls never overlap and
// nothing is retried.
type Client struct {
	agent api.AgentClient
	conn  *grpc.ClientConn

	// Selector prepares predict inputs. Its segment manager is only used
	// for shared memory transport.
	Selector *tensor.Selector
	Captures *CaptureIDs
	// Timeout bounds each remote call; zero means no deadline.
	Timeout time.Duration
	// Observer, if set, sees every predict state transition.
	Observer Observer
}

// New returns a client over an existing connection.
func New(cc grpc.ClientConnInterface) *Client {
	return &Client{
		agent:    api.NewAgentClient(cc),
		Selector: &tensor.Selector{Segments: shm.NewManager()},
		Captures: NewCaptureIDs(nil),
	}
}

// Target returns the gRPC target for a Unix socket path.
func Target(socketPath string) string {
	if filepath.IsAbs(socketPath) {
		return "unix://" + socketPath
	}
	return "unix:" + socketPath
}

// Dial connects to the agent listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(Target(socketPath), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent %q: %w", socketPath, err)
	}
	c := New(conn)
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// ListModels returns the models currently loaded on the agent.
func (c *Client) ListModels(ctx context.Context) ([]*api.Model, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.agent.ListModels(callCtx, &api.ListModelsRequest{})
	if err != nil {
		return nil, newError(RemoteCallFailure, "ListModels", "", err)
	}
	return resp.GetModels(), nil
}

// FindModel reports whether name is loaded.
func (c *Client) FindModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range models {
		if m.GetName() == name {
			return true, nil
		}
	}
	return false, nil
}

// DescribeModel returns the agent's description of a loaded model.
func (c *Client) DescribeModel(ctx context.Context, name string) (*api.Model, error) {
	log := klog.FromContext(ctx)

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.agent.DescribeModel(callCtx, &api.DescribeModelRequest{Name: name})
	if err != nil {
		return nil, c.classifyMissing(ctx, "DescribeModel", name, err)
	}
	log.V(1).Info("described model", "model", name)
	return resp.GetModel(), nil
}

// LoadModel asks the agent to load the artifact at url under name. url must
// already be something the agent can read; see blobs.Resolver.
func (c *Client) LoadModel(ctx context.Context, url, name string) (*api.Model, error) {
	log := klog.FromContext(ctx)

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.agent.LoadModel(callCtx, &api.LoadModelRequest{URL: url, Name: name})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, newError(AliasInUse, "LoadModel", name, err)
		}
		if found, findErr := c.FindModel(ctx, name); findErr == nil && found {
			return nil, newError(AliasInUse, "LoadModel", name, err)
		}
		return nil, newError(RemoteCallFailure, "LoadModel", name, err)
	}
	log.V(1).Info("loaded model", "model", name, "url", url)
	return resp.Model, nil
}

// UnloadModel asks the agent to drop name.
func (c *Client) UnloadModel(ctx context.Context, name string) error {
	log := klog.FromContext(ctx)

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.agent.UnloadModel(callCtx, &api.UnloadModelRequest{Name: name}); err != nil {
		return c.classifyMissing(ctx, "UnloadModel", name, err)
	}
	log.V(1).Info("unloaded model", "model", name)
	return nil
}

// CaptureData sends a capture record to the agent.
func (c *Client) CaptureData(ctx context.Context, req *api.CaptureDataRequest) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if _, err := c.agent.CaptureData(callCtx, req); err != nil {
		return newError(RemoteCallFailure, "CaptureData", req.ModelName, err)
	}
	return nil
}

// classifyMissing turns a failed per-model call into ModelNotFound when the
// model is not loaded, and RemoteCallFailure otherwise.
func (c *Client) classifyMissing(ctx context.Context, op, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return newError(ModelNotFound, op, name, err)
	}
	if found, findErr := c.FindModel(ctx, name); findErr == nil && !found {
		return newError(ModelNotFound, op, name, err)
	}
	return newError(RemoteCallFailure, op, name, err)
}
