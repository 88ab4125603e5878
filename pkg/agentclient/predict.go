package agentclient

import (
	"context"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

// State is a step of one predict call.
type State string

const (
	StateIdle            State = "Idle"
	StateModelResolved   State = "ModelResolved"
	StatePayloadPrepared State = "PayloadPrepared"
	StateRequestSent     State = "RequestSent"
	StateReplyReceived   State = "ReplyReceived"
	StateCaptureSent     State = "CaptureSent"
	StateDone            State = "Done"
)

// Observer is notified of predict state transitions.
type Observer func(model string, state State)

type PredictInput struct {
	Model     string
	Input     tensor.Input
	Transport tensor.Transport
	// Capture sends a capture record after a successful inference.
	Capture bool
}

type PredictResult struct {
	Outputs []*api.Tensor
	// CaptureID is set when a capture was attempted.
	CaptureID string
	// CaptureErr records a failed capture; the inference itself succeeded.
	CaptureErr error
}

func (c *Client) observe(model string, state State) {
	if c.Observer != nil {
		c.Observer(model, state)
	}
}

// Predict runs one inference. The model is checked before any payload is
// prepared, so a predict against an unknown model never allocates shared
// memory. A shared memory input is handed to the agent only after a
// successful reply; on any failure it is removed.
func (c *Client) Predict(ctx context.Context, in PredictInput) (*PredictResult, error) {
	log := klog.FromContext(ctx).WithValues("model", in.Model, "transport", in.Transport)

	c.observe(in.Model, StateIdle)

	found, err := c.FindModel(ctx, in.Model)
	if err != nil {
		return nil, newError(RemoteCallFailure, "Predict", in.Model, err)
	}
	if !found {
		return nil, newError(ModelNotFound, "Predict", in.Model, nil)
	}
	c.observe(in.Model, StateModelResolved)

	prepared, err := c.Selector.Prepare(ctx, in.Input, in.Transport)
	if err != nil {
		return nil, newError(transportKind(err), "Predict", in.Model, err)
	}
	defer func() {
		if err := prepared.Close(); err != nil {
			log.Error(err, "releasing predict payload")
		}
	}()
	c.observe(in.Model, StatePayloadPrepared)

	req := &api.PredictRequest{
		Name:    in.Model,
		Tensors: []*api.Tensor{prepared.Tensor},
	}
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	c.observe(in.Model, StateRequestSent)
	resp, err := c.agent.Predict(callCtx, req)
	if err != nil {
		return nil, newError(RemoteCallFailure, "Predict", in.Model, err)
	}
	c.observe(in.Model, StateReplyReceived)
	if err := prepared.Handoff(); err != nil {
		return nil, newError(LocalException, "Predict", in.Model, err)
	}
	log.V(1).Info("predict succeeded", "outputs", len(resp.GetTensors()))

	result := &PredictResult{Outputs: resp.GetTensors()}

	if in.Capture {
		captureID, now := c.Captures.Next(in.Transport)
		result.CaptureID = captureID
		capture := &api.CaptureDataRequest{
			ModelName:          in.Model,
			CaptureID:          captureID,
			InferenceTimestamp: now.Unix(),
			InputTensors:       []*api.Tensor{prepared.Tensor},
			OutputTensors:      resp.GetTensors(),
		}
		if err := c.CaptureData(ctx, capture); err != nil {
			log.Error(err, "capture failed", "captureID", captureID)
			result.CaptureErr = err
		} else {
			c.observe(in.Model, StateCaptureSent)
		}
	}

	c.observe(in.Model, StateDone)
	return result, nil
}

// OutputFloat32 decodes every output tensor as a flat float32 slice.
func OutputFloat32(result *PredictResult) ([][]float32, error) {
	outputs := make([][]float32, 0, len(result.Outputs))
	for _, t := range result.Outputs {
		values, err := tensor.Float32Values(t)
		if err != nil {
			return nil, newError(LocalException, "OutputFloat32", "", err)
		}
		outputs = append(outputs, values)
	}
	return outputs, nil
}
