// Package v1alpha1 holds the wire types spoken between the edge agent and
// its clients.
package v1alpha1

import "fmt"

// DataType is the element type of a tensor.
type DataType int32

const (
	DataTypeUnspecified DataType = iota
	DataTypeUint8
	DataTypeInt8
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeFloat16
	DataTypeFloat32
	DataTypeFloat64
)

var dataTypeNames = map[DataType]string{
	DataTypeUnspecified: "UNSPECIFIED",
	DataTypeUint8:       "UINT8",
	DataTypeInt8:        "INT8",
	DataTypeInt16:       "INT16",
	DataTypeInt32:       "INT32",
	DataTypeInt64:       "INT64",
	DataTypeFloat16:     "FLOAT16",
	DataTypeFloat32:     "FLOAT32",
	DataTypeFloat64:     "FLOAT64",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int32(d))
}

// Size returns the size in bytes of one element, or 0 if unknown.
func (d DataType) Size() int {
	switch d {
	case DataTypeUint8, DataTypeInt8:
		return 1
	case DataTypeInt16, DataTypeFloat16:
		return 2
	case DataTypeInt32, DataTypeFloat32:
		return 4
	case DataTypeInt64, DataTypeFloat64:
		return 8
	default:
		return 0
	}
}

type TensorMetadata struct {
	Name     string   `cbor:"name"`
	DataType DataType `cbor:"data_type"`
	Shape    []int64  `cbor:"shape"`
}

func (m *TensorMetadata) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

func (m *TensorMetadata) GetDataType() DataType {
	if m == nil {
		return DataTypeUnspecified
	}
	return m.DataType
}

func (m *TensorMetadata) GetShape() []int64 {
	if m == nil {
		return nil
	}
	return m.Shape
}

// SharedMemoryHandle references tensor bytes inside a SysV shared memory
// segment owned by the agent once the request carrying it has been sent.
type SharedMemoryHandle struct {
	Size      uint64 `cbor:"size"`
	Offset    uint64 `cbor:"offset"`
	SegmentID uint64 `cbor:"segment_id"`
}

// Tensor carries its payload either inline in ByteData or out-of-band via
// SharedMemoryHandle. Exactly one of the two is set.
type Tensor struct {
	Metadata           *TensorMetadata     `cbor:"tensor_metadata"`
	ByteData           []byte              `cbor:"byte_data,omitempty"`
	SharedMemoryHandle *SharedMemoryHandle `cbor:"shared_memory_handle,omitempty"`
}

func (t *Tensor) GetMetadata() *TensorMetadata {
	if t == nil {
		return nil
	}
	return t.Metadata
}

func (t *Tensor) GetByteData() []byte {
	if t == nil {
		return nil
	}
	return t.ByteData
}

func (t *Tensor) GetSharedMemoryHandle() *SharedMemoryHandle {
	if t == nil {
		return nil
	}
	return t.SharedMemoryHandle
}

type Model struct {
	URL                   string            `cbor:"url"`
	Name                  string            `cbor:"name"`
	InputTensorMetadatas  []*TensorMetadata `cbor:"input_tensor_metadatas,omitempty"`
	OutputTensorMetadatas []*TensorMetadata `cbor:"output_tensor_metadatas,omitempty"`
}

func (m *Model) GetName() string {
	if m == nil {
		return ""
	}
	return m.Name
}

type ListModelsRequest struct{}

type ListModelsResponse struct {
	Models []*Model `cbor:"models"`
}

func (r *ListModelsResponse) GetModels() []*Model {
	if r == nil {
		return nil
	}
	return r.Models
}

type DescribeModelRequest struct {
	Name string `cbor:"name"`
}

type DescribeModelResponse struct {
	Model *Model `cbor:"model"`
}

func (r *DescribeModelResponse) GetModel() *Model {
	if r == nil {
		return nil
	}
	return r.Model
}

type LoadModelRequest struct {
	URL  string `cbor:"url"`
	Name string `cbor:"name"`
}

type LoadModelResponse struct {
	Model *Model `cbor:"model"`
}

type UnloadModelRequest struct {
	Name string `cbor:"name"`
}

type UnloadModelResponse struct{}

type PredictRequest struct {
	Name    string    `cbor:"name"`
	Tensors []*Tensor `cbor:"tensors"`
}

func (r *PredictRequest) GetTensors() []*Tensor {
	if r == nil {
		return nil
	}
	return r.Tensors
}

type PredictResponse struct {
	Tensors []*Tensor `cbor:"tensors"`
}

func (r *PredictResponse) GetTensors() []*Tensor {
	if r == nil {
		return nil
	}
	return r.Tensors
}

// CaptureDataRequest pairs the inputs and outputs of one inference for
// offline monitoring.
type CaptureDataRequest struct {
	ModelName string `cbor:"model_name"`
	CaptureID string `cbor:"capture_id"`
	// InferenceTimestamp is Unix seconds.
	InferenceTimestamp int64     `cbor:"inference_timestamp"`
	InputTensors       []*Tensor `cbor:"input_tensors"`
	OutputTensors      []*Tensor `cbor:"output_tensors"`
}

type CaptureDataResponse struct{}
