// Package tensor builds the tensors sent to the edge agent and decodes the
// ones it returns.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
)

// ElementCount returns the product of the dimensions of shape. A scalar
// (empty shape) has one element.
func ElementCount(shape []int64) (int64, error) {
	n := int64(1)
	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
		if d != 0 && n > math.MaxInt64/d {
			return 0, fmt.Errorf("shape %v overflows", shape)
		}
		n *= d
	}
	return n, nil
}

// ByteLength is ElementCount(shape) * dataType.Size().
func ByteLength(shape []int64, dataType api.DataType) (int64, error) {
	size := int64(dataType.Size())
	if size == 0 {
		return 0, fmt.Errorf("unsupported data type %v", dataType)
	}
	n, err := ElementCount(shape)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64/size {
		return 0, fmt.Errorf("shape %v of %v overflows", shape, dataType)
	}
	return n * size, nil
}

func metadata(name string, shape []int64, dataType api.DataType) *api.TensorMetadata {
	return &api.TensorMetadata{
		Name:     name,
		DataType: dataType,
		Shape:    append([]int64(nil), shape...),
	}
}

// BuildInline packages data into the tensor itself. The length of data
// must match the shape and data type exactly.
func BuildInline(name string, shape []int64, dataType api.DataType, data []byte) (*api.Tensor, error) {
	want, err := ByteLength(shape, dataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	if int64(len(data)) != want {
		return nil, fmt.Errorf("tensor %q: have %d bytes, shape %v of %v needs %d", name, len(data), shape, dataType, want)
	}
	return &api.Tensor{
		Metadata: metadata(name, shape, dataType),
		ByteData: data,
	}, nil
}

// BuildSharedMemory packages a reference to a sealed segment. The segment
// must hold the full tensor starting at offset.
func BuildSharedMemory(name string, shape []int64, dataType api.DataType, segment *shm.SealedSegment, offset int) (*api.Tensor, error) {
	want, err := ByteLength(shape, dataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	handle, err := segment.Handle(offset)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	if int64(handle.Size) < want {
		return nil, fmt.Errorf("tensor %q: segment %d has %d bytes after offset %d, need %d", name, handle.SegmentID, handle.Size, offset, want)
	}
	return &api.Tensor{
		Metadata: metadata(name, shape, dataType),
		SharedMemoryHandle: &api.SharedMemoryHandle{
			SegmentID: uint64(handle.SegmentID),
			Offset:    uint64(handle.Offset),
			Size:      uint64(want),
		},
	}, nil
}

// EncodeFloat32 writes values as little-endian IEEE 754 into a new slice.
func EncodeFloat32(values []float32) []byte {
	out := make([]byte, 4*len(values))
	PutFloat32(out, values)
	return out
}

// PutFloat32 writes values into dst, which must hold 4*len(values) bytes.
func PutFloat32(dst []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

// DecodeFloat32 reads little-endian float32 values from data.
func DecodeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 data has %d bytes, not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}

// Float32Values returns the inline contents of a FLOAT32 tensor, checking
// them against its shape.
func Float32Values(t *api.Tensor) ([]float32, error) {
	meta := t.GetMetadata()
	if meta.GetDataType() != api.DataTypeFloat32 {
		return nil, fmt.Errorf("tensor %q has data type %v, not FLOAT32", meta.GetName(), meta.GetDataType())
	}
	if t.GetSharedMemoryHandle() != nil {
		return nil, fmt.Errorf("tensor %q is carried in shared memory", meta.GetName())
	}
	want, err := ByteLength(meta.GetShape(), api.DataTypeFloat32)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", meta.GetName(), err)
	}
	if int64(len(t.GetByteData())) != want {
		return nil, fmt.Errorf("tensor %q: have %d bytes, shape %v needs %d", meta.GetName(), len(t.GetByteData()), meta.GetShape(), want)
	}
	return DecodeFloat32(t.GetByteData())
}
