package tensor

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/edgeagent/api/v1alpha1"
	"k8s.io/examples/AI/edgeagent/pkg/shm"
)

// Transport selects how tensor bytes reach the agent. The caller chooses;
// there is no size threshold.
type Transport int

const (
	Inline Transport = iota
	SharedMemory
)

func (t Transport) String() string {
	switch t {
	case Inline:
		return "inline"
	case SharedMemory:
		return "shm"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "inline", "":
		return Inline, nil
	case "shm", "shared-memory", "sharedmemory":
		return SharedMemory, nil
	default:
		return 0, fmt.Errorf("unknown transport %q (want inline or shm)", s)
	}
}

// Ownership decides who removes a shared memory segment once its handle has
// been sent.
type Ownership int

const (
	// TransferToAgent leaves the segment to the agent after publishing.
	TransferToAgent Ownership = iota
	// ReleaseAfterReply removes the segment once the reply is in. SysV
	// defers destruction until the agent detaches.
	ReleaseAfterReply
)

func (o Ownership) String() string {
	switch o {
	case TransferToAgent:
		return "transfer"
	case ReleaseAfterReply:
		return "release"
	default:
		return fmt.Sprintf("Ownership(%d)", int(o))
	}
}

func ParseOwnership(s string) (Ownership, error) {
	switch strings.ToLower(s) {
	case "transfer", "":
		return TransferToAgent, nil
	case "release":
		return ReleaseAfterReply, nil
	default:
		return 0, fmt.Errorf("unknown segment ownership %q (want transfer or release)", s)
	}
}

// Input describes one tensor to send. Fill writes the payload into dst,
// which is exactly ByteLength(Shape, DataType) long; for shared memory dst
// is the segment mapping itself.
type Input struct {
	Name     string
	Shape    []int64
	DataType api.DataType
	Fill     func(dst []byte) error
}

// BytesInput returns an Input whose payload is data.
func BytesInput(name string, shape []int64, dataType api.DataType, data []byte) Input {
	return Input{
		Name:     name,
		Shape:    shape,
		DataType: dataType,
		Fill: func(dst []byte) error {
			if len(dst) != len(data) {
				return fmt.Errorf("tensor %q: have %d bytes, need %d", name, len(data), len(dst))
			}
			copy(dst, data)
			return nil
		},
	}
}

// Float32Input returns an Input encoding values as little-endian float32.
func Float32Input(name string, shape []int64, values []float32) Input {
	return Input{
		Name:     name,
		Shape:    shape,
		DataType: api.DataTypeFloat32,
		Fill: func(dst []byte) error {
			if len(dst) != 4*len(values) {
				return fmt.Errorf("tensor %q: have %d values, need %d", name, len(values), len(dst)/4)
			}
			PutFloat32(dst, values)
			return nil
		},
	}
}

// Selector builds request tensors over the requested transport.
type Selector struct {
	Segments  *shm.Manager
	Ownership Ownership
}

// Prepared is a request tensor ready to send. Handoff is called once the
// agent has accepted the request, and Close on every exit path.
type Prepared struct {
	Tensor    *api.Tensor
	Transport Transport

	ownership Ownership
	segment   *shm.Segment
	sealed    *shm.SealedSegment
}

// Prepare materialises in over transport. For shared memory the segment is
// allocated, filled, and sealed before Prepare returns; nothing is
// allocated if any step fails.
func (s *Selector) Prepare(ctx context.Context, in Input, transport Transport) (*Prepared, error) {
	log := klog.FromContext(ctx)

	n, err := ByteLength(in.Shape, in.DataType)
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", in.Name, err)
	}

	switch transport {
	case Inline:
		buf := make([]byte, n)
		if err := in.Fill(buf); err != nil {
			return nil, err
		}
		t, err := BuildInline(in.Name, in.Shape, in.DataType, buf)
		if err != nil {
			return nil, err
		}
		return &Prepared{Tensor: t, Transport: Inline}, nil

	case SharedMemory:
		if s.Segments == nil {
			return nil, fmt.Errorf("shared memory transport requested without a segment manager")
		}
		segment, err := s.Segments.Allocate(ctx, int(n))
		if err != nil {
			return nil, err
		}
		p, err := s.fillAndSeal(segment, in)
		if err != nil {
			if releaseErr := segment.Release(); releaseErr != nil {
				log.Error(releaseErr, "releasing shared memory segment after failure", "id", segment.ID())
			}
			return nil, err
		}
		log.V(2).Info("prepared shared memory tensor", "name", in.Name, "segment", segment.ID(), "bytes", n)
		return p, nil

	default:
		return nil, fmt.Errorf("unknown transport %v", transport)
	}
}

func (s *Selector) fillAndSeal(segment *shm.Segment, in Input) (*Prepared, error) {
	mem, err := segment.MapForWrite()
	if err != nil {
		return nil, err
	}
	if err := in.Fill(mem); err != nil {
		return nil, err
	}
	sealed, err := segment.Seal()
	if err != nil {
		return nil, err
	}
	t, err := BuildSharedMemory(in.Name, in.Shape, in.DataType, sealed, 0)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Tensor:    t,
		Transport: SharedMemory,
		ownership: s.Ownership,
		segment:   segment,
		sealed:    sealed,
	}, nil
}

// Handoff marks the tensor as accepted by the agent. Under TransferToAgent
// this transfers the segment; until then Close removes it.
func (p *Prepared) Handoff() error {
	if p.sealed == nil || p.ownership != TransferToAgent {
		return nil
	}
	return p.sealed.Transfer()
}

// Close releases the segment unless it was transferred.
func (p *Prepared) Close() error {
	if p.segment == nil {
		return nil
	}
	return p.segment.Release()
}
