package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"
)

var (
	// ErrAllocation is returned when a segment cannot be created.
	ErrAllocation = errors.New("shared memory allocation failed")
	// ErrMapping is returned when a segment cannot be attached.
	ErrMapping = errors.New("shared memory mapping failed")
	// ErrPermissionChange is returned when a segment cannot be sealed.
	ErrPermissionChange = errors.New("shared memory permission change failed")
	// ErrKeyExists is returned by OS.Create when the key is already in use.
	ErrKeyExists = errors.New("shared memory key already in use")
	// ErrReleased is returned when operating on a released segment.
	ErrReleased = errors.New("shared memory segment released")
	// ErrTransferred is returned when operating on a segment owned by the agent.
	ErrTransferred = errors.New("shared memory segment transferred")
	// ErrUnsupported is returned on platforms without SysV shared memory.
	ErrUnsupported = errors.New("shared memory not supported on this platform")
)

const (
	// DefaultCreateMode matches what the agent expects to be able to attach.
	DefaultCreateMode = 0o666
	// DefaultSealMode is owner read-only (S_IREAD).
	DefaultSealMode = 0o400
	// DefaultMaxKeyAttempts bounds retries on key collisions.
	DefaultMaxKeyAttempts = 8
)

// OS is the set of operating system calls the manager needs. SysV is the
// production implementation.
type OS interface {
	// Create makes a new segment for key, failing with ErrKeyExists if the
	// key is taken.
	Create(key int, size int, mode uint32) (int, error)
	// Attach maps the segment. The returned slice spans the whole segment.
	Attach(id int, readOnly bool) ([]byte, error)
	Detach(mem []byte) error
	// SetMode replaces the permission bits of the segment.
	SetMode(id int, mode uint32) error
	Stat(id int) (SegmentInfo, error)
	// Remove marks the segment for destruction after the last detach.
	Remove(id int) error
}

type SegmentInfo struct {
	Size     int
	Mode     uint32
	Attached int
}

// Handle identifies a location inside a segment as sent to the agent.
type Handle struct {
	SegmentID int
	Offset    int
	Size      int
}

// Stats counts segment lifecycle events.
type Stats struct {
	Allocated   int64
	Sealed      int64
	Released    int64
	Transferred int64
}

// Manager allocates segments.
type Manager struct {
	OS   OS
	Keys KeySource
	// Project is mixed into every derived IPC key.
	Project        byte
	CreateMode     uint32
	SealMode       uint32
	MaxKeyAttempts int

	allocated   atomic.Int64
	sealed      atomic.Int64
	released    atomic.Int64
	transferred atomic.Int64
}

// NewManager returns a Manager backed by the host's SysV IPC.
func NewManager() *Manager {
	return &Manager{
		OS:             SysV{},
		Keys:           RandomKeys(DefaultKeyLength),
		Project:        DefaultProject,
		CreateMode:     DefaultCreateMode,
		SealMode:       DefaultSealMode,
		MaxKeyAttempts: DefaultMaxKeyAttempts,
	}
}

func (m *Manager) Stats() Stats {
	return Stats{
		Allocated:   m.allocated.Load(),
		Sealed:      m.sealed.Load(),
		Released:    m.released.Load(),
		Transferred: m.transferred.Load(),
	}
}

// Allocate creates a new segment of exactly size bytes. Sizes below one
// byte are rejected with ErrAllocation before any OS call.
func (m *Manager) Allocate(ctx context.Context, size int) (*Segment, error) {
	log := klog.FromContext(ctx)

	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid segment size %d", ErrAllocation, size)
	}

	attempts := m.MaxKeyAttempts
	if attempts <= 0 {
		attempts = 1
	}
	mode := m.CreateMode
	if mode == 0 {
		mode = DefaultCreateMode
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		keyString, err := m.Keys.NextKey()
		if err != nil {
			return nil, fmt.Errorf("%w: generating key: %w", ErrAllocation, err)
		}
		key := DeriveKey(keyString, m.Project)

		id, err := m.OS.Create(key, size, mode)
		if err == nil {
			m.allocated.Add(1)
			log.V(2).Info("allocated shared memory segment", "id", id, "key", keyString, "size", size)
			return &Segment{
				manager: m,
				id:      id,
				key:     keyString,
				size:    size,
				log:     log,
			}, nil
		}
		if !errors.Is(err, ErrKeyExists) {
			return nil, fmt.Errorf("%w: creating segment of %d bytes: %w", ErrAllocation, size, err)
		}
		log.V(2).Info("shared memory key collision, retrying", "key", keyString, "attempt", attempt)
		lastErr = err
	}
	return nil, fmt.Errorf("%w: no free key after %d attempts: %w", ErrAllocation, attempts, lastErr)
}

type segmentState int

const (
	stateWritable segmentState = iota
	stateSealed
	stateTransferred
	stateReleased
)

// Segment is an owned shared memory segment. The owner must call Release
// unless the segment has been transferred.
type Segment struct {
	manager *Manager
	id      int
	key     string
	size    int
	log     klog.Logger

	mu    sync.Mutex
	state segmentState
	mem   []byte
}

func (s *Segment) ID() int { return s.id }

func (s *Segment) Key() string { return s.key }

func (s *Segment) Size() int { return s.size }

// MapForWrite attaches the segment for writing. The returned slice holds
// exactly Size bytes. Repeated calls return the same mapping.
func (s *Segment) MapForWrite() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReleased:
		return nil, ErrReleased
	case stateTransferred:
		return nil, ErrTransferred
	case stateSealed:
		return nil, fmt.Errorf("%w: segment %d is sealed", ErrMapping, s.id)
	}

	if s.mem != nil {
		return s.mem, nil
	}
	mem, err := s.manager.OS.Attach(s.id, false)
	if err != nil {
		return nil, fmt.Errorf("%w: attaching segment %d: %w", ErrMapping, s.id, err)
	}
	if len(mem) < s.size {
		err := fmt.Errorf("%w: segment %d mapped %d bytes, want %d", ErrMapping, s.id, len(mem), s.size)
		if detachErr := s.manager.OS.Detach(mem); detachErr != nil {
			err = errors.Join(err, fmt.Errorf("detaching segment %d: %w", s.id, detachErr))
		}
		return nil, err
	}
	s.mem = mem[:s.size:s.size]
	return s.mem, nil
}

// Write copies p to the start of the segment.
func (s *Segment) Write(p []byte) error {
	if len(p) > s.size {
		return fmt.Errorf("writing %d bytes into segment %d of %d bytes", len(p), s.id, s.size)
	}
	mem, err := s.MapForWrite()
	if err != nil {
		return err
	}
	copy(mem, p)
	return nil
}

// Seal detaches the writable mapping and makes the segment read-only. On
// failure the segment is still owned by the caller and must be released;
// its handle must not be published.
func (s *Segment) Seal() (*SealedSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateReleased:
		return nil, ErrReleased
	case stateTransferred:
		return nil, ErrTransferred
	case stateSealed:
		return &SealedSegment{segment: s}, nil
	}

	if s.mem != nil {
		if err := s.manager.OS.Detach(s.mem); err != nil {
			return nil, fmt.Errorf("%w: detaching segment %d: %w", ErrPermissionChange, s.id, err)
		}
		s.mem = nil
	}

	mode := s.manager.SealMode
	if mode == 0 {
		mode = DefaultSealMode
	}
	if err := s.manager.OS.SetMode(s.id, mode); err != nil {
		return nil, fmt.Errorf("%w: segment %d: %w", ErrPermissionChange, s.id, err)
	}

	s.state = stateSealed
	s.manager.sealed.Add(1)
	s.log.V(2).Info("sealed shared memory segment", "id", s.id, "mode", fmt.Sprintf("%#o", mode))
	return &SealedSegment{segment: s}, nil
}

// Release detaches and removes the segment. It is a no-op once the segment
// has been transferred or already released.
func (s *Segment) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateReleased || s.state == stateTransferred {
		return nil
	}

	var errs []error
	if s.mem != nil {
		if err := s.manager.OS.Detach(s.mem); err != nil {
			errs = append(errs, fmt.Errorf("detaching segment %d: %w", s.id, err))
		}
		s.mem = nil
	}
	if err := s.manager.OS.Remove(s.id); err != nil {
		errs = append(errs, fmt.Errorf("removing segment %d: %w", s.id, err))
	}
	s.state = stateReleased
	s.manager.released.Add(1)
	s.log.V(2).Info("released shared memory segment", "id", s.id)
	return errors.Join(errs...)
}

// SealedSegment is a segment that has been made read-only and may be
// published to the agent.
type SealedSegment struct {
	segment *Segment
}

func (s *SealedSegment) ID() int { return s.segment.id }

func (s *SealedSegment) Size() int { return s.segment.size }

// Handle returns a reference to offset within the segment.
func (s *SealedSegment) Handle(offset int) (Handle, error) {
	if offset < 0 || offset > s.segment.size {
		return Handle{}, fmt.Errorf("offset %d outside segment %d of %d bytes", offset, s.segment.id, s.segment.size)
	}
	return Handle{SegmentID: s.segment.id, Offset: offset, Size: s.segment.size - offset}, nil
}

// Transfer hands ownership of the segment to the agent. After Transfer the
// client never removes the segment and Release becomes a no-op.
func (s *SealedSegment) Transfer() error {
	seg := s.segment
	seg.mu.Lock()
	defer seg.mu.Unlock()

	switch seg.state {
	case stateTransferred:
		return nil
	case stateReleased:
		return ErrReleased
	}
	seg.state = stateTransferred
	seg.manager.transferred.Add(1)
	seg.log.V(2).Info("transferred shared memory segment to agent", "id", seg.id)
	return nil
}

// Release removes the sealed segment; see Segment.Release.
func (s *SealedSegment) Release() error {
	return s.segment.Release()
}

// View is a read-only attachment to a segment created by another process.
type View struct {
	os  OS
	mem []byte
}

// AttachReadOnly maps an existing segment for reading.
func AttachReadOnly(sys OS, id int) (*View, error) {
	mem, err := sys.Attach(id, true)
	if err != nil {
		return nil, fmt.Errorf("%w: attaching segment %d read-only: %w", ErrMapping, id, err)
	}
	return &View{os: sys, mem: mem}, nil
}

// Bytes returns the mapped segment. It must not be used after Close.
func (v *View) Bytes() []byte { return v.mem }

func (v *View) Close() error {
	if v.mem == nil {
		return nil
	}
	err := v.os.Detach(v.mem)
	v.mem = nil
	return err
}
