// Package shmtest provides an in-memory shm.OS for tests.
package shmtest

import (
	"fmt"
	"sync"
	"unsafe"

	"k8s.io/examples/AI/edgeagent/pkg/shm"
)

// Recorder collects an ordered list of events from cooperating fakes.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) Record(format string, args ...any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type segment struct {
	key      int
	data     []byte
	mode     uint32
	attached int
	removed  bool
}

// OS is a fake shm.OS. Failure hooks let tests inject errors per call.
type OS struct {
	Recorder *Recorder

	FailCreate  error
	FailAttach  error
	FailSetMode error
	FailDetach  error
	// ShortMappings makes writable attaches return one byte less than the
	// segment size.
	ShortMappings bool
	// CollideKeys lists derived keys Create reports as already in use.
	CollideKeys map[int]bool

	mu       sync.Mutex
	nextID   int
	segments map[int]*segment
	mappings map[uintptr]int
}

var _ shm.OS = (*OS)(nil)

func New(recorder *Recorder) *OS {
	return &OS{
		Recorder: recorder,
		nextID:   1,
		segments: make(map[int]*segment),
		mappings: make(map[uintptr]int),
	}
}

func (f *OS) Create(key int, size int, mode uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCreate != nil {
		return -1, f.FailCreate
	}
	if f.CollideKeys[key] {
		return -1, fmt.Errorf("%w: key %#x", shm.ErrKeyExists, uint32(key))
	}
	for _, s := range f.segments {
		if s.key == key && !s.removed {
			return -1, fmt.Errorf("%w: key %#x", shm.ErrKeyExists, uint32(key))
		}
	}
	id := f.nextID
	f.nextID++
	f.segments[id] = &segment{key: key, data: make([]byte, size), mode: mode}
	f.Recorder.Record("create %d size=%d", id, size)
	return id, nil
}

func (f *OS) Attach(id int, readOnly bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailAttach != nil {
		return nil, f.FailAttach
	}
	s, ok := f.segments[id]
	if !ok || s.removed {
		return nil, fmt.Errorf("segment %d does not exist", id)
	}
	if !readOnly && s.mode&0o200 == 0 {
		return nil, fmt.Errorf("segment %d is not writable (mode %#o)", id, s.mode)
	}
	s.attached++

	var mem []byte
	if readOnly {
		// Readers get a snapshot so writes through them cannot reach the segment.
		mem = append([]byte(nil), s.data...)
		f.Recorder.Record("attach %d ro", id)
	} else {
		mem = s.data
		if f.ShortMappings && len(mem) > 1 {
			mem = mem[:len(mem)-1]
		}
		f.Recorder.Record("attach %d rw", id)
	}
	if len(mem) > 0 {
		f.mappings[uintptr(unsafe.Pointer(&mem[0]))] = id
	}
	return mem, nil
}

func (f *OS) Detach(mem []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailDetach != nil {
		return f.FailDetach
	}
	if len(mem) == 0 {
		return fmt.Errorf("detaching empty mapping")
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	id, ok := f.mappings[addr]
	if !ok {
		return fmt.Errorf("detaching unknown mapping")
	}
	delete(f.mappings, addr)
	if s, ok := f.segments[id]; ok {
		s.attached--
		if s.removed && s.attached == 0 {
			delete(f.segments, id)
		}
	}
	f.Recorder.Record("detach %d", id)
	return nil
}

func (f *OS) SetMode(id int, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailSetMode != nil {
		return f.FailSetMode
	}
	s, ok := f.segments[id]
	if !ok {
		return fmt.Errorf("segment %d does not exist", id)
	}
	s.mode = mode
	f.Recorder.Record("setmode %d %#o", id, mode)
	return nil
}

func (f *OS) Stat(id int) (shm.SegmentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.segments[id]
	if !ok {
		return shm.SegmentInfo{}, fmt.Errorf("segment %d does not exist", id)
	}
	return shm.SegmentInfo{Size: len(s.data), Mode: s.mode, Attached: s.attached}, nil
}

func (f *OS) Remove(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.segments[id]
	if !ok {
		return fmt.Errorf("segment %d does not exist", id)
	}
	s.removed = true
	if s.attached == 0 {
		delete(f.segments, id)
	}
	f.Recorder.Record("remove %d", id)
	return nil
}

// Live reports how many segments have not been destroyed.
func (f *OS) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.segments)
}

// Contents returns a copy of a segment's bytes.
func (f *OS) Contents(id int) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.segments[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), s.data...), true
}
