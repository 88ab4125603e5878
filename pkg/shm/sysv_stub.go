//go:build !(linux && (amd64 || arm64))

package shm

// SysV is unavailable on this platform; every call fails with ErrUnsupported.
type SysV struct{}

var _ OS = SysV{}

func (SysV) Create(key int, size int, mode uint32) (int, error) { return -1, ErrUnsupported }

func (SysV) Attach(id int, readOnly bool) ([]byte, error) { return nil, ErrUnsupported }

func (SysV) Detach(mem []byte) error { return ErrUnsupported }

func (SysV) SetMode(id int, mode uint32) error { return ErrUnsupported }

func (SysV) Stat(id int) (SegmentInfo, error) { return SegmentInfo{}, ErrUnsupported }

func (SysV) Remove(id int) error { return ErrUnsupported }
