//go:build linux && (amd64 || arm64)

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// SysV implements OS with the System V shared memory calls.
type SysV struct{}

var _ OS = SysV{}

func (SysV) Create(key int, size int, mode uint32) (int, error) {
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|unix.IPC_EXCL|int(mode&0o777))
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return -1, fmt.Errorf("%w: key %#x: %w", ErrKeyExists, uint32(key), err)
		}
		return -1, fmt.Errorf("shmget key %#x size %d: %w", uint32(key), size, err)
	}
	return id, nil
}

func (SysV) Attach(id int, readOnly bool) ([]byte, error) {
	flags := 0
	if readOnly {
		flags = unix.SHM_RDONLY
	}
	mem, err := unix.SysvShmAttach(id, 0, flags)
	if err != nil {
		return nil, fmt.Errorf("shmat id %d: %w", id, err)
	}
	return mem, nil
}

func (SysV) Detach(mem []byte) error {
	if err := unix.SysvShmDetach(mem); err != nil {
		return fmt.Errorf("shmdt: %w", err)
	}
	return nil
}

func (SysV) SetMode(id int, mode uint32) error {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return fmt.Errorf("reading permissions of segment %d: %w", id, err)
	}
	desc.Perm.Mode = desc.Perm.Mode&^0o777 | mode&0o777
	if _, err := unix.SysvShmCtl(id, unix.IPC_SET, &desc); err != nil {
		return fmt.Errorf("setting mode %#o on segment %d: %w", mode, id, err)
	}
	return nil
}

func (SysV) Stat(id int) (SegmentInfo, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return SegmentInfo{}, fmt.Errorf("stat segment %d: %w", id, err)
	}
	return SegmentInfo{
		Size:     int(desc.Segsz),
		Mode:     desc.Perm.Mode & 0o777,
		Attached: int(desc.Nattch),
	}, nil
}

func (SysV) Remove(id int) error {
	if _, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("removing segment %d: %w", id, err)
	}
	return nil
}
