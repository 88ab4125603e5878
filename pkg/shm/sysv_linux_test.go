//go:build linux && (amd64 || arm64)

package shm

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// skipIfNoIPC skips when the sandbox does not expose SysV IPC.
func skipIfNoIPC(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSPC) {
		t.Skipf("SysV shared memory unavailable: %v", err)
	}
}

func TestSysVRoundTrip(t *testing.T) {
	m := NewManager()

	seg, err := m.Allocate(context.Background(), 48)
	if err != nil {
		skipIfNoIPC(t, err)
		t.Fatalf("allocate: %v", err)
	}
	defer seg.Release()

	mem, err := seg.MapForWrite()
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(mem) != 48 {
		t.Fatalf("expected 48 byte mapping, got %d", len(mem))
	}
	for i := range mem {
		mem[i] = byte(i)
	}

	sealed, err := seg.Seal()
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	info, err := SysV{}.Stat(sealed.ID())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode != DefaultSealMode {
		t.Errorf("expected mode %#o, got %#o", DefaultSealMode, info.Mode)
	}
	if info.Size != 48 {
		t.Errorf("expected size 48, got %d", info.Size)
	}

	view, err := AttachReadOnly(SysV{}, sealed.ID())
	if err != nil {
		t.Fatalf("attach read-only: %v", err)
	}
	got := view.Bytes()
	for i := 0; i < 48; i++ {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, got[i], i)
		}
	}
	if err := view.Close(); err != nil {
		t.Fatalf("close view: %v", err)
	}

	if err := seg.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := (SysV{}).Stat(sealed.ID()); err == nil {
		t.Errorf("expected segment to be gone after release")
	}
}
