package agentclient

import (
	"strconv"
	"time"

	"k8s.io/examples/AI/edgeagent/pkg/tensor"
)

const (
	inlineCapturePrefix = "capture"
	shmCapturePrefix    = "captureshm"
)

// Clock is the time source for capture identifiers.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CaptureIDs generates capture identifiers: a transport prefix followed by
// the Unix time in seconds. Two captures in the same second over the same
// transport get the same identifier.
type CaptureIDs struct {
	clock Clock
}

// NewCaptureIDs uses clock, or the wall clock if clock is nil.
func NewCaptureIDs(clock Clock) *CaptureIDs {
	if clock == nil {
		clock = realClock{}
	}
	return &CaptureIDs{clock: clock}
}

// Next returns the identifier and timestamp for a capture made now.
func (c *CaptureIDs) Next(transport tensor.Transport) (string, time.Time) {
	now := c.clock.Now()
	prefix := inlineCapturePrefix
	if transport == tensor.SharedMemory {
		prefix = shmCapturePrefix
	}
	return prefix + strconv.FormatInt(now.Unix(), 10), now
}
