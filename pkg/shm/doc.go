// Package shm manages SysV shared memory segments used to hand tensor
// payloads to the edge agent without copying them through the RPC message.
//
// A segment moves through a fixed sequence: Allocate, MapForWrite (or
// Write), Seal, then either Transfer to the agent or Release. Seal detaches
// the writable mapping and drops the segment mode to owner read-only, so the
// writer cannot mutate bytes the agent may already be reading. Only a
// SealedSegment can produce a Handle, which makes publishing an unsealed
// segment a compile error rather than a convention.
//
// Every segment that is not transferred must be released. Release detaches
// and marks the segment for removal (IPC_RMID); the kernel destroys it once
// the last process detaches, so removing a segment the agent still has
// attached is safe.
package shm
