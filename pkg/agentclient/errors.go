package agentclient

import (
	"errors"
	"fmt"

	"k8s.io/examples/AI/edgeagent/pkg/shm"
)

// Kind classifies why an operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	// ModelNotFound: the model is not loaded on the agent.
	ModelNotFound
	// AliasInUse: LoadModel was refused because the name is taken.
	AliasInUse
	AllocationError
	MappingError
	PermissionChangeError
	// RemoteCallFailure: the agent returned a non-OK status.
	RemoteCallFailure
	// InvalidArgument: the caller's input was rejected locally.
	InvalidArgument
	// LocalException: any other local failure.
	LocalException
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	ModelNotFound:         "ModelNotFound",
	AliasInUse:            "AliasInUse",
	AllocationError:       "AllocationError",
	MappingError:          "MappingError",
	PermissionChangeError: "PermissionChangeError",
	RemoteCallFailure:     "RemoteCallFailure",
	InvalidArgument:       "InvalidArgument",
	LocalException:        "LocalException",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// TransportFailure reports whether k is a failure preparing the payload.
func (k Kind) TransportFailure() bool {
	return k == AllocationError || k == MappingError || k == PermissionChangeError
}

// Error is the error returned by every Client operation.
type Error struct {
	Kind  Kind
	Op    string
	Model string
	Err   error
}

// Sentinels for errors.Is matching on Kind alone.
var (
	ErrModelNotFound    = &Error{Kind: ModelNotFound}
	ErrAliasInUse       = &Error{Kind: AliasInUse}
	ErrAllocation       = &Error{Kind: AllocationError}
	ErrMapping          = &Error{Kind: MappingError}
	ErrPermissionChange = &Error{Kind: PermissionChangeError}
	ErrRemoteCall       = &Error{Kind: RemoteCallFailure}
	ErrInvalidArgument  = &Error{Kind: InvalidArgument}
	ErrLocal            = &Error{Kind: LocalException}
)

func (e *Error) Error() string {
	msg := e.Op
	if e.Model != "" {
		msg += " " + e.Model
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels that carry only a Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Model != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, model string, err error) *Error {
	return &Error{Kind: kind, Op: op, Model: model, Err: err}
}

// transportKind maps segment manager failures onto the taxonomy.
func transportKind(err error) Kind {
	switch {
	case errors.Is(err, shm.ErrAllocation):
		return AllocationError
	case errors.Is(err, shm.ErrMapping):
		return MappingError
	case errors.Is(err, shm.ErrPermissionChange):
		return PermissionChangeError
	default:
		return LocalException
	}
}
