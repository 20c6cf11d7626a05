package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	NoContract       ConnectionState = "no_contract"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}

	// ErrNoContract is returned by Connect when no valid service contract is bound to the device.
	ErrNoContract = &ConnectionError{State: NoContract}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ErrorKind classifies session failures.
type ErrorKind string

const (
	// KindAdapter covers failures reported by the radio adapter, passed through unchanged.
	KindAdapter ErrorKind = "adapter"
	// KindContractMismatch means the peripheral does not expose what its contract requires.
	KindContractMismatch ErrorKind = "contract_mismatch"
	// KindUnknownDevice means the identity was never discovered or is not connected.
	KindUnknownDevice ErrorKind = "unknown_device"
)

// Stage names the session step an error was raised from.
type Stage string

const (
	StageScan            Stage = "scan"
	StageConnect         Stage = "connect"
	StageServices        Stage = "service_discovery"
	StageCharacteristics Stage = "characteristic_discovery"
	StageNotify          Stage = "notify"
	StageValue           Stage = "value_update"
	StageWrite           Stage = "write"
	StageSignal          Stage = "signal_strength"
	StageDisconnect      Stage = "disconnect"
)

// SessionError is the structured error surfaced for every session failure.
//
// Detail, when set, replaces the default message. Hosts use it to attach
// their own wording to a single failure without touching any shared state.
type SessionError struct {
	Kind   ErrorKind
	Stage  Stage
	Device string   // identity key, empty when not device specific
	Target []string // service or characteristic UUIDs involved
	Detail string
	Err    error
}

func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Detail != "" {
		return e.Detail
	}

	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" during ")
		b.WriteString(string(e.Stage))
	}
	if e.Device != "" {
		fmt.Fprintf(&b, " on %q", e.Device)
	}
	if len(e.Target) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Target, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying adapter error, if any.
func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for session error kinds
var (
	ErrAdapter          = &SessionError{Kind: KindAdapter}
	ErrContractMismatch = &SessionError{Kind: KindContractMismatch}
	ErrUnknownDevice    = &SessionError{Kind: KindUnknownDevice}
)

// IsErrorKind reports whether err is a SessionError of the given kind
func IsErrorKind(err error, kind ErrorKind) bool {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// AdapterError wraps a failure reported by the adapter.
func AdapterError(stage Stage, key string, err error, target ...string) *SessionError {
	return &SessionError{Kind: KindAdapter, Stage: stage, Device: key, Target: target, Err: err}
}

// MismatchError reports contract items the peripheral did not expose.
func MismatchError(stage Stage, key string, missing []string) *SessionError {
	return &SessionError{Kind: KindContractMismatch, Stage: stage, Device: key, Target: missing}
}

// UnknownDeviceError reports a command addressed to an unknown or disconnected identity.
func UnknownDeviceError(stage Stage, key string) *SessionError {
	return &SessionError{Kind: KindUnknownDevice, Stage: stage, Device: key}
}
