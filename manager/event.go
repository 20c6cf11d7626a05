package manager

import (
	"github.com/srg/blelink/internal/device"
)

// EventType identifies a manager event.
type EventType int

const (
	EventStateChanged EventType = iota
	EventDiscovered
	EventDeviceUpdated
	EventConnected
	EventConnectFailed
	EventDisconnected
	EventReady
	EventValueUpdated
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventDiscovered:
		return "discovered"
	case EventDeviceUpdated:
		return "device_updated"
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventDisconnected:
		return "disconnected"
	case EventReady:
		return "ready"
	case EventValueUpdated:
		return "value_updated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is what observers and the event stream receive. Device and Devices
// are snapshots; mutating them has no effect on the manager.
type Event struct {
	Type EventType

	// Device is the peripheral the event is about, nil for StateChanged.
	Device *device.Peripheral

	// Devices holds every discovered peripheral, set on Discovered only.
	Devices []*device.Peripheral

	// Name is the advertised name, set on ConnectFailed even when the
	// peripheral record is unknown.
	Name string

	Characteristic string
	Value          []byte

	State device.AdapterState

	// Err is the failure reason on ConnectFailed, Disconnected and Error.
	// A disconnect requested by the application carries no error.
	Err error
}
