package device

// Event is an adapter notification. The concrete types below are the only implementations.
type Event interface {
	event()
}

// StateChanged reports a radio power state transition.
type StateChanged struct {
	State AdapterState
}

// Discovered reports an advertisement.
type Discovered struct {
	Identity      Identity
	Advertisement map[string]any
	RSSI          int
}

// Connected reports an established link.
type Connected struct {
	Identity Identity
}

// ConnectFailed reports a connection attempt that did not complete.
type ConnectFailed struct {
	Identity Identity
	Err      error
}

// Disconnected reports a lost or cancelled link. Err is nil for a requested disconnect.
type Disconnected struct {
	Identity Identity
	Err      error
}

// ServicesDiscovered reports the services found on a peripheral.
type ServicesDiscovered struct {
	Identity Identity
	Services []string
	Err      error
}

// CharacteristicsDiscovered reports the characteristics found on one service.
type CharacteristicsDiscovered struct {
	Identity        Identity
	Service         string
	Characteristics []string
	Err             error
}

// ValueUpdated reports a notification or read result.
type ValueUpdated struct {
	Identity       Identity
	Characteristic string
	Value          []byte
	Err            error
}

// SignalStrengthRead reports an RSSI read.
type SignalStrengthRead struct {
	Identity Identity
	RSSI     int
	Err      error
}

// WriteCompleted reports the outcome of a write.
type WriteCompleted struct {
	Identity       Identity
	Characteristic string
	Err            error
}

func (StateChanged) event()              {}
func (Discovered) event()                {}
func (Connected) event()                 {}
func (ConnectFailed) event()             {}
func (Disconnected) event()              {}
func (ServicesDiscovered) event()        {}
func (CharacteristicsDiscovered) event() {}
func (ValueUpdated) event()              {}
func (SignalStrengthRead) event()        {}
func (WriteCompleted) event()            {}
