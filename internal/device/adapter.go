package device

import (
	"time"
)

// EventSink receives adapter events. Implementations must not block.
type EventSink interface {
	Post(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Post calls f(ev).
func (f EventSinkFunc) Post(ev Event) { f(ev) }

// ScanOptions tunes a scan.
type ScanOptions struct {
	AllowDuplicates bool
}

// ConnectOptions tunes a connection attempt.
type ConnectOptions struct {
	Timeout time.Duration
}

// Adapter is the radio transport. Commands return as soon as the request is
// issued; outcomes are reported to the attached EventSink. A returned error
// means the request was never issued.
type Adapter interface {
	// Attach sets the sink for all subsequent events.
	Attach(sink EventSink)

	Scan(services []string, opts ScanOptions) error
	StopScan() error

	Connect(id Identity, opts ConnectOptions) error
	CancelConnection(id Identity) error

	DiscoverServices(id Identity, services []string) error
	DiscoverCharacteristics(id Identity, service string, chars []string) error
	SetNotify(id Identity, char string, enabled bool) error

	Write(id Identity, char string, data []byte, withResponse bool) error
	ReadSignalStrength(id Identity) error
}

// WriteRequest is one characteristic write.
type WriteRequest struct {
	Device         Identity
	Characteristic string
	Payload        []byte
	WithResponse   bool
}
