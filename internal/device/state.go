package device

// SessionState is the GATT session lifecycle state of a peripheral.
type SessionState int

const (
	StateDiscovered SessionState = iota
	StateConnecting
	StateServicesDiscovering
	StateCharacteristicsDiscovering
	StateNotifyConfiguring
	StateReady
	StateDisconnected
	StateErrored
)

func (s SessionState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateServicesDiscovering:
		return "services_discovering"
	case StateCharacteristicsDiscovering:
		return "characteristics_discovering"
	case StateNotifyConfiguring:
		return "notify_configuring"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// IsDiscovering reports whether the session is between connect and ready.
func (s SessionState) IsDiscovering() bool {
	switch s {
	case StateServicesDiscovering, StateCharacteristicsDiscovering, StateNotifyConfiguring:
		return true
	}
	return false
}

// Fault records why a session entered StateErrored.
type Fault int

const (
	FaultNone Fault = iota
	FaultServiceMismatch
	FaultCharacteristicMismatch
	FaultAdapterService
	FaultAdapterCharacteristic
	FaultDiscoveryTimeout
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultServiceMismatch:
		return "service_mismatch"
	case FaultCharacteristicMismatch:
		return "characteristic_mismatch"
	case FaultAdapterService:
		return "adapter_service"
	case FaultAdapterCharacteristic:
		return "adapter_characteristic"
	case FaultDiscoveryTimeout:
		return "discovery_timeout"
	default:
		return "unknown"
	}
}

// AdapterState is the power state of the local radio.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterPoweredOff
	AdapterPoweredOn
	AdapterUnauthorized
	AdapterUnsupported
)

func (s AdapterState) String() string {
	switch s {
	case AdapterPoweredOff:
		return "powered_off"
	case AdapterPoweredOn:
		return "powered_on"
	case AdapterUnauthorized:
		return "unauthorized"
	case AdapterUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}
