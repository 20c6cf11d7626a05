package device

import (
	"maps"
	"slices"
	"time"
)

// Peripheral is the single mutable record kept for a discovered device.
// It is owned by the session manager's loop and must not be shared across
// goroutines; observers receive copies made with Snapshot.
type Peripheral struct {
	Identity      Identity
	Advertisement map[string]any
	RSSI          int
	LastSeen      time.Time

	State     SessionState
	Fault     Fault
	LastError error
	Contract  *ServiceContract

	// Epoch increments on every connect and disconnect. Deferred work
	// captures it to detect that the session it belonged to is gone.
	Epoch uint64

	services        []string
	characteristics map[string][]string // service -> discovered characteristics

	disconnectRequested bool
}

// NewPeripheral creates a record in StateDiscovered.
func NewPeripheral(id Identity, adv map[string]any, rssi int) *Peripheral {
	return &Peripheral{
		Identity:      id,
		Advertisement: cloneAdvertisement(adv),
		RSSI:          rssi,
		LastSeen:      time.Now(),
		State:         StateDiscovered,
	}
}

// Key returns the identity key.
func (p *Peripheral) Key() string {
	return p.Identity.Key()
}

// Name returns the display name.
func (p *Peripheral) Name() string {
	return p.Identity.DisplayName()
}

// Update refreshes advertisement data in place. An empty name keeps the previous one.
func (p *Peripheral) Update(name string, adv map[string]any, rssi int) {
	if name != "" {
		p.Identity.Name = name
	}
	if adv != nil {
		if p.Advertisement == nil {
			p.Advertisement = make(map[string]any, len(adv))
		}
		maps.Copy(p.Advertisement, adv)
	}
	p.RSSI = rssi
	p.LastSeen = time.Now()
}

// SetServices records the services reported by the last discovery.
func (p *Peripheral) SetServices(ids []string) {
	p.services = NormalizeUUIDs(ids)
}

// Services returns the services reported by the last discovery.
func (p *Peripheral) Services() []string {
	return slices.Clone(p.services)
}

// AddCharacteristics accumulates characteristics discovered on svc.
func (p *Peripheral) AddCharacteristics(svc string, ids []string) {
	if p.characteristics == nil {
		p.characteristics = make(map[string][]string)
	}
	svc = NormalizeUUID(svc)
	list := p.characteristics[svc]
	for _, id := range NormalizeUUIDs(ids) {
		if !slices.Contains(list, id) {
			list = append(list, id)
		}
	}
	p.characteristics[svc] = list
}

// HasCharacteristic reports whether char was discovered on any service.
func (p *Peripheral) HasCharacteristic(char string) bool {
	char = NormalizeUUID(char)
	for _, list := range p.characteristics {
		if slices.Contains(list, char) {
			return true
		}
	}
	return false
}

// ServiceOf returns the service char was discovered on.
func (p *Peripheral) ServiceOf(char string) (string, bool) {
	char = NormalizeUUID(char)
	for svc, list := range p.characteristics {
		if slices.Contains(list, char) {
			return svc, true
		}
	}
	return "", false
}

// Characteristics returns the discovered characteristic IDs across all services, sorted.
func (p *Peripheral) Characteristics() []string {
	var out []string
	for _, list := range p.characteristics {
		for _, id := range list {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	slices.Sort(out)
	return out
}

// CharacteristicsOf returns the characteristics discovered on svc.
func (p *Peripheral) CharacteristicsOf(svc string) []string {
	return slices.Clone(p.characteristics[NormalizeUUID(svc)])
}

// ResetDiscovery clears discovered services and characteristics.
func (p *Peripheral) ResetDiscovery() {
	p.services = nil
	p.characteristics = nil
}

// RequestDisconnect marks the next disconnection as initiated by the application.
func (p *Peripheral) RequestDisconnect() {
	p.disconnectRequested = true
}

// TakeDisconnectRequest reports and clears the application-initiated mark.
func (p *Peripheral) TakeDisconnectRequest() bool {
	r := p.disconnectRequested
	p.disconnectRequested = false
	return r
}

// DisconnectRequested reports whether the application asked to disconnect.
func (p *Peripheral) DisconnectRequested() bool {
	return p.disconnectRequested
}

// Snapshot returns a deep copy safe to hand to observers.
func (p *Peripheral) Snapshot() *Peripheral {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Advertisement = cloneAdvertisement(p.Advertisement)
	cp.services = slices.Clone(p.services)
	if p.characteristics != nil {
		cp.characteristics = make(map[string][]string, len(p.characteristics))
		for svc, list := range p.characteristics {
			cp.characteristics[svc] = slices.Clone(list)
		}
	}
	return &cp
}

func cloneAdvertisement(adv map[string]any) map[string]any {
	if adv == nil {
		return nil
	}
	out := make(map[string]any, len(adv))
	for k, v := range adv {
		switch t := v.(type) {
		case []byte:
			out[k] = slices.Clone(t)
		case []string:
			out[k] = slices.Clone(t)
		case map[string][]byte:
			m := make(map[string][]byte, len(t))
			for mk, mv := range t {
				m[mk] = slices.Clone(mv)
			}
			out[k] = m
		default:
			out[k] = v
		}
	}
	return out
}

// Advertisement keys set by adapters.
const (
	AdvLocalName        = "local_name"
	AdvManufacturerData = "manufacturer_data"
	AdvServiceData      = "service_data"
	AdvServices         = "services"
	AdvTxPower          = "tx_power"
	AdvConnectable      = "connectable"
)
