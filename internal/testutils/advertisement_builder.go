package testutils

import (
	"sort"

	"github.com/go-ble/ble"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
//
//	adv := testutils.NewAdvertisementBuilder().
//	    WithAddress("AA:BB:CC:00:00:01").
//	    WithName("Lamp-1").
//	    WithServices("ffe0").
//	    WithRSSI(-48).
//	    Build()
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	overflow    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     int
	connectable bool
}

// NewAdvertisementBuilder creates a connectable advertisement builder with no
// TX power level and an RSSI of -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		rssi:        -50,
		serviceData: make(map[string][]byte),
		txPower:     127, // BLE default for unavailable
		connectable: true,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithOverflowServices adds UUIDs to the overflow area.
func (b *AdvertisementBuilder) WithOverflowServices(uuids ...string) *AdvertisementBuilder {
	b.overflow = append(b.overflow, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithServiceData adds service-specific data for the given service UUID.
func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

// WithTxPower sets the transmission power level.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = power
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// Build creates a MockAdvertisement. Every accessor is stubbed, so the
// advertisement can be read any number of times.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}

	// Sorted for deterministic ServiceData order
	uuids := make([]string, 0, len(b.serviceData))
	for uuid := range b.serviceData {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	var bleServiceData []ble.ServiceData
	for _, uuid := range uuids {
		bleServiceData = append(bleServiceData, ble.ServiceData{
			UUID: ble.MustParse(uuid),
			Data: b.serviceData[uuid],
		})
	}

	addr := &MockAddr{}
	addr.On("String").Return(b.address).Maybe()

	adv.On("Addr").Return(addr).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("ServiceData").Return(bleServiceData).Maybe()
	adv.On("Services").Return(parseUUIDs(b.services)).Maybe()
	adv.On("OverflowService").Return(parseUUIDs(b.overflow)).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID(nil)).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("TxPowerLevel").Return(b.txPower).Maybe()

	return adv
}

func parseUUIDs(uuids []string) []ble.UUID {
	var out []ble.UUID
	for _, s := range uuids {
		out = append(out, ble.MustParse(s))
	}
	return out
}
