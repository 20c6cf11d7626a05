package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete GATT profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a MockGATTClient exposing a GATT profile.
//
//	client := testutils.NewPeripheralDeviceBuilder().
//	    WithService("ffe0").
//	    WithCharacteristic("ffe1", "notify").
//	    WithCharacteristic("ffe2", "write").
//	    Build()
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
	rssi    int
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{rssi: -50}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
	})
	return b
}

// WithRSSI sets the value returned by ReadRSSI.
func (b *PeripheralDeviceBuilder) WithRSSI(rssi int) *PeripheralDeviceBuilder {
	b.rssi = rssi
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify // default
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		default:
			panic(fmt.Sprintf("parseCharacteristicProperties: unknown property %q", p))
		}
	}
	return property
}

// Profile returns the configured services as go-ble objects.
func (b *PeripheralDeviceBuilder) Profile() []*blelib.Service {
	var services []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
			})
		}
		services = append(services, svc)
	}
	return services
}

// Build creates a MockGATTClient serving the configured profile where every
// operation succeeds.
func (b *PeripheralDeviceBuilder) Build() *MockGATTClient {
	return b.BuildOn(NewMockGATTClient())
}

// BuildOn adds the profile expectations to client. Expectations registered
// on client beforehand take precedence, which lets a test inject failures:
//
//	client := testutils.NewMockGATTClient()
//	client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(errBoom).Once()
//	builder.BuildOn(client)
func (b *PeripheralDeviceBuilder) BuildOn(client *MockGATTClient) *MockGATTClient {
	services := b.Profile()

	client.On("DiscoverServices", mock.Anything).Return(services, nil).Maybe()
	for _, svc := range services {
		client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil).Maybe()
	}
	client.On("DiscoverDescriptors", mock.Anything, mock.Anything).Return([]*blelib.Descriptor(nil), nil).Maybe()
	client.On("Subscribe", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("Unsubscribe", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("ReadRSSI").Return(b.rssi).Maybe()
	client.On("CancelConnection").Return(nil).Run(func(mock.Arguments) { client.Drop() }).Maybe()

	return client
}
