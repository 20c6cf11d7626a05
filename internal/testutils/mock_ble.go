package testutils

import (
	"context"
	"slices"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blelink/internal/device"
)

// MockAddr implements ble.Addr.
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// MockAdvertisement implements ble.Advertisement. Use AdvertisementBuilder to create one.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	v, _ := m.Called().Get(0).([]byte)
	return v
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	v, _ := m.Called().Get(0).([]ble.ServiceData)
	return v
}

func (m *MockAdvertisement) Services() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) TxPowerLevel() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	v, _ := m.Called().Get(0).(ble.Addr)
	return v
}

// MockCentral is a scanning device. Scan replays the configured
// advertisements and then blocks until its context is cancelled.
//
//	central := testutils.NewMockCentral(adv1, adv2)
//	central.On("Scan", false).Return(nil)
type MockCentral struct {
	mock.Mock

	mu             sync.Mutex
	advertisements []ble.Advertisement
}

// NewMockCentral creates a central that replays ads on every scan.
func NewMockCentral(ads ...ble.Advertisement) *MockCentral {
	return &MockCentral{advertisements: ads}
}

// AddAdvertisements appends ads to the replay list of later scans.
func (m *MockCentral) AddAdvertisements(ads ...ble.Advertisement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advertisements = append(m.advertisements, ads...)
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	if err := m.Called(allowDup).Error(0); err != nil {
		return err
	}

	m.mu.Lock()
	ads := slices.Clone(m.advertisements)
	m.mu.Unlock()

	for _, adv := range ads {
		h(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockCentral) Stop() error {
	return m.Called().Error(0)
}

// MockGATTClient is a connected peripheral. Discovery honours the UUID
// filter, Subscribe keeps the handler so tests can Notify, and Drop closes
// the Disconnected channel as a lost link would.
type MockGATTClient struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[string]ble.NotificationHandler
	disconnected chan struct{}
	dropOnce     sync.Once
}

// NewMockGATTClient creates a client with no expectations.
func NewMockGATTClient() *MockGATTClient {
	return &MockGATTClient{
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (m *MockGATTClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	services, _ := args.Get(0).([]*ble.Service)
	if len(filter) > 0 {
		services = slices.DeleteFunc(slices.Clone(services), func(s *ble.Service) bool {
			return !containsUUID(filter, s.UUID)
		})
	}
	return services, args.Error(1)
}

func (m *MockGATTClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	if len(filter) > 0 {
		chars = slices.DeleteFunc(slices.Clone(chars), func(c *ble.Characteristic) bool {
			return !containsUUID(filter, c.UUID)
		})
	}
	return chars, args.Error(1)
}

func (m *MockGATTClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	if err := m.Called(c, ind).Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[device.FromBLE(c.UUID)] = h
	m.mu.Unlock()
	return nil
}

func (m *MockGATTClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	if err := m.Called(c, ind).Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.handlers, device.FromBLE(c.UUID))
	m.mu.Unlock()
	return nil
}

func (m *MockGATTClient) ReadRSSI() int {
	return m.Called().Int(0)
}

func (m *MockGATTClient) CancelConnection() error {
	return m.Called().Error(0)
}

// Disconnected is closed by Drop.
func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Drop simulates a lost link.
func (m *MockGATTClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

// Notify delivers data to the handler subscribed on char. It reports false
// when nothing is subscribed.
func (m *MockGATTClient) Notify(char string, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[device.NormalizeUUID(char)]
	m.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

// Subscribed reports whether a notification handler is registered for char.
func (m *MockGATTClient) Subscribed(char string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[device.NormalizeUUID(char)]
	return ok
}

func containsUUID(list []ble.UUID, u ble.UUID) bool {
	return slices.ContainsFunc(list, func(x ble.UUID) bool { return x.Equal(u) })
}
