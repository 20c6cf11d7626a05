package testutils

import (
	"context"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
)

// MockBLEPeripheralSuite runs a real goble.Adapter against mocked radio
// hardware: a MockCentral replays advertisements and every dial is served by
// a MockGATTClient built from the peripheral registered for that address.
// Dialing an address with no registered peripheral blocks until the dial
// context ends, like an out of range device.
//
//	type AdapterSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func (s *AdapterSuite) TestConnect() {
//	    s.WithPeripheral("AA:BB:CC:00:00:01").
//	        WithService("ffe0").
//	        WithCharacteristic("ffe1", "notify")
//
//	    id := device.NewIdentity("AA:BB:CC:00:00:01", "Lamp-1")
//	    s.Require().NoError(s.Adapter.Connect(id, device.ConnectOptions{}))
//	    s.Require().IsType(device.Connected{}, s.NextEvent())
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration // How long NextEvent waits

	Central *MockCentral
	Adapter *goble.Adapter
	Events  chan device.Event

	mu          sync.Mutex
	peripherals map[string]*PeripheralDeviceBuilder
	presets     map[string]*MockGATTClient
	clients     map[string]*MockGATTClient
	dialErrors  map[string]error
}

// SetupSuite initializes the helper and logger once for the suite.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
}

// SetupTest creates a fresh central and adapter before each test.
func (s *MockBLEPeripheralSuite) SetupTest() {
	s.mu.Lock()
	s.peripherals = make(map[string]*PeripheralDeviceBuilder)
	s.presets = make(map[string]*MockGATTClient)
	s.clients = make(map[string]*MockGATTClient)
	s.dialErrors = make(map[string]error)
	s.mu.Unlock()

	s.Central = NewMockCentral()
	s.Central.On("Scan", mock.Anything).Return(nil).Maybe()
	s.Central.On("Stop").Return(nil).Maybe()

	s.Events = make(chan device.Event, 256)
	s.Adapter = goble.NewWithCentral(s.Central, s.dial, s.Logger)
	s.Adapter.Attach(device.EventSinkFunc(func(ev device.Event) {
		s.Events <- ev
	}))

	// Attach reports the powered-on radio
	s.Require().Equal(device.StateChanged{State: device.AdapterPoweredOn}, s.NextEvent())
}

// TearDownTest closes the adapter.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.Adapter != nil {
		_ = s.Adapter.Close()
	}
}

// WithPeripheral registers a connectable peripheral at addr and returns its
// builder for fluent profile configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral(addr string) *PeripheralDeviceBuilder {
	b := NewPeripheralDeviceBuilder()
	s.mu.Lock()
	s.peripherals[device.CanonicalID(addr)] = b
	s.mu.Unlock()
	return b
}

// WithPeripheralClient is WithPeripheral with a pre-made client, so
// expectations set on it beforehand override the profile defaults.
func (s *MockBLEPeripheralSuite) WithPeripheralClient(addr string, client *MockGATTClient) *PeripheralDeviceBuilder {
	b := s.WithPeripheral(addr)
	s.mu.Lock()
	s.presets[device.CanonicalID(addr)] = client
	s.mu.Unlock()
	return b
}

// WithAdvertisements adds advertisements replayed by subsequent scans.
func (s *MockBLEPeripheralSuite) WithAdvertisements(ads ...blelib.Advertisement) {
	s.Central.AddAdvertisements(ads...)
}

// WithDialError makes dialing addr fail with err.
func (s *MockBLEPeripheralSuite) WithDialError(addr string, err error) {
	s.mu.Lock()
	s.dialErrors[device.CanonicalID(addr)] = err
	s.mu.Unlock()
}

// Client returns the GATT client created for addr, or nil before it was dialed.
func (s *MockBLEPeripheralSuite) Client(addr string) *MockGATTClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[device.CanonicalID(addr)]
}

// NextEvent returns the next adapter event or fails the test after TestTimeout.
func (s *MockBLEPeripheralSuite) NextEvent() device.Event {
	select {
	case ev := <-s.Events:
		return ev
	case <-time.After(s.TestTimeout):
		s.Require().FailNow("timed out waiting for an adapter event")
		return nil
	}
}

// NoEvent asserts that nothing is posted within d.
func (s *MockBLEPeripheralSuite) NoEvent(d time.Duration) {
	select {
	case ev := <-s.Events:
		s.Failf("unexpected adapter event", "%#v", ev)
	case <-time.After(d):
	}
}

func (s *MockBLEPeripheralSuite) dial(ctx context.Context, addr blelib.Addr) (goble.GATTClient, error) {
	key := device.CanonicalID(addr.String())

	s.mu.Lock()
	err := s.dialErrors[key]
	b, ok := s.peripherals[key]
	preset := s.presets[key]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	client := preset
	if client == nil {
		client = NewMockGATTClient()
	}
	b.BuildOn(client)
	s.mu.Lock()
	s.clients[key] = client
	s.mu.Unlock()
	return client, nil
}
