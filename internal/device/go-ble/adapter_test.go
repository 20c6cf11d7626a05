package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/internal/testutils"
)

const (
	lampAddr  = "AA:BB:CC:00:00:01"
	otherAddr = "AA:BB:CC:00:00:02"
)

type AdapterTestSuite struct {
	testutils.MockBLEPeripheralSuite

	lamp device.Identity
}

func (s *AdapterTestSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()
	s.lamp = device.NewIdentity(lampAddr, "Lamp-1")
}

func (s *AdapterTestSuite) withLamp() *testutils.PeripheralDeviceBuilder {
	return lampProfile(s.WithPeripheral(lampAddr))
}

func lampProfile(b *testutils.PeripheralDeviceBuilder) *testutils.PeripheralDeviceBuilder {
	return b.
		WithRSSI(-61).
		WithService("ffe0").
		WithCharacteristic("ffe1", "notify").
		WithCharacteristic("ffe2", "write,write-without-response").
		WithService("fff0").
		WithCharacteristic("fff1", "indicate").
		WithCharacteristic("fff2", "write")
}

// connectLamp connects and discovers both lamp services.
func (s *AdapterTestSuite) connectLamp() *testutils.MockGATTClient {
	s.Require().NoError(s.Adapter.Connect(s.lamp, device.ConnectOptions{}))
	s.Require().Equal(device.Connected{Identity: s.lamp}, s.NextEvent())

	s.Require().NoError(s.Adapter.DiscoverServices(s.lamp, []string{"ffe0", "fff0"}))
	s.Require().Equal(device.ServicesDiscovered{Identity: s.lamp, Services: []string{"ffe0", "fff0"}}, s.NextEvent())

	s.Require().NoError(s.Adapter.DiscoverCharacteristics(s.lamp, "ffe0", nil))
	s.Require().Equal(device.CharacteristicsDiscovered{
		Identity:        s.lamp,
		Service:         "ffe0",
		Characteristics: []string{"ffe1", "ffe2"},
	}, s.NextEvent())

	s.Require().NoError(s.Adapter.DiscoverCharacteristics(s.lamp, "fff0", nil))
	s.Require().Equal(device.CharacteristicsDiscovered{
		Identity:        s.lamp,
		Service:         "fff0",
		Characteristics: []string{"fff1", "fff2"},
	}, s.NextEvent())

	client := s.Client(lampAddr)
	s.Require().NotNil(client, "dialed client MUST be recorded")
	return client
}

func (s *AdapterTestSuite) TestScanReportsAdvertisements() {
	s.WithAdvertisements(
		testutils.NewAdvertisementBuilder().
			WithAddress(lampAddr).
			WithName("Lamp-1").
			WithRSSI(-48).
			WithServices("ffe0").
			WithOverflowServices("fff0", "ffe0").
			WithManufacturerData([]byte{0x4C, 0x00, 0x01}).
			WithServiceData("180f", []byte{0x64}).
			WithTxPower(4).
			Build(),
		testutils.NewAdvertisementBuilder().
			WithAddress(otherAddr).
			WithConnectable(false).
			Build(),
	)

	s.Require().NoError(s.Adapter.Scan(nil, device.ScanOptions{}))

	s.Equal(device.Discovered{
		Identity: s.lamp,
		RSSI:     -48,
		Advertisement: map[string]any{
			device.AdvLocalName:        "Lamp-1",
			device.AdvServices:         []string{"ffe0", "fff0"},
			device.AdvManufacturerData: []byte{0x4C, 0x00, 0x01},
			device.AdvServiceData:      map[string][]byte{"180f": {0x64}},
			device.AdvTxPower:          4,
			device.AdvConnectable:      true,
		},
	}, s.NextEvent())

	s.Equal(device.Discovered{
		Identity: device.NewIdentity(otherAddr, ""),
		RSSI:     -50,
		Advertisement: map[string]any{
			device.AdvConnectable: false,
		},
	}, s.NextEvent(), "absent advertisement fields MUST be left out")

	s.Central.AssertCalled(s.T(), "Scan", false)
}

func (s *AdapterTestSuite) TestScanServiceFilter() {
	s.WithAdvertisements(
		testutils.NewAdvertisementBuilder().WithAddress(otherAddr).WithServices("180d").Build(),
		testutils.NewAdvertisementBuilder().WithAddress(lampAddr).WithName("Lamp-1").WithServices("ffe0").Build(),
	)

	s.Require().NoError(s.Adapter.Scan([]string{"FFE0"}, device.ScanOptions{AllowDuplicates: true}))

	ev, ok := s.NextEvent().(device.Discovered)
	s.Require().True(ok)
	s.Equal(s.lamp, ev.Identity)
	s.NoEvent(30 * time.Millisecond)

	s.Central.AssertCalled(s.T(), "Scan", true)
}

func (s *AdapterTestSuite) TestScanRejectsInvalidService() {
	s.Error(s.Adapter.Scan([]string{"not-a-uuid"}, device.ScanOptions{}))
	s.Central.AssertNotCalled(s.T(), "Scan", mock.Anything)
}

func (s *AdapterTestSuite) TestScanRestartAndStop() {
	s.WithAdvertisements(testutils.NewAdvertisementBuilder().WithAddress(lampAddr).Build())

	s.Require().NoError(s.Adapter.Scan(nil, device.ScanOptions{}))
	s.IsType(device.Discovered{}, s.NextEvent())

	s.Require().NoError(s.Adapter.Scan(nil, device.ScanOptions{}))
	s.IsType(device.Discovered{}, s.NextEvent(), "a new scan MUST replay advertisements")

	s.Require().NoError(s.Adapter.StopScan())
	s.Require().NoError(s.Adapter.StopScan(), "stopping twice MUST be a no-op")
	s.NoEvent(30 * time.Millisecond)
	s.Central.AssertNumberOfCalls(s.T(), "Scan", 2)
}

func (s *AdapterTestSuite) TestScanPoweredOff() {
	s.Central.ExpectedCalls = nil
	s.Central.On("Scan", false).Return(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
	s.Central.On("Stop").Return(nil).Maybe()

	s.Require().NoError(s.Adapter.Scan(nil, device.ScanOptions{}))
	s.Equal(device.StateChanged{State: device.AdapterPoweredOff}, s.NextEvent())
}

func (s *AdapterTestSuite) TestSessionOperations() {
	s.withLamp()
	client := s.connectLamp()

	s.Run("notifications", func() {
		s.Require().NoError(s.Adapter.SetNotify(s.lamp, "FFE1", true))
		s.Require().Eventually(func() bool { return client.Subscribed("ffe1") }, time.Second, time.Millisecond)
		client.AssertCalled(s.T(), "Subscribe", mock.Anything, false)

		s.True(client.Notify("ffe1", []byte{0x01, 0x02}))
		s.Equal(device.ValueUpdated{Identity: s.lamp, Characteristic: "ffe1", Value: []byte{0x01, 0x02}}, s.NextEvent())

		s.Require().NoError(s.Adapter.SetNotify(s.lamp, "ffe1", false))
		s.Require().Eventually(func() bool { return !client.Subscribed("ffe1") }, time.Second, time.Millisecond)
	})

	s.Run("indicate only characteristic", func() {
		s.Require().NoError(s.Adapter.SetNotify(s.lamp, "fff1", true))
		s.Require().Eventually(func() bool { return client.Subscribed("fff1") }, time.Second, time.Millisecond)
		client.AssertCalled(s.T(), "Subscribe", mock.Anything, true)
	})

	s.Run("write without response", func() {
		s.Require().NoError(s.Adapter.Write(s.lamp, "ffe2", []byte{0xAA, 0x01}, false))
		s.Equal(device.WriteCompleted{Identity: s.lamp, Characteristic: "ffe2"}, s.NextEvent())
		client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, []byte{0xAA, 0x01}, true)
	})

	s.Run("write with response", func() {
		s.Require().NoError(s.Adapter.Write(s.lamp, "fff2", []byte{0x02}, true))
		s.Equal(device.WriteCompleted{Identity: s.lamp, Characteristic: "fff2"}, s.NextEvent())
		client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, []byte{0x02}, false)
	})

	s.Run("write to undiscovered characteristic", func() {
		s.Require().NoError(s.Adapter.Write(s.lamp, "abcd", []byte{0x02}, true))
		ev, ok := s.NextEvent().(device.WriteCompleted)
		s.Require().True(ok)
		var nf *device.NotFoundError
		s.Require().ErrorAs(ev.Err, &nf)
		s.Equal("characteristic", nf.Resource)
	})

	s.Run("signal strength", func() {
		s.Require().NoError(s.Adapter.ReadSignalStrength(s.lamp))
		s.Equal(device.SignalStrengthRead{Identity: s.lamp, RSSI: -61}, s.NextEvent())
	})

	s.Run("duplicate connect", func() {
		s.ErrorIs(s.Adapter.Connect(s.lamp, device.ConnectOptions{}), device.ErrAlreadyConnected)
	})
}

func (s *AdapterTestSuite) TestDiscoveryFilters() {
	s.withLamp()
	s.Require().NoError(s.Adapter.Connect(s.lamp, device.ConnectOptions{}))
	s.Require().IsType(device.Connected{}, s.NextEvent())

	s.Require().NoError(s.Adapter.DiscoverCharacteristics(s.lamp, "ffe0", nil))
	ev, ok := s.NextEvent().(device.CharacteristicsDiscovered)
	s.Require().True(ok)
	s.Error(ev.Err, "characteristics of an undiscovered service MUST fail")

	s.Require().NoError(s.Adapter.DiscoverServices(s.lamp, []string{"fff0"}))
	s.Equal(device.ServicesDiscovered{Identity: s.lamp, Services: []string{"fff0"}}, s.NextEvent())

	s.Require().NoError(s.Adapter.DiscoverCharacteristics(s.lamp, "fff0", []string{"fff2"}))
	s.Equal(device.CharacteristicsDiscovered{
		Identity:        s.lamp,
		Service:         "fff0",
		Characteristics: []string{"fff2"},
	}, s.NextEvent())

	s.Error(s.Adapter.DiscoverServices(s.lamp, []string{"xyz"}), "invalid UUIDs MUST be rejected before queuing")
}

func (s *AdapterTestSuite) TestOperationErrorsAreNormalized() {
	client := testutils.NewMockGATTClient()
	client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("device not connected")).Once()
	client.On("Subscribe", mock.Anything, mock.Anything).Return(errors.New("att: write failed")).Once()
	lampProfile(s.WithPeripheralClient(lampAddr, client))
	s.connectLamp()

	s.Require().NoError(s.Adapter.Write(s.lamp, "ffe2", []byte{0x01}, true))
	wc, ok := s.NextEvent().(device.WriteCompleted)
	s.Require().True(ok)
	s.ErrorIs(wc.Err, device.ErrNotConnected)

	s.Require().NoError(s.Adapter.SetNotify(s.lamp, "ffe1", true))
	vu, ok := s.NextEvent().(device.ValueUpdated)
	s.Require().True(ok)
	s.EqualError(vu.Err, "att: write failed")
}

func (s *AdapterTestSuite) TestConnectFailed() {
	s.WithDialError(lampAddr, errors.New("bluetooth is turned off"))

	s.Require().NoError(s.Adapter.Connect(s.lamp, device.ConnectOptions{}))
	ev, ok := s.NextEvent().(device.ConnectFailed)
	s.Require().True(ok)
	s.Equal(s.lamp, ev.Identity)
	s.ErrorIs(ev.Err, device.ErrBluetoothOff)

	s.ErrorIs(s.Adapter.Write(s.lamp, "ffe2", nil, false), device.ErrNotConnected, "a failed link MUST be released")
	s.NoError(s.Adapter.Connect(s.lamp, device.ConnectOptions{}), "a failed link MUST allow a new attempt")
}

func (s *AdapterTestSuite) TestConnectTimeout() {
	s.Require().NoError(s.Adapter.Connect(s.lamp, device.ConnectOptions{Timeout: 20 * time.Millisecond}))

	ev, ok := s.NextEvent().(device.ConnectFailed)
	s.Require().True(ok)
	s.ErrorIs(ev.Err, device.ErrTimeout)
}

func (s *AdapterTestSuite) TestCancelPendingConnect() {
	s.Require().NoError(s.Adapter.Connect(s.lamp, device.ConnectOptions{}))
	s.Require().NoError(s.Adapter.CancelConnection(s.lamp))

	s.Equal(device.Disconnected{Identity: s.lamp}, s.NextEvent())
	s.NoEvent(30 * time.Millisecond)
}

func (s *AdapterTestSuite) TestCancelConnection() {
	s.withLamp()
	client := s.connectLamp()

	s.Require().NoError(s.Adapter.CancelConnection(s.lamp))
	s.Equal(device.Disconnected{Identity: s.lamp}, s.NextEvent(), "a requested disconnect MUST carry no error")
	client.AssertCalled(s.T(), "CancelConnection")

	s.ErrorIs(s.Adapter.CancelConnection(s.lamp), device.ErrNotConnected)
	s.ErrorIs(s.Adapter.ReadSignalStrength(s.lamp), device.ErrNotConnected)
}

func (s *AdapterTestSuite) TestLinkLost() {
	s.withLamp()
	client := s.connectLamp()

	client.Drop()

	ev, ok := s.NextEvent().(device.Disconnected)
	s.Require().True(ok)
	s.Equal(s.lamp, ev.Identity)
	s.ErrorIs(ev.Err, device.ErrNotConnected)
	s.NoEvent(30 * time.Millisecond)
}

func (s *AdapterTestSuite) TestCommandsWithoutLink() {
	s.ErrorIs(s.Adapter.CancelConnection(s.lamp), device.ErrNotConnected)
	s.ErrorIs(s.Adapter.DiscoverServices(s.lamp, nil), device.ErrNotConnected)
	s.ErrorIs(s.Adapter.DiscoverCharacteristics(s.lamp, "ffe0", nil), device.ErrNotConnected)
	s.ErrorIs(s.Adapter.SetNotify(s.lamp, "ffe1", true), device.ErrNotConnected)
	s.ErrorIs(s.Adapter.Write(s.lamp, "ffe2", []byte{1}, false), device.ErrNotConnected)
	s.ErrorIs(s.Adapter.ReadSignalStrength(s.lamp), device.ErrNotConnected)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bluetooth off state", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), device.ErrBluetoothOff},
		{"bluetooth off", errors.New("Bluetooth is turned off"), device.ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), device.ErrNotConnected},
		{"disconnected", errors.New("peripheral Disconnected"), device.ErrNotConnected},
		{"already connected", errors.New("device already connected"), device.ErrAlreadyConnected},
		{"not initialized", errors.New("connection is not initialized"), device.ErrNotInitialized},
		{"deadline", context.DeadlineExceeded, device.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := goble.NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.err.Error(), "the original message MUST be kept")
		})
	}

	t.Run("passthrough", func(t *testing.T) {
		orig := errors.New("att: invalid handle")
		assert.Same(t, orig, goble.NormalizeError(orig), "unknown errors MUST pass through unchanged")
		assert.NoError(t, goble.NormalizeError(nil))
	})
}
