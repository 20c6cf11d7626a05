package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/testutils"
)

const (
	lampAddr    = "AA:BB:CC:00:00:01"
	speakerAddr = "AA:BB:CC:00:00:02"

	lampConfig = `
heartbeat_period: 50ms
contracts:
  - name: lamp
    match: Lamp
    service: ffe0
    read: ffe1
    write: ffe2
    ota: {service: fff0, read: fff1, write: fff2}
    heartbeat: "AA 01"
`
)

// syncBuffer is a bytes.Buffer safe to read while the command writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// SessionCommandSuite runs scan and connect against the go-ble adapter on
// mocked radio hardware.
type SessionCommandSuite struct {
	testutils.MockBLEPeripheralSuite

	originalAdapter func(*logrus.Logger) (bleAdapter, error)
	configPath      string
}

func (s *SessionCommandSuite) SetupTest() {
	s.MockBLEPeripheralSuite.SetupTest()

	s.originalAdapter = newAdapter
	newAdapter = func(*logrus.Logger) (bleAdapter, error) { return s.Adapter, nil }
	color.NoColor = true

	s.configPath = filepath.Join(s.T().TempDir(), "blelink.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(lampConfig), 0o600))

	s.WithAdvertisements(
		testutils.NewAdvertisementBuilder().
			WithAddress(lampAddr).
			WithName("Lamp-1").
			WithServices("ffe0").
			WithManufacturerData([]byte{0x01, 0x02}).
			WithRSSI(-48).
			Build(),
		testutils.NewAdvertisementBuilder().
			WithAddress(speakerAddr).
			WithName("Speaker").
			WithRSSI(-70).
			Build(),
	)
}

func (s *SessionCommandSuite) TearDownTest() {
	newAdapter = s.originalAdapter
	s.MockBLEPeripheralSuite.TearDownTest()
}

func (s *SessionCommandSuite) withLamp() {
	s.WithPeripheral(lampAddr).
		WithService("ffe0").
		WithCharacteristic("ffe1", "notify").
		WithCharacteristic("ffe2", "write,write-without-response").
		WithService("fff0").
		WithCharacteristic("fff1", "notify").
		WithCharacteristic("fff2", "write")
}

// execute runs the CLI synchronously.
func (s *SessionCommandSuite) execute(args ...string) (string, error) {
	out := &syncBuffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append(args, "--config", s.configPath))
	err := root.Execute()
	return out.String(), err
}

// start runs the CLI in the background until ctx is cancelled.
func (s *SessionCommandSuite) start(ctx context.Context, args ...string) (*syncBuffer, <-chan error) {
	out := &syncBuffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append(args, "--config", s.configPath))

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()
	return out, done
}

func (s *SessionCommandSuite) waitDone(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		s.Require().FailNow("command did not return")
		return nil
	}
}

func (s *SessionCommandSuite) waitSubscribed(char string) *testutils.MockGATTClient {
	var client *testutils.MockGATTClient
	s.Require().Eventually(func() bool {
		client = s.Client(lampAddr)
		return client != nil && client.Subscribed(char)
	}, 2*time.Second, 5*time.Millisecond, "notifications MUST be enabled on %s", char)
	return client
}

func frameBytes(h string) []byte {
	b, err := hex.DecodeString(h)
	if err != nil {
		panic(err)
	}
	return b
}

func (s *SessionCommandSuite) TestScanJSON() {
	out, err := s.execute("scan", "-d", "300ms", "-f", "json")
	s.Require().NoError(err)

	s.JSONEq(`[
		{"name": "Lamp-1", "id": "AA:BB:CC:00:00:01", "rssi": -48, "contract": "lamp",
		 "services": ["ffe0"], "manufacturer_data": "0102", "company_id": "0x0201"},
		{"name": "Speaker", "id": "AA:BB:CC:00:00:02", "rssi": -70}
	]`, out, "scan output MUST list both peripherals sorted by name")
}

func (s *SessionCommandSuite) TestScanTable() {
	out, err := s.execute("scan", "-d", "300ms", "--name", "Lamp")
	s.Require().NoError(err)

	s.Contains(out, "NAME")
	s.Contains(out, "Lamp-1")
	s.Contains(out, "lamp")
	s.Contains(out, "-48 dBm")
	s.NotContains(out, "Speaker", "the name filter MUST hide other peripherals")
}

func (s *SessionCommandSuite) TestScanNothingFound() {
	out, err := s.execute("scan", "-d", "200ms", "--services", "180d")
	s.Require().NoError(err)
	s.Contains(out, "No devices discovered")
}

func (s *SessionCommandSuite) TestScanRejectsInvalidInput() {
	_, err := s.execute("scan", "-f", "xml")
	s.ErrorContains(err, "invalid format")

	_, err = s.execute("scan", "--services", "nope")
	s.ErrorContains(err, "invalid service UUID")
}

func (s *SessionCommandSuite) TestConnectRunsSession() {
	s.withLamp()

	out, err := s.execute("connect", "Lamp", "--duration", "400ms", "--send", "33 02 64")
	s.Require().NoError(err)

	s.Contains(out, "discovered   Lamp-1 (AA:BB:CC:00:00:01) rssi -48")
	s.Contains(out, "connected    Lamp-1 (AA:BB:CC:00:00:01)")
	s.Contains(out, "ready        Lamp-1 (AA:BB:CC:00:00:01) contract lamp")
	s.Contains(out, "sent         ffe2 "+writeFrame)
	s.Contains(out, "disconnected Lamp-1 (AA:BB:CC:00:00:01)")
	s.NotContains(out, "Speaker", "events of other peripherals MUST NOT be printed")

	client := s.Client(lampAddr)
	s.Require().NotNil(client)
	client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, frameBytes(writeFrame), true)
	client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, []byte{0xAA, 0x01}, true)
}

func (s *SessionCommandSuite) TestConnectPrintsNotifications() {
	s.withLamp()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, done := s.start(ctx, "connect", lampAddr, "--contract", "lamp")
	client := s.waitSubscribed("ffe1")

	client.Notify("ffe1", frameBytes(writeFrame))
	client.Notify("ffe1", frameBytes("a30001020268656c6c6f000000000000000000c0"))
	client.Notify("ffe1", frameBytes("a3ff00000000000000000000000000000000005c"))
	client.Notify("ffe1", []byte{0x01, 0x02})

	s.Eventually(func() bool {
		return bytes.Contains([]byte(out.String()), []byte("value        ffe1 0102"))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	s.Require().NoError(s.waitDone(done))

	text := out.String()
	s.Contains(text, "response     ffe1 write code 0x02 args 64")
	s.Contains(text, "transfer     ffe1 68656c6c6f", "segmented transfers MUST be reassembled")
}

func (s *SessionCommandSuite) TestConnectLinkLost() {
	s.withLamp()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, done := s.start(ctx, "connect", "Lamp")
	s.waitSubscribed("ffe1")
	client := s.waitSubscribed("fff1")
	client.Notify("ffe1", frameBytes("a30001020268656c6c6f000000000000000000c0"))
	client.Drop()

	err := s.waitDone(done)
	s.Require().ErrorIs(err, ErrConnectionLost)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Contains(out.String(), "transfer     incomplete transfer dropped", "a partial transfer MUST be dropped with the link")
	s.Contains(out.String(), "disconnected Lamp-1 (AA:BB:CC:00:00:01): ")
}

func (s *SessionCommandSuite) TestConnectContractMismatch() {
	s.WithPeripheral(lampAddr).
		WithService("ffe0").
		WithCharacteristic("ffe1", "notify").
		WithCharacteristic("ffe2", "write")

	_, err := s.execute("connect", "Lamp", "--duration", "2s")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrContractMismatch, "a missing contract service MUST fail the session")
}

func (s *SessionCommandSuite) TestConnectDeviceNotFound() {
	_, err := s.execute("connect", "Toaster", "--scan-timeout", "200ms")
	s.ErrorIs(err, ErrDeviceNotFound)
}

func (s *SessionCommandSuite) TestConnectWithoutContract() {
	s.WithPeripheral(speakerAddr).WithService("ffe0")

	_, err := s.execute("connect", "Speaker", "--duration", "200ms")
	s.ErrorIs(err, device.ErrNoContract)
}

func (s *SessionCommandSuite) TestConnectRejectsBadFlags() {
	_, err := s.execute("connect", "Lamp", "--contract", "toaster")
	s.ErrorContains(err, `unknown contract "toaster"`)

	_, err = s.execute("connect", "Lamp", "--send", "zz")
	s.ErrorContains(err, "invalid --send payload")
}

func TestSessionCommandSuite(t *testing.T) {
	suite.Run(t, new(SessionCommandSuite))
}
