package testutils

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blelink/internal/device"
)

// MockAdapter implements device.Adapter with testify expectations.
//
// Commands are recorded through mock.Mock; tests drive the session by
// emitting events back into the attached sink with Emit.
//
//	adapter := testutils.NewMockAdapter().AcceptAll()
//	mgr := manager.New(adapter, cfg, logger)
//	adapter.Emit(device.Connected{Identity: id})
//	adapter.AssertCalled(t, "DiscoverServices", id, []string{"ffe0"})
type MockAdapter struct {
	mock.Mock

	mu    sync.Mutex
	sink  device.EventSink
	calls []mock.Call
}

// NewMockAdapter creates an adapter with no expectations.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// AcceptAll makes every command succeed. Existing expectations keep priority.
func (m *MockAdapter) AcceptAll() *MockAdapter {
	m.On("Scan", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("StopScan").Return(nil).Maybe()
	m.On("Connect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CancelConnection", mock.Anything).Return(nil).Maybe()
	m.On("DiscoverServices", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("DiscoverCharacteristics", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SetNotify", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Write", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ReadSignalStrength", mock.Anything).Return(nil).Maybe()
	return m
}

// Attach stores the sink used by Emit.
func (m *MockAdapter) Attach(sink device.EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Emit posts ev to the attached sink, as a radio callback would.
func (m *MockAdapter) Emit(ev device.Event) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.Post(ev)
	}
}

func (m *MockAdapter) Scan(services []string, opts device.ScanOptions) error {
	m.record("Scan", services, opts)
	return m.Called(services, opts).Error(0)
}

func (m *MockAdapter) StopScan() error {
	m.record("StopScan")
	return m.Called().Error(0)
}

func (m *MockAdapter) Connect(id device.Identity, opts device.ConnectOptions) error {
	m.record("Connect", id, opts)
	return m.Called(id, opts).Error(0)
}

func (m *MockAdapter) CancelConnection(id device.Identity) error {
	m.record("CancelConnection", id)
	return m.Called(id).Error(0)
}

func (m *MockAdapter) DiscoverServices(id device.Identity, services []string) error {
	m.record("DiscoverServices", id, services)
	return m.Called(id, services).Error(0)
}

func (m *MockAdapter) DiscoverCharacteristics(id device.Identity, service string, chars []string) error {
	m.record("DiscoverCharacteristics", id, service, chars)
	return m.Called(id, service, chars).Error(0)
}

func (m *MockAdapter) SetNotify(id device.Identity, char string, enabled bool) error {
	m.record("SetNotify", id, char, enabled)
	return m.Called(id, char, enabled).Error(0)
}

func (m *MockAdapter) Write(id device.Identity, char string, data []byte, withResponse bool) error {
	m.record("Write", id, char, data, withResponse)
	return m.Called(id, char, data, withResponse).Error(0)
}

func (m *MockAdapter) ReadSignalStrength(id device.Identity) error {
	m.record("ReadSignalStrength", id)
	return m.Called(id).Error(0)
}

func (m *MockAdapter) record(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mock.Call{Method: method, Arguments: args})
}

// CallsTo returns the recorded calls of one method, in order.
// Unlike reading Calls directly it is safe while the adapter is in use.
func (m *MockAdapter) CallsTo(method string) []mock.Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []mock.Call
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Writes returns the payloads written, in order.
func (m *MockAdapter) Writes() []device.WriteRequest {
	var out []device.WriteRequest
	for _, c := range m.CallsTo("Write") {
		out = append(out, device.WriteRequest{
			Device:         c.Arguments.Get(0).(device.Identity),
			Characteristic: c.Arguments.String(1),
			Payload:        c.Arguments.Get(2).([]byte),
			WithResponse:   c.Arguments.Bool(3),
		})
	}
	return out
}
