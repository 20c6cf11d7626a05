package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blelink/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *device.NotFoundError
		expected string
	}{
		{name: "no uuids", err: &device.NotFoundError{Resource: "characteristic"}, expected: "characteristic not found"},
		{name: "single uuid", err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"ffe1"}}, expected: `characteristic "ffe1" not found`},
		{name: "in service", err: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"ffe0", "ffe1"}}, expected: `characteristic "ffe1" not found in service "ffe0"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.expected)
		})
	}
}

func TestConnectionError_Is(t *testing.T) {
	err := fmt.Errorf("connect: %w", &device.ConnectionError{State: device.AlreadyConnected, Msg: "session active"})

	assert.ErrorIs(t, err, device.ErrAlreadyConnected)
	assert.NotErrorIs(t, err, device.ErrNotConnected)
	assert.True(t, device.IsConnectionState(err, device.AlreadyConnected))
	assert.False(t, device.IsConnectionState(errors.New("plain"), device.AlreadyConnected))
	assert.EqualError(t, device.ErrNoContract, "no_contract")
}

func TestSessionError(t *testing.T) {
	cause := errors.New("att: insufficient authentication")

	t.Run("adapter error wraps cause", func(t *testing.T) {
		err := device.AdapterError(device.StageServices, "aa:bb:cc:dd:ee:ff", cause)

		assert.ErrorIs(t, err, device.ErrAdapter)
		assert.ErrorIs(t, err, cause, "adapter error MUST unwrap to the original cause")
		assert.NotErrorIs(t, err, device.ErrContractMismatch)
		assert.True(t, device.IsErrorKind(err, device.KindAdapter))
		assert.Equal(t, `adapter during service_discovery on "aa:bb:cc:dd:ee:ff": att: insufficient authentication`, err.Error())
	})

	t.Run("mismatch lists missing items", func(t *testing.T) {
		err := device.MismatchError(device.StageCharacteristics, "dev", []string{"ffe1", "ffe2"})

		assert.ErrorIs(t, err, device.ErrContractMismatch)
		assert.Equal(t, `contract_mismatch during characteristic_discovery on "dev" [ffe1, ffe2]`, err.Error())
	})

	t.Run("detail overrides message", func(t *testing.T) {
		err := device.UnknownDeviceError(device.StageWrite, "dev")
		err.Detail = "lamp is not paired"

		assert.EqualError(t, err, "lamp is not paired")
		assert.ErrorIs(t, fmt.Errorf("write: %w", err), device.ErrUnknownDevice)
	})

	t.Run("nil receiver", func(t *testing.T) {
		var err *device.SessionError
		assert.Equal(t, "<nil>", err.Error())
		assert.Nil(t, err.Unwrap())
		assert.False(t, err.Is(device.ErrAdapter))
	})
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "ready", device.StateReady.String())
	assert.Equal(t, "characteristics_discovering", device.StateCharacteristicsDiscovering.String())
	assert.Equal(t, "unknown", device.SessionState(99).String())
	assert.Equal(t, "service_mismatch", device.FaultServiceMismatch.String())
	assert.Equal(t, "powered_on", device.AdapterPoweredOn.String())

	assert.True(t, device.StateNotifyConfiguring.IsDiscovering())
	assert.False(t, device.StateReady.IsDiscovering())
	assert.False(t, device.StateConnecting.IsDiscovering())
}
