package main

import (
	"errors"
	"fmt"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/packet"
	"github.com/srg/blelink/manager"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while the session was running.
	// A disconnect requested by the user is not an error.
	ErrConnectionLost = errors.New("connection lost")

	// ErrDeviceNotFound indicates the target was not seen before the scan timeout.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError turns err into a message with a hint for the common failures.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return fmt.Sprintf("%v (turn Bluetooth on and retry)", err)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v (this platform has no supported BLE stack)", err)
	case errors.Is(err, device.ErrNoContract):
		return fmt.Sprintf("%v (declare a contract in the config file or pass --contract)", err)
	case errors.Is(err, device.ErrContractMismatch):
		return fmt.Sprintf("%v (the peripheral does not expose what its contract requires)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the peripheral in range and advertising?)", err)
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v (try a longer --scan-timeout)", err)
	case errors.Is(err, packet.ErrInvalidFrame), errors.Is(err, packet.ErrMalformedSequence):
		return fmt.Sprintf("%v (frames must be %d bytes with a trailing XOR checksum)", err, packet.DefaultFrameLength)
	case errors.Is(err, manager.ErrClosed):
		return "session ended before the command completed"
	}
	return err.Error()
}
