package manager

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
)

// StartScan starts scanning with filter, replacing any previous filter.
func (m *Manager) StartScan(filter *ScanFilter) error {
	return m.call(func() error {
		return m.startScan(filter)
	})
}

// ReScan forgets every discovered peripheral that is neither connected nor
// connecting and starts scanning again.
func (m *Manager) ReScan(filter *ScanFilter) error {
	return m.call(func() error {
		removed := m.registry.ResetDiscovered(func(p *device.Peripheral) bool {
			return p.State == device.StateConnecting
		})
		m.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"connected": m.registry.ConnectedLen(),
		}).Info("Rescanning")
		return m.startScan(filter)
	})
}

// StopScan stops scanning. It is a no-op when not scanning.
func (m *Manager) StopScan() error {
	return m.call(func() error {
		m.scanWanted = false
		m.scanSuspended = false
		return m.stopScan()
	})
}

// SuspendScan pauses an active scan so ResumeScan can restart it with the same filter.
func (m *Manager) SuspendScan() error {
	return m.call(func() error {
		if !m.scanning {
			return nil
		}
		if err := m.stopScan(); err != nil {
			return err
		}
		m.scanSuspended = true
		return nil
	})
}

// ResumeScan restarts a scan paused by SuspendScan.
func (m *Manager) ResumeScan() error {
	return m.call(func() error {
		if !m.scanSuspended {
			return nil
		}
		m.scanSuspended = false
		return m.startScan(m.filter)
	})
}

func (m *Manager) startScan(filter *ScanFilter) error {
	m.filter = filter
	m.scanWanted = true

	if m.adapterState == device.AdapterPoweredOff {
		return device.ErrBluetoothOff
	}
	if err := m.stopScan(); err != nil {
		return err
	}
	if err := m.adapter.Scan(filter.services(), filter.options()); err != nil {
		return device.AdapterError(device.StageScan, "", err)
	}
	m.scanning = true
	m.logger.WithField("services", filter.services()).Info("Scanning")
	return nil
}

func (m *Manager) stopScan() error {
	if !m.scanning {
		return nil
	}
	if err := m.adapter.StopScan(); err != nil {
		return device.AdapterError(device.StageScan, "", err)
	}
	m.scanning = false
	m.logger.Debug("Scan stopped")
	return nil
}

// Register binds contract to the peripheral identified by v. When the
// peripheral has not been discovered yet the contract is applied on discovery.
func (m *Manager) Register(v any, contract *device.ServiceContract) error {
	key, ok := device.KeyOf(v)
	if !ok {
		return fmt.Errorf("%w: %v", device.ErrUnknownDevice, v)
	}
	if err := contract.Validate(); err != nil {
		return err
	}
	contract = contract.Normalize()

	return m.call(func() error {
		if p, ok := m.registry.Lookup(key); ok {
			if m.registry.IsConnected(p) || p.State == device.StateConnecting {
				return device.ErrAlreadyConnected
			}
			p.Contract = contract
		}
		m.contracts[key] = contract
		m.logger.WithFields(logrus.Fields{
			"device":   key,
			"contract": contract.Name,
		}).Debug("Contract registered")
		return nil
	})
}

// Connect starts connecting to a discovered peripheral. The result arrives
// as a Connected or ConnectFailed event, followed by Ready or Error.
func (m *Manager) Connect(v any) error {
	return m.call(func() error {
		p, ok := m.registry.Lookup(v)
		if !ok {
			key, _ := device.KeyOf(v)
			return device.UnknownDeviceError(device.StageConnect, key)
		}
		m.bindContract(p)

		out, err := m.machine.Connect(p)
		if err != nil {
			return err
		}
		m.apply(p, out)
		return nil
	})
}

// Disconnect cancels the link or pending connection to v.
func (m *Manager) Disconnect(v any) error {
	return m.call(func() error {
		p, ok := m.registry.Lookup(v)
		if !ok {
			key, _ := device.KeyOf(v)
			return device.UnknownDeviceError(device.StageDisconnect, key)
		}
		return m.disconnect(p)
	})
}

// DisconnectAll disconnects every connected or connecting peripheral.
func (m *Manager) DisconnectAll() error {
	return m.call(func() error {
		var errs []error
		for _, p := range m.registry.Discovered() {
			if !m.registry.IsConnected(p) && p.State != device.StateConnecting {
				continue
			}
			if err := m.disconnect(p); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

func (m *Manager) disconnect(p *device.Peripheral) error {
	out, err := m.machine.Disconnect(p)
	if err != nil {
		return err
	}
	m.detachHeartbeat(p)
	m.apply(p, out)
	return nil
}

// Write writes payload to a discovered characteristic of a connected peripheral.
func (m *Manager) Write(v any, char string, payload []byte) error {
	return m.call(func() error {
		key, _ := device.KeyOf(v)
		return m.write(device.WriteRequest{
			Device:         device.Identity{ID: key},
			Characteristic: char,
			Payload:        payload,
			WithResponse:   m.opts.WriteWithResponse,
		})
	})
}

// WriteBatch issues every request in order. Failing requests do not stop
// the batch; their errors are joined.
func (m *Manager) WriteBatch(reqs []device.WriteRequest) error {
	return m.call(func() error {
		return m.writeBatch(reqs)
	})
}

func (m *Manager) writeBatch(reqs []device.WriteRequest) error {
	var errs []error
	for _, req := range reqs {
		req.WithResponse = req.WithResponse || m.opts.WriteWithResponse
		if err := m.write(req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) write(req device.WriteRequest) error {
	p, ok := m.registry.Lookup(req.Device)
	if !ok || !m.registry.IsConnected(p) {
		return device.UnknownDeviceError(device.StageWrite, req.Device.Key())
	}

	char := device.NormalizeUUID(req.Characteristic)
	svc, ok := p.ServiceOf(char)
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}}
	}

	if err := m.adapter.Write(p.Identity, char, req.Payload, req.WithResponse); err != nil {
		return device.AdapterError(device.StageWrite, p.Key(), err, char)
	}
	m.logger.WithFields(logrus.Fields{
		"device":        p.Identity.String(),
		"service_uuid":  svc,
		"char_uuid":     char,
		"bytes":         len(req.Payload),
		"with_response": req.WithResponse,
	}).Debug("Write issued")
	return nil
}

// ReadSignalStrength requests an RSSI read. The value arrives as a DeviceUpdated event.
func (m *Manager) ReadSignalStrength(v any) error {
	return m.call(func() error {
		p, ok := m.registry.Lookup(v)
		if !ok || !m.registry.IsConnected(p) {
			key, _ := device.KeyOf(v)
			return device.UnknownDeviceError(device.StageSignal, key)
		}
		if err := m.adapter.ReadSignalStrength(p.Identity); err != nil {
			return device.AdapterError(device.StageSignal, p.Key(), err)
		}
		return nil
	})
}

// Devices returns snapshots of every discovered peripheral in discovery order.
func (m *Manager) Devices() []*device.Peripheral {
	var out []*device.Peripheral
	_ = m.call(func() error {
		out = snapshots(m.registry.Discovered())
		return nil
	})
	return out
}

// ConnectedDevices returns snapshots of the connected peripherals.
func (m *Manager) ConnectedDevices() []*device.Peripheral {
	var out []*device.Peripheral
	_ = m.call(func() error {
		out = snapshots(m.registry.Connected())
		return nil
	})
	return out
}

// Device returns a snapshot of the peripheral identified by v.
func (m *Manager) Device(v any) (*device.Peripheral, bool) {
	var out *device.Peripheral
	_ = m.call(func() error {
		if p, ok := m.registry.Lookup(v); ok {
			out = p.Snapshot()
		}
		return nil
	})
	return out, out != nil
}

func snapshots(ps []*device.Peripheral) []*device.Peripheral {
	out := make([]*device.Peripheral, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Snapshot())
	}
	return out
}
