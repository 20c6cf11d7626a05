package manager

import (
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
)

func (m *Manager) handle(ev device.Event) {
	switch e := ev.(type) {
	case device.StateChanged:
		m.handleStateChanged(e)
	case device.Discovered:
		m.handleDiscovered(e)
	case device.Connected:
		m.handleConnected(e)
	case device.ConnectFailed:
		m.handleConnectFailed(e)
	case device.Disconnected:
		m.withRecord(e.Identity, "disconnected", func(p *device.Peripheral) {
			out := m.machine.HandleDisconnected(p, e.Err)
			if !out.Ignored {
				m.detachHeartbeat(p)
			}
			m.apply(p, out)
		})
	case device.ServicesDiscovered:
		m.withRecord(e.Identity, "services_discovered", func(p *device.Peripheral) {
			m.apply(p, m.machine.HandleServicesDiscovered(p, e.Services, e.Err))
		})
	case device.CharacteristicsDiscovered:
		m.withRecord(e.Identity, "characteristics_discovered", func(p *device.Peripheral) {
			m.apply(p, m.machine.HandleCharacteristicsDiscovered(p, e.Service, e.Characteristics, e.Err))
		})
	case device.ValueUpdated:
		m.withConnected(e.Identity, "value_updated", func(p *device.Peripheral) {
			char := device.NormalizeUUID(e.Characteristic)
			if e.Err != nil {
				m.emitError(p, device.AdapterError(device.StageValue, p.Key(), e.Err, char))
				return
			}
			m.emit(Event{
				Type:           EventValueUpdated,
				Device:         p.Snapshot(),
				Characteristic: char,
				Value:          slices.Clone(e.Value),
			})
		})
	case device.SignalStrengthRead:
		m.withConnected(e.Identity, "signal_strength_read", func(p *device.Peripheral) {
			if e.Err != nil {
				m.emitError(p, device.AdapterError(device.StageSignal, p.Key(), e.Err))
				return
			}
			p.RSSI = e.RSSI
			m.emit(Event{Type: EventDeviceUpdated, Device: p.Snapshot()})
		})
	case device.WriteCompleted:
		m.withConnected(e.Identity, "write_completed", func(p *device.Peripheral) {
			char := device.NormalizeUUID(e.Characteristic)
			if e.Err != nil {
				m.emitError(p, device.AdapterError(device.StageWrite, p.Key(), e.Err, char))
				return
			}
			m.logger.WithFields(logrus.Fields{
				"device":    p.Identity.String(),
				"char_uuid": char,
			}).Debug("Write confirmed")
		})
	default:
		m.logger.WithField("event", ev).Warn("Unsupported adapter event")
	}
}

// withRecord runs fn for a discovered peripheral; events for unknown
// identities are dropped.
func (m *Manager) withRecord(id device.Identity, what string, fn func(p *device.Peripheral)) {
	p, ok := m.registry.Lookup(id)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"device": id.String(),
			"event":  what,
		}).Debug("Ignoring event for unknown peripheral")
		return
	}
	fn(p)
}

// withConnected is withRecord restricted to the connected set.
func (m *Manager) withConnected(id device.Identity, what string, fn func(p *device.Peripheral)) {
	m.withRecord(id, what, func(p *device.Peripheral) {
		if !m.registry.IsConnected(p) {
			m.logger.WithFields(logrus.Fields{
				"device": id.String(),
				"event":  what,
			}).Debug("Ignoring event for disconnected peripheral")
			return
		}
		fn(p)
	})
}

func (m *Manager) handleStateChanged(e device.StateChanged) {
	prev := m.adapterState
	m.adapterState = e.State
	m.logger.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   e.State.String(),
	}).Info("Adapter state changed")

	if e.State != device.AdapterPoweredOn {
		m.scanning = false
	}
	m.emit(Event{Type: EventStateChanged, State: e.State})

	if e.State == device.AdapterPoweredOn && m.scanWanted && !m.scanning && !m.scanSuspended {
		if err := m.startScan(m.filter); err != nil {
			m.logger.WithError(err).Error("Failed to restart scan")
		}
	}
}

func (m *Manager) handleDiscovered(e device.Discovered) {
	if !m.filter.Match(e.Identity, e.Advertisement) {
		return
	}

	p, created := m.registry.FindOrUpdate(e.Identity, e.Advertisement, e.RSSI)
	if p == nil {
		return
	}
	p.LastSeen = time.Now()
	m.bindContract(p)

	if !created {
		m.emit(Event{Type: EventDeviceUpdated, Device: p.Snapshot()})
		return
	}

	m.logger.WithFields(logrus.Fields{
		"device": p.Identity.String(),
		"rssi":   p.RSSI,
	}).Info("Discovered new device")
	m.emit(Event{
		Type:    EventDiscovered,
		Device:  p.Snapshot(),
		Devices: snapshots(m.registry.Discovered()),
	})
}

// handleConnected starts discovery on a known record. A link for an identity
// the registry no longer holds is cancelled so the adapter releases it.
func (m *Manager) handleConnected(e device.Connected) {
	p, ok := m.registry.Lookup(e.Identity)
	if !ok {
		log := m.logger.WithField("device", e.Identity.String())
		if err := m.adapter.CancelConnection(e.Identity); err != nil {
			log.WithError(err).Warn("Failed to cancel orphaned link")
			return
		}
		log.Info("Cancelled link for unknown peripheral")
		return
	}
	m.apply(p, m.machine.HandleConnected(p))
}

func (m *Manager) handleConnectFailed(e device.ConnectFailed) {
	p, ok := m.registry.Lookup(e.Identity)
	if !ok {
		m.emit(Event{Type: EventConnectFailed, Name: e.Identity.Name, Err: e.Err})
		return
	}
	out := m.machine.HandleConnectFailed(p, e.Err)
	if out.Ignored {
		m.logger.WithField("device", p.Identity.String()).Debug("Ignoring connect failure outside a connection attempt")
		return
	}
	m.emit(Event{Type: EventConnectFailed, Device: p.Snapshot(), Name: p.Identity.Name, Err: out.Err})
}

// bindContract gives p a contract from Register or the catalog, unless it
// already has one.
func (m *Manager) bindContract(p *device.Peripheral) {
	if p.Contract != nil {
		return
	}
	if c, ok := m.contracts[p.Key()]; ok {
		p.Contract = c
		return
	}
	if c, ok := m.opts.Catalog.Lookup(p.Identity.Name); ok {
		p.Contract = c
		m.logger.WithFields(logrus.Fields{
			"device":   p.Identity.String(),
			"contract": c.Name,
		}).Debug("Contract bound from catalog")
	}
}

// apply turns a state machine outcome into events and follow-up work.
func (m *Manager) apply(p *device.Peripheral, out session.Outcome) {
	if out.Ignored {
		return
	}

	switch {
	case out.Connected:
		m.emit(Event{Type: EventConnected, Device: p.Snapshot()})
		m.scheduleDiscoveryTimeout(p, out.Epoch)
	case out.Disconnected:
		m.emit(Event{Type: EventDisconnected, Device: p.Snapshot(), Err: out.Err})
		return
	}

	if out.Err != nil {
		m.emitError(p, out.Err)
	}
	if out.Ready {
		m.emit(Event{Type: EventReady, Device: p.Snapshot()})
		m.attachHeartbeat(p)
	}
}

func (m *Manager) attachHeartbeat(p *device.Peripheral) {
	if _, ok := p.Contract.HeartbeatPayload(); !ok {
		return
	}
	m.heartbeat.Add(p.Identity)
	if err := m.heartbeat.Resume(); err != nil {
		m.logger.WithError(err).Debug("Heartbeat not resumed")
	}
}

// detachHeartbeat stops managing p and pauses the timer once nothing is left.
func (m *Manager) detachHeartbeat(p *device.Peripheral) {
	m.heartbeat.Remove(p.Identity)
	if len(m.heartbeat.Devices()) == 0 {
		m.heartbeat.Suspend()
	}
}

func (m *Manager) scheduleDiscoveryTimeout(p *device.Peripheral, epoch uint64) {
	if m.opts.DiscoveryTimeout <= 0 {
		return
	}
	id := p.Identity
	time.AfterFunc(m.opts.DiscoveryTimeout, func() {
		m.enqueue(func() {
			m.withRecord(id, "discovery_timeout", func(p *device.Peripheral) {
				m.apply(p, m.machine.HandleDiscoveryTimeout(p, epoch))
			})
		})
	})
}

func (m *Manager) onHeartbeatTick() {
	m.enqueue(m.beat)
}

func (m *Manager) beat() {
	reqs := m.heartbeat.Beat(func(id device.Identity) (*device.Peripheral, bool) {
		p, ok := m.registry.Lookup(id)
		if !ok || !m.registry.IsConnected(p) {
			return nil, false
		}
		return p, true
	})
	if len(reqs) == 0 {
		return
	}
	if err := m.writeBatch(reqs); err != nil {
		m.logger.WithError(err).Warn("Heartbeat write failed")
	}
}
