// Package session drives a peripheral from connection to a validated,
// notification-ready GATT session.
//
// The Machine is a pure state transition function over device.Peripheral
// records: it issues adapter commands and reports what happened through an
// Outcome, but never emits events or blocks. The caller serializes all
// calls (see package manager).
package session

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/registry"
)

// Outcome describes the effect of one Machine call.
type Outcome struct {
	// Transitions lists every state the record passed through, in order.
	Transitions []device.SessionState

	Connected    bool // the link was adopted; connected event due
	Disconnected bool // the link is gone; disconnected event due
	Requested    bool // the disconnection was initiated by the application
	Ready        bool // the session reached StateReady

	// Err is the failure to surface, if any.
	Err error

	// Ignored is set when the input was stale or a duplicate.
	Ignored bool

	// Epoch is the record epoch after the call.
	Epoch uint64
}

// Changed reports whether the record changed state.
func (o Outcome) Changed() bool {
	return len(o.Transitions) > 0
}

// Machine implements the session state transitions.
type Machine struct {
	adapter     device.Adapter
	registry    *registry.Registry
	logger      *logrus.Logger
	connectOpts device.ConnectOptions
}

// NewMachine creates a Machine issuing commands to adapter.
func NewMachine(adapter device.Adapter, reg *registry.Registry, opts device.ConnectOptions, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Machine{
		adapter:     adapter,
		registry:    reg,
		logger:      logger,
		connectOpts: opts,
	}
}

func (m *Machine) log(p *device.Peripheral) *logrus.Entry {
	return m.logger.WithFields(logrus.Fields{
		"device": p.Identity.String(),
		"state":  p.State.String(),
	})
}

func (m *Machine) transition(p *device.Peripheral, out *Outcome, to device.SessionState) {
	if p.State == to {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"device": p.Identity.String(),
		"from":   p.State.String(),
		"to":     to.String(),
	}).Debug("Session state changed")
	p.State = to
	out.Transitions = append(out.Transitions, to)
}

func (m *Machine) fail(p *device.Peripheral, out *Outcome, fault device.Fault, err error) Outcome {
	p.Fault = fault
	p.LastError = err
	m.transition(p, out, device.StateErrored)
	out.Err = err
	out.Epoch = p.Epoch
	m.log(p).WithFields(logrus.Fields{
		"fault": fault.String(),
		"error": err,
	}).Error("Session failed")
	return *out
}

func ignored(p *device.Peripheral) Outcome {
	return Outcome{Ignored: true, Epoch: p.Epoch}
}

// Connect starts a connection attempt. The record needs a valid contract.
// Connecting again while an attempt is pending is a no-op.
func (m *Machine) Connect(p *device.Peripheral) (Outcome, error) {
	if err := p.Contract.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %v", device.ErrNoContract, p.Identity, err)
	}

	switch p.State {
	case device.StateConnecting:
		return ignored(p), nil
	case device.StateServicesDiscovering, device.StateCharacteristicsDiscovering,
		device.StateNotifyConfiguring, device.StateReady:
		return Outcome{}, device.ErrAlreadyConnected
	case device.StateErrored:
		if m.registry.IsConnected(p) {
			return Outcome{}, &device.ConnectionError{
				State: device.AlreadyConnected,
				Msg:   "session errored; disconnect before reconnecting",
			}
		}
	}

	if err := m.adapter.Connect(p.Identity, m.connectOpts); err != nil {
		return Outcome{}, device.AdapterError(device.StageConnect, p.Key(), err)
	}

	out := Outcome{}
	p.TakeDisconnectRequest()
	p.Fault = device.FaultNone
	p.LastError = nil
	m.transition(p, &out, device.StateConnecting)
	out.Epoch = p.Epoch
	m.log(p).Info("Connecting")
	return out, nil
}

// HandleConnected adopts a link reported by the adapter and starts service discovery.
func (m *Machine) HandleConnected(p *device.Peripheral) Outcome {
	if m.registry.IsConnected(p) {
		m.log(p).Debug("Ignoring duplicate connect callback")
		return ignored(p)
	}
	if p.DisconnectRequested() {
		m.log(p).Debug("Ignoring connect callback for a cancelled attempt")
		return ignored(p)
	}
	if err := m.registry.MarkConnected(p); err != nil {
		return Outcome{Ignored: true, Err: err, Epoch: p.Epoch}
	}

	out := Outcome{Connected: true}
	p.Epoch++
	p.ResetDiscovery()
	p.Fault = device.FaultNone
	p.LastError = nil
	m.transition(p, &out, device.StateServicesDiscovering)
	m.log(p).Info("Connected, discovering services")

	if p.Contract == nil {
		return m.fail(p, &out, device.FaultAdapterService, device.ErrNoContract)
	}
	services := p.Contract.RequiredServices()
	if err := m.adapter.DiscoverServices(p.Identity, services); err != nil {
		return m.fail(p, &out, device.FaultAdapterService,
			device.AdapterError(device.StageServices, p.Key(), err, services...))
	}
	out.Epoch = p.Epoch
	return out
}

// HandleConnectFailed ends a pending connection attempt.
func (m *Machine) HandleConnectFailed(p *device.Peripheral, err error) Outcome {
	if p.State != device.StateConnecting {
		return ignored(p)
	}

	out := Outcome{}
	p.TakeDisconnectRequest()
	if err != nil {
		p.LastError = device.AdapterError(device.StageConnect, p.Key(), err)
		out.Err = p.LastError
	}
	m.transition(p, &out, device.StateDisconnected)
	out.Epoch = p.Epoch
	m.log(p).WithField("error", err).Warn("Connection attempt failed")
	return out
}

// HandleServicesDiscovered checks the reported services against the contract
// and requests characteristics for every declared service that is present.
func (m *Machine) HandleServicesDiscovered(p *device.Peripheral, ids []string, err error) Outcome {
	if p.State != device.StateServicesDiscovering || !m.registry.IsConnected(p) {
		return ignored(p)
	}

	out := Outcome{}
	if err != nil {
		return m.fail(p, &out, device.FaultAdapterService,
			device.AdapterError(device.StageServices, p.Key(), err))
	}

	p.SetServices(ids)
	found := p.Services()
	if missing := difference(p.Contract.RequiredServices(), found); len(missing) > 0 {
		return m.fail(p, &out, device.FaultServiceMismatch,
			device.MismatchError(device.StageServices, p.Key(), missing))
	}

	m.transition(p, &out, device.StateCharacteristicsDiscovering)
	m.log(p).WithField("services", found).Debug("Services discovered")

	var requested []string
	for _, svc := range found {
		chars, declared := p.Contract.CharacteristicsFor(svc)
		if !declared || slices.Contains(requested, svc) {
			continue
		}
		requested = append(requested, svc)
		if err := m.adapter.DiscoverCharacteristics(p.Identity, svc, chars); err != nil {
			return m.fail(p, &out, device.FaultAdapterCharacteristic,
				device.AdapterError(device.StageCharacteristics, p.Key(), err, svc))
		}
	}
	out.Epoch = p.Epoch
	return out
}

// HandleCharacteristicsDiscovered records the characteristics of one service,
// checks them against the contract and enables notifications.
func (m *Machine) HandleCharacteristicsDiscovered(p *device.Peripheral, svc string, ids []string, err error) Outcome {
	if p.State != device.StateCharacteristicsDiscovering || !m.registry.IsConnected(p) {
		return ignored(p)
	}

	out := Outcome{}
	if err != nil {
		return m.fail(p, &out, device.FaultAdapterCharacteristic,
			device.AdapterError(device.StageCharacteristics, p.Key(), err, device.NormalizeUUID(svc)))
	}

	p.AddCharacteristics(svc, ids)
	declared, ok := p.Contract.CharacteristicsFor(svc)
	if !ok {
		m.log(p).WithField("service_uuid", svc).Debug("Ignoring characteristics of undeclared service")
		return Outcome{Ignored: true, Epoch: p.Epoch}
	}

	if missing := difference(declared, p.CharacteristicsOf(svc)); len(missing) > 0 {
		return m.fail(p, &out, device.FaultCharacteristicMismatch,
			device.MismatchError(device.StageCharacteristics, p.Key(), missing))
	}

	m.transition(p, &out, device.StateNotifyConfiguring)
	for _, char := range p.Contract.NotifyCharacteristics() {
		if !slices.Contains(p.CharacteristicsOf(svc), char) {
			continue
		}
		if err := m.adapter.SetNotify(p.Identity, char, true); err != nil {
			return m.fail(p, &out, device.FaultAdapterCharacteristic,
				device.AdapterError(device.StageNotify, p.Key(), err, char))
		}
		m.log(p).WithField("char_uuid", char).Debug("Notifications requested")
	}

	if m.Ready(p) {
		m.transition(p, &out, device.StateReady)
		out.Ready = true
		m.log(p).Info("Session ready")
	} else {
		m.transition(p, &out, device.StateCharacteristicsDiscovering)
	}
	out.Epoch = p.Epoch
	return out
}

// HandleDisconnected tears a session down. It is accepted in every state
// except a pending attempt with no link: a disconnect reported there belongs
// to a previous link, since failed dials arrive as ConnectFailed.
func (m *Machine) HandleDisconnected(p *device.Peripheral, err error) Outcome {
	wasConnected := m.registry.MarkDisconnected(p)
	requested := p.TakeDisconnectRequest()
	prev := p.State

	if !wasConnected && !requested {
		switch prev {
		case device.StateDisconnected:
			return ignored(p)
		case device.StateConnecting:
			m.log(p).WithField("error", err).Debug("Ignoring stale disconnect while connecting")
			return ignored(p)
		}
	}

	out := Outcome{Disconnected: true, Requested: requested}
	p.Epoch++
	p.ResetDiscovery()
	m.transition(p, &out, device.StateDisconnected)

	if err != nil && !requested {
		p.LastError = device.AdapterError(device.StageDisconnect, p.Key(), err)
		out.Err = p.LastError
	}
	out.Epoch = p.Epoch

	m.log(p).WithFields(logrus.Fields{
		"requested": requested,
		"error":     err,
	}).Info("Disconnected")
	return out
}

// Disconnect cancels the link or pending attempt. The record moves to
// StateDisconnected at once; the adapter confirmation is reported later by
// HandleDisconnected with Requested set.
func (m *Machine) Disconnect(p *device.Peripheral) (Outcome, error) {
	connected := m.registry.IsConnected(p)
	if !connected && p.State != device.StateConnecting {
		return Outcome{}, device.ErrNotConnected
	}

	p.RequestDisconnect()
	if err := m.adapter.CancelConnection(p.Identity); err != nil {
		p.TakeDisconnectRequest()
		return Outcome{}, device.AdapterError(device.StageDisconnect, p.Key(), err)
	}

	out := Outcome{}
	m.registry.MarkDisconnected(p)
	p.Epoch++
	p.ResetDiscovery()
	m.transition(p, &out, device.StateDisconnected)
	out.Epoch = p.Epoch
	m.log(p).Info("Disconnect requested")
	return out, nil
}

// HandleDiscoveryTimeout fails a session still discovering in the given epoch.
func (m *Machine) HandleDiscoveryTimeout(p *device.Peripheral, epoch uint64) Outcome {
	if p.Epoch != epoch || !p.State.IsDiscovering() {
		return ignored(p)
	}
	out := Outcome{}
	return m.fail(p, &out, device.FaultDiscoveryTimeout, &device.SessionError{
		Kind:   device.KindAdapter,
		Stage:  stageOf(p.State),
		Device: p.Key(),
		Err:    device.ErrTimeout,
	})
}

// Ready reports whether every declared characteristic of every declared
// service has been discovered.
func (m *Machine) Ready(p *device.Peripheral) bool {
	if p.Contract == nil {
		return false
	}
	for svc, chars := range p.Contract.ServiceCharacteristics() {
		if len(difference(chars, p.CharacteristicsOf(svc))) > 0 {
			return false
		}
	}
	return true
}

func stageOf(s device.SessionState) device.Stage {
	switch s {
	case device.StateServicesDiscovering:
		return device.StageServices
	case device.StateNotifyConfiguring:
		return device.StageNotify
	default:
		return device.StageCharacteristics
	}
}

// difference returns the items of want missing from have, in want order.
func difference(want, have []string) []string {
	var missing []string
	for _, w := range want {
		if !slices.Contains(have, w) {
			missing = append(missing, w)
		}
	}
	return missing
}
