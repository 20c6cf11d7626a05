package goble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

const linkQueueSize = 64

var errLinkBusy = errors.New("link operation queue is full")

// link is one peripheral connection. Jobs run one at a time on the link
// worker; client, services and chars are only touched from there.
type link struct {
	adapter *Adapter
	id      device.Identity
	logger  *logrus.Entry

	ctx        context.Context
	cancelDial context.CancelFunc
	requested  atomic.Bool

	mu     sync.Mutex
	closed bool
	jobs   chan func()
	done   chan struct{}

	client    GATTClient
	monitored bool
	services  map[string]*ble.Service
	chars     map[string]*ble.Characteristic
}

func newLink(a *Adapter, id device.Identity, opts device.ConnectOptions) *link {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
	}
	return &link{
		adapter:    a,
		id:         id,
		logger:     a.logger.WithField("device", id.String()),
		ctx:        ctx,
		cancelDial: cancel,
		jobs:       make(chan func(), linkQueueSize),
		done:       make(chan struct{}),
		services:   make(map[string]*ble.Service),
		chars:      make(map[string]*ble.Characteristic),
	}
}

func (l *link) start() {
	groutine.Go(context.Background(), "ble-link", func(context.Context) {
		for job := range l.jobs {
			if l.isClosed() {
				continue
			}
			job()
		}
	})
}

func (l *link) submit(job func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return device.ErrNotConnected
	}
	select {
	case l.jobs <- job:
		return nil
	default:
		return errLinkBusy
	}
}

func (l *link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// close stops the worker. It reports false when the link was already closed.
func (l *link) close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.closed = true
	l.cancelDial()
	close(l.jobs)
	close(l.done)
	return true
}

func (l *link) connect() {
	client, err := l.adapter.dial(l.ctx, ble.NewAddr(l.id.ID))
	if err != nil {
		if l.requested.Load() || errors.Is(err, context.Canceled) {
			l.logger.Debug("Connection attempt cancelled")
			l.finish(nil)
			return
		}
		err = NormalizeError(err)
		l.logger.WithError(err).Warn("Connection failed")
		if l.adapter.release(l) {
			l.adapter.post(device.ConnectFailed{Identity: l.id, Err: err})
		}
		return
	}

	if l.requested.Load() {
		_ = client.CancelConnection()
		l.finish(nil)
		return
	}

	l.client = client
	l.logger.Info("Connected")
	l.adapter.post(device.Connected{Identity: l.id})

	if d, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		l.monitored = true
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			select {
			case <-d.Disconnected():
				var err error
				if !l.requested.Load() {
					err = fmt.Errorf("%w: link lost", device.ErrNotConnected)
				}
				l.finish(err)
			case <-l.done:
			}
		})
	}
}

// finish releases the link and posts the final Disconnected event, once.
func (l *link) finish(err error) {
	if !l.adapter.release(l) {
		return
	}
	if err != nil {
		l.logger.WithError(err).Warn("Disconnected")
	} else {
		l.logger.Info("Disconnected")
	}
	l.adapter.post(device.Disconnected{Identity: l.id, Err: err})
}

func (l *link) disconnect() {
	l.requested.Store(true)
	if l.client == nil {
		return
	}
	if err := l.client.CancelConnection(); err != nil {
		l.logger.WithError(err).Warn("Cancel connection failed")
	}
	if !l.monitored {
		l.finish(nil)
	}
}

func (l *link) discoverServices(filter []ble.UUID) {
	if l.client == nil {
		l.adapter.post(device.ServicesDiscovered{Identity: l.id, Err: device.ErrNotConnected})
		return
	}

	services, err := l.client.DiscoverServices(filter)
	if err != nil {
		l.adapter.post(device.ServicesDiscovered{Identity: l.id, Err: NormalizeError(err)})
		return
	}

	found := make([]string, 0, len(services))
	for _, s := range services {
		uuid := device.FromBLE(s.UUID)
		l.services[uuid] = s
		found = append(found, uuid)
	}
	l.logger.WithField("services", found).Debug("Services discovered")
	l.adapter.post(device.ServicesDiscovered{Identity: l.id, Services: found})
}

func (l *link) discoverCharacteristics(service string, filter []ble.UUID) {
	ev := device.CharacteristicsDiscovered{Identity: l.id, Service: service}

	s, ok := l.services[service]
	if !ok || l.client == nil {
		ev.Err = &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
		l.adapter.post(ev)
		return
	}

	chars, err := l.client.DiscoverCharacteristics(filter, s)
	if err != nil {
		ev.Err = NormalizeError(err)
		l.adapter.post(ev)
		return
	}

	for _, c := range chars {
		uuid := device.FromBLE(c.UUID)
		l.chars[uuid] = c
		ev.Characteristics = append(ev.Characteristics, uuid)

		// CCCD lookup needs the descriptors before Subscribe.
		if _, err := l.client.DiscoverDescriptors(nil, c); err != nil {
			l.logger.WithError(err).WithField("char_uuid", uuid).Debug("Descriptor discovery failed")
		}
	}
	l.adapter.post(ev)
}

func (l *link) setNotify(char string, enabled bool) {
	c, ok := l.chars[char]
	if !ok {
		l.adapter.post(device.ValueUpdated{
			Identity:       l.id,
			Characteristic: char,
			Err:            &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}},
		})
		return
	}

	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	var err error
	if enabled {
		err = l.client.Subscribe(c, ind, func(data []byte) {
			l.adapter.post(device.ValueUpdated{
				Identity:       l.id,
				Characteristic: char,
				Value:          slices.Clone(data),
			})
		})
	} else {
		err = l.client.Unsubscribe(c, ind)
	}

	if err != nil {
		l.adapter.post(device.ValueUpdated{Identity: l.id, Characteristic: char, Err: NormalizeError(err)})
		return
	}
	l.logger.WithFields(logrus.Fields{
		"char_uuid": char,
		"enabled":   enabled,
	}).Debug("Notifications configured")
}

func (l *link) write(char string, data []byte, withResponse bool) {
	ev := device.WriteCompleted{Identity: l.id, Characteristic: char}

	c, ok := l.chars[char]
	if !ok {
		ev.Err = &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}}
		l.adapter.post(ev)
		return
	}

	ev.Err = NormalizeError(l.client.WriteCharacteristic(c, data, !withResponse))
	l.adapter.post(ev)
}

func (l *link) readRSSI() {
	if l.client == nil {
		l.adapter.post(device.SignalStrengthRead{Identity: l.id, Err: device.ErrNotConnected})
		return
	}
	l.adapter.post(device.SignalStrengthRead{Identity: l.id, RSSI: l.client.ReadRSSI()})
}
