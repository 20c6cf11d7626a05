// Package goble implements device.Adapter on top of github.com/go-ble/ble.
//
// Every command returns once the request is queued. Scans run on their own
// goroutine and each link owns a worker goroutine that serializes its GATT
// operations, so a slow peripheral never stalls another one.
package goble

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/groutine"
)

// Central is the part of ble.Device used for scanning.
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Stop() error
}

// GATTClient is the part of ble.Client used on an established link.
type GATTClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ReadRSSI() int
	CancelConnection() error
}

// Dialer opens a link to addr.
type Dialer func(ctx context.Context, addr ble.Addr) (GATTClient, error)

// Adapter is the go-ble device.Adapter.
type Adapter struct {
	central Central
	dial    Dialer
	logger  *logrus.Logger

	sinkMu sync.RWMutex
	sink   device.EventSink

	scanMu     sync.Mutex
	scanCancel context.CancelFunc

	linksMu sync.Mutex
	links   *hashmap.Map[string, *link]
}

// New opens the platform BLE device and makes it the go-ble default device.
func New(logger *logrus.Logger) (*Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	ble.SetDefaultDevice(dev)

	return NewWithCentral(dev, func(ctx context.Context, addr ble.Addr) (GATTClient, error) {
		client, err := ble.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return client, nil
	}, logger), nil
}

// NewWithCentral builds an Adapter from an explicit central and dialer.
func NewWithCentral(central Central, dial Dialer, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		central: central,
		dial:    dial,
		logger:  logger,
		links:   hashmap.New[string, *link](),
	}
}

// Attach sets the event sink. go-ble only hands out a device once the radio
// is usable, so the adapter reports itself powered on right away.
func (a *Adapter) Attach(sink device.EventSink) {
	a.sinkMu.Lock()
	a.sink = sink
	a.sinkMu.Unlock()

	a.post(device.StateChanged{State: device.AdapterPoweredOn})
}

func (a *Adapter) post(ev device.Event) {
	a.sinkMu.RLock()
	sink := a.sink
	a.sinkMu.RUnlock()

	if sink == nil {
		a.logger.WithField("event", ev).Debug("No sink attached, dropping adapter event")
		return
	}
	sink.Post(ev)
}

// Scan starts a scan, replacing a running one. Advertisements that do not
// list one of services are dropped when services is not empty.
func (a *Adapter) Scan(services []string, opts device.ScanOptions) error {
	if len(services) > 0 {
		normalized, err := device.ValidateUUID(services...)
		if err != nil {
			return err
		}
		services = normalized
	}

	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	if a.scanCancel != nil {
		a.scanCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.scanCancel = cancel

	handler := func(adv ble.Advertisement) {
		if !advertisesAny(adv, services) {
			return
		}
		a.post(device.Discovered{
			Identity:      identityOf(adv),
			Advertisement: advertisementData(adv),
			RSSI:          adv.RSSI(),
		})
	}

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := a.central.Scan(ctx, opts.AllowDuplicates, handler)
		if err == nil || errors.Is(err, context.Canceled) {
			a.logger.Debug("Scan finished")
			return
		}

		err = NormalizeError(err)
		a.logger.WithError(err).Error("Scan failed")
		if errors.Is(err, device.ErrBluetoothOff) {
			a.post(device.StateChanged{State: device.AdapterPoweredOff})
		}
	})
	return nil
}

// StopScan cancels the running scan, if any.
func (a *Adapter) StopScan() error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	return nil
}

// Connect dials id on a new link worker. The outcome is posted as Connected
// or ConnectFailed.
func (a *Adapter) Connect(id device.Identity, opts device.ConnectOptions) error {
	a.linksMu.Lock()
	defer a.linksMu.Unlock()

	if _, ok := a.links.Get(id.Key()); ok {
		return device.ErrAlreadyConnected
	}

	l := newLink(a, id, opts)
	a.links.Set(id.Key(), l)
	l.start()
	return l.submit(l.connect)
}

// CancelConnection tears down the link or aborts the pending dial. A
// Disconnected event with a nil error follows.
func (a *Adapter) CancelConnection(id device.Identity) error {
	l, ok := a.links.Get(id.Key())
	if !ok {
		return device.ErrNotConnected
	}
	l.requested.Store(true)
	l.cancelDial()
	if err := l.submit(l.disconnect); err != nil && !errors.Is(err, device.ErrNotConnected) {
		return err
	}
	return nil
}

// DiscoverServices discovers the given services, or all services when empty.
func (a *Adapter) DiscoverServices(id device.Identity, services []string) error {
	filter, err := toBLE(services)
	if err != nil {
		return err
	}
	return a.withLink(id, func(l *link) { l.discoverServices(filter) })
}

// DiscoverCharacteristics discovers chars on a previously discovered service.
func (a *Adapter) DiscoverCharacteristics(id device.Identity, service string, chars []string) error {
	filter, err := toBLE(chars)
	if err != nil {
		return err
	}
	service = device.NormalizeUUID(service)
	return a.withLink(id, func(l *link) { l.discoverCharacteristics(service, filter) })
}

// SetNotify subscribes to or unsubscribes from char. Notifications arrive as ValueUpdated events.
func (a *Adapter) SetNotify(id device.Identity, char string, enabled bool) error {
	char = device.NormalizeUUID(char)
	return a.withLink(id, func(l *link) { l.setNotify(char, enabled) })
}

// Write writes data to char and posts WriteCompleted.
func (a *Adapter) Write(id device.Identity, char string, data []byte, withResponse bool) error {
	char = device.NormalizeUUID(char)
	data = slices.Clone(data)
	return a.withLink(id, func(l *link) { l.write(char, data, withResponse) })
}

// ReadSignalStrength reads the link RSSI and posts SignalStrengthRead.
func (a *Adapter) ReadSignalStrength(id device.Identity) error {
	return a.withLink(id, func(l *link) { l.readRSSI() })
}

func (a *Adapter) withLink(id device.Identity, job func(l *link)) error {
	l, ok := a.links.Get(id.Key())
	if !ok {
		return device.ErrNotConnected
	}
	return l.submit(func() { job(l) })
}

// release forgets l and stops its worker. It reports false when l was
// already released.
func (a *Adapter) release(l *link) bool {
	a.linksMu.Lock()
	if cur, ok := a.links.Get(l.id.Key()); ok && cur == l {
		a.links.Del(l.id.Key())
	}
	a.linksMu.Unlock()
	return l.close()
}

// Close stops scanning, cancels every link and stops the central.
func (a *Adapter) Close() error {
	_ = a.StopScan()

	var links []*link
	a.links.Range(func(_ string, l *link) bool {
		links = append(links, l)
		return true
	})
	for _, l := range links {
		_ = a.CancelConnection(l.id)
	}
	return NormalizeError(a.central.Stop())
}

func toBLE(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	out := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := device.ToBLE(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
