// Package registry keeps the discovered and connected peripheral sets.
//
// Every peripheral has exactly one record, keyed by its canonical identity
// key. Discovery updates that record in place; it is never duplicated.
package registry

import (
	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blelink/internal/device"
)

// Registry is owned by the session manager loop. Only the connected set may
// be read from other goroutines (IsConnected, ConnectedLen).
type Registry struct {
	discovered *orderedmap.OrderedMap[string, *device.Peripheral]
	connected  *hashmap.Map[string, *device.Peripheral]
	logger     *logrus.Logger
}

// New creates an empty Registry.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		discovered: orderedmap.New[string, *device.Peripheral](),
		connected:  hashmap.New[string, *device.Peripheral](),
		logger:     logger,
	}
}

// FindOrUpdate returns the record for id, creating it on first sight.
// An existing record gets the advertisement merged in and the name refreshed
// when the new one is non-empty. The bool result is true when the record was created.
func (r *Registry) FindOrUpdate(id device.Identity, adv map[string]any, rssi int) (*device.Peripheral, bool) {
	key := id.Key()
	if key == "" {
		r.logger.WithField("name", id.Name).Warn("Ignoring discovery without identifier")
		return nil, false
	}

	if p, ok := r.discovered.Get(key); ok {
		p.Update(id.Name, adv, rssi)
		return p, false
	}

	p := device.NewPeripheral(id, adv, rssi)
	r.discovered.Set(key, p)
	r.logger.WithFields(logrus.Fields{
		"device": id.String(),
		"rssi":   rssi,
	}).Debug("Registered new peripheral")
	return p, true
}

// Lookup finds a record by any value device.KeyOf accepts.
func (r *Registry) Lookup(v any) (*device.Peripheral, bool) {
	key, ok := device.KeyOf(v)
	if !ok {
		return nil, false
	}
	return r.discovered.Get(key)
}

// MarkConnected moves a discovered record into the connected set.
// It is a no-op when the record is already connected.
func (r *Registry) MarkConnected(v any) error {
	key, _ := device.KeyOf(v)
	p, ok := r.discovered.Get(key)
	if !ok {
		return device.UnknownDeviceError(device.StageConnect, key)
	}
	if _, connected := r.connected.Get(key); connected {
		return nil
	}
	r.connected.Set(key, p)
	return nil
}

// MarkDisconnected removes a record from the connected set. The record stays
// discovered. Returns false when it was not connected.
func (r *Registry) MarkDisconnected(v any) bool {
	key, ok := device.KeyOf(v)
	if !ok {
		return false
	}
	return r.connected.Del(key)
}

// IsConnected reports whether the record is in the connected set.
func (r *Registry) IsConnected(v any) bool {
	key, ok := device.KeyOf(v)
	if !ok {
		return false
	}
	_, connected := r.connected.Get(key)
	return connected
}

// Discovered returns every record in discovery order.
func (r *Registry) Discovered() []*device.Peripheral {
	out := make([]*device.Peripheral, 0, r.discovered.Len())
	for pair := r.discovered.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Connected returns the connected records in discovery order.
func (r *Registry) Connected() []*device.Peripheral {
	out := make([]*device.Peripheral, 0, r.connected.Len())
	for pair := r.discovered.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := r.connected.Get(pair.Key); ok {
			out = append(out, pair.Value)
		}
	}
	return out
}

// ResetDiscovered forgets every record that is not connected and not held
// by keep, so a fresh scan reports them as new again. keep may be nil.
// Returns the number of records removed.
func (r *Registry) ResetDiscovered(keep func(*device.Peripheral) bool) int {
	var stale []string
	for pair := r.discovered.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := r.connected.Get(pair.Key); ok {
			continue
		}
		if keep != nil && keep(pair.Value) {
			continue
		}
		stale = append(stale, pair.Key)
	}
	for _, key := range stale {
		r.discovered.Delete(key)
	}

	r.logger.WithFields(logrus.Fields{
		"removed":  len(stale),
		"retained": r.discovered.Len(),
	}).Debug("Reset discovered peripherals")
	return len(stale)
}

// Len returns the number of discovered records, connected ones included.
func (r *Registry) Len() int {
	return r.discovered.Len()
}

// ConnectedLen returns the size of the connected set.
func (r *Registry) ConnectedLen() int {
	return r.connected.Len()
}
