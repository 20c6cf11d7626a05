package goble

import (
	"slices"

	"github.com/go-ble/ble"

	"github.com/srg/blelink/internal/device"
)

// txPowerUnavailable is what go-ble reports when the advertisement carries no TX power level.
const txPowerUnavailable = 127

// identityOf builds the peripheral identity from an advertisement.
func identityOf(adv ble.Advertisement) device.Identity {
	return device.NewIdentity(adv.Addr().String(), adv.LocalName())
}

// advertisementData flattens an advertisement into the keyed map carried by
// device.Discovered. Absent fields are left out.
func advertisementData(adv ble.Advertisement) map[string]any {
	data := map[string]any{
		device.AdvConnectable: adv.Connectable(),
	}

	if name := adv.LocalName(); name != "" {
		data[device.AdvLocalName] = name
	}
	if md := adv.ManufacturerData(); len(md) > 0 {
		data[device.AdvManufacturerData] = slices.Clone(md)
	}
	if services := advertisedServices(adv); len(services) > 0 {
		data[device.AdvServices] = services
	}
	if sd := adv.ServiceData(); len(sd) > 0 {
		m := make(map[string][]byte, len(sd))
		for _, entry := range sd {
			m[device.FromBLE(entry.UUID)] = slices.Clone(entry.Data)
		}
		data[device.AdvServiceData] = m
	}
	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		data[device.AdvTxPower] = tx
	}
	return data
}

// advertisedServices returns the normalized advertised and overflow service UUIDs without duplicates.
func advertisedServices(adv ble.Advertisement) []string {
	var out []string
	for _, list := range [][]ble.UUID{adv.Services(), adv.OverflowService()} {
		for _, u := range list {
			s := device.FromBLE(u)
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// advertisesAny reports whether adv lists one of services. An empty filter matches everything.
func advertisesAny(adv ble.Advertisement, services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, s := range advertisedServices(adv) {
		if slices.Contains(services, s) {
			return true
		}
	}
	return false
}
