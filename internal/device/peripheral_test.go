package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeripheral_Update(t *testing.T) {
	p := NewPeripheral(NewIdentity("aa:bb", "Lamp"), map[string]any{AdvTxPower: 4}, -70)
	first := p.LastSeen

	p.Update("", map[string]any{AdvConnectable: true}, -50)
	assert.Equal(t, "Lamp", p.Identity.Name, "empty name MUST keep the previous one")
	assert.Equal(t, -50, p.RSSI)
	assert.Equal(t, 4, p.Advertisement[AdvTxPower])
	assert.Equal(t, true, p.Advertisement[AdvConnectable])
	assert.False(t, p.LastSeen.Before(first))

	p.Update("Lamp v2", nil, -40)
	assert.Equal(t, "Lamp v2", p.Name())
}

func TestPeripheral_Characteristics(t *testing.T) {
	p := NewPeripheral(NewIdentity("aa:bb", ""), nil, 0)
	assert.Empty(t, p.Characteristics())

	p.AddCharacteristics("FFE0", []string{"FFE1", "ffe2"})
	p.AddCharacteristics("ffe0", []string{"ffe1"})
	p.AddCharacteristics("fff0", []string{"fff1"})

	assert.Equal(t, []string{"ffe1", "ffe2", "fff1"}, p.Characteristics())
	assert.Equal(t, []string{"ffe1", "ffe2"}, p.CharacteristicsOf("ffe0"))
	assert.True(t, p.HasCharacteristic("FFE2"))
	assert.False(t, p.HasCharacteristic("abcd"))

	svc, ok := p.ServiceOf("fff1")
	assert.True(t, ok)
	assert.Equal(t, "fff0", svc)

	p.SetServices([]string{"FFE0"})
	assert.Equal(t, []string{"ffe0"}, p.Services())

	p.ResetDiscovery()
	assert.Empty(t, p.Characteristics())
	assert.Empty(t, p.Services())
}

func TestPeripheral_Snapshot(t *testing.T) {
	p := NewPeripheral(NewIdentity("aa:bb", "Lamp"), map[string]any{
		AdvManufacturerData: []byte{1, 2},
		AdvServiceData:      map[string][]byte{"ffe0": {9}},
	}, -60)
	p.AddCharacteristics("ffe0", []string{"ffe1"})
	p.State = StateReady

	s := p.Snapshot()
	assert.Equal(t, p.Identity, s.Identity)
	assert.Equal(t, StateReady, s.State)

	s.Advertisement[AdvManufacturerData].([]byte)[0] = 0xFF
	s.Advertisement[AdvServiceData].(map[string][]byte)["ffe0"][0] = 0xFF
	s.AddCharacteristics("ffe0", []string{"ffe2"})
	s.Identity.Name = "changed"

	assert.Equal(t, []byte{1, 2}, p.Advertisement[AdvManufacturerData], "snapshot MUST NOT alias advertisement bytes")
	assert.Equal(t, []byte{9}, p.Advertisement[AdvServiceData].(map[string][]byte)["ffe0"])
	assert.Equal(t, []string{"ffe1"}, p.Characteristics(), "snapshot MUST NOT alias discovered characteristics")
	assert.Equal(t, "Lamp", p.Identity.Name)

	var nilP *Peripheral
	assert.Nil(t, nilP.Snapshot())
}

func TestPeripheral_DisconnectRequest(t *testing.T) {
	p := NewPeripheral(NewIdentity("aa:bb", ""), nil, 0)
	assert.False(t, p.DisconnectRequested())

	p.RequestDisconnect()
	assert.True(t, p.DisconnectRequested())
	assert.True(t, p.TakeDisconnectRequest())
	assert.False(t, p.TakeDisconnectRequest(), "request MUST be consumed once")
}
