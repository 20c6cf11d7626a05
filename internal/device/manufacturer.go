package device

import (
	"encoding/binary"
)

// ManufacturerData returns the manufacturer specific advertisement bytes.
func ManufacturerData(adv map[string]any) []byte {
	md, _ := adv[AdvManufacturerData].([]byte)
	return md
}

// CompanyID extracts the Bluetooth SIG company identifier that, by
// convention, opens manufacturer data (first 2 bytes, little-endian). Not
// every vendor follows the convention.
func CompanyID(adv map[string]any) (uint16, bool) {
	md := ManufacturerData(adv)
	if len(md) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(md[0:2]), true
}
