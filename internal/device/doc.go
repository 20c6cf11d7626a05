// Package device holds the types shared by every layer of a BLE central
// session: peripheral identity and records, service contracts, session
// states, structured errors, and the adapter command and event interfaces.
//
// Nothing in this package talks to a radio. Concrete adapters live in
// subpackages (see goble).
package device
