package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
)

type TestHelper struct {
	T      testing.TB
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t testing.TB) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Contract builds a normalized contract with a single primary endpoint.
func Contract(name, service, read, write string) *device.ServiceContract {
	return (&device.ServiceContract{
		Name:    name,
		Primary: device.Endpoint{Service: service, Read: read, Write: write},
	}).Normalize()
}

// LampContract is the contract of the reference lamp peripheral: primary
// service ffe0 (ffe1 notify, ffe2 write), firmware service fff0 and an
// "AA 01" heartbeat.
func LampContract() *device.ServiceContract {
	return (&device.ServiceContract{
		Name:      "lamp",
		Primary:   device.Endpoint{Service: "ffe0", Read: "ffe1", Write: "ffe2"},
		Auxiliary: &device.Endpoint{Service: "fff0", Read: "fff1", Write: "fff2"},
		Heartbeat: []byte{0xAA, 0x01},
	}).Normalize()
}
