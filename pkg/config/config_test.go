package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/srg/blelink/internal/device"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blelink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatPeriod)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, time.Duration(0), cfg.DiscoveryTimeout)
	assert.Equal(t, 100, cfg.EventBuffer)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.False(t, cfg.WriteWithResponse)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Empty(t, cfg.Contracts)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: "debug",
			want:     logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: "warn",
			want:     logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: "error",
			want:     logrus.ErrorLevel,
		},
		{
			name:     "falls back to info on unknown level",
			logLevel: "chatty",
			want:     logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
heartbeat_period: 500ms
discovery_timeout: 5s
write_with_response: true
contracts:
  - name: lamp
    match: Lamp
    service: FFE0
    read: ffe1
    write: ffe2
    ota: {service: fff0, read: fff1, write: fff2}
    services:
      180a: [2a29]
    heartbeat: "AA 01"
  - name: generic
    match: "*"
    service: 0000ffe5-0000-1000-8000-00805f9b34fb
    read: ffe4
    write: ffe9
    notify: [ffe4]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.Level())
	assert.Equal(t, 500*time.Millisecond, cfg.HeartbeatPeriod)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout, "absent keys MUST keep defaults")
	assert.Equal(t, 5*time.Second, cfg.DiscoveryTimeout)
	assert.True(t, cfg.WriteWithResponse)
	require.Len(t, cfg.Contracts, 2)
	assert.Equal(t, HexBytes{0xAA, 0x01}, cfg.Contracts[0].Heartbeat)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())

	lamp, ok := catalog.Lookup("Lamp-1")
	require.True(t, ok)
	assert.Equal(t, &device.ServiceContract{
		Name:      "lamp",
		Primary:   device.Endpoint{Service: "ffe0", Read: "ffe1", Write: "ffe2"},
		Auxiliary: &device.Endpoint{Service: "fff0", Read: "fff1", Write: "fff2"},
		Extra:     map[string][]string{"180a": {"2a29"}},
		Heartbeat: []byte{0xAA, 0x01},
	}, lamp)

	generic, ok := catalog.Lookup("Speaker")
	require.True(t, ok, "the catch-all rule MUST match any named device")
	assert.Equal(t, "ffe5", generic.Primary.Service)

	byName, ok := cfg.ContractByName("generic")
	require.True(t, ok)
	assert.Equal(t, []string{"ffe4"}, byName.Notify)

	_, ok = cfg.ContractByName("missing")
	assert.False(t, ok)

	opts, err := cfg.ManagerOptions()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, opts.HeartbeatPeriod)
	assert.Equal(t, 5*time.Second, opts.DiscoveryTimeout)
	assert.True(t, opts.WriteWithResponse)
	assert.Equal(t, 2, opts.Catalog.Len())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "malformed yaml",
			content: "log_level: [",
			errMsg:  "failed to parse config",
		},
		{
			name:    "bad duration",
			content: "heartbeat_period: soon",
			errMsg:  "failed to parse config",
		},
		{
			name:    "bad heartbeat hex",
			content: "contracts:\n  - {name: x, service: ffe0, read: ffe1, write: ffe2, heartbeat: ZZ}",
			errMsg:  "invalid hex",
		},
		{
			name:    "unknown log level",
			content: "log_level: chatty",
			errMsg:  "not a valid logrus Level",
		},
		{
			name:    "negative duration",
			content: "connect_timeout: -1s",
			errMsg:  "durations must not be negative",
		},
		{
			name:    "unsupported output format",
			content: "output_format: csv",
			errMsg:  "unsupported output format",
		},
		{
			name:    "incomplete contract",
			content: "contracts:\n  - {name: lamp, service: ffe0, read: ffe1}",
			errMsg:  "missing primary write characteristic",
		},
		{
			name:    "invalid contract uuid",
			content: "contracts:\n  - {name: lamp, service: ffe0, read: ffe1, write: nope}",
			errMsg:  "invalid UUID format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "AA01", want: []byte{0xAA, 0x01}},
		{in: "aa 01", want: []byte{0xAA, 0x01}},
		{in: "0xAA:01", want: []byte{0xAA, 0x01}},
		{in: " 33-01-02 ", want: []byte{0x33, 0x01, 0x02}},
		{in: "", want: []byte{}},
		{in: "ABC", wantErr: true},
		{in: "GG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHexBytes_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(ContractConfig{Name: "lamp", Heartbeat: HexBytes{0xaa, 0x01}})
	require.NoError(t, err)
	assert.Contains(t, string(out), "heartbeat: AA01")
}
