package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/manager"
)

type scanFlags struct {
	duration   time.Duration
	format     string
	services   []string
	names      []string
	allowList  []string
	blockList  []string
	duplicates bool
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `Scan for nearby BLE peripherals and list them once the scan ends.

Peripherals whose advertised name matches a contract in the config file
show the contract name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, f)
		},
	}

	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 5*time.Second, "Scan duration (0 scans until Ctrl+C)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (table, json), default from config")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Only show peripherals advertising these service UUIDs")
	cmd.Flags().StringSliceVarP(&f.names, "name", "n", nil, "Only show peripherals whose name contains one of these")
	cmd.Flags().StringSliceVar(&f.allowList, "allow", nil, "Only show peripherals with these identifiers")
	cmd.Flags().StringSliceVar(&f.blockList, "block", nil, "Hide peripherals with these identifiers")
	cmd.Flags().BoolVar(&f.duplicates, "duplicates", false, "Report every advertisement, not just the first")
	return cmd
}

func runScan(cmd *cobra.Command, f *scanFlags) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	format := f.format
	if format == "" {
		format = cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}

	services := f.services
	if len(services) > 0 {
		if services, err = device.ValidateUUID(services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	sess, err := startSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	ctx, cancel := signalContext(cmd.Context(), f.duration)
	defer cancel()

	err = sess.mgr.StartScan(&manager.ScanFilter{
		Services:        services,
		Names:           f.names,
		AllowList:       f.allowList,
		BlockList:       f.blockList,
		AllowDuplicates: f.duplicates,
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	devices := sess.mgr.Devices()
	_ = sess.mgr.StopScan()

	sortPeripherals(devices)
	out := cmd.OutOrStdout()
	if format == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

// sortPeripherals orders by name, unnamed last, then by identifier.
func sortPeripherals(ps []*device.Peripheral) {
	slices.SortStableFunc(ps, func(a, b *device.Peripheral) int {
		an, bn := a.Identity.Name, b.Identity.Name
		switch {
		case an == "" && bn != "":
			return 1
		case an != "" && bn == "":
			return -1
		}
		if c := strings.Compare(an, bn); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
}

func advertisedServices(p *device.Peripheral) []string {
	s, _ := p.Advertisement[device.AdvServices].([]string)
	return s
}

func contractName(p *device.Peripheral) string {
	if p.Contract == nil {
		return ""
	}
	return p.Contract.Name
}

func displayDevicesTable(out io.Writer, devices []*device.Peripheral) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tRSSI\tCONTRACT\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	bold := color.New(color.Bold)
	for _, p := range devices {
		name := p.Identity.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(advertisedServices(p), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		contract := contractName(p)
		if contract != "" {
			contract = bold.Sprint(contract)
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", name, p.Identity.ID, p.RSSI, contract, services)
	}
	return w.Flush()
}

type scanEntry struct {
	Name             string   `json:"name,omitempty"`
	ID               string   `json:"id"`
	RSSI             int      `json:"rssi"`
	Contract         string   `json:"contract,omitempty"`
	Services         []string `json:"services,omitempty"`
	ManufacturerData string   `json:"manufacturer_data,omitempty"`
	CompanyID        string   `json:"company_id,omitempty"`
}

func displayDevicesJSON(out io.Writer, devices []*device.Peripheral) error {
	entries := make([]scanEntry, 0, len(devices))
	for _, p := range devices {
		e := scanEntry{
			Name:     p.Identity.Name,
			ID:       p.Identity.ID,
			RSSI:     p.RSSI,
			Contract: contractName(p),
			Services: advertisedServices(p),
		}
		if md := device.ManufacturerData(p.Advertisement); len(md) > 0 {
			e.ManufacturerData = hex.EncodeToString(md)
		}
		if id, ok := device.CompanyID(p.Advertisement); ok {
			e.CompanyID = fmt.Sprintf("0x%04X", id)
		}
		entries = append(entries, e)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
