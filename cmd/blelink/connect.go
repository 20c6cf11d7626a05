package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/packet"
	"github.com/srg/blelink/manager"
	"github.com/srg/blelink/pkg/config"
)

type connectFlags struct {
	contract    string
	scanTimeout time.Duration
	duration    time.Duration
	services    []string
	send        []string
}

func newConnectCmd() *cobra.Command {
	f := &connectFlags{}
	cmd := &cobra.Command{
		Use:   "connect <device>",
		Short: "Connect to a peripheral and run its session",
		Long: `Scan for a peripheral by identifier or advertised name fragment, connect,
verify its service contract and enable notifications.

Once the session is ready every --send payload is written to the contract's
write characteristic, framed and segmented as needed. Notifications are
printed as they arrive and segmented transfers are reassembled. The
contract's heartbeat keeps running until Ctrl+C or --duration.`,
		Example: `  blelink connect Lamp --config blelink.yaml
  blelink connect AA:BB:CC:00:00:01 --contract lamp --send "33 01 01"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.contract, "contract", "c", "", "Contract name from the config file, default matches by advertised name")
	cmd.Flags().DurationVar(&f.scanTimeout, "scan-timeout", 10*time.Second, "How long to look for the device")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Session duration (0 runs until Ctrl+C)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Only scan for peripherals advertising these service UUIDs")
	cmd.Flags().StringArrayVar(&f.send, "send", nil, "Hex payload to write once ready (repeatable)")
	return cmd
}

// matchesTarget reports whether p is the device named on the command line.
func matchesTarget(p *device.Peripheral, target string) bool {
	if p == nil {
		return false
	}
	if p.Identity.Matches(target) {
		return true
	}
	return p.Identity.Name != "" && strings.Contains(p.Identity.Name, target)
}

// encodePayload frames payload, segmenting it when it does not fit in one frame.
func encodePayload(payload []byte) ([]packet.Frame, error) {
	if len(payload) < packet.DefaultFrameLength {
		f, err := packet.NewFrame(payload...)
		if err != nil {
			return nil, err
		}
		return []packet.Frame{f}, nil
	}
	return packet.Segment(payload)
}

func runConnect(cmd *cobra.Command, target string, f *connectFlags) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var contract *device.ServiceContract
	if f.contract != "" {
		var ok bool
		if contract, ok = cfg.ContractByName(f.contract); !ok {
			return fmt.Errorf("unknown contract %q", f.contract)
		}
	}

	payloads := make([][]byte, 0, len(f.send))
	for _, s := range f.send {
		b, err := config.ParseHex(s)
		if err != nil {
			return fmt.Errorf("invalid --send payload: %w", err)
		}
		payloads = append(payloads, b)
	}

	services := f.services
	if len(services) > 0 {
		if services, err = device.ValidateUUID(services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	cmd.SilenceUsage = true

	sess, err := startSession(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	ctx, cancel := signalContext(cmd.Context(), 0)
	defer cancel()

	found := make(chan device.Identity, 1)
	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}

	printer := newEventPrinter(cmd.OutOrStdout())
	unsubscribe := sess.mgr.Subscribe(func(ev manager.Event) {
		switch ev.Type {
		case manager.EventStateChanged:
			printer.Print(ev)
			return
		case manager.EventConnectFailed:
			if ev.Device == nil && !strings.Contains(ev.Name, target) {
				return
			}
			printer.Print(ev)
			report(ev.Err)
			return
		}

		if !matchesTarget(ev.Device, target) {
			return
		}
		printer.Print(ev)

		switch ev.Type {
		case manager.EventDiscovered:
			select {
			case found <- ev.Device.Identity:
			default:
			}
		case manager.EventReady:
			sendPayloads(sess.mgr, ev.Device, payloads, printer)
		case manager.EventDisconnected:
			if ev.Err != nil {
				report(fmt.Errorf("%w: %w", ErrConnectionLost, ev.Err))
				return
			}
			report(nil)
		case manager.EventError:
			if errors.Is(ev.Err, device.ErrContractMismatch) {
				report(ev.Err)
			}
		}
	})
	defer unsubscribe()

	if err := sess.mgr.StartScan(&manager.ScanFilter{Services: services}); err != nil {
		return err
	}

	id, err := waitForDevice(ctx, found, f.scanTimeout, target)
	_ = sess.mgr.StopScan()
	if err != nil {
		return err
	}

	if contract != nil {
		if err := sess.mgr.Register(id, contract); err != nil {
			return err
		}
	}
	if err := sess.mgr.Connect(id); err != nil {
		return err
	}

	runCtx, stop := ctx, context.CancelFunc(func() {})
	if f.duration > 0 {
		runCtx, stop = context.WithTimeout(ctx, f.duration)
	}
	defer stop()

	select {
	case err = <-result:
	case <-runCtx.Done():
	}

	if derr := sess.mgr.Disconnect(id); derr != nil {
		logger.WithError(derr).Debug("Disconnect on exit")
	}
	return err
}

func waitForDevice(ctx context.Context, found <-chan device.Identity, timeout time.Duration, target string) (device.Identity, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-found:
		return id, nil
	case <-timer.C:
		return device.Identity{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, target)
	case <-ctx.Done():
		return device.Identity{}, ctx.Err()
	}
}

// sendPayloads runs on the manager loop right after the session became ready.
func sendPayloads(mgr *manager.Manager, p *device.Peripheral, payloads [][]byte, printer *eventPrinter) {
	if len(payloads) == 0 || p.Contract == nil {
		return
	}
	char := p.Contract.Primary.Write

	for _, payload := range payloads {
		frames, err := encodePayload(payload)
		if err != nil {
			printer.line(printer.bad, "send", "%v", err)
			continue
		}
		for _, frame := range frames {
			if err := mgr.Write(p.Identity, char, frame); err != nil {
				printer.line(printer.bad, "send", "%v", FormatUserError(err))
				break
			}
			printer.line(printer.value, "sent", "%s %s", char, frame)
		}
	}
}
