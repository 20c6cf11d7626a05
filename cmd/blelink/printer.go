package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/srg/blelink/internal/packet"
	"github.com/srg/blelink/manager"
)

// eventPrinter writes one line per manager event. It runs on the manager
// loop, which also makes the reassembler safe to use here.
type eventPrinter struct {
	w      io.Writer
	reasm  *packet.Reassembler
	good   *color.Color
	warn   *color.Color
	bad    *color.Color
	value  *color.Color
	prefix *color.Color
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{
		w:      w,
		reasm:  packet.NewReassembler(),
		good:   color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed, color.Bold),
		value:  color.New(color.FgCyan),
		prefix: color.New(color.Faint),
	}
}

func (p *eventPrinter) line(c *color.Color, tag, format string, args ...any) {
	p.prefix.Fprintf(p.w, "%-12s ", tag)
	c.Fprintf(p.w, format, args...)
	fmt.Fprintln(p.w)
}

// Print renders ev.
func (p *eventPrinter) Print(ev manager.Event) {
	switch ev.Type {
	case manager.EventStateChanged:
		p.line(p.warn, "adapter", "%s", ev.State)
	case manager.EventDiscovered:
		p.line(p.good, "discovered", "%s rssi %d", ev.Device.Identity, ev.Device.RSSI)
	case manager.EventConnected:
		p.line(p.good, "connected", "%s", ev.Device.Identity)
	case manager.EventConnectFailed:
		p.line(p.bad, "failed", "%s: %v", ev.Name, ev.Err)
	case manager.EventDisconnected:
		if p.reasm.InProgress() {
			p.reasm.Reset()
			p.line(p.bad, "transfer", "incomplete transfer dropped")
		}
		if ev.Err != nil {
			p.line(p.bad, "disconnected", "%s: %v", ev.Device.Identity, ev.Err)
			return
		}
		p.line(p.warn, "disconnected", "%s", ev.Device.Identity)
	case manager.EventReady:
		contract := ""
		if ev.Device.Contract != nil {
			contract = ev.Device.Contract.Name
		}
		p.line(p.good, "ready", "%s contract %s", ev.Device.Identity, contract)
	case manager.EventDeviceUpdated:
		p.line(p.value, "rssi", "%s %d", ev.Device.Identity, ev.Device.RSSI)
	case manager.EventValueUpdated:
		p.printValue(ev.Characteristic, ev.Value)
	case manager.EventError:
		p.line(p.bad, "error", "%v", FormatUserError(ev.Err))
	}
}

// printValue decodes segmented transfers and command responses; anything
// else is printed as hex.
func (p *eventPrinter) printValue(char string, b []byte) {
	if packet.IsSegmentFrame(b) {
		payload, done, err := p.reasm.Feed(b)
		switch {
		case err != nil:
			p.line(p.bad, "transfer", "%s: %v", char, err)
		case done:
			p.line(p.value, "transfer", "%s %s", char, hex.EncodeToString(payload))
		}
		return
	}

	if resp, err := packet.ParseResponse(b); err == nil && (resp.IsRead() || resp.IsWrite()) {
		kind := "read"
		if resp.IsWrite() {
			kind = "write"
		}
		p.line(p.value, "response", "%s %s code 0x%02x args %s", char, kind, resp.Code, hex.EncodeToString(trimArgs(resp.Args)))
		return
	}

	p.line(p.value, "value", "%s %s", char, hex.EncodeToString(b))
}

// trimArgs drops trailing padding.
func trimArgs(args []byte) []byte {
	n := len(args)
	for n > 0 && args[n-1] == 0 {
		n--
	}
	return args[:n]
}
