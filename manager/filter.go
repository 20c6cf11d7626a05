package manager

import (
	"slices"
	"strings"

	"github.com/srg/blelink/internal/device"
)

// ScanFilter restricts which advertisements reach the registry.
// A nil filter accepts everything.
type ScanFilter struct {
	// Services is handed to the adapter and also checked against advertised
	// service lists when the advertisement carries one.
	Services []string

	// Names accepts peripherals whose advertised name contains any entry.
	Names []string

	// AllowList and BlockList hold identifiers.
	AllowList []string
	BlockList []string

	AllowDuplicates bool
}

// Match reports whether an advertisement from id passes the filter.
func (f *ScanFilter) Match(id device.Identity, adv map[string]any) bool {
	if f == nil {
		return true
	}
	key := id.Key()

	for _, blocked := range f.BlockList {
		if device.CanonicalID(blocked) == key {
			return false
		}
	}

	if len(f.AllowList) > 0 {
		allowed := false
		for _, a := range f.AllowList {
			if device.CanonicalID(a) == key {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.Names) > 0 {
		if id.Name == "" {
			return false
		}
		if !slices.ContainsFunc(f.Names, func(n string) bool { return strings.Contains(id.Name, n) }) {
			return false
		}
	}

	if len(f.Services) > 0 {
		advertised, ok := adv[device.AdvServices].([]string)
		if ok && len(advertised) > 0 {
			want := device.NormalizeUUIDs(f.Services)
			hasRequired := false
			for _, svc := range device.NormalizeUUIDs(advertised) {
				if slices.Contains(want, svc) {
					hasRequired = true
					break
				}
			}
			if !hasRequired {
				return false
			}
		}
	}

	return true
}

func (f *ScanFilter) services() []string {
	if f == nil {
		return nil
	}
	return device.NormalizeUUIDs(f.Services)
}

func (f *ScanFilter) options() device.ScanOptions {
	if f == nil {
		return device.ScanOptions{}
	}
	return device.ScanOptions{AllowDuplicates: f.AllowDuplicates}
}
