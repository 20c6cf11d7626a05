package device

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Endpoint is a service with its read (notify) and write characteristics.
type Endpoint struct {
	Service string
	Read    string
	Write   string
}

func (e Endpoint) characteristics() []string {
	out := make([]string, 0, 2)
	for _, c := range []string{e.Read, e.Write} {
		if c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// ServiceContract declares the services and characteristics a peripheral must
// expose before a session is considered ready.
type ServiceContract struct {
	Name string

	Primary   Endpoint
	Auxiliary *Endpoint // optional secondary endpoint, e.g. firmware update

	// Extra lists additional required characteristics keyed by service.
	Extra map[string][]string

	// Notify overrides the characteristics to enable notifications on.
	// When empty, Primary.Read and Auxiliary.Read are used.
	Notify []string

	// Heartbeat is the keep-alive payload written to Primary.Write. Empty disables heartbeat.
	Heartbeat []byte
}

// ErrInvalidContract is returned by Validate.
var ErrInvalidContract = errors.New("invalid service contract")

// Validate checks that the primary endpoint is fully specified.
func (c *ServiceContract) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil contract", ErrInvalidContract)
	}
	var missing []string
	if c.Primary.Service == "" {
		missing = append(missing, "service")
	}
	if c.Primary.Read == "" {
		missing = append(missing, "read characteristic")
	}
	if c.Primary.Write == "" {
		missing = append(missing, "write characteristic")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w %q: missing primary %s", ErrInvalidContract, c.Name, strings.Join(missing, ", "))
	}
	if c.Auxiliary != nil && c.Auxiliary.Service == "" {
		return fmt.Errorf("%w %q: auxiliary endpoint without service", ErrInvalidContract, c.Name)
	}
	return nil
}

// Normalize returns a copy with every UUID in normalized form.
func (c *ServiceContract) Normalize() *ServiceContract {
	if c == nil {
		return nil
	}
	out := &ServiceContract{
		Name:      c.Name,
		Primary:   normalizeEndpoint(c.Primary),
		Notify:    NormalizeUUIDs(c.Notify),
		Heartbeat: slices.Clone(c.Heartbeat),
	}
	if c.Auxiliary != nil {
		aux := normalizeEndpoint(*c.Auxiliary)
		out.Auxiliary = &aux
	}
	if len(c.Extra) > 0 {
		out.Extra = make(map[string][]string, len(c.Extra))
		for svc, chars := range c.Extra {
			key := NormalizeUUID(svc)
			out.Extra[key] = append(out.Extra[key], NormalizeUUIDs(chars)...)
		}
	}
	return out
}

func normalizeEndpoint(e Endpoint) Endpoint {
	return Endpoint{
		Service: NormalizeUUID(e.Service),
		Read:    NormalizeUUID(e.Read),
		Write:   NormalizeUUID(e.Write),
	}
}

// ServiceCharacteristics returns the required characteristics of every declared service.
func (c *ServiceContract) ServiceCharacteristics() map[string][]string {
	out := make(map[string][]string)
	add := func(svc string, chars ...string) {
		if svc == "" {
			return
		}
		list := out[svc]
		if list == nil {
			list = []string{}
		}
		for _, ch := range chars {
			if ch != "" && !slices.Contains(list, ch) {
				list = append(list, ch)
			}
		}
		out[svc] = list
	}

	add(c.Primary.Service, c.Primary.characteristics()...)
	if c.Auxiliary != nil {
		add(c.Auxiliary.Service, c.Auxiliary.characteristics()...)
	}
	for svc, chars := range c.Extra {
		add(svc, chars...)
	}
	return out
}

// RequiredServices returns the declared services, sorted.
func (c *ServiceContract) RequiredServices() []string {
	return slices.Sorted(maps.Keys(c.ServiceCharacteristics()))
}

// RequiredCharacteristics returns the union of all declared characteristics, sorted.
func (c *ServiceContract) RequiredCharacteristics() []string {
	var out []string
	for _, chars := range c.ServiceCharacteristics() {
		for _, ch := range chars {
			if !slices.Contains(out, ch) {
				out = append(out, ch)
			}
		}
	}
	slices.Sort(out)
	return out
}

// CharacteristicsFor returns the characteristics declared for svc and whether svc is declared at all.
func (c *ServiceContract) CharacteristicsFor(svc string) ([]string, bool) {
	chars, ok := c.ServiceCharacteristics()[NormalizeUUID(svc)]
	return chars, ok
}

// NotifyCharacteristics returns the characteristics to enable notifications on.
func (c *ServiceContract) NotifyCharacteristics() []string {
	if len(c.Notify) > 0 {
		return slices.Clone(c.Notify)
	}
	out := []string{c.Primary.Read}
	if c.Auxiliary != nil && c.Auxiliary.Read != "" && c.Auxiliary.Read != c.Primary.Read {
		out = append(out, c.Auxiliary.Read)
	}
	return out
}

// HeartbeatPayload returns the keep-alive payload and whether one is configured.
func (c *ServiceContract) HeartbeatPayload() ([]byte, bool) {
	if c == nil || len(c.Heartbeat) == 0 {
		return nil, false
	}
	return slices.Clone(c.Heartbeat), true
}

// ContractRule binds a contract to peripherals whose advertised name contains Match.
type ContractRule struct {
	Match    string
	Contract *ServiceContract
}

// ContractCatalog picks a contract for a discovered peripheral by its advertised name.
// Rules are tried in order; the first match wins.
type ContractCatalog struct {
	rules []ContractRule
}

// NewContractCatalog creates a catalog from rules. Every contract is validated and normalized.
func NewContractCatalog(rules ...ContractRule) (*ContractCatalog, error) {
	cat := &ContractCatalog{rules: make([]ContractRule, 0, len(rules))}
	for _, r := range rules {
		if err := r.Contract.Validate(); err != nil {
			return nil, err
		}
		cat.rules = append(cat.rules, ContractRule{Match: r.Match, Contract: r.Contract.Normalize()})
	}
	return cat, nil
}

// Lookup returns the first contract whose rule matches name. An empty Match
// never matches; "*" matches every named peripheral.
func (c *ContractCatalog) Lookup(name string) (*ServiceContract, bool) {
	if c == nil || name == "" {
		return nil, false
	}
	for _, r := range c.rules {
		if r.Match == "*" || (r.Match != "" && strings.Contains(name, r.Match)) {
			return r.Contract, true
		}
	}
	return nil, false
}

// Len returns the number of rules.
func (c *ContractCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}
