package device

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
)

// Identity identifies a peripheral. Only ID takes part in equality; Name is
// the advertised display name and may change between advertisements.
type Identity struct {
	ID   string
	Name string
}

// NewIdentity creates an Identity from a platform identifier and a display name.
func NewIdentity(id, name string) Identity {
	return Identity{ID: strings.TrimSpace(id), Name: name}
}

// Key returns the canonical form of the identifier, used as the registry key.
func (i Identity) Key() string {
	return CanonicalID(i.ID)
}

// Equal reports whether both identities refer to the same peripheral.
func (i Identity) Equal(other Identity) bool {
	return i.Key() != "" && i.Key() == other.Key()
}

// Matches reports whether v refers to this peripheral. See KeyOf for accepted
// types. A string is compared with the identifier only, never with the name.
func (i Identity) Matches(v any) bool {
	k, ok := KeyOf(v)
	return ok && k == i.Key()
}

// DisplayName returns the name, falling back to the identifier.
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

func (i Identity) String() string {
	if i.Name == "" || i.Name == i.ID {
		return i.ID
	}
	return i.Name + " (" + i.ID + ")"
}

// CanonicalID normalizes a platform identifier. Identifiers that parse as a
// UUID (CoreBluetooth) use the lower-case dashed form; anything else (MAC
// addresses on Linux) is trimmed and lower-cased.
func CanonicalID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return strings.ToLower(id)
}

// KeyOf extracts the canonical identity key from the values hosts use to
// address a peripheral: Identity, *Identity, *Peripheral, an identifier string,
// a uuid.UUID or a ble.Addr.
func KeyOf(v any) (string, bool) {
	var key string
	switch t := v.(type) {
	case Identity:
		key = t.Key()
	case *Identity:
		if t == nil {
			return "", false
		}
		key = t.Key()
	case *Peripheral:
		if t == nil {
			return "", false
		}
		key = t.Identity.Key()
	case string:
		key = CanonicalID(t)
	case uuid.UUID:
		key = t.String()
	case ble.Addr:
		if t == nil {
			return "", false
		}
		key = CanonicalID(t.String())
	default:
		return "", false
	}
	return key, key != ""
}
