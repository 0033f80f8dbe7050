package syncer

import "sync"

// Capability is the three-valued knowledge about one optional device
// member or the bulk-read mode.
type Capability int

const (
	CapUnknown Capability = iota
	CapSupported
	CapUnsupported
)

func (c Capability) String() string {
	switch c {
	case CapSupported:
		return "supported"
	case CapUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// CapabilityRecord tracks what one connected device implements. It lives
// for a single connection session; reconnecting creates a fresh record
// with everything back to unknown.
//
// Transitions only ever leave CapUnknown. Once a capability is resolved
// it stays resolved for the session.
type CapabilityRecord struct {
	mu      sync.Mutex
	bulk    Capability
	members map[string]Capability
}

func NewCapabilityRecord() *CapabilityRecord {
	return &CapabilityRecord{members: make(map[string]Capability)}
}

// BulkRead returns the bulk-read capability.
func (r *CapabilityRecord) BulkRead() Capability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bulk
}

// ResolveBulkRead resolves the bulk-read capability. Only the first call
// has effect; the unknown state transitions exactly once per session.
func (r *CapabilityRecord) ResolveBulkRead(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bulk == CapUnknown {
		r.bulk = c
	}
}

// Member returns the capability of an optional member.
func (r *CapabilityRecord) Member(name string) Capability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[name]
}

// MarkSupported records a successful probe of an optional member.
func (r *CapabilityRecord) MarkSupported(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[name] == CapUnknown {
		r.members[name] = CapSupported
	}
}

// MarkUnsupported records that the device does not implement the member.
// Permanent for the session: the member is never probed again.
func (r *CapabilityRecord) MarkUnsupported(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[name] = CapUnsupported
}

// Unsupported lists the members known to be unsupported.
func (r *CapabilityRecord) Unsupported() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, c := range r.members {
		if c == CapUnsupported {
			out = append(out, name)
		}
	}
	return out
}
