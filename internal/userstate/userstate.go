// Package userstate tracks per-masked-IP client state shared between the
// empress (which creates entries on accept) and lackeys (which hold a
// reference for the lifetime of each connection).
package userstate

import (
	"net"
	"sync"
	"sync/atomic"
)

// State is one distinct client's accounting record. The UserID tagging a
// pixel write is the 1-based index of its State in the owning Registry.
type State struct {
	MaskedIP    net.IP
	Connections atomic.Int64
}

// Registry is the shared, reference-counted vector of States, keyed by
// masked IP. The empress is the only writer; lackeys only read shared
// *State pointers handed to them at connection intake.
type Registry struct {
	mu      sync.RWMutex
	entries []*State // index i holds UserID i+1; nil means "vacant, reusable"
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Mask applies an IPv4 or IPv6 mask (matched by address family) to ip.
func Mask(ip net.IP, ipv4Mask [4]byte, ipv6Mask [16]byte) net.IP {
	if v4 := ip.To4(); v4 != nil {
		masked := make(net.IP, 4)
		for i := range v4 {
			masked[i] = v4[i] & ipv4Mask[i]
		}
		return masked
	}
	v6 := ip.To16()
	masked := make(net.IP, 16)
	for i := range v6 {
		masked[i] = v6[i] & ipv6Mask[i]
	}
	return masked
}

// GetOrCreate looks up the State for maskedIP, reusing a vacated slot
// (Connections == 0) before growing the vector, and returns its State
// together with the 1-based UserID. The caller is responsible for
// incrementing Connections once it has committed to using the returned
// state (the registry does not increment on the caller's behalf, so a
// failed accept can look up without inflating the count).
func (r *Registry) GetOrCreate(maskedIP net.IP) (*State, uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.entries {
		if s != nil && s.MaskedIP.Equal(maskedIP) {
			return s, uint32(i + 1)
		}
	}

	for i, s := range r.entries {
		if s == nil || s.Connections.Load() == 0 {
			ns := &State{MaskedIP: maskedIP}
			r.entries[i] = ns
			return ns, uint32(i + 1)
		}
	}

	ns := &State{MaskedIP: maskedIP}
	r.entries = append(r.entries, ns)
	return ns, uint32(len(r.entries))
}

// Len returns the current vector length, including any vacant-but-not-yet-
// reused slots. Exposed for tests asserting no unbounded growth.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// At returns the State at the given 1-based UserID, or nil if out of range
// or vacant.
func (r *Registry) At(userID uint32) *State {
	if userID == 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := int(userID) - 1
	if idx < 0 || idx >= len(r.entries) {
		return nil
	}
	return r.entries[idx]
}
