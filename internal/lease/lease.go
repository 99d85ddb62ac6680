// Package lease implements the Lease Manager (spec.md §4.6): the
// controller-lease state machine arbitrating write access among concurrent
// clients under two takeover policies.
package lease

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framegrace/zrp/protocol"
)

// Policy mirrors spec.md §6 ControllerPolicy.
type Policy = protocol.ControllerPolicy

const (
	PolicyExplicitOnly   = protocol.PolicyExplicitOnly
	PolicyLastWriterWins = protocol.PolicyLastWriterWins
)

// Size is a cols x rows viewport.
type Size struct{ Cols, Rows uint16 }

// Lease mirrors spec.md §3 Lease.
type Lease struct {
	ID                 uint64
	OwnerClientID       uint64
	Policy             Policy
	CurrentSize        Size
	DurationMs         uint32
	lastKeepaliveAt    time.Time
}

// Reply is returned to the requester (and, on takeover, also delivered to
// the revoked owner as a Revoke).
type Reply int

const (
	ReplyGrant Reply = iota
	ReplyDeny
	ReplyIgnored
)

// RevokeReason mirrors the reasons in spec.md's state table and §7.
type RevokeReason string

const (
	RevokeTakeover   RevokeReason = "takeover"
	RevokeTimeout    RevokeReason = "timeout"
	RevokeDisconnect RevokeReason = "disconnect"
)

// Event is emitted alongside a Reply to describe a side effect the
// session must broadcast (e.g. revoking the prior owner).
type Event struct {
	RevokedLease *Lease
	RevokeReason RevokeReason
}

// Manager holds the Free/Held(lease) state machine for one session. Per
// spec.md §5, it has a single owning task (the session task), so despite
// the mutex here (defensive, cheap, and matches the rest of this port's
// style) there is in practice never contention: the session processes
// lease messages strictly in arrival order, pinning Open Question (c).
type Manager struct {
	mu         sync.Mutex
	held       *Lease
	policy     Policy
	durationMs uint32
}

// NewManager returns a lease manager in the Free state with the given
// default takeover policy and keepalive duration for newly-granted leases.
func NewManager(policy Policy, durationMs uint32) *Manager {
	if policy == protocol.PolicyUnspecified {
		policy = PolicyExplicitOnly
	}
	return &Manager{policy: policy, durationMs: durationMs}
}

// newLeaseID mints an opaque 64-bit lease id from a fresh UUID's first 8 bytes,
// matching the teacher's crypto/rand-backed id minting generalized to a
// real UUID library per SPEC_FULL.md §11's dependency wiring.
func newLeaseID() uint64 {
	id := uuid.New()
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// RequestControl mirrors spec.md §4.6's request_control transitions.
func (m *Manager) RequestControl(clientID uint64, size Size, force bool, now time.Time) (*Lease, Reply, *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held == nil {
		m.held = &Lease{
			ID: newLeaseID(), OwnerClientID: clientID, Policy: m.policy,
			CurrentSize: size, DurationMs: m.durationMs, lastKeepaliveAt: now,
		}
		return m.held, ReplyGrant, nil
	}

	if m.held.OwnerClientID == clientID {
		m.held.CurrentSize = size
		m.held.lastKeepaliveAt = now
		return m.held, ReplyGrant, nil
	}

	takeover := m.held.Policy == PolicyLastWriterWins || force
	if !takeover {
		return m.held, ReplyDeny, nil
	}

	prior := m.held
	m.held = &Lease{
		ID: newLeaseID(), OwnerClientID: clientID, Policy: m.policy,
		CurrentSize: size, DurationMs: m.durationMs, lastKeepaliveAt: now,
	}
	return m.held, ReplyGrant, &Event{RevokedLease: prior, RevokeReason: RevokeTakeover}
}

// KeepAlive refreshes the lease if the caller is the current owner;
// otherwise it is silently ignored (spec.md: "keep_alive(c≠l.owner) → ignore").
func (m *Manager) KeepAlive(clientID uint64, now time.Time) Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil || m.held.OwnerClientID != clientID {
		return ReplyIgnored
	}
	m.held.lastKeepaliveAt = now
	return ReplyGrant
}

// Release transitions Held(owner) -> Free. No-op for non-owners.
func (m *Manager) Release(clientID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held != nil && m.held.OwnerClientID == clientID {
		m.held = nil
	}
}

// SetControllerSize updates the current lease's viewport, the authoritative
// size for the session (spec.md §4.6).
func (m *Manager) SetControllerSize(clientID uint64, size Size) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil || m.held.OwnerClientID != clientID {
		return false
	}
	m.held.CurrentSize = size
	return true
}

// Tick checks for keepalive timeout; call periodically from the session's
// scheduler (grounded on the teacher's debounced timer pattern).
func (m *Manager) Tick(now time.Time) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		return nil
	}
	durationMs := m.held.DurationMs
	if durationMs == 0 {
		return nil
	}
	if now.Sub(m.held.lastKeepaliveAt) > time.Duration(durationMs)*time.Millisecond {
		prior := m.held
		m.held = nil
		return &Event{RevokedLease: prior, RevokeReason: RevokeTimeout}
	}
	return nil
}

// OnDisconnect releases the lease if the disconnecting client held it.
func (m *Manager) OnDisconnect(clientID uint64) *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held != nil && m.held.OwnerClientID == clientID {
		prior := m.held
		m.held = nil
		return &Event{RevokedLease: prior, RevokeReason: RevokeDisconnect}
	}
	return nil
}

// Current returns the held lease, or nil if Free. Satisfies P8
// (lease uniqueness): at most one non-nil owner at any instant.
func (m *Manager) Current() *Lease {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// IsController reports whether clientID currently holds the lease —
// the gate Input Receiver consults before forwarding to the PTY sink (P9).
func (m *Manager) IsController(clientID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held != nil && m.held.OwnerClientID == clientID
}
