package lease

import (
	"testing"
	"time"
)

func TestFreeGrantsFirstRequester(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	l, reply, ev := m.RequestControl(1, Size{80, 24}, false, time.Now())
	if reply != ReplyGrant || l.OwnerClientID != 1 || ev != nil {
		t.Fatalf("reply=%v lease=%+v ev=%+v", reply, l, ev)
	}
}

func TestExplicitOnlyDeniesWithoutForce(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	_, reply, ev := m.RequestControl(2, Size{80, 24}, false, time.Now())
	if reply != ReplyDeny || ev != nil {
		t.Fatalf("reply=%v ev=%+v, want Deny/nil", reply, ev)
	}
}

func TestExplicitOnlyTakeoverWithForce(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	l, reply, ev := m.RequestControl(2, Size{100, 30}, true, time.Now())
	if reply != ReplyGrant || l.OwnerClientID != 2 {
		t.Fatalf("reply=%v lease=%+v", reply, l)
	}
	if ev == nil || ev.RevokedLease.OwnerClientID != 1 || ev.RevokeReason != RevokeTakeover {
		t.Fatalf("event=%+v, want revoke of client 1", ev)
	}
	if l.CurrentSize != (Size{100, 30}) {
		t.Fatalf("current_size = %+v, want 100x30", l.CurrentSize)
	}
}

func TestLastWriterWinsAlwaysTakesOver(t *testing.T) {
	m := NewManager(PolicyLastWriterWins, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	_, reply, ev := m.RequestControl(2, Size{80, 24}, false, time.Now())
	if reply != ReplyGrant || ev == nil {
		t.Fatalf("reply=%v ev=%+v, want grant+revoke", reply, ev)
	}
}

func TestKeepAliveIgnoredForNonOwner(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	if got := m.KeepAlive(2, time.Now()); got != ReplyIgnored {
		t.Fatalf("keepalive from non-owner = %v, want Ignored", got)
	}
}

func TestReleaseFreesLease(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	m.Release(1)
	if m.Current() != nil {
		t.Fatalf("lease should be free after release")
	}
}

func TestTickRevokesOnTimeout(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 10) // 10ms duration
	start := time.Now()
	m.RequestControl(1, Size{80, 24}, false, start)
	ev := m.Tick(start.Add(50 * time.Millisecond))
	if ev == nil || ev.RevokeReason != RevokeTimeout {
		t.Fatalf("event=%+v, want timeout revoke", ev)
	}
	if m.Current() != nil {
		t.Fatalf("lease should be free after timeout")
	}
}

func TestOnDisconnectReleasesOwnerOnly(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	if ev := m.OnDisconnect(2); ev != nil {
		t.Fatalf("disconnect of non-owner should be a no-op, got %+v", ev)
	}
	ev := m.OnDisconnect(1)
	if ev == nil || ev.RevokeReason != RevokeDisconnect {
		t.Fatalf("event=%+v, want disconnect revoke", ev)
	}
}

func TestIsControllerGatesInput(t *testing.T) {
	m := NewManager(PolicyExplicitOnly, 30000)
	m.RequestControl(1, Size{80, 24}, false, time.Now())
	if !m.IsController(1) {
		t.Fatalf("owner should be controller")
	}
	if m.IsController(2) {
		t.Fatalf("non-owner should not be controller (P9)")
	}
}
