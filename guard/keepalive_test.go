package guard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lockedBinding(sessionRef string) Binding {
	return Binding{
		OwnerID:        "alice",
		AccountToken:   "tok-alice",
		Locked:         true,
		LockSessionRef: sessionRef,
	}
}

func newTestKeepalive(s *fakeStore, api *fakeAPI) *Keepalive {
	return &Keepalive{
		Store:    s,
		API:      api,
		Machine:  MachineParams{PlaceID: "place-1", ClientID: "client-1"},
		Interval: 5 * time.Minute,
		Width:    3,
	}
}

func TestKeepaliveReassertsHeldLock(t *testing.T) {
	s := newFakeStore(lockedBinding("sess-1"))
	api := &fakeAPI{lockResult: &LockResult{Success: true, SessionRef: "sess-1"}}
	k := newTestKeepalive(s, api)

	k.runOnce(context.Background())

	require.Equal(t, 1, api.lockCalls)
	require.Empty(t, s.sessionWrites, "unchanged session ref must not be rewritten")
}

func TestKeepalivePersistsRotatedSessionRef(t *testing.T) {
	s := newFakeStore(lockedBinding("sess-1"))
	api := &fakeAPI{lockResult: &LockResult{Success: true, SessionRef: "sess-2"}}
	k := newTestKeepalive(s, api)

	k.runOnce(context.Background())

	require.Equal(t, []string{"alice=sess-2"}, s.sessionWrites)
	require.Equal(t, "sess-2", s.binding("alice").LockSessionRef)
	require.True(t, s.binding("alice").Locked)
}

func TestKeepaliveIgnoresEmptySessionRef(t *testing.T) {
	s := newFakeStore(lockedBinding("sess-1"))
	api := &fakeAPI{lockResult: &LockResult{Success: true}}
	k := newTestKeepalive(s, api)

	k.runOnce(context.Background())

	require.Empty(t, s.sessionWrites)
	require.Equal(t, "sess-1", s.binding("alice").LockSessionRef)
}

func TestKeepaliveSkipsUnlockedOnReread(t *testing.T) {
	s := newFakeStore(lockedBinding("sess-1"))
	api := &fakeAPI{lockResult: &LockResult{Success: true, SessionRef: "sess-1"}}
	k := newTestKeepalive(s, api)

	// The operator unlocks between the scan listing the binding and the
	// handler's re-read: no lock call may go out.
	s.onGet = func(call int, b *Binding) {
		if b != nil {
			b.Locked = false
		}
	}

	k.runOnce(context.Background())

	require.Zero(t, api.lockCalls)
}

func TestKeepaliveErrorNeverReleasesLock(t *testing.T) {
	s := newFakeStore(lockedBinding("sess-1"))
	api := &fakeAPI{lockErr: fmt.Errorf("backend unreachable")}
	k := newTestKeepalive(s, api)

	k.runOnce(context.Background())

	b := s.binding("alice")
	require.True(t, b.Locked, "a failed refresh must leave the lock held")
	require.Equal(t, "sess-1", b.LockSessionRef)
}

func TestKeepaliveRejectionLeavesStateAlone(t *testing.T) {
	s := newFakeStore(lockedBinding("sess-1"))
	api := &fakeAPI{lockResult: &LockResult{Success: false, SessionRef: "ignored"}}
	k := newTestKeepalive(s, api)

	k.runOnce(context.Background())

	require.Empty(t, s.sessionWrites)
	require.True(t, s.binding("alice").Locked)
	require.Equal(t, "sess-1", s.binding("alice").LockSessionRef)
}
