package main

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// awaitEviction waits for a timer firing to reach the room's event queue.
func awaitEviction(t *testing.T, rm *Room) evictNotice {
	t.Helper()

	select {
	case n := <-rm.evictions:
		return n
	case <-time.After(time.Second):
		t.Fatal("expected an eviction notice")
		return evictNotice{}
	}
}

func requireNoEviction(t *testing.T, rm *Room) {
	t.Helper()

	select {
	case n := <-rm.evictions:
		t.Fatalf("unexpected eviction notice: %+v", n)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPlayerReconnectWithinGraceCancelsEviction(t *testing.T) {
	rm, clock := newTestRoom(t)

	c1 := joinPlayer(t, rm, "p1", "Alice", "Red")
	rm.handleDisconnect(c1)

	clock.Advance(119 * time.Second)

	c2 := joinPlayer(t, rm, "p1", "Alice", "Red")
	p := rm.roster["p1"]
	require.Same(t, c2, p.conn)
	require.True(t, p.disconnectedAt.IsZero())

	// Past the original deadline; the canceled timer must not fire.
	clock.Advance(time.Minute)
	requireNoEviction(t, rm)
	require.Contains(t, rm.roster, "p1")
}

func TestPlayerEvictedAfterGraceWindow(t *testing.T) {
	rm, clock := newTestRoom(t)

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})

	c1 := joinPlayer(t, rm, "p1", "Alice", "Red")
	rm.handleDisconnect(c1)

	clock.Advance(121 * time.Second)
	rm.handleEviction(awaitEviction(t, rm))

	require.NotContains(t, rm.roster, "p1")

	// Subscribers observe the shrunken roster.
	active, ok := lastOf[ActiveMessage](t, host)
	require.True(t, ok)
	require.Empty(t, active.Users)
}

func TestStaleConnectionDisconnectIgnored(t *testing.T) {
	rm, clock := newTestRoom(t)

	c1 := joinPlayer(t, rm, "p1", "Alice", "Red")
	rm.handleDisconnect(c1)

	clock.Advance(10 * time.Second)

	c2 := joinPlayer(t, rm, "p1", "Alice", "Red")

	// The old connection's disconnect arrives after the reconnect; it no
	// longer correlates to the participant and must not re-enter Grace.
	rm.handleDisconnect(c1)

	p := rm.roster["p1"]
	require.Same(t, c2, p.conn)
	require.True(t, p.disconnectedAt.IsZero())
	require.Nil(t, p.evict)
}

func TestHostEvictionDestroysRoomAndCancelsParticipantTimers(t *testing.T) {
	clock := clockwork.NewFakeClock()

	// Player grace outlives host grace here, so the participant's timer is
	// still pending when the room is torn down.
	rm := newRoom("AB12", "h1", "Ziming", "secret-token", clock, 5*time.Minute, 10*time.Minute)

	destroyed := []string{}
	rm.onDestroy = func(code string) {
		destroyed = append(destroyed, code)
	}

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})

	c1 := joinPlayer(t, rm, "p1", "Alice", "Red")
	rm.handleDisconnect(c1)
	rm.handleDisconnect(host)

	clock.Advance(5*time.Minute + time.Second)
	rm.handleEviction(awaitEviction(t, rm))

	require.Equal(t, []string{"AB12"}, destroyed)

	select {
	case <-rm.done:
	default:
		t.Fatal("expected room to be shut down")
	}

	// The participant's pending eviction was canceled during teardown.
	clock.Advance(10 * time.Minute)
	requireNoEviction(t, rm)
}

func TestHostReconnectWithinGrace(t *testing.T) {
	rm, clock := newTestRoom(t)

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})
	rm.handleDisconnect(host)

	clock.Advance(4 * time.Minute)

	// Identity tokens do not survive a full page reload, so the recovered
	// host presents a fresh one alongside the recovery token.
	c2 := newTestClient()
	rm.handleRequest(inbound{c: c2, msg: ClientMessage{
		Type:      "join",
		Identity:  "h2",
		Code:      "AB12",
		HostToken: "secret-token",
	}})

	require.Equal(t, "h2", rm.hostIdentity)
	require.Same(t, c2, rm.hostConn)
	require.True(t, rm.hostDisconnectedAt.IsZero())

	redirect, ok := lastOf[RedirectMessage](t, c2)
	require.True(t, ok)
	require.Equal(t, "AB12", redirect.Code)

	clock.Advance(2 * time.Minute)
	requireNoEviction(t, rm)
}

func TestHostRecoverRejectsWrongToken(t *testing.T) {
	rm, _ := newTestRoom(t)

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})
	rm.handleDisconnect(host)

	c2 := newTestClient()
	rm.handleRequest(inbound{c: c2, msg: ClientMessage{
		Type:      "join",
		Identity:  "h2",
		Code:      "AB12",
		HostToken: "wrong",
	}})

	require.Nil(t, rm.hostConn)
	require.Equal(t, "h1", rm.hostIdentity)

	errMsg, ok := lastOf[ErrorMessage](t, c2)
	require.True(t, ok)
	require.NotEmpty(t, errMsg.Message)
}

func TestHostRecoverAfterWindowEndsGame(t *testing.T) {
	rm, clock := newTestRoom(t)

	destroyed := 0
	rm.onDestroy = func(string) { destroyed++ }

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})
	rm.handleDisconnect(host)

	// The window has elapsed but the firing has not been processed yet.
	clock.Advance(testHostGrace + time.Second)

	c2 := newTestClient()
	rm.handleRequest(inbound{c: c2, msg: ClientMessage{
		Type:      "join",
		Identity:  "h2",
		Code:      "AB12",
		HostToken: "secret-token",
	}})

	require.Equal(t, 1, destroyed)

	errMsg, ok := lastOf[ErrorMessage](t, c2)
	require.True(t, ok)
	require.Equal(t, errRoomNotFound.Error(), errMsg.Message)
}

func TestDuplicateHostJoinRejected(t *testing.T) {
	rm, _ := newTestRoom(t)

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})

	// A second live connection asserting the host identity without the
	// recovery token is a conflicting duplicate session.
	c2 := newTestClient()
	rm.handleRequest(inbound{c: c2, msg: ClientMessage{
		Type:     "join",
		Identity: "h1",
		Name:     "Ziming",
		Team:     "Red",
		Code:     "AB12",
	}})

	require.Same(t, host, rm.hostConn)

	errMsg, ok := lastOf[ErrorMessage](t, c2)
	require.True(t, ok)
	require.Equal(t, errDuplicateSession.Error(), errMsg.Message)
}

func TestHostLoadedReattachesAndResyncs(t *testing.T) {
	rm, clock := newTestRoom(t)

	host := newTestClient()
	rm.handleRequest(inbound{c: host, msg: ClientMessage{Type: "createGame", Identity: "h1", Name: "Ziming"}})

	joinPlayer(t, rm, "p1", "Alice", "Red")
	rm.recordBuzz("Alice", "Red")

	// Page navigation: the new host page connects while the old
	// connection's disconnect is still in flight.
	c2 := newTestClient()
	rm.handleRequest(inbound{c: c2, msg: ClientMessage{
		Type:      "hostLoaded",
		Identity:  "h2",
		Code:      "AB12",
		HostToken: "secret-token",
	}})

	require.Same(t, c2, rm.hostConn)

	buzzes, ok := lastOf[BuzzesMessage](t, c2)
	require.True(t, ok)
	require.Equal(t, []Buzz{{Name: "Alice", Team: "Red"}}, buzzes.Buzzes)

	// The old connection's disconnect is now stale and must not start a
	// host grace window.
	rm.handleDisconnect(host)
	require.True(t, rm.hostDisconnectedAt.IsZero())

	clock.Advance(testHostGrace + time.Minute)
	requireNoEviction(t, rm)
}
