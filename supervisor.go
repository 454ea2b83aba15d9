// Reconnection supervision for the host slot and each roster participant.
//
// Both follow the same Attached -> Grace -> Evicted state machine, differing
// only in the grace duration and in what eviction destroys: a participant
// eviction removes one roster entry, a host eviction removes the whole room.
// Timers are one-shot clockwork timers so tests can drive them with a fake
// clock; every transition that invalidates a timer cancels it, and the
// eviction handler re-validates state at fire time since the timer was
// scheduled optimistically.

package main

import (
	"time"

	"github.com/rs/zerolog/log"
)

const hostGoneReason = "This game has ended because the host did not return."

// handleDisconnect processes a transport-level disconnect. Only the current
// connection for an entity may move it into Grace; a stale connection
// dropping after a successful reconnect matches nothing and is ignored.
func (rm *Room) handleDisconnect(c *client) {
	delete(rm.clients, c)

	if c == rm.hostConn {
		rm.hostConn = nil
		rm.hostDisconnectedAt = rm.clock.Now()
		rm.hostEvict = rm.clock.AfterFunc(rm.hostGrace, func() {
			rm.enqueueEviction(evictNotice{})
		})

		log.Debug().Str("game", rm.code).Dur("grace", rm.hostGrace).Msg("host disconnected")

		return
	}

	for _, p := range rm.roster {
		if p.conn != c {
			continue
		}

		p.conn = nil
		p.disconnectedAt = rm.clock.Now()
		identity := p.identity
		p.evict = rm.clock.AfterFunc(rm.playerGrace, func() {
			rm.enqueueEviction(evictNotice{identity: identity})
		})

		log.Debug().Str("game", rm.code).Str("player", p.name).Dur("grace", rm.playerGrace).Msg("player disconnected")

		// Disconnected participants leave the active roster immediately,
		// even though their entry survives for the grace window.
		rm.broadcastActive()

		return
	}
}

// handleEviction runs when an eviction timer's notice reaches the event
// loop. The entity must still be disconnected and its full grace window
// must have elapsed, otherwise the firing is stale and ignored.
func (rm *Room) handleEviction(n evictNotice) {
	if n.identity == "" {
		if rm.hostDisconnectedAt.IsZero() || rm.clock.Since(rm.hostDisconnectedAt) < rm.hostGrace {
			return
		}

		log.Info().Str("game", rm.code).Msg("host grace window elapsed, ending game")

		rm.destroy(hostGoneReason)

		return
	}

	p, ok := rm.roster[n.identity]
	if !ok || p.disconnectedAt.IsZero() || rm.clock.Since(p.disconnectedAt) < rm.playerGrace {
		return
	}

	log.Debug().Str("game", rm.code).Str("player", p.name).Msg("player grace window elapsed, removing")

	rm.cancelParticipantEviction(p)
	rm.removeParticipant(n.identity)
	rm.broadcastActive()
}

// handleHostRecover processes a join carrying a host recovery token. The
// token, issued at room creation, replaces name-matching heuristics: only a
// client presenting it verbatim can reclaim the host slot.
func (rm *Room) handleHostRecover(c *client, msg ClientMessage) {
	if msg.HostToken != rm.hostToken {
		c.trySend(errorMessage(errMalformedInput.Error()))
		return
	}

	rm.attachHost(c, msg.Identity, true)
}

// attachHost binds a connection as the room's host. If the host slot is in
// Grace within its window, this is a reconnection: the timer is canceled and
// hostIdentity is rebound to the new token, since identity tokens do not
// survive a host's full page reload. If the window has already elapsed the
// room cannot outlive its host; it is torn down and the caller is told the
// game no longer exists.
func (rm *Room) attachHost(c *client, identity string, redirect bool) {
	if !rm.hostDisconnectedAt.IsZero() {
		if rm.clock.Since(rm.hostDisconnectedAt) >= rm.hostGrace {
			c.trySend(errorMessage(errRoomNotFound.Error()))
			rm.destroy(hostGoneReason)
			return
		}

		rm.cancelHostEviction()
		rm.hostDisconnectedAt = time.Time{}

		log.Debug().Str("game", rm.code).Msg("host reconnected")
	}

	if identity != "" {
		rm.hostIdentity = identity
	}
	rm.hostConn = c
	rm.clients[c] = true

	if redirect {
		c.trySend(RedirectMessage{Type: "redirectToHost", Code: rm.code})
	}

	rm.syncClient(c)
}

func (rm *Room) cancelHostEviction() {
	if rm.hostEvict != nil {
		rm.hostEvict.Stop()
		rm.hostEvict = nil
	}
}

func (rm *Room) cancelParticipantEviction(p *participant) {
	if p.evict != nil {
		p.evict.Stop()
		p.evict = nil
	}
}

// destroy tears the room down: every pending timer is canceled so no stale
// eviction can fire against freed state, subscribers get a terminal notice,
// and the room is removed from the registry.
func (rm *Room) destroy(reason string) {
	rm.cancelHostEviction()
	for _, p := range rm.roster {
		rm.cancelParticipantEviction(p)
	}

	for c := range rm.clients {
		c.trySend(errorMessage(reason))
		c.closeSend()
		delete(rm.clients, c)
	}

	if rm.onDestroy != nil {
		rm.onDestroy(rm.code)
	}

	close(rm.done)

	log.Info().Str("game", rm.code).Msg("game destroyed")
}
