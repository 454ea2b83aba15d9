// Buzzerbox Game Room
//
// Each game session is one Room, identified by a 4-character code. The host
// creates the room and runs the host view; players join with a name and team,
// then race to buzz. The room records buzz arrival order per round and pushes
// the ordered queue, the live roster, and team scores to every subscribed
// connection after each change.
//
// All room state is owned by a single goroutine running the event loop in
// run(). Inbound client messages, transport disconnects, and eviction timer
// firings are all delivered as events on the room's channels and handled to
// completion one at a time, so no locks guard the roster, queue, or scores.
// Eviction timers fire on their own goroutines but only ever enqueue a
// notice for the loop; they never touch state directly.

package main

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// participant is one roster entry. The host is never in the roster.
type participant struct {
	identity       string
	name           string
	team           string
	conn           *client         // nil while disconnected
	disconnectedAt time.Time       // zero while attached
	evict          clockwork.Timer // pending eviction, nil unless in grace
}

// buzzKey suppresses duplicate buzzes within one round. Keyed by the
// (name, team) pair as a struct, so names containing delimiters cannot
// corrupt the key.
type buzzKey struct {
	name string
	team string
}

type inbound struct {
	c   *client
	msg ClientMessage
}

// evictNotice is enqueued when an eviction timer fires. identity is empty
// for the host slot. The handler re-validates disconnect state and elapsed
// time before acting, since the timer was scheduled optimistically.
type evictNotice struct {
	identity string
}

type Room struct {
	code string

	hostIdentity       string
	hostName           string
	hostToken          string
	hostConn           *client
	hostDisconnectedAt time.Time
	hostEvict          clockwork.Timer

	roster   map[string]*participant
	buzzes   []Buzz
	buzzSeen map[buzzKey]bool
	scores   map[string]int

	clients map[*client]bool

	requests   chan inbound
	unregister chan *client
	evictions  chan evictNotice
	destroyreq chan struct{}
	done       chan struct{}

	clock       clockwork.Clock
	hostGrace   time.Duration
	playerGrace time.Duration
	onDestroy   func(code string)
}

func newRoom(code, hostIdentity, hostName, hostToken string, clock clockwork.Clock, hostGrace, playerGrace time.Duration) *Room {
	return &Room{
		code:         code,
		hostIdentity: hostIdentity,
		hostName:     hostName,
		hostToken:    hostToken,
		roster:       make(map[string]*participant),
		buzzes:       []Buzz{},
		buzzSeen:     make(map[buzzKey]bool),
		scores:       make(map[string]int),
		clients:      make(map[*client]bool),
		requests:     make(chan inbound),
		unregister:   make(chan *client),
		evictions:    make(chan evictNotice, 16),
		destroyreq:   make(chan struct{}),
		done:         make(chan struct{}),
		clock:        clock,
		hostGrace:    hostGrace,
		playerGrace:  playerGrace,
	}
}

func (rm *Room) run() {
	for {
		// A destroy closes done from inside an event handler; nothing may
		// be processed for the room after that.
		select {
		case <-rm.done:
			return
		default:
		}

		select {
		case in := <-rm.requests:
			rm.handleRequest(in)
		case c := <-rm.unregister:
			rm.handleDisconnect(c)
		case n := <-rm.evictions:
			rm.handleEviction(n)
		case <-rm.destroyreq:
			rm.destroy("This game has been closed.")
			return
		case <-rm.done:
			return
		}
	}
}

// dispatch hands a client message to the room's event loop. If the room has
// already been destroyed, the sender alone is told the game is gone.
func (rm *Room) dispatch(c *client, msg ClientMessage) {
	select {
	case rm.requests <- inbound{c: c, msg: msg}:
	case <-rm.done:
		c.trySend(errorMessage(errRoomNotFound.Error()))
	}
}

func (rm *Room) disconnect(c *client) {
	select {
	case rm.unregister <- c:
	case <-rm.done:
	}
}

func (rm *Room) enqueueEviction(n evictNotice) {
	select {
	case rm.evictions <- n:
	case <-rm.done:
	}
}

func (rm *Room) requestDestroy() {
	select {
	case rm.destroyreq <- struct{}{}:
	case <-rm.done:
	}
}

func (rm *Room) handleRequest(in inbound) {
	switch in.msg.Type {
	case "createGame":
		rm.handleCreate(in)
	case "join":
		rm.handleJoin(in)
	case "buzz":
		rm.handleBuzz(in)
	case "clear":
		rm.handleClear(in)
	case "awardPoint":
		rm.handleAward(in)
	case "hostLoaded":
		rm.handleHostLoaded(in)
	case "playerLoaded":
		rm.handlePlayerLoaded(in)
	}
}

// handleCreate binds the creating connection as host and sends it the game
// code, the recovery token, and an initial (empty) state snapshot.
func (rm *Room) handleCreate(in inbound) {
	rm.hostConn = in.c
	rm.clients[in.c] = true

	in.c.trySend(GameCreatedMessage{
		Type:      "gameCreated",
		Code:      rm.code,
		HostToken: rm.hostToken,
	})
	rm.syncClient(in.c)

	log.Info().Str("game", rm.code).Str("host", rm.hostName).Msg("game created")
}

func (rm *Room) handleJoin(in inbound) {
	c := in.c
	msg := in.msg

	if msg.HostToken != "" {
		rm.handleHostRecover(c, msg)
		return
	}

	// The host rejoining through the player path is never inserted into
	// the roster. A second live connection asserting the host identity is
	// a conflicting duplicate session.
	if msg.Identity == rm.hostIdentity {
		if rm.hostDisconnectedAt.IsZero() && rm.hostConn != nil && rm.hostConn != c {
			c.trySend(errorMessage(errDuplicateSession.Error()))
			return
		}
		rm.attachHost(c, msg.Identity, false)
		return
	}

	if err := rm.addParticipant(msg.Identity, msg.Name, msg.Team, c); err != nil {
		c.trySend(errorMessage(err.Error()))
		return
	}

	rm.clients[c] = true

	log.Debug().Str("game", rm.code).Str("player", msg.Name).Str("team", msg.Team).Msg("player joined")

	rm.broadcastActive()
}

func (rm *Room) handleBuzz(in inbound) {
	buzzes := rm.recordBuzz(in.msg.Name, in.msg.Team)

	log.Debug().Str("game", rm.code).Str("player", in.msg.Name).Str("team", in.msg.Team).Msg("buzz")

	rm.broadcast(buzzesMessage(buzzes))
}

func (rm *Room) handleClear(in inbound) {
	buzzes := rm.clearBuzzes()

	log.Debug().Str("game", rm.code).Msg("buzzes cleared")

	rm.broadcast(buzzesMessage(buzzes))
}

func (rm *Room) handleAward(in inbound) {
	scores := rm.awardPoint(in.msg.Team)

	log.Debug().Str("game", rm.code).Str("team", in.msg.Team).Msg("point awarded")

	rm.broadcast(scoresMessage(scores))
}

// handleHostLoaded re-subscribes a host page on (re)load and resyncs it.
// The recovery token is the host credential; a valid token always rebinds
// the host connection, since a page navigation races the old connection's
// disconnect event.
func (rm *Room) handleHostLoaded(in inbound) {
	if in.msg.HostToken != rm.hostToken {
		in.c.trySend(errorMessage(errMalformedInput.Error()))
		return
	}

	rm.attachHost(in.c, in.msg.Identity, false)
}

// handlePlayerLoaded re-subscribes a player page on (re)load and resyncs it.
// A participant still inside their grace window is reattached as if they
// had rejoined.
func (rm *Room) handlePlayerLoaded(in inbound) {
	rm.clients[in.c] = true

	p, ok := rm.roster[in.msg.Identity]
	if ok && !p.disconnectedAt.IsZero() && rm.clock.Since(p.disconnectedAt) < rm.playerGrace {
		rm.cancelParticipantEviction(p)
		p.disconnectedAt = time.Time{}
		p.conn = in.c
		rm.broadcastActive()
	}

	rm.syncClient(in.c)
}

// addParticipant inserts a new roster entry, or reattaches one still inside
// its grace window. An identity that is already attached is a conflicting
// duplicate session. An identity whose window has elapsed (timer not yet
// fired due to scheduler slack) is purged first and re-added fresh.
func (rm *Room) addParticipant(identity, name, team string, c *client) error {
	p, ok := rm.roster[identity]
	if ok {
		if p.disconnectedAt.IsZero() {
			return errDuplicateSession
		}

		if rm.clock.Since(p.disconnectedAt) < rm.playerGrace {
			rm.cancelParticipantEviction(p)
			p.disconnectedAt = time.Time{}
			p.conn = c
			p.name = name
			p.team = team
			return nil
		}

		rm.cancelParticipantEviction(p)
		delete(rm.roster, identity)
	}

	rm.roster[identity] = &participant{
		identity: identity,
		name:     name,
		team:     team,
		conn:     c,
	}

	return nil
}

// removeParticipant deletes a roster entry unconditionally. Used only after
// an eviction timer has fired and been revalidated.
func (rm *Room) removeParticipant(identity string) {
	delete(rm.roster, identity)
}

// recordBuzz appends a buzz in arrival order, suppressing duplicates within
// the round, and returns the full ordered queue.
func (rm *Room) recordBuzz(name, team string) []Buzz {
	key := buzzKey{name: name, team: team}
	if !rm.buzzSeen[key] {
		rm.buzzSeen[key] = true
		rm.buzzes = append(rm.buzzes, Buzz{Name: name, Team: team})
	}

	return rm.buzzQueue()
}

func (rm *Room) clearBuzzes() []Buzz {
	rm.buzzes = []Buzz{}
	rm.buzzSeen = make(map[buzzKey]bool)

	return rm.buzzQueue()
}

// awardPoint increments a team's score, creating the entry at 1 if absent,
// and returns a snapshot of all scores.
func (rm *Room) awardPoint(team string) map[string]int {
	rm.scores[team]++

	return rm.scoreTotals()
}

func (rm *Room) buzzQueue() []Buzz {
	queue := make([]Buzz, len(rm.buzzes))
	copy(queue, rm.buzzes)

	return queue
}

func (rm *Room) scoreTotals() map[string]int {
	totals := make(map[string]int, len(rm.scores))
	for team, score := range rm.scores {
		totals[team] = score
	}

	return totals
}

// activeRoster returns the participants currently attached. A participant
// inside their grace window is invisible to clients until they reattach.
func (rm *Room) activeRoster() []User {
	users := make([]User, 0, len(rm.roster))
	for _, p := range rm.roster {
		if !p.disconnectedAt.IsZero() {
			continue
		}
		users = append(users, User{
			ID:   p.identity,
			Name: p.name,
			Team: p.team,
		})
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})

	return users
}

func (rm *Room) broadcast(msg any) {
	for c := range rm.clients {
		c.trySend(msg)
	}
}

func (rm *Room) broadcastActive() {
	rm.broadcast(activeMessage(rm.activeRoster()))
}

// syncClient sends one connection the full current state of every sub-state,
// so a client that missed intermediate updates self-heals.
func (rm *Room) syncClient(c *client) {
	c.trySend(activeMessage(rm.activeRoster()))
	c.trySend(buzzesMessage(rm.buzzQueue()))
	c.trySend(scoresMessage(rm.scoreTotals()))
}
