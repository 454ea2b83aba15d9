package main

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 4

	// Retry cap for code generation. The keyspace holds ~1.7M codes, so
	// hitting this consistently means the process is drowning in rooms.
	codeAttempts = 1000
)

// Registry owns the process-wide mapping from game code to Room. It is an
// explicitly-scoped store injected into the gateway, so tests get isolated
// instances. The registry mutex guards only the map; all room state belongs
// to each room's own event loop.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	clock       clockwork.Clock
	hostGrace   time.Duration
	playerGrace time.Duration
}

func newRegistry(clock clockwork.Clock, hostGrace, playerGrace time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		clock:       clock,
		hostGrace:   hostGrace,
		playerGrace: playerGrace,
	}
}

// newGameCodeLocked generates a crypto-random 4-character code unique among
// live rooms, resampling on collision up to the retry cap.
func (reg *Registry) newGameCodeLocked() (string, error) {
	for attempt := 0; attempt < codeAttempts; attempt++ {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}

		out := make([]byte, codeLength)
		for i := range out {
			out[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code, nil
		}
	}

	return "", errCapacityExhausted
}

// createRoom allocates a code, issues the host recovery token, and starts
// the room's event loop.
func (reg *Registry) createRoom(hostIdentity, hostName string) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code, err := reg.newGameCodeLocked()
	if err != nil {
		return nil, err
	}

	rm := newRoom(code, hostIdentity, hostName, uuid.NewString(), reg.clock, reg.hostGrace, reg.playerGrace)
	rm.onDestroy = reg.remove
	reg.rooms[code] = rm

	go rm.run()

	return rm, nil
}

func (reg *Registry) getRoom(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rm, ok := reg.rooms[code]

	return rm, ok
}

// remove drops a room from the map. Called by the room's own teardown, which
// has already canceled its timers.
func (reg *Registry) remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.rooms, code)
}

// deleteRoom removes a room and asks its loop to tear down, canceling every
// pending host and participant timer so no stale eviction fires afterwards.
func (reg *Registry) deleteRoom(code string) {
	reg.mu.Lock()
	rm, ok := reg.rooms[code]
	delete(reg.rooms, code)
	reg.mu.Unlock()

	if !ok {
		return
	}

	log.Debug().Str("game", code).Msg("deleting game")

	rm.requestDestroy()
}
