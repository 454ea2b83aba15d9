// Session gateway: terminates websocket connections, validates inbound
// messages, correlates connections to rooms, and hands events to each
// room's loop. One websocket endpoint serves every room; each message
// carries the game code, and a connection is subscribed to at most one
// room at a time.

package main

import (
	_ "embed"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan any

	mu     sync.Mutex
	closed bool

	// room is the current subscription. Written only by this client's
	// readPump goroutine.
	room *Room
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan any, 8),
	}
}

// trySend queues a message for one client without blocking the caller. A
// slow subscriber misses the message and self-heals on the next snapshot;
// partial delivery to one subscriber never aborts delivery to others.
func (c *client) trySend(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// closeSend ends the write pump once any queued messages have drained.
// Idempotent, so the gateway and a room teardown can both call it.
func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}

func (c *client) readPump(reg *Registry) {
	defer func() {
		if c.room != nil {
			c.room.disconnect(c)
		}
		c.closeSend()
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if err := msg.validate(); err != nil {
			c.trySend(errorMessage(err.Error()))
			continue
		}

		if msg.Type == "createGame" {
			rm, err := reg.createRoom(msg.Identity, msg.Name)
			if err != nil {
				log.Error().Err(err).Msg("unable to create game")
				c.trySend(errorMessage(err.Error()))
				continue
			}

			c.switchRoom(rm)
			rm.dispatch(c, msg)

			continue
		}

		rm, ok := reg.getRoom(msg.Code)
		if !ok {
			// Not-found errors go to the requester alone, never broadcast.
			c.trySend(errorMessage(errRoomNotFound.Error()))
			continue
		}

		c.switchRoom(rm)
		rm.dispatch(c, msg)
	}
}

// switchRoom moves this connection's subscription. Leaving a room is
// indistinguishable from a transport disconnect as far as that room is
// concerned.
func (c *client) switchRoom(rm *Room) {
	if c.room != nil && c.room != rm {
		c.room.disconnect(c)
	}
	c.room = rm
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func serveWSForRegistry(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("remote", realIP(r)).Msg("websocket upgrade failed")
			return
		}

		c := newClient(conn)

		go c.writePump()
		c.readPump(reg)
	}
}

// QR handler: generates a PNG QR code linking to the join page with the game
// code prefilled, backed by go-qrcode.
func qrHandler(cfg *Config, path string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if code == "" {
			http.Error(w, "missing game code", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + path + "?game=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// ---- Static file paths ----

//go:embed buzzer/index.html
var joinHTML []byte

//go:embed buzzer/host.html
var hostHTML []byte

func getPageHandler(cfg *Config, page []byte) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(page)
	}
}

// registerBuzzerGame sets up routes so that:
//   - $path          → join page
//   - $path/host     → host page (expects ?game=CODE)
//   - $path/ws       → shared WebSocket endpoint for all games
//   - $path/qr/:code → PNG QR code linking to the join page for a game
func registerBuzzerGame(cfg *Config, path string, mux *httprouter.Router, reg *Registry) {
	mux.GET(cfg.prefix+path, getPageHandler(cfg, joinHTML))

	mux.GET(cfg.prefix+path+"/host", getPageHandler(cfg, hostHTML))

	mux.GET(cfg.prefix+path+"/ws", serveWSForRegistry(reg))

	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler(cfg, path))
}
