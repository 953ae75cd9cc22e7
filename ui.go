/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// The browser only draws what it is sent: every change to the session is
// pushed as a View over /ws, and clicks come back as intents.
//
// Routes:
//   - $prefix/            → HTML client
//   - $prefix/ws          → websocket (views out, intents in)
//   - $prefix/api/view    → current view as JSON
//   - $prefix/api/move    → POST {"global_board":g,"local_board":l}
//   - $prefix/api/reset   → POST, start a new game
//   - $prefix/api/ack     → POST, dismiss the error message
//   - $prefix/qr          → PNG QR code for the client URL

package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	writeWait    = 10 * time.Second
	maxIntentLen = 512
)

// Messages coming from the browser
type Intent struct {
	Type        string `json:"type"`                   // "move", "reset", "ack"
	GlobalBoard *int   `json:"global_board,omitempty"` // move
	LocalBoard  *int   `json:"local_board,omitempty"`  // move
}

type Client struct {
	conn *websocket.Conn
	send chan View
}

// Hub fans session changes out to every connected browser tab.
type Hub struct {
	session *Session
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	updates  chan Snapshot
	done     chan struct{}

	unsubscribe func()
	stopOnce    sync.Once
}

func newHub(session *Session) *Hub {
	h := &Hub{
		session:  session,
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		updates:  make(chan Snapshot, 1),
		done:     make(chan struct{}),
	}

	h.unsubscribe = session.Subscribe(h.publish)

	return h
}

// publish keeps only the newest snapshot queued; views are idempotent so
// skipping an intermediate one loses nothing.
func (h *Hub) publish(s Snapshot) {
	for {
		select {
		case h.updates <- s:
			return
		default:
		}

		select {
		case <-h.updates:
		default:
		}
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.deliver(c, h.session.Snapshot().View())
		case c := <-h.unreg:
			h.drop(c)
		case s := <-h.updates:
			v := s.View()
			for c := range h.clients {
				h.deliver(c, v)
			}
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) deliver(c *Client, v View) {
	select {
	case c.send <- v:
	default:
		// Too slow to keep up; it can reconnect for a fresh view.
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		h.unsubscribe()
		close(h.done)
	})
}

// dispatch applies one browser intent. Moves and resets run in the
// background so the read loop keeps draining the socket.
func (h *Hub) dispatch(cfg *Config, in Intent) {
	switch in.Type {
	case "move":
		if in.GlobalBoard == nil || in.LocalBoard == nil {
			return
		}
		g, l := *in.GlobalBoard, *in.LocalBoard
		go h.session.RequestMove(g, l)
	case "reset":
		go h.session.Reset()
	case "ack":
		h.session.AcknowledgeError()
	default:
		logf(cfg, "GAMES: Ignored unknown intent %q", in.Type)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: Websocket upgrade from %s failed: %v", realIP(r), err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan View, 8),
		}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		logf(cfg, "SERVE: Websocket client connected from %s", realIP(r))

		go client.writePump()
		client.readPump(cfg, h)
	}
}

func (c *Client) readPump(cfg *Config, h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxIntentLen)

	for {
		var in Intent
		if err := c.conn.ReadJSON(&in); err != nil {
			return
		}

		h.dispatch(cfg, in)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for v := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(v); err != nil {
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
}

func writeView(w http.ResponseWriter, status int, v View, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		reportError(errs, err)
	}
}

// intentStatus is 200 when the intent was carried out and 409 when the
// session ignored it.
func intentStatus(issued bool) int {
	if issued {
		return http.StatusOK
	}
	return http.StatusConflict
}

// sameOrigin accepts requests without an Origin header or whose Origin host
// matches the request host, the same rule the websocket upgrader applies.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return strings.EqualFold(u.Host, r.Host)
}

// intentGuard rejects cross-origin intents before they reach the session.
func intentGuard(cfg *Config, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if !sameOrigin(r) {
			logf(cfg, "SERVE: Refused cross-origin %s from %s (origin %q)", r.URL.Path, realIP(r), r.Header.Get("Origin"))

			securityHeaders(cfg, w)
			http.Error(w, "cross-origin request refused", http.StatusForbidden)

			return
		}

		next(w, r, p)
	}
}

func serveView(cfg *Config, s *Session, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)
		writeView(w, http.StatusOK, s.Snapshot().View(), errs)
	}
}

func serveMove(cfg *Config, s *Session, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		var in Intent
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntentLen)).Decode(&in)
		if err != nil || in.GlobalBoard == nil || in.LocalBoard == nil {
			http.Error(w, "invalid move", http.StatusBadRequest)
			return
		}

		issued := s.RequestMove(*in.GlobalBoard, *in.LocalBoard)

		writeView(w, intentStatus(issued), s.Snapshot().View(), errs)
	}
}

func serveReset(cfg *Config, s *Session, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		issued := s.Reset()

		writeView(w, intentStatus(issued), s.Snapshot().View(), errs)
	}
}

func serveAck(cfg *Config, s *Session, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		s.AcknowledgeError()

		writeView(w, http.StatusOK, s.Snapshot().View(), errs)
	}
}

// qrURL is the client URL encoded into the QR code. Only http and https are
// taken from X-Forwarded-Proto.
func qrURL(cfg *Config, r *http.Request) string {
	scheme := cfg.scheme()
	switch proto := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); proto {
	case "http", "https":
		scheme = proto
	}

	return scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr") + "/"
}

// qrHandler generates a PNG QR code for the client URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		const qrSize = 320
		png, err := qrcode.Encode(qrURL(cfg, r), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		securityHeaders(cfg, w)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

func registerGame(cfg *Config, s *Session, h *Hub, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))
	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+"/ws", serveWS(cfg, h))
	mux.GET(cfg.prefix+"/qr", qrHandler(cfg))

	mux.GET(cfg.prefix+"/api/view", serveView(cfg, s, errs))
	mux.POST(cfg.prefix+"/api/move", intentGuard(cfg, serveMove(cfg, s, errs)))
	mux.POST(cfg.prefix+"/api/reset", intentGuard(cfg, serveReset(cfg, s, errs)))
	mux.POST(cfg.prefix+"/api/ack", intentGuard(cfg, serveAck(cfg, s, errs)))
}
