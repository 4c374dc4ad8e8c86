// Package monitor streams changes of registry variables to websocket clients.
//
// Each message is a JSON object holding the snapshot of one variable, plus
// its enum label when it has one.  A client selects variables with a
// comma separated names query parameter; with none, it receives every
// variable.  Every requested variable is sent once on connect.
//
// Buffer variables (Char, e.g. an image) are throttled per client to a
// configurable rate.  When a buffer changes faster than that, intermediate
// values are skipped and the newest one is sent when the limiter allows.
package monitor

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/mcdserver/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Message is one variable update sent to a client
type Message struct {
	registry.Snapshot
	Label string `json:"label,omitempty"`
}

// Monitor is an http.Handler that upgrades to a websocket and streams variable changes
type Monitor struct {
	reg      *registry.Registry
	limit    rate.Limit
	buffer   int
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

// New returns a Monitor over reg.  bufferHz is the maximum rate of updates
// to buffer variables per client; <= 0 disables throttling.
func New(reg *registry.Registry, bufferHz float64, log logrus.FieldLogger) *Monitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	lim := rate.Inf
	if bufferHz > 0 {
		lim = rate.Limit(bufferHz)
	}
	return &Monitor{
		reg:    reg,
		limit:  lim,
		buffer: 64,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP satisfies http.Handler
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	names := parseNames(r.URL.Query().Get("names"))
	for _, n := range names {
		if _, err := m.reg.Lookup(n); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("websocket upgrade")
		return
	}
	sub := m.reg.Subscribe(m.buffer, names...)
	defer sub.Close()
	if err := sub.Notify(names...); err != nil {
		m.log.WithError(err).Warn("monitor initial snapshot")
	}

	done := make(chan struct{})
	go m.readPump(conn, done)
	m.writePump(conn, sub, done)
	conn.Close()
	if n := sub.Dropped(); n > 0 {
		m.log.WithField("dropped", n).Warn("monitor client could not keep up")
	}
}

func parseNames(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readPump discards client messages and closes done when the client goes away
func (m *Monitor) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.WithError(err).Debug("monitor read")
			}
			return
		}
	}
}

func (m *Monitor) writePump(conn *websocket.Conn, sub *registry.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	send := func(s registry.Snapshot, id registry.ID) bool {
		msg := Message{Snapshot: s}
		if def, err := m.reg.Definition(id); err == nil {
			msg.Label = registry.Label(def, s.Value)
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			m.log.WithError(err).Debug("monitor write")
			return false
		}
		return true
	}

	lim := rate.NewLimiter(m.limit, 1)
	pending := map[registry.ID]registry.Snapshot{}
	var flush <-chan time.Time
	for {
		select {
		case ch, ok := <-sub.C:
			if !ok {
				return
			}
			if ch.Kind == registry.Char && !ch.Replay {
				if len(pending) > 0 || !lim.Allow() {
					pending[ch.ID] = ch.Snapshot
					if flush == nil {
						flush = time.After(lim.Reserve().Delay())
					}
					continue
				}
			}
			if !send(ch.Snapshot, ch.ID) {
				return
			}
		case <-flush:
			flush = nil
			for id, s := range pending {
				if !send(s, id) {
					return
				}
				delete(pending, id)
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
