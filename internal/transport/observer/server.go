package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"opwar.ai/internal/observerproto"
	"opwar.ai/internal/sim/game"
)

// Server streams game notifications to loopback observers. The game is not
// safe for concurrent use, so the owner of the run loop feeds the server:
// Attach subscribes it to notifications and Update refreshes the bootstrap
// view between Execute calls.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu        sync.RWMutex
	bootstrap []byte
	unitSide  map[string]string
	subs      map[uint64]*subscriber
}

type subscriber struct {
	out chan []byte

	mu    sync.Mutex
	kinds map[string]bool
	sides map[string]bool
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
		unitSide: map[string]string{},
		subs:     map[uint64]*subscriber{},
	}
}

// Attach subscribes the server to g and publishes its current view.
func (s *Server) Attach(g *game.Game) {
	s.mu.Lock()
	for _, u := range g.Roster().Units() {
		s.unitSide[u.ID] = string(u.Side)
	}
	s.mu.Unlock()
	g.Subscribe(s.Publish)
	s.Update(g)
}

// Update refreshes the bootstrap view. Call it from the goroutine that owns g.
func (s *Server) Update(g *game.Game) {
	b, err := json.Marshal(ViewOf(g))
	if err != nil {
		s.logf("observer: bootstrap encode: %v", err)
		return
	}
	s.mu.Lock()
	s.bootstrap = b
	s.mu.Unlock()
}

// Dropped counts messages not delivered to slow observers.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish fans n out to every subscriber whose filter accepts it. A
// subscriber that is not keeping up loses the message.
func (s *Server) Publish(n game.Notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.subs) == 0 {
		return
	}
	side := s.unitSide[n.Unit]
	b, err := json.Marshal(observerproto.NotifyMsg{
		Type:            observerproto.TypeNotify,
		ProtocolVersion: observerproto.Version,
		Side:            side,
		Notification:    n,
	})
	if err != nil {
		return
	}
	for _, sub := range s.subs {
		if !sub.accepts(string(n.Kind), side) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.RLock()
		b := s.bootstrap
		s.mu.RUnlock()
		if b == nil {
			http.Error(rw, "no game attached", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write(b)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		id := s.nextID.Add(1)
		subscr := &subscriber{out: make(chan []byte, 1024)}
		subscr.set(sub)
		s.mu.Lock()
		s.subs[id] = subscr
		s.mu.Unlock()
		s.logf("observer: O%d subscribed from %s", id, r.RemoteAddr)
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-subscr.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				subscr.set(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

func (sub *subscriber) set(m observerproto.SubscribeMsg) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.kinds = toSet(m.Kinds)
	sub.sides = toSet(m.Sides)
}

func (sub *subscriber) accepts(kind, side string) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.kinds != nil && !sub.kinds[kind] {
		return false
	}
	// Notifications without a side (victory) go to everyone.
	if sub.sides != nil && side != "" && !sub.sides[side] {
		return false
	}
	return true
}

func toSet(xs []string) map[string]bool {
	if len(xs) == 0 {
		return nil
	}
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[strings.ToUpper(strings.TrimSpace(x))] = true
	}
	return m
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// ViewOf captures the observable state of g.
func ViewOf(g *game.Game) observerproto.BootstrapResponse {
	cfg := g.Config()
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		ScenarioID:      cfg.ID,
		Seed:            cfg.Seed,
		Time:            int64(g.Time()),
		Pending:         len(g.PendingEvents()),
		Detachments:     []observerproto.DetachmentState{},
		Combats:         []observerproto.CombatState{},
	}
	if ev, ok := g.ActiveEvent(); ok {
		resp.ActiveEvent = &observerproto.EventInfo{
			Seq:      uint64(ev.Seq),
			FireTime: int64(ev.FireTime),
			Kind:     string(ev.Kind),
			Target:   ev.Target.String(),
		}
	}
	if v := g.Victory(); len(v) > 0 {
		resp.Victory = map[string]int{}
		for side, pts := range v {
			resp.Victory[string(side)] = pts
		}
	}
	for _, d := range g.Detachments() {
		ds := observerproto.DetachmentState{
			ID:      d.ID,
			UnitID:  d.UnitID,
			Side:    string(d.Side),
			Hex:     [2]int{d.Hex.Q, d.Hex.R},
			Mode:    string(d.Mode),
			Fatigue: d.Fatigue(),
			Combat:  d.CombatID(),
			Queued:  d.Orders.Len(),
		}
		if o := d.Orders.Active(); o != nil {
			ds.Order = o.ID
		}
		resp.Detachments = append(resp.Detachments, ds)
	}
	for _, c := range g.Combats() {
		cs := observerproto.CombatState{
			ID:     c.ID,
			Hex:    [2]int{c.Hex.Q, c.Hex.R},
			State:  string(c.State),
			Checks: c.Checks,
		}
		for _, inv := range c.Attackers {
			cs.Attackers = append(cs.Attackers, inv.DetachmentID)
		}
		for _, inv := range c.Defenders {
			cs.Defenders = append(cs.Defenders, inv.DetachmentID)
		}
		resp.Combats = append(resp.Combats, cs)
	}
	return resp
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// CheckLoopbackAddr rejects listen addresses outside the loopback interface.
func CheckLoopbackAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("observer address %q is not loopback", addr)
	}
	return nil
}
