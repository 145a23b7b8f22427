package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"opwar.ai/internal/observerproto"
	"opwar.ai/internal/sim/game"
	"opwar.ai/internal/sim/hexgrid"
	"opwar.ai/internal/sim/orders"
	"opwar.ai/internal/sim/units"
)

func newGame(t *testing.T) *game.Game {
	t.Helper()
	r := units.NewRoster()
	_ = r.Add(&units.Unit{ID: "blue1", Side: "BLUE", Personnel: 1000, Equipment: 20, Ammo: 100, Combatant: true})
	_ = r.Add(&units.Unit{ID: "red1", Side: "RED", Personnel: 900, Equipment: 15, Ammo: 100, Combatant: true})
	g, err := game.New(game.Config{ID: "obs", Seed: 1}, r, game.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.PlaceUnit("blue1", hexgrid.Coord{}, units.ModeDefend, true); err != nil {
		t.Fatal(err)
	}
	if _, err := g.PlaceUnit("red1", hexgrid.Coord{Q: 5, R: 0}, units.ModeDefend, true); err != nil {
		t.Fatal(err)
	}
	return g
}

func waitSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.RLock()
		got := len(s.subs)
		s.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers did not reach %d", n)
}

func TestServer_StreamsFilteredNotifications(t *testing.T) {
	g := newGame(t)
	s := NewServer(nil)
	s.Attach(g)

	mux := http.NewServeMux()
	mux.HandleFunc("/observer/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	sub := observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Kinds:           []string{"moved", "ORDER_FINISHED"},
		Sides:           []string{"BLUE"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	waitSubscribers(t, s, 1)

	d, _ := g.DetachmentByUnit("blue1")
	if err := g.PostOrder(d.ID, orders.NewMove("", hexgrid.Coord{Q: 1, R: 0}, units.RateNormal, units.ModeDefend)); err != nil {
		t.Fatal(err)
	}
	red, _ := g.DetachmentByUnit("red1")
	if err := g.PostOrder(red.ID, orders.NewMove("", hexgrid.Coord{Q: 4, R: 0}, units.RateNormal, units.ModeDefend)); err != nil {
		t.Fatal(err)
	}
	if err := g.Execute(120); err != nil {
		t.Fatal(err)
	}

	var kinds []string
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type         string            `json:"type"`
			Side         string            `json:"side"`
			Notification game.Notification `json:"notification"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if msg.Type != observerproto.TypeNotify || msg.Side != "BLUE" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		kinds = append(kinds, string(msg.Notification.Kind))
	}
	if kinds[0] != string(game.NotifyMoved) || kinds[1] != string(game.NotifyOrderFinished) {
		t.Fatalf("kinds: %v", kinds)
	}
}

func TestServer_RejectsBadHandshake(t *testing.T) {
	s := NewServer(nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("want policy violation close, got %v", err)
	}
}

func TestBootstrap_ReflectsUpdate(t *testing.T) {
	g := newGame(t)
	s := NewServer(nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before attach: %d", rec.Code)
	}

	s.Attach(g)
	if err := g.Execute(90); err != nil {
		t.Fatal(err)
	}
	s.Update(g)

	rec = httptest.NewRecorder()
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Time != 90 || len(resp.Detachments) != 2 || resp.ScenarioID != "obs" {
		t.Fatalf("bootstrap: %+v", resp)
	}

	remote := httptest.NewRequest(http.MethodGet, "/observer/bootstrap", nil)
	remote.RemoteAddr = "10.1.2.3:4444"
	rec = httptest.NewRecorder()
	s.BootstrapHandler()(rec, remote)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback: %d", rec.Code)
	}
}

func TestCheckLoopbackAddr(t *testing.T) {
	for addr, ok := range map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:8090": true,
		"[::1]:8090":     true,
		"0.0.0.0:8090":   false,
		":8090":          false,
	} {
		if err := CheckLoopbackAddr(addr); (err == nil) != ok {
			t.Fatalf("%s: err=%v", addr, err)
		}
	}
}
