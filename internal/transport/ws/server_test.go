package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/town"
)

type fakeTown struct {
	mu      sync.Mutex
	actions []town.Action
	full    bool
}

func (f *fakeTown) Submit(a town.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full && a.Kind != town.ActJoin && a.Kind != town.ActLeave {
		return town.ErrInboxFull
	}
	f.actions = append(f.actions, a)
	return nil
}

func (f *fakeTown) CurrentTick() uint64 { return 17 }

func (f *fakeTown) snapshot() []town.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]town.Action(nil), f.actions...)
}

func dial(t *testing.T, ft *fakeTown) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(NewServer(ft, 5, nil).Handler())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_JoinActLeave(t *testing.T) {
	ft := &fakeTown{}
	conn, done := dial(t, ft)
	defer done()

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentID: "alice"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var w protocol.WelcomeMsg
	readJSON(t, conn, &w)
	if w.Type != protocol.TypeWelcome || w.AgentID != "alice" || w.Tick != 17 || w.TickRateHz != 5 {
		t.Fatalf("welcome=%+v", w)
	}

	if err := conn.WriteJSON(protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Kind: "request", ObjectID: "shower_0"}); err != nil {
		t.Fatalf("act: %v", err)
	}
	waitFor(t, func() bool { return len(ft.snapshot()) == 2 })

	conn.Close()
	waitFor(t, func() bool { return len(ft.snapshot()) == 3 })

	got := ft.snapshot()
	want := []town.Action{
		{Kind: town.ActJoin, AgentID: "alice"},
		{Kind: town.ActRequest, AgentID: "alice", ObjectID: "shower_0"},
		{Kind: town.ActLeave, AgentID: "alice"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("action[%d]=%+v want %+v", i, got[i], want[i])
		}
	}
}

func TestHandler_ReportsErrors(t *testing.T) {
	ft := &fakeTown{full: true}
	conn, done := dial(t, ft)
	defer done()

	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentID: "bob"})
	var w protocol.WelcomeMsg
	readJSON(t, conn, &w)

	cases := []struct {
		msg  any
		code string
	}{
		{map[string]string{"type": "NOPE"}, protocol.ErrProtoBadRequest},
		{protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: "0.0", Kind: "REQUEST"}, protocol.ErrProtoBadRequest},
		{protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Kind: "JOIN"}, protocol.ErrBadAction},
		{protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Kind: "REQUEST", ObjectID: "bed_0"}, protocol.ErrInboxFull},
	}
	for i, tc := range cases {
		if err := conn.WriteJSON(tc.msg); err != nil {
			t.Fatalf("case %d write: %v", i, err)
		}
		var em protocol.ErrorMsg
		readJSON(t, conn, &em)
		if em.Type != protocol.TypeError || em.Code != tc.code {
			t.Fatalf("case %d: error=%+v want code %s", i, em, tc.code)
		}
		if !protocol.IsKnownCode(em.Code) {
			t.Fatalf("case %d: unknown code %s", i, em.Code)
		}
	}
}

func TestHandler_RejectsHelloWithoutAgent(t *testing.T) {
	ft := &fakeTown{}
	conn, done := dial(t, ft)
	defer done()

	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close")
	}
	if n := len(ft.snapshot()); n != 0 {
		t.Fatalf("actions=%d want 0", n)
	}
}
