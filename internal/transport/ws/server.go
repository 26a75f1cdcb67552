// Package ws accepts agent connections. Each socket speaks for one agent: it joins on
// HELLO, forwards ACT messages into the town inbox and leaves when the socket closes.
package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"townlet.ai/internal/protocol"
	"townlet.ai/internal/sim/town"
)

// Town is the part of *town.Town the socket needs.
type Town interface {
	Submit(a town.Action) error
	CurrentTick() uint64
}

type Server struct {
	town       Town
	tickRateHz int
	log        *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(t Town, tickRateHz int, logger *log.Logger) *Server {
	return &Server{
		town:       t,
		tickRateHz: tickRateHz,
		log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		agentID := s.handshake(conn)
		if agentID == "" {
			return
		}

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				_ = writeError(conn, protocol.ErrProtoBadRequest, "expected ACT")
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				_ = writeError(conn, protocol.ErrProtoBadRequest, "bad ACT")
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				_ = writeError(conn, protocol.ErrProtoBadRequest, "bad protocol_version")
				continue
			}
			a, ok := toAction(agentID, act)
			if !ok {
				_ = writeError(conn, protocol.ErrBadAction, "unknown kind "+act.Kind)
				continue
			}
			if err := s.town.Submit(a); err != nil {
				code := protocol.ErrInternal
				if errors.Is(err, town.ErrInboxFull) {
					code = protocol.ErrInboxFull
				}
				_ = writeError(conn, code, err.Error())
			}
		}

		// Cleanup. The inbox may be full; retry briefly so the agent does not linger.
		leave := town.Action{Kind: town.ActLeave, AgentID: agentID}
		for i := 0; i < 20; i++ {
			if err := s.town.Submit(leave); err == nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		s.printf("agent %s: LEAVE dropped, inbox full", agentID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return ""
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return ""
	}
	agentID := strings.TrimSpace(hello.AgentID)
	if agentID == "" {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing agent_id"), time.Now().Add(time.Second))
		return ""
	}

	if err := s.town.Submit(town.Action{Kind: town.ActJoin, AgentID: agentID}); err != nil {
		_ = writeError(conn, protocol.ErrInboxFull, err.Error())
		return ""
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		Tick:            s.town.CurrentTick(),
		TickRateHz:      s.tickRateHz,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return ""
	}
	s.printf("agent %s connected", agentID)
	return agentID
}

func toAction(agentID string, m protocol.ActMsg) (town.Action, bool) {
	kind := town.ActionKind(strings.ToUpper(m.Kind))
	switch kind {
	case town.ActLeave, town.ActRequest, town.ActRelease, town.ActHandover, town.ActBlocked, town.ActChat:
	default:
		return town.Action{}, false
	}
	return town.Action{
		Kind:     kind,
		AgentID:  agentID,
		ObjectID: m.ObjectID,
		Target:   m.Target,
		Failed:   m.Failed,
		Quality:  m.Quality,
	}, true
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeError(conn *websocket.Conn, code, message string) error {
	return writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: message})
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
