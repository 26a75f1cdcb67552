package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"townlet.ai/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://127.0.0.1:8080/v1/ws", "agent ws url")
		agentID = flag.String("agent", "bot", "agent id")
		objects = flag.String("objects", "shower_0,stove_0,bed_0", "comma-separated objects to contend for")
		peers   = flag.String("peers", "", "comma-separated agents to chat with")
		every   = flag.Duration("every", time.Second, "interval between actions")
		seed    = flag.Int64("seed", 0, "rng seed (0: time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentID:         *agentID,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	go readLoop(conn, logger)

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	b := &bot{
		r:       rand.New(rand.NewSource(s)),
		objects: splitList(*objects),
		peers:   splitList(*peers),
	}
	if len(b.objects) == 0 {
		logger.Fatalf("no objects")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			_ = conn.WriteJSON(act("LEAVE", "", ""))
			return
		case <-t.C:
			if err := conn.WriteJSON(b.next()); err != nil {
				logger.Printf("send ACT: %v", err)
				return
			}
		}
	}
}

// bot holds at most one object at a time: request it, hold for a few turns, release.
type bot struct {
	r       *rand.Rand
	objects []string
	peers   []string

	object string
	turns  int
}

func (b *bot) next() protocol.ActMsg {
	if b.object == "" {
		b.object = b.objects[b.r.Intn(len(b.objects))]
		b.turns = 2 + b.r.Intn(4)
		return act("REQUEST", b.object, "")
	}
	b.turns--
	switch {
	case b.turns <= 0:
		obj := b.object
		b.object = ""
		m := act("RELEASE", obj, "")
		m.Failed = b.r.Intn(10) == 0
		return m
	case len(b.peers) > 0 && b.r.Intn(4) == 0:
		m := act("CHAT", "", b.peers[b.r.Intn(len(b.peers))])
		m.Quality = b.r.Float64()
		return m
	case b.r.Intn(3) == 0:
		return act("BLOCKED", b.object, "")
	}
	return act("REQUEST", b.object, "")
}

func act(kind, objectID, target string) protocol.ActMsg {
	return protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Kind:            kind,
		ObjectID:        objectID,
		Target:          target,
	}
}

func readLoop(conn *websocket.Conn, logger *log.Logger) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			os.Exit(0)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME agent_id=%s tick=%d tick_rate=%d", w.AgentID, w.Tick, w.TickRateHz)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
