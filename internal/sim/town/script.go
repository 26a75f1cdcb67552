package town

import (
	"fmt"
	"math/rand"
)

// Script drives a population of simple agents that join, contend for objects and leave.
// Given the same seed it produces the same action stream.
type Script struct {
	rng     *rand.Rand
	agents  []string
	objects []string

	present map[string]bool
	holding map[string]string // agent -> object it believes it holds or waits for
}

func NewScript(seed int64, agents, objects int) *Script {
	s := &Script{
		rng:     rand.New(rand.NewSource(seed)),
		present: map[string]bool{},
		holding: map[string]string{},
	}
	for i := 0; i < agents; i++ {
		s.agents = append(s.agents, fmt.Sprintf("agent_%03d", i))
	}
	for i := 0; i < objects; i++ {
		s.objects = append(s.objects, objectName(i))
	}
	return s
}

func objectName(i int) string {
	kinds := []string{"shower", "stove", "bed", "fridge"}
	return fmt.Sprintf("%s_%d", kinds[i%len(kinds)], i/len(kinds))
}

// Next returns the actions for one tick.
func (s *Script) Next(tick uint64) []Action {
	var out []Action
	for _, id := range s.agents {
		if !s.present[id] {
			if tick == 0 || s.rng.Intn(50) == 0 {
				s.present[id] = true
				out = append(out, Action{Kind: ActJoin, AgentID: id})
			}
			continue
		}
		roll := s.rng.Intn(100)
		obj, busy := s.holding[id]
		switch {
		case roll < 1:
			delete(s.present, id)
			delete(s.holding, id)
			out = append(out, Action{Kind: ActLeave, AgentID: id})
		case !busy && roll < 30:
			obj = s.objects[s.rng.Intn(len(s.objects))]
			s.holding[id] = obj
			out = append(out, Action{Kind: ActRequest, AgentID: id, ObjectID: obj})
		case busy && roll < 12:
			delete(s.holding, id)
			out = append(out, Action{Kind: ActRelease, AgentID: id, ObjectID: obj, Failed: s.rng.Intn(10) == 0})
		case busy && roll < 16:
			delete(s.holding, id)
			out = append(out, Action{Kind: ActHandover, AgentID: id, ObjectID: obj, Target: s.agents[s.rng.Intn(len(s.agents))]})
		case busy && roll < 20:
			out = append(out, Action{Kind: ActBlocked, AgentID: id, ObjectID: obj})
		case busy && roll < 40:
			out = append(out, Action{Kind: ActRequest, AgentID: id, ObjectID: obj})
		case roll >= 90:
			other := s.agents[s.rng.Intn(len(s.agents))]
			if other != id && s.present[other] {
				out = append(out, Action{Kind: ActChat, AgentID: id, Target: other, Quality: float64(s.rng.Intn(11)) / 10})
			}
		}
	}
	return out
}
