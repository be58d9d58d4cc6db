package lang

import "fmt"

// AgentHandle refers to an agent slot in an Arena. A handle whose generation
// no longer matches the slot refers to an agent that has been freed. The zero
// value is the null handle.
type AgentHandle struct {
	index      uint32
	generation uint32
}

func (h AgentHandle) IsNull() bool { return h.generation == 0 }

func (h AgentHandle) String() string {
	if h.IsNull() {
		return "NULL"
	}
	return fmt.Sprintf("agent#%d.%d", h.index, h.generation)
}

type AgentKind uint8

const (
	KindSimple AgentKind = iota
	KindCreature
)

func (k AgentKind) String() string {
	if k == KindCreature {
		return "creature"
	}
	return "simple"
}

const AgentVariableCount = 100

type Agent struct {
	ID   uint32
	Name string
	Kind AgentKind

	// Attention is only meaningful for creatures.
	Attention AgentHandle
	Vars      [AgentVariableCount]Variable

	// WaitRemaining is the countdown kept by the WAIT command while the
	// owning VM is blocked.
	WaitRemaining int32

	Animation []byte

	refs    int
	garbage bool
}

func (a *Agent) HasAttention() bool { return a.Kind == KindCreature }

type arenaSlot struct {
	generation uint32
	agent      *Agent
}

// Arena owns every agent of a world. Handles are reference counted; an agent
// that has been killed stays readable as garbage until the last reference
// is released, after which its slot is recycled under a new generation.
type Arena struct {
	slots  []arenaSlot
	free   []uint32
	nextID uint32
	byID   map[uint32]AgentHandle
}

func NewArena() *Arena {
	return &Arena{
		nextID: 1,
		byID:   make(map[uint32]AgentHandle),
	}
}

// Spawn creates an agent. The world's own reference is counted, so the agent
// lives until Kill.
func (a *Arena) Spawn(name string, kind AgentKind) AgentHandle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}
	slot := &a.slots[index]
	slot.generation++
	slot.agent = &Agent{ID: a.nextID, Name: name, Kind: kind, refs: 1}
	a.nextID++

	h := AgentHandle{index: index, generation: slot.generation}
	a.byID[slot.agent.ID] = h
	return h
}

func (a *Arena) slot(h AgentHandle) *arenaSlot {
	if h.IsNull() || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if s.generation != h.generation || s.agent == nil {
		return nil
	}
	return s
}

// Get narrows a handle to its agent, failing on null, freed and garbage
// handles.
func (a *Arena) Get(h AgentHandle) (*Agent, error) {
	if h.IsNull() {
		return nil, &InvalidAgentHandleError{Handle: h, Reason: "null agent"}
	}
	s := a.slot(h)
	if s == nil {
		return nil, &InvalidAgentHandleError{Handle: h, Reason: "agent no longer exists"}
	}
	if s.agent.garbage {
		return nil, &InvalidAgentHandleError{Handle: h, Reason: "agent has been killed"}
	}
	return s.agent, nil
}

func (a *Arena) IsValid(h AgentHandle) bool {
	s := a.slot(h)
	return s != nil && !s.agent.garbage
}

// IsGarbage reports whether a non-null handle refers to a killed or freed
// agent.
func (a *Arena) IsGarbage(h AgentHandle) bool {
	if h.IsNull() {
		return false
	}
	s := a.slot(h)
	return s == nil || s.agent.garbage
}

func (a *Arena) Retain(h AgentHandle) {
	if s := a.slot(h); s != nil {
		s.agent.refs++
	}
}

func (a *Arena) Release(h AgentHandle) {
	s := a.slot(h)
	if s == nil {
		return
	}
	s.agent.refs--
	if s.agent.refs <= 0 {
		a.recycle(h.index)
	}
}

// RefCount returns the number of live references to the agent, zero once it
// has been freed.
func (a *Arena) RefCount(h AgentHandle) int {
	if s := a.slot(h); s != nil {
		return s.agent.refs
	}
	return 0
}

// Kill marks the agent as garbage and drops the world's reference.
func (a *Arena) Kill(h AgentHandle) {
	s := a.slot(h)
	if s == nil || s.agent.garbage {
		return
	}
	s.agent.garbage = true
	a.Release(h)
}

func (a *Arena) recycle(index uint32) {
	s := &a.slots[index]
	agent := s.agent
	delete(a.byID, agent.ID)
	s.agent = nil
	s.generation++
	a.free = append(a.free, index)

	for i := range agent.Vars {
		if agent.Vars[i].Type() == TypeAgent {
			a.Release(agent.Vars[i].agent)
		}
	}
	a.Release(agent.Attention)
}

// Lookup resolves a persistent agent ID to a live handle.
func (a *Arena) Lookup(id uint32) AgentHandle {
	if id == 0 {
		return AgentHandle{}
	}
	h, ok := a.byID[id]
	if !ok || !a.IsValid(h) {
		return AgentHandle{}
	}
	return h
}

// ID returns the persistent ID of the agent behind h, 0 for null or dead
// handles.
func (a *Arena) ID(h AgentHandle) uint32 {
	if s := a.slot(h); s != nil {
		return s.agent.ID
	}
	return 0
}

// Agents returns handles to every live agent in slot order.
func (a *Arena) Agents() []AgentHandle {
	var out []AgentHandle
	for i := range a.slots {
		s := &a.slots[i]
		if s.agent != nil && !s.agent.garbage {
			out = append(out, AgentHandle{index: uint32(i), generation: s.generation})
		}
	}
	return out
}

// SetAttention points a creature's attention at another agent.
func (a *Arena) SetAttention(creature, object AgentHandle) error {
	c, err := a.Get(creature)
	if err != nil {
		return err
	}
	if !c.HasAttention() {
		return newFault(FaultValue, "%s is not a creature", creature)
	}
	a.Retain(object)
	a.Release(c.Attention)
	c.Attention = object
	return nil
}

// Assign stores src into dst keeping agent reference counts balanced.
func (a *Arena) Assign(dst *Variable, src Variable) {
	src.settle()
	if src.typ == TypeAgent {
		a.Retain(src.agent)
	}
	if dst.Type() == TypeAgent {
		a.Release(dst.agent)
	}
	*dst = src
}

func (a *Arena) setHandle(dst *AgentHandle, h AgentHandle) {
	a.Retain(h)
	a.Release(*dst)
	*dst = h
}
