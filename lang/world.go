package lang

// World is the state shared by every VM of a simulation: the agent arena and
// the named game variables.
type World struct {
	Agents *Arena
	Tick   uint32

	globals map[string]*Variable
}

func NewWorld() *World {
	return &World{
		Agents:  NewArena(),
		globals: make(map[string]*Variable),
	}
}

// Global returns the game variable called name, creating it as integer 0.
func (w *World) Global(name string) *Variable {
	v, ok := w.globals[name]
	if !ok {
		v = &Variable{}
		w.globals[name] = v
	}
	return v
}

// Globals returns a copy of every game variable touched so far.
func (w *World) Globals() map[string]Variable {
	out := make(map[string]Variable, len(w.globals))
	for name, v := range w.globals {
		out[name] = *v
	}
	return out
}
