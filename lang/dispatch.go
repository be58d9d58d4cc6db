package lang

type (
	CommandHandler  func(vm *VM) error
	IntegerHandler  func(vm *VM) (int32, error)
	FloatHandler    func(vm *VM) (float32, error)
	StringHandler   func(vm *VM) (string, error)
	AgentHandler    func(vm *VM) (AgentHandle, error)
	VariableHandler func(vm *VM) (*Variable, error)
)

// Entry is one row of a handler table. The position of the entry in its list
// is its opcode. Operands describes the inline operands for the assembler
// (see operandKinds in assembler.go); the VM never looks at it.
type Entry[H any] struct {
	Name     string
	Operands string
	Handler  H
}

// TableProvider supplies the handler tables a DispatchTable is built from.
type TableProvider interface {
	Commands() []Entry[CommandHandler]
	IntegerRVs() []Entry[IntegerHandler]
	StringRVs() []Entry[StringHandler]
	FloatRVs() []Entry[FloatHandler]
	AgentRVs() []Entry[AgentHandler]
	Variables() []Entry[VariableHandler]
}

// Tables is a TableProvider backed by plain slices.
type Tables struct {
	CommandList  []Entry[CommandHandler]
	IntegerList  []Entry[IntegerHandler]
	StringList   []Entry[StringHandler]
	FloatList    []Entry[FloatHandler]
	AgentList    []Entry[AgentHandler]
	VariableList []Entry[VariableHandler]
}

func (t *Tables) Commands() []Entry[CommandHandler]   { return t.CommandList }
func (t *Tables) IntegerRVs() []Entry[IntegerHandler] { return t.IntegerList }
func (t *Tables) StringRVs() []Entry[StringHandler]   { return t.StringList }
func (t *Tables) FloatRVs() []Entry[FloatHandler]     { return t.FloatList }
func (t *Tables) AgentRVs() []Entry[AgentHandler]     { return t.AgentList }
func (t *Tables) Variables() []Entry[VariableHandler] { return t.VariableList }

type TableKind int

const (
	TableCommands TableKind = iota
	TableIntegerRVs
	TableStringRVs
	TableFloatRVs
	TableAgentRVs
	TableVariables
)

func (k TableKind) String() string {
	names := []string{"command", "integer rvalue", "string rvalue", "float rvalue", "agent rvalue", "variable"}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// DispatchTable holds the flat handler vectors every VM dispatches through.
// It is built once and shared read-only between VMs.
type DispatchTable struct {
	commands  []CommandHandler
	integers  []IntegerHandler
	strs      []StringHandler
	floats    []FloatHandler
	agents    []AgentHandler
	variables []VariableHandler

	names    [6][]string
	operands [6][]string
	opcodes  [6]map[string]uint16
}

func NewDispatchTable(p TableProvider) *DispatchTable {
	t := &DispatchTable{}
	t.commands = collect(t, TableCommands, p.Commands())
	t.integers = collect(t, TableIntegerRVs, p.IntegerRVs())
	t.strs = collect(t, TableStringRVs, p.StringRVs())
	t.floats = collect(t, TableFloatRVs, p.FloatRVs())
	t.agents = collect(t, TableAgentRVs, p.AgentRVs())
	t.variables = collect(t, TableVariables, p.Variables())
	return t
}

func collect[H any](t *DispatchTable, kind TableKind, entries []Entry[H]) []H {
	handlers := make([]H, len(entries))
	names := make([]string, len(entries))
	operands := make([]string, len(entries))
	opcodes := make(map[string]uint16, len(entries))
	for i, e := range entries {
		handlers[i] = e.Handler
		names[i] = e.Name
		operands[i] = e.Operands
		if _, dup := opcodes[e.Name]; !dup {
			opcodes[e.Name] = uint16(i)
		}
	}
	t.names[kind] = names
	t.operands[kind] = operands
	t.opcodes[kind] = opcodes
	return handlers
}

// Opcode looks up the opcode registered under name in the given table.
func (t *DispatchTable) Opcode(kind TableKind, name string) (uint16, bool) {
	op, ok := t.opcodes[kind][name]
	return op, ok
}

// Name returns the display name of an opcode, "" when out of range.
func (t *DispatchTable) Name(kind TableKind, op uint16) string {
	names := t.names[kind]
	if int(op) < len(names) {
		return names[op]
	}
	return ""
}

// Operands returns the operand signature registered for an opcode.
func (t *DispatchTable) Operands(kind TableKind, op uint16) string {
	ops := t.operands[kind]
	if int(op) < len(ops) {
		return ops[op]
	}
	return ""
}

func (t *DispatchTable) Len(kind TableKind) int {
	return len(t.names[kind])
}

func (t *DispatchTable) CommandName(op uint16) string {
	return t.Name(TableCommands, op)
}

func (t *DispatchTable) CommandOpcode(name string) (uint16, bool) {
	return t.Opcode(TableCommands, name)
}
