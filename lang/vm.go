package lang

import (
	"errors"
	"fmt"
	"io"

	"hadydotai/agentvm/logging"
)

type RunState uint8

const (
	StateFinished RunState = iota
	StateFetching
	StateBlocking
)

func (s RunState) String() string {
	names := []string{"finished", "fetching", "blocking"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

const (
	// QuantaUnlimited runs a script to completion in one UpdateVM call.
	// Scripts run this way may not block.
	QuantaUnlimited = -1

	LocalCount = 100

	DefaultFrozenThreshold = 1000000
)

type FrozenAction int

const (
	FrozenRetry FrozenAction = iota
	FrozenAbort
	FrozenIgnore
)

// FrozenScriptHook is asked what to do when a single UpdateVM call has run
// FrozenThreshold instructions.
type FrozenScriptHook func(vm *VM) FrozenAction

// VM executes one agent's script. Handlers receive the VM and pull their
// operands through the Fetch methods.
type VM struct {
	table *DispatchTable
	world *World

	// Output receives OUTV/OUTS/OUTX text. Nil discards it.
	Output io.Writer

	OnFrozen        FrozenScriptHook
	FrozenThreshold int

	state     RunState
	ip        int
	commandIP int
	opcode    uint16
	locked    bool
	atomic    bool
	quanta    int
	executed  int

	script *Script

	owner     AgentHandle
	target    AgentHandle
	from      AgentHandle
	attention AgentHandle
	camera    AgentHandle

	part   int32
	p1, p2 Variable

	locals      [LocalCount]Variable
	valueStack  []int32
	handleStack []AgentHandle
}

func NewVM(table *DispatchTable, world *World) *VM {
	return &VM{
		table:           table,
		world:           world,
		FrozenThreshold: DefaultFrozenThreshold,
	}
}

func (vm *VM) StartScriptExecuting(script *Script, owner, from AgentHandle, p1, p2 Variable) {
	if vm.state != StateFinished {
		vm.StopScriptExecuting()
	}
	agents := vm.world.Agents

	vm.script = script
	script.Lock()
	vm.state = StateFetching
	vm.ip = 0
	vm.commandIP = 0

	agents.setHandle(&vm.owner, owner)
	agents.setHandle(&vm.target, owner)
	agents.setHandle(&vm.from, from)
	agents.Assign(&vm.p1, p1)
	agents.Assign(&vm.p2, p2)

	if a, err := agents.Get(owner); err == nil && a.HasAttention() {
		agents.setHandle(&vm.attention, a.Attention)
	}

	logging.Log(logging.LogLevelDebug, "script started", "script", script.Name, "owner", owner.String())
}

func (vm *VM) StopScriptExecuting() {
	if vm.state == StateFinished {
		return
	}
	agents := vm.world.Agents

	vm.state = StateFinished
	if vm.script != nil {
		vm.script.Unlock()
		logging.Log(logging.LogLevelDebug, "script stopped", "script", vm.script.Name, "ip", vm.ip)
	}
	vm.script = nil

	vm.valueStack = vm.valueStack[:0]
	for _, h := range vm.handleStack {
		agents.Release(h)
	}
	vm.handleStack = vm.handleStack[:0]

	vm.atomic = false
	vm.locked = false
	vm.quanta = 0

	for _, h := range []*AgentHandle{&vm.target, &vm.owner, &vm.from, &vm.attention, &vm.camera} {
		agents.setHandle(h, AgentHandle{})
	}
	agents.Assign(&vm.p1, Variable{})
	agents.Assign(&vm.p2, Variable{})
	vm.part = 0

	for i := range vm.locals {
		if vm.locals[i].Type() == TypeAgent {
			agents.Assign(&vm.locals[i], Variable{})
		} else {
			vm.locals[i].stale = true
		}
	}

	vm.ip = 0
}

// UpdateVM runs the script for at most quanta instructions, or until it
// blocks or finishes. Any negative quanta is QuantaUnlimited. It reports
// whether the script is finished.
//
// Script failures are returned as *RunError, except invalid agent handles
// which are returned as *InvalidAgentHandleError.
func (vm *VM) UpdateVM(quanta int) (finished bool, err error) {
	if vm.world.Agents.IsGarbage(vm.owner) {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			finished = vm.state == StateFinished
			err = vm.translate(newFault(FaultRun, "%v", r))
		}
	}()

	if quanta < 0 {
		quanta = QuantaUnlimited
	}
	vm.quanta = quanta
	vm.executed = 0
	count := 0
	monitor := true

	for vm.state != StateFinished && vm.quanta != 0 {
		if vm.state == StateFetching {
			if vm.ip >= vm.script.Len() {
				vm.StopScriptExecuting()
				break
			}
			vm.commandIP = vm.ip
			op, err := vm.FetchWord()
			if err != nil {
				return false, vm.translate(err)
			}
			vm.opcode = op
			if int(op) >= len(vm.table.commands) || vm.table.commands[op] == nil {
				return false, vm.translate(newFault(FaultOperand, "unknown command opcode %d", op))
			}
		}

		if err := vm.table.commands[vm.opcode](vm); err != nil {
			return vm.state == StateFinished, vm.translate(err)
		}
		vm.executed++

		if vm.quanta > 0 && !vm.atomic {
			vm.quanta--
		}
		if vm.state != StateFetching {
			break
		}

		if monitor {
			count++
			if count >= vm.FrozenThreshold {
				switch vm.askFrozen() {
				case FrozenAbort:
					return false, vm.translate(newFault(FaultFrozen, "aborted after %d instructions without yielding", count))
				case FrozenIgnore:
					monitor = false
				default:
					count = 0
				}
			}
		}
	}

	return vm.state == StateFinished, nil
}

func (vm *VM) askFrozen() FrozenAction {
	logging.Log(logging.LogLevelInfo, "possibly frozen script", "script", vm.scriptName(), "ip", vm.commandIP)
	if vm.OnFrozen == nil {
		return FrozenRetry
	}
	return vm.OnFrozen(vm)
}

func (vm *VM) translate(err error) error {
	var bad *InvalidAgentHandleError
	if errors.As(err, &bad) {
		return bad
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr
	}
	e := &RunError{
		Script:    vm.scriptName(),
		IP:        vm.ip,
		CommandIP: vm.commandIP,
		Command:   vm.table.CommandName(vm.opcode),
		Cause:     err,
	}
	if vm.script != nil {
		e.Line = vm.script.SourceOffset(vm.commandIP)
	}
	return e
}

func (vm *VM) scriptName() string {
	if vm.script == nil {
		return ""
	}
	return vm.script.Name
}

// Block suspends the script; the current instruction runs again on every
// UpdateVM call until UnBlock.
func (vm *VM) Block() error {
	if vm.quanta == QuantaUnlimited {
		return newFault(FaultBlock, "scripts run with unlimited quanta cannot block")
	}
	vm.state = StateBlocking
	vm.atomic = false
	logging.Log(logging.LogLevelDebug, "script blocked", "script", vm.scriptName(), "ip", vm.commandIP)
	return nil
}

func (vm *VM) UnBlock() {
	vm.state = StateFetching
}

func (vm *VM) State() RunState { return vm.state }

func (vm *VM) IsBlocking() bool { return vm.state == StateBlocking }

func (vm *VM) IsRunning() bool { return vm.state != StateFinished }

func (vm *VM) IP() int { return vm.ip }

func (vm *VM) CommandIP() int { return vm.commandIP }

// Jump moves the instruction pointer; used by flow control handlers.
func (vm *VM) Jump(addr int) error {
	if vm.script == nil || addr < 0 || addr > vm.script.Len() {
		return newFault(FaultOperand, "jump to %d outside script", addr)
	}
	vm.ip = addr
	return nil
}

// Opcode returns the command opcode currently executing or blocking.
func (vm *VM) Opcode() uint16 { return vm.opcode }

// Locked reports the LOCK flag. The VM itself ignores it; the external
// driver reads it to decide whether an interrupt may pre-empt the script.
func (vm *VM) Locked() bool { return vm.locked }

func (vm *VM) SetLocked(locked bool) { vm.locked = locked }

func (vm *VM) Atomic() bool { return vm.atomic }

func (vm *VM) SetAtomic(atomic bool) { vm.atomic = atomic }

func (vm *VM) Quanta() int { return vm.quanta }

// Executed returns the number of instructions the last UpdateVM call ran.
func (vm *VM) Executed() int { return vm.executed }

func (vm *VM) Script() *Script { return vm.script }

func (vm *VM) Table() *DispatchTable { return vm.table }

func (vm *VM) World() *World { return vm.world }

func (vm *VM) Owner() AgentHandle { return vm.owner }

func (vm *VM) Target() AgentHandle { return vm.target }

func (vm *VM) SetTarget(h AgentHandle) { vm.world.Agents.setHandle(&vm.target, h) }

func (vm *VM) From() AgentHandle { return vm.from }

func (vm *VM) Attention() AgentHandle { return vm.attention }

func (vm *VM) Camera() AgentHandle { return vm.camera }

func (vm *VM) SetCamera(h AgentHandle) { vm.world.Agents.setHandle(&vm.camera, h) }

func (vm *VM) Part() int32 { return vm.part }

func (vm *VM) SetPart(part int32) { vm.part = part }

func (vm *VM) P1() *Variable { return &vm.p1 }

func (vm *VM) P2() *Variable { return &vm.p2 }

// Local returns slot i of the local bank.
func (vm *VM) Local(i int) (*Variable, error) {
	if i < 0 || i >= LocalCount {
		return nil, newFault(FaultOperand, "local variable %d out of range", i)
	}
	v := &vm.locals[i]
	v.settle()
	return v, nil
}

// Assign stores value into a variable obtained from this VM.
func (vm *VM) Assign(dst *Variable, value Variable) {
	vm.world.Agents.Assign(dst, value)
}

// TargetAgent narrows the target handle.
func (vm *VM) TargetAgent() (*Agent, error) { return vm.world.Agents.Get(vm.target) }

func (vm *VM) OwnerAgent() (*Agent, error) { return vm.world.Agents.Get(vm.owner) }

func (vm *VM) PushValue(v int32) { vm.valueStack = append(vm.valueStack, v) }

func (vm *VM) PopValue() (int32, error) {
	n := len(vm.valueStack)
	if n == 0 {
		return 0, newFault(FaultStack, "value stack is empty")
	}
	v := vm.valueStack[n-1]
	vm.valueStack = vm.valueStack[:n-1]
	return v, nil
}

func (vm *VM) PushHandle(h AgentHandle) {
	vm.world.Agents.Retain(h)
	vm.handleStack = append(vm.handleStack, h)
}

// PopHandle removes the top of the handle stack and drops the stack's
// reference to it.
func (vm *VM) PopHandle() (AgentHandle, error) {
	n := len(vm.handleStack)
	if n == 0 {
		return AgentHandle{}, newFault(FaultStack, "agent stack is empty")
	}
	h := vm.handleStack[n-1]
	vm.handleStack = vm.handleStack[:n-1]
	vm.world.Agents.Release(h)
	return h, nil
}

// Print writes s to the output sink.
func (vm *VM) Print(s string) error {
	if vm.Output == nil {
		return nil
	}
	_, err := io.WriteString(vm.Output, s)
	return err
}

// Snapshot is a copy of the observable context, used by the debugger and
// tests.
type Snapshot struct {
	State       RunState
	IP          int
	CommandIP   int
	Command     string
	Locked      bool
	Atomic      bool
	Script      string
	Owner       AgentHandle
	Target      AgentHandle
	From        AgentHandle
	Attention   AgentHandle
	Camera      AgentHandle
	Part        int32
	P1, P2      Variable
	Locals      []Variable
	ValueStack  []int32
	HandleStack []AgentHandle
}

func (vm *VM) Snapshot() Snapshot {
	s := Snapshot{
		State:       vm.state,
		IP:          vm.ip,
		CommandIP:   vm.commandIP,
		Locked:      vm.locked,
		Atomic:      vm.atomic,
		Script:      vm.scriptName(),
		Owner:       vm.owner,
		Target:      vm.target,
		From:        vm.from,
		Attention:   vm.attention,
		Camera:      vm.camera,
		Part:        vm.part,
		P1:          vm.p1,
		P2:          vm.p2,
		Locals:      make([]Variable, LocalCount),
		ValueStack:  append([]int32(nil), vm.valueStack...),
		HandleStack: append([]AgentHandle(nil), vm.handleStack...),
	}
	if vm.state == StateBlocking {
		s.Command = vm.table.CommandName(vm.opcode)
	}
	for i := range vm.locals {
		vm.locals[i].settle()
		s.Locals[i] = vm.locals[i]
	}
	return s
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s ip=%d script=%q target=%s values=%v handles=%d",
		s.State, s.IP, s.Script, s.Target, s.ValueStack, len(s.HandleStack))
}
