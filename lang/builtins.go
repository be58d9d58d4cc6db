package lang

import (
	"math"
	"math/rand/v2"
	"strings"
)

// Builtins returns the built-in handler tables in their canonical opcode
// order. Callers may reorder or extend the returned lists before building a
// DispatchTable.
func Builtins() *Tables {
	return &Tables{
		CommandList: []Entry[CommandHandler]{
			{"SETV", "vf", commandSETV},
			{"ADDV", "vf", arithmetic(addInt, addFloat)},
			{"SUBV", "vf", arithmetic(subInt, subFloat)},
			{"MULV", "vf", arithmetic(mulInt, mulFloat)},
			{"DIVV", "vf", arithmetic(divInt, divFloat)},
			{"MODV", "vi", commandMODV},
			{"NEGV", "v", commandNEGV},
			{"SETS", "vs", commandSETS},
			{"ADDS", "vs", commandADDS},
			{"SETA", "va", commandSETA},
			{"OUTV", "f", commandOUTV},
			{"OUTS", "s", commandOUTS},
			{"OUTX", "g", commandOUTX},
			{"TARG", "a", commandTARG},
			{"SCAM", "a", commandSCAM},
			{"WAIT", "i", commandWAIT},
			{"STOP", "", commandSTOP},
			{"INST", "", commandINST},
			{"SLOW", "", commandSLOW},
			{"LOCK", "", commandLOCK},
			{"UNLK", "", commandUNLK},
			{"DOIF", "cx", commandDOIF},
			{"ELSE", "x", commandJump},
			{"ENDI", "", commandNop},
			{"REPS", "i", commandREPS},
			{"REPE", "x", commandREPE},
			{"LOOP", "", commandNop},
			{"UNTL", "cx", commandUNTL},
			{"EVER", "x", commandJump},
			{"GSUB", "l", commandGSUB},
			{"SUBR", "n", commandSTOP},
			{"RETN", "", commandRETN},
			{"ENUM", "x", commandENUM},
			{"NEXT", "x", commandNEXT},
			{"NEWA", "s", commandNEWA},
			{"KILL", "a", commandKILL},
			{"PART", "i", commandPART},
			{"ANIM", "b", commandANIM},
			{"ASRT", "c", commandASRT},
		},
		IntegerList: []Entry[IntegerHandler]{
			{"RAND", "ii", integerRAND},
			{"FTOI", "f", integerFTOI},
			{"STRL", "s", integerSTRL},
			{"CNTA", "", integerCNTA},
			{"PRTN", "", integerPRTN},
			{"TICK", "", integerTICK},
		},
		StringList: []Entry[StringHandler]{
			{"VTOS", "f", stringVTOS},
			{"GNAM", "a", stringGNAM},
		},
		FloatList: []Entry[FloatHandler]{
			{"ITOF", "i", floatITOF},
			{"SQRT", "f", floatSQRT},
		},
		AgentList: []Entry[AgentHandler]{
			{"OWNR", "", func(vm *VM) (AgentHandle, error) { return vm.owner, nil }},
			{"TARG", "", func(vm *VM) (AgentHandle, error) { return vm.target, nil }},
			{"FROM", "", func(vm *VM) (AgentHandle, error) { return vm.from, nil }},
			{"_IT_", "", func(vm *VM) (AgentHandle, error) { return vm.attention, nil }},
			{"CAMR", "", func(vm *VM) (AgentHandle, error) { return vm.camera, nil }},
			{"NULL", "", func(vm *VM) (AgentHandle, error) { return AgentHandle{}, nil }},
		},
		VariableList: []Entry[VariableHandler]{
			{"VA", "#", variableVA},
			{"OV", "#", variableOV},
			{"MV", "#", variableMV},
			{"GAME", "s", variableGAME},
			{"_P1_", "", func(vm *VM) (*Variable, error) { return &vm.p1, nil }},
			{"_P2_", "", func(vm *VM) (*Variable, error) { return &vm.p2, nil }},
		},
	}
}

func commandNop(vm *VM) error { return nil }

func commandSETV(vm *VM) error {
	v, err := vm.FetchVariable()
	if err != nil {
		return err
	}
	n, err := vm.fetchNumber()
	if err != nil {
		return err
	}
	vm.Assign(v, n)
	return nil
}

func addInt(a, b int32) (int32, error)       { return a + b, nil }
func addFloat(a, b float32) (float32, error) { return a + b, nil }
func subInt(a, b int32) (int32, error)       { return a - b, nil }
func subFloat(a, b float32) (float32, error) { return a - b, nil }
func mulInt(a, b int32) (int32, error)       { return a * b, nil }
func mulFloat(a, b float32) (float32, error) { return a * b, nil }

func divInt(a, b int32) (int32, error) {
	if b == 0 {
		return 0, newFault(FaultValue, "division by zero")
	}
	return a / b, nil
}

func divFloat(a, b float32) (float32, error) {
	if b == 0 {
		return 0, newFault(FaultValue, "division by zero")
	}
	return a / b, nil
}

// arithmetic builds a "variable op= number" command. Integers stay integers
// unless either side is a float.
func arithmetic(iop func(a, b int32) (int32, error), fop func(a, b float32) (float32, error)) CommandHandler {
	return func(vm *VM) error {
		v, err := vm.FetchVariable()
		if err != nil {
			return err
		}
		n, err := vm.fetchNumber()
		if err != nil {
			return err
		}
		if !v.IsNumeric() {
			return newFault(FaultType, "variable holds %s, expected a number", v.Type())
		}
		if v.Type() == TypeInteger && n.Type() == TypeInteger {
			r, err := iop(v.i, n.i)
			if err != nil {
				return err
			}
			vm.Assign(v, IntegerValue(r))
			return nil
		}
		a, _ := v.AsFloat()
		b, _ := n.AsFloat()
		r, err := fop(a, b)
		if err != nil {
			return err
		}
		vm.Assign(v, FloatValue(r))
		return nil
	}
}

func commandMODV(vm *VM) error {
	v, err := vm.FetchVariable()
	if err != nil {
		return err
	}
	n, err := vm.FetchIntegerRV()
	if err != nil {
		return err
	}
	a, err := v.AsInteger()
	if err != nil {
		return err
	}
	if n == 0 {
		return newFault(FaultValue, "modulus by zero")
	}
	vm.Assign(v, IntegerValue(a%n))
	return nil
}

func commandNEGV(vm *VM) error {
	v, err := vm.FetchVariable()
	if err != nil {
		return err
	}
	switch v.Type() {
	case TypeInteger:
		vm.Assign(v, IntegerValue(-v.i))
	case TypeFloat:
		vm.Assign(v, FloatValue(-v.f))
	default:
		return newFault(FaultType, "variable holds %s, expected a number", v.Type())
	}
	return nil
}

func commandSETS(vm *VM) error {
	v, err := vm.FetchVariable()
	if err != nil {
		return err
	}
	s, err := vm.FetchStringRV()
	if err != nil {
		return err
	}
	vm.Assign(v, StringValue(s))
	return nil
}

func commandADDS(vm *VM) error {
	v, err := vm.FetchVariable()
	if err != nil {
		return err
	}
	s, err := vm.FetchStringRV()
	if err != nil {
		return err
	}
	prefix, err := v.AsString()
	if err != nil {
		return err
	}
	vm.Assign(v, StringValue(prefix+s))
	return nil
}

func commandSETA(vm *VM) error {
	v, err := vm.FetchVariable()
	if err != nil {
		return err
	}
	h, err := vm.FetchAgentRV()
	if err != nil {
		return err
	}
	vm.Assign(v, AgentValue(h))
	return nil
}

func commandOUTV(vm *VM) error {
	n, err := vm.fetchNumber()
	if err != nil {
		return err
	}
	return vm.Print(n.Text())
}

func commandOUTS(vm *VM) error {
	s, err := vm.FetchStringRV()
	if err != nil {
		return err
	}
	return vm.Print(s)
}

func commandOUTX(vm *VM) error {
	v, err := vm.FetchGenericRV()
	if err != nil {
		return err
	}
	if v.Type() == TypeString {
		return vm.Print(`"` + strings.ReplaceAll(v.s, `"`, `\"`) + `"`)
	}
	return vm.Print(v.Text())
}

func commandTARG(vm *VM) error {
	h, err := vm.FetchAgentRV()
	if err != nil {
		return err
	}
	vm.SetTarget(h)
	return nil
}

func commandSCAM(vm *VM) error {
	h, err := vm.FetchAgentRV()
	if err != nil {
		return err
	}
	vm.SetCamera(h)
	return nil
}

// commandWAIT blocks for the given number of ticks. The countdown lives on
// the owner because the VM re-runs this handler from scratch every tick.
func commandWAIT(vm *VM) error {
	if !vm.IsBlocking() {
		ticks, err := vm.FetchIntegerRV()
		if err != nil {
			return err
		}
		if ticks <= 0 {
			return nil
		}
		owner, err := vm.OwnerAgent()
		if err != nil {
			return err
		}
		owner.WaitRemaining = ticks
		return vm.Block()
	}

	owner, err := vm.OwnerAgent()
	if err != nil {
		return err
	}
	owner.WaitRemaining--
	if owner.WaitRemaining <= 0 {
		owner.WaitRemaining = 0
		vm.UnBlock()
	}
	return nil
}

func commandSTOP(vm *VM) error {
	vm.StopScriptExecuting()
	return nil
}

func commandINST(vm *VM) error {
	vm.SetAtomic(true)
	return nil
}

func commandSLOW(vm *VM) error {
	vm.SetAtomic(false)
	return nil
}

func commandLOCK(vm *VM) error {
	vm.SetLocked(true)
	return nil
}

func commandUNLK(vm *VM) error {
	vm.SetLocked(false)
	return nil
}

func commandJump(vm *VM) error {
	addr, err := vm.FetchAddress()
	if err != nil {
		return err
	}
	return vm.Jump(addr)
}

// conditionalJump evaluates a condition and jumps to the inline address when
// it equals jumpWhen.
func conditionalJump(vm *VM, jumpWhen bool) error {
	ok, err := vm.Evaluate()
	if err != nil {
		return err
	}
	addr, err := vm.FetchAddress()
	if err != nil {
		return err
	}
	if ok == jumpWhen {
		return vm.Jump(addr)
	}
	return nil
}

func commandDOIF(vm *VM) error { return conditionalJump(vm, false) }

func commandUNTL(vm *VM) error { return conditionalJump(vm, false) }

func commandREPS(vm *VM) error {
	n, err := vm.FetchIntegerRV()
	if err != nil {
		return err
	}
	if n < 1 {
		return newFault(FaultValue, "REPS count must be positive, got %d", n)
	}
	vm.PushValue(n)
	return nil
}

func commandREPE(vm *VM) error {
	addr, err := vm.FetchAddress()
	if err != nil {
		return err
	}
	n, err := vm.PopValue()
	if err != nil {
		return err
	}
	if n--; n > 0 {
		vm.PushValue(n)
		return vm.Jump(addr)
	}
	return nil
}

func commandGSUB(vm *VM) error {
	addr, err := vm.FetchAddress()
	if err != nil {
		return err
	}
	vm.PushValue(int32(vm.IP()))
	return vm.Jump(addr)
}

func commandRETN(vm *VM) error {
	addr, err := vm.PopValue()
	if err != nil {
		return err
	}
	return vm.Jump(int(addr))
}

// commandENUM saves the target, then stacks every live agent above a count
// on the value stack. NEXT walks them with TARG set to each in turn.
func commandENUM(vm *VM) error {
	end, err := vm.FetchAddress()
	if err != nil {
		return err
	}
	agents := vm.world.Agents.Agents()
	vm.PushHandle(vm.target)
	for i := len(agents) - 1; i >= 0; i-- {
		vm.PushHandle(agents[i])
	}
	vm.PushValue(int32(len(agents)))
	more, err := enumAdvance(vm)
	if err != nil || more {
		return err
	}
	return vm.Jump(end)
}

func commandNEXT(vm *VM) error {
	body, err := vm.FetchAddress()
	if err != nil {
		return err
	}
	more, err := enumAdvance(vm)
	if err != nil || !more {
		return err
	}
	return vm.Jump(body)
}

func enumAdvance(vm *VM) (bool, error) {
	n, err := vm.PopValue()
	if err != nil {
		return false, err
	}
	h, err := vm.PopHandle()
	if err != nil {
		return false, err
	}
	vm.SetTarget(h)
	if n == 0 {
		return false, nil
	}
	vm.PushValue(n - 1)
	return true, nil
}

func commandNEWA(vm *VM) error {
	name, err := vm.FetchStringRV()
	if err != nil {
		return err
	}
	h := vm.world.Agents.Spawn(name, KindSimple)
	vm.SetTarget(h)
	return nil
}

func commandKILL(vm *VM) error {
	h, err := vm.FetchAgentRV()
	if err != nil {
		return err
	}
	if _, err := vm.world.Agents.Get(h); err != nil {
		return err
	}
	vm.world.Agents.Kill(h)
	return nil
}

func commandPART(vm *VM) error {
	n, err := vm.FetchIntegerRV()
	if err != nil {
		return err
	}
	if n < 0 {
		return newFault(FaultValue, "part number %d is negative", n)
	}
	vm.SetPart(n)
	return nil
}

// commandANIM stores an inline pose list on the target.
func commandANIM(vm *VM) error {
	n, err := vm.FetchWord()
	if err != nil {
		return err
	}
	poses, err := vm.FetchRawData(int(n), 1)
	if err != nil {
		return err
	}
	a, err := vm.TargetAgent()
	if err != nil {
		return err
	}
	a.Animation = append(a.Animation[:0], poses...)
	return nil
}

func commandASRT(vm *VM) error {
	ok, err := vm.Evaluate()
	if err != nil {
		return err
	}
	if !ok {
		return newFault(FaultAssert, "assertion at ip %d is false", vm.CommandIP())
	}
	return nil
}

func integerRAND(vm *VM) (int32, error) {
	lo, err := vm.FetchIntegerRV()
	if err != nil {
		return 0, err
	}
	hi, err := vm.FetchIntegerRV()
	if err != nil {
		return 0, err
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + int32(rand.Int64N(int64(hi)-int64(lo)+1)), nil
}

func integerFTOI(vm *VM) (int32, error) {
	f, err := vm.FetchFloatRV()
	if err != nil {
		return 0, err
	}
	return FloatToInteger(f), nil
}

func integerSTRL(vm *VM) (int32, error) {
	s, err := vm.FetchStringRV()
	return int32(len(s)), err
}

func integerCNTA(vm *VM) (int32, error) {
	return int32(len(vm.world.Agents.Agents())), nil
}

func integerPRTN(vm *VM) (int32, error) { return vm.part, nil }

func integerTICK(vm *VM) (int32, error) { return int32(vm.world.Tick), nil }

func stringVTOS(vm *VM) (string, error) {
	n, err := vm.fetchNumber()
	if err != nil {
		return "", err
	}
	return n.Text(), nil
}

func stringGNAM(vm *VM) (string, error) {
	h, err := vm.FetchAgentRV()
	if err != nil {
		return "", err
	}
	a, err := vm.world.Agents.Get(h)
	if err != nil {
		return "", err
	}
	return a.Name, nil
}

func floatITOF(vm *VM) (float32, error) {
	i, err := vm.FetchIntegerRV()
	return float32(i), err
}

func floatSQRT(vm *VM) (float32, error) {
	f, err := vm.FetchFloatRV()
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, newFault(FaultValue, "square root of negative number %v", f)
	}
	return float32(math.Sqrt(float64(f))), nil
}

func slotOperand(vm *VM, bank *[AgentVariableCount]Variable) (*Variable, error) {
	i, err := vm.FetchWord()
	if err != nil {
		return nil, err
	}
	if int(i) >= len(bank) {
		return nil, newFault(FaultOperand, "variable slot %d out of range", i)
	}
	return &bank[i], nil
}

func variableVA(vm *VM) (*Variable, error) {
	i, err := vm.FetchWord()
	if err != nil {
		return nil, err
	}
	return vm.Local(int(i))
}

func variableOV(vm *VM) (*Variable, error) {
	a, err := vm.TargetAgent()
	if err != nil {
		return nil, err
	}
	return slotOperand(vm, &a.Vars)
}

func variableMV(vm *VM) (*Variable, error) {
	a, err := vm.OwnerAgent()
	if err != nil {
		return nil, err
	}
	return slotOperand(vm, &a.Vars)
}

func variableGAME(vm *VM) (*Variable, error) {
	name, err := vm.FetchStringRV()
	if err != nil {
		return nil, err
	}
	return vm.world.Global(name), nil
}
