package lang

import (
	"encoding/binary"
	"math"
)

// OperandTag precedes every operand in the bytecode and says how to read it.
type OperandTag uint16

const (
	TagInteger OperandTag = iota
	TagFloat
	TagString
	TagVariable
	TagIntegerRV
	TagStringRV
	TagFloatRV
	TagAgentRV
)

func (t OperandTag) String() string {
	names := []string{"integer", "float", "string", "variable", "integer rvalue", "string rvalue", "float rvalue", "agent rvalue"}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// FloatToInteger is the one conversion used wherever a float is read as an
// integer: round to nearest, halves away from zero, clamped to int32.
func FloatToInteger(f float32) int32 {
	r := math.Round(float64(f))
	switch {
	case math.IsNaN(r):
		return 0
	case r >= math.MaxInt32:
		return math.MaxInt32
	case r <= math.MinInt32:
		return math.MinInt32
	}
	return int32(r)
}

func (vm *VM) need(n int) ([]byte, error) {
	if vm.script == nil || vm.ip+n > vm.script.Len() {
		return nil, newFault(FaultOperand, "operand runs past end of script at %d", vm.ip)
	}
	b := vm.script.RawData(vm.ip)[:n]
	vm.ip += n
	return b, nil
}

// FetchWord reads an inline 16-bit operand.
func (vm *VM) FetchWord() (uint16, error) {
	b, err := vm.need(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// FetchAddress reads an inline 32-bit code address.
func (vm *VM) FetchAddress() (int, error) {
	b, err := vm.need(4)
	if err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(b)), nil
}

func (vm *VM) fetchInt32() (int32, error) {
	b, err := vm.need(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (vm *VM) fetchFloat32() (float32, error) {
	b, err := vm.need(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (vm *VM) fetchStringConstant() (string, error) {
	n, err := vm.FetchWord()
	if err != nil {
		return "", err
	}
	b, err := vm.need(evenSize(int(n)))
	if err != nil {
		return "", err
	}
	return string(b[:n]), nil
}

func evenSize(n int) int { return (n + 1) &^ 1 }

// lookup reads an inline opcode and returns its handler from hs.
func lookup[H any](vm *VM, hs []H, kind TableKind) (H, error) {
	var zero H
	op, err := vm.FetchWord()
	if err != nil {
		return zero, err
	}
	if int(op) >= len(hs) {
		return zero, newFault(FaultOperand, "unknown %s opcode %d", kind, op)
	}
	return hs[op], nil
}

func (vm *VM) fetchTag() (OperandTag, error) {
	w, err := vm.FetchWord()
	return OperandTag(w), err
}

// PeekTag returns the next operand tag without consuming it.
func (vm *VM) PeekTag() (OperandTag, error) {
	if vm.script == nil || vm.ip+2 > vm.script.Len() {
		return 0, newFault(FaultOperand, "operand runs past end of script at %d", vm.ip)
	}
	return OperandTag(binary.LittleEndian.Uint16(vm.script.RawData(vm.ip))), nil
}

// fetchNumber reads any numeric operand, keeping whether it was an integer
// or a float.
func (vm *VM) fetchNumber() (Variable, error) {
	tag, err := vm.fetchTag()
	if err != nil {
		return Variable{}, err
	}
	return vm.numberFor(tag)
}

func (vm *VM) numberFor(tag OperandTag) (Variable, error) {
	switch tag {
	case TagInteger:
		i, err := vm.fetchInt32()
		return IntegerValue(i), err
	case TagFloat:
		f, err := vm.fetchFloat32()
		return FloatValue(f), err
	case TagIntegerRV:
		h, err := lookup(vm, vm.table.integers, TableIntegerRVs)
		if err != nil {
			return Variable{}, err
		}
		i, err := h(vm)
		return IntegerValue(i), err
	case TagFloatRV:
		h, err := lookup(vm, vm.table.floats, TableFloatRVs)
		if err != nil {
			return Variable{}, err
		}
		f, err := h(vm)
		return FloatValue(f), err
	case TagVariable:
		v, err := vm.variableFor()
		if err != nil {
			return Variable{}, err
		}
		if !v.IsNumeric() {
			return Variable{}, newFault(FaultType, "variable holds %s, expected a number", v.Type())
		}
		return *v, nil
	}
	return Variable{}, newFault(FaultOperand, "expected a numeric operand, found %s", tag)
}

func (vm *VM) FetchIntegerRV() (int32, error) {
	n, err := vm.fetchNumber()
	if err != nil {
		return 0, err
	}
	return n.AsInteger()
}

func (vm *VM) FetchFloatRV() (float32, error) {
	n, err := vm.fetchNumber()
	if err != nil {
		return 0, err
	}
	return n.AsFloat()
}

func (vm *VM) FetchStringRV() (string, error) {
	tag, err := vm.fetchTag()
	if err != nil {
		return "", err
	}
	return vm.stringFor(tag)
}

func (vm *VM) stringFor(tag OperandTag) (string, error) {
	switch tag {
	case TagString:
		return vm.fetchStringConstant()
	case TagStringRV:
		h, err := lookup(vm, vm.table.strs, TableStringRVs)
		if err != nil {
			return "", err
		}
		return h(vm)
	case TagVariable:
		v, err := vm.variableFor()
		if err != nil {
			return "", err
		}
		return v.AsString()
	}
	return "", newFault(FaultOperand, "expected a string operand, found %s", tag)
}

func (vm *VM) FetchAgentRV() (AgentHandle, error) {
	tag, err := vm.fetchTag()
	if err != nil {
		return AgentHandle{}, err
	}
	return vm.agentFor(tag)
}

func (vm *VM) agentFor(tag OperandTag) (AgentHandle, error) {
	switch tag {
	case TagAgentRV:
		h, err := lookup(vm, vm.table.agents, TableAgentRVs)
		if err != nil {
			return AgentHandle{}, err
		}
		return h(vm)
	case TagVariable:
		v, err := vm.variableFor()
		if err != nil {
			return AgentHandle{}, err
		}
		return v.AsAgent()
	}
	return AgentHandle{}, newFault(FaultOperand, "expected an agent operand, found %s", tag)
}

// FetchVariable reads a variable operand and returns the storage it names,
// so the caller can read or overwrite it.
func (vm *VM) FetchVariable() (*Variable, error) {
	tag, err := vm.fetchTag()
	if err != nil {
		return nil, err
	}
	if tag != TagVariable {
		return nil, newFault(FaultOperand, "expected a variable, found %s", tag)
	}
	return vm.variableFor()
}

func (vm *VM) variableFor() (*Variable, error) {
	h, err := lookup(vm, vm.table.variables, TableVariables)
	if err != nil {
		return nil, err
	}
	v, err := h(vm)
	if err != nil {
		return nil, err
	}
	v.settle()
	return v, nil
}

// FetchGenericRV reads an operand of any type.
func (vm *VM) FetchGenericRV() (Variable, error) {
	tag, err := vm.fetchTag()
	if err != nil {
		return Variable{}, err
	}
	switch tag {
	case TagString, TagStringRV:
		s, err := vm.stringFor(tag)
		return StringValue(s), err
	case TagAgentRV:
		h, err := vm.agentFor(tag)
		return AgentValue(h), err
	case TagVariable:
		v, err := vm.variableFor()
		if err != nil {
			return Variable{}, err
		}
		return *v, nil
	}
	return vm.numberFor(tag)
}

// FetchRawData returns count elements of elementSize bytes stored inline at
// the instruction pointer. The slice aliases the script and must not be
// modified.
func (vm *VM) FetchRawData(count, elementSize int) ([]byte, error) {
	if count < 0 || elementSize < 0 {
		return nil, newFault(FaultOperand, "negative raw data size")
	}
	size := count * elementSize
	b, err := vm.need(evenSize(size))
	if err != nil {
		return nil, err
	}
	return b[:size:size], nil
}
