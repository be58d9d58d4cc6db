package lang

import (
	"fmt"
	"strconv"
)

type ValueType uint8

const (
	TypeInteger ValueType = iota
	TypeFloat
	TypeString
	TypeAgent
)

func (t ValueType) String() string {
	names := []string{"integer", "float", "string", "agent"}
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// Variable is the tagged dynamic value used for local variables, agent
// variables, message parameters and generic fetches. The zero value is the
// integer 0.
type Variable struct {
	typ   ValueType
	i     int32
	f     float32
	s     string
	agent AgentHandle

	// stale marks a slot that must read as integer 0 the next time it is
	// touched.
	stale bool
}

func IntegerValue(i int32) Variable { return Variable{typ: TypeInteger, i: i} }
func FloatValue(f float32) Variable { return Variable{typ: TypeFloat, f: f} }
func StringValue(s string) Variable { return Variable{typ: TypeString, s: s} }
func AgentValue(h AgentHandle) Variable { return Variable{typ: TypeAgent, agent: h} }

func (v *Variable) settle() {
	if v.stale {
		*v = Variable{}
	}
}

func (v *Variable) Type() ValueType {
	v.settle()
	return v.typ
}

func (v *Variable) IsNumeric() bool {
	t := v.Type()
	return t == TypeInteger || t == TypeFloat
}

// AsInteger returns the value as an integer, converting floats with
// FloatToInteger.
func (v *Variable) AsInteger() (int32, error) {
	switch v.Type() {
	case TypeInteger:
		return v.i, nil
	case TypeFloat:
		return FloatToInteger(v.f), nil
	}
	return 0, newFault(FaultType, "expected a number, got %s", v.typ)
}

func (v *Variable) AsFloat() (float32, error) {
	switch v.Type() {
	case TypeInteger:
		return float32(v.i), nil
	case TypeFloat:
		return v.f, nil
	}
	return 0, newFault(FaultType, "expected a number, got %s", v.typ)
}

func (v *Variable) AsString() (string, error) {
	if v.Type() != TypeString {
		return "", newFault(FaultType, "expected a string, got %s", v.typ)
	}
	return v.s, nil
}

func (v *Variable) AsAgent() (AgentHandle, error) {
	if v.Type() != TypeAgent {
		return AgentHandle{}, newFault(FaultType, "expected an agent, got %s", v.typ)
	}
	return v.agent, nil
}

// Text renders the value the way OUTV/OUTX print it.
func (v *Variable) Text() string {
	switch v.Type() {
	case TypeInteger:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.f), 'f', -1, 32)
	case TypeString:
		return v.s
	case TypeAgent:
		return v.agent.String()
	}
	return "?"
}

func (v Variable) GoString() string {
	v.settle()
	switch v.typ {
	case TypeString:
		return fmt.Sprintf("%s(%q)", v.typ, v.s)
	default:
		return fmt.Sprintf("%s(%s)", v.typ, v.Text())
	}
}

// Equal reports whether both values hold the same type and payload.
func (v Variable) Equal(o Variable) bool {
	v.settle()
	o.settle()
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeInteger:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeString:
		return v.s == o.s
	default:
		return v.agent == o.agent
	}
}
