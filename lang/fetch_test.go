package lang

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// rawRig starts a VM on hand-built bytecode, for exercising the fetch
// routines directly.
func rawRig(t *testing.T, code []byte) *VM {
	t.Helper()
	world := NewWorld()
	owner := world.Agents.Spawn("owner", KindSimple)
	vm := NewVM(NewDispatchTable(Builtins()), world)
	vm.StartScriptExecuting(NewScript("raw", code, nil), owner, AgentHandle{}, IntegerValue(0), IntegerValue(0))
	return vm
}

func words(ws ...uint16) []byte {
	var b []byte
	for _, w := range ws {
		b = binary.LittleEndian.AppendUint16(b, w)
	}
	return b
}

func TestFloatToInteger(t *testing.T) {
	tests := []struct {
		in   float32
		want int32
	}{
		{0, 0},
		{1.4, 1},
		{1.5, 2},
		{2.5, 3},
		{-1.5, -2},
		{-2.5, -3},
		{-0.4, 0},
		{1e10, math.MaxInt32},
		{-1e10, math.MinInt32},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := FloatToInteger(tt.in); got != tt.want {
			t.Errorf("FloatToInteger(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFetchRawDataAdvancesToEvenBoundary(t *testing.T) {
	code := append([]byte{1, 2, 3, 0}, words(0xBEEF)...)
	vm := rawRig(t, code)

	data, err := vm.FetchRawData(3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Errorf("data = %v, want [1 2 3]", data)
	}
	if vm.IP() != 4 {
		t.Errorf("IP = %d, want 4", vm.IP())
	}
	w, err := vm.FetchWord()
	if err != nil || w != 0xBEEF {
		t.Errorf("next word = %#x, %v; want 0xbeef", w, err)
	}
}

func TestFetchRawDataPastEnd(t *testing.T) {
	vm := rawRig(t, []byte{1, 2})
	if _, err := vm.FetchRawData(2, 2); err == nil {
		t.Fatal("expected an error reading past the end")
	}
	if vm.IP() != 0 {
		t.Errorf("IP moved to %d on a failed fetch", vm.IP())
	}
}

func TestFetchPromotesNumbers(t *testing.T) {
	code := words(uint16(TagFloat))
	code = binary.LittleEndian.AppendUint32(code, math.Float32bits(2.5))
	code = append(code, words(uint16(TagInteger))...)
	code = binary.LittleEndian.AppendUint32(code, 7)
	vm := rawRig(t, code)

	i, err := vm.FetchIntegerRV()
	if err != nil || i != 3 {
		t.Errorf("FetchIntegerRV() = %d, %v; want 3", i, err)
	}
	f, err := vm.FetchFloatRV()
	if err != nil || f != 7 {
		t.Errorf("FetchFloatRV() = %v, %v; want 7", f, err)
	}
}

func TestFetchStringConstantSkipsPadding(t *testing.T) {
	code := append(words(uint16(TagString), 3), 'a', 'b', 'c', 0)
	code = append(code, words(uint16(TagInteger))...)
	code = binary.LittleEndian.AppendUint32(code, 9)
	vm := rawRig(t, code)

	s, err := vm.FetchStringRV()
	if err != nil || s != "abc" {
		t.Fatalf("FetchStringRV() = %q, %v", s, err)
	}
	i, err := vm.FetchIntegerRV()
	if err != nil || i != 9 {
		t.Errorf("FetchIntegerRV() = %d, %v; want 9", i, err)
	}
}

func TestFetchTypeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		fetch func(vm *VM) error
		want  FaultKind
	}{
		{
			name: "string where number expected",
			code: append(words(uint16(TagString), 1), 'x', 0),
			fetch: func(vm *VM) error {
				_, err := vm.FetchIntegerRV()
				return err
			},
			want: FaultOperand,
		},
		{
			name: "number where agent expected",
			code: append(words(uint16(TagInteger)), 0, 0, 0, 0),
			fetch: func(vm *VM) error {
				_, err := vm.FetchAgentRV()
				return err
			},
			want: FaultOperand,
		},
		{
			name: "integer local where string expected",
			code: words(uint16(TagVariable), 0, 5),
			fetch: func(vm *VM) error {
				_, err := vm.FetchStringRV()
				return err
			},
			want: FaultType,
		},
		{
			name: "constant where variable expected",
			code: append(words(uint16(TagInteger)), 0, 0, 0, 0),
			fetch: func(vm *VM) error {
				_, err := vm.FetchVariable()
				return err
			},
			want: FaultOperand,
		},
		{
			name: "local slot out of range",
			code: words(uint16(TagVariable), 0, LocalCount),
			fetch: func(vm *VM) error {
				_, err := vm.FetchVariable()
				return err
			},
			want: FaultOperand,
		},
		{
			name: "unknown agent rvalue",
			code: words(uint16(TagAgentRV), 999),
			fetch: func(vm *VM) error {
				_, err := vm.FetchAgentRV()
				return err
			},
			want: FaultOperand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fetch(rawRig(t, tt.code))
			f, ok := err.(*ScriptFault)
			if !ok {
				t.Fatalf("expected *ScriptFault, got %T: %v", err, err)
			}
			if f.Kind != tt.want {
				t.Errorf("fault kind = %s, want %s", f.Kind, tt.want)
			}
		})
	}
}

func TestFetchGenericKeepsType(t *testing.T) {
	code := append(words(uint16(TagAgentRV), 0), words(uint16(TagFloat))...)
	code = binary.LittleEndian.AppendUint32(code, math.Float32bits(1.25))
	vm := rawRig(t, code)

	v, err := vm.FetchGenericRV()
	if err != nil || v.Type() != TypeAgent || v.agent != vm.Owner() {
		t.Errorf("first operand = %#v, %v; want the owner", v, err)
	}
	v, err = vm.FetchGenericRV()
	if err != nil || v.Type() != TypeFloat || v.f != 1.25 {
		t.Errorf("second operand = %#v, %v; want float 1.25", v, err)
	}
}
