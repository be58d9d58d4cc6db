package lang

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Disassembler decodes bytecode back into a readable listing using the
// operand signatures of a dispatch table.
type Disassembler struct {
	table *DispatchTable
	code  []byte
	pc    int
}

func NewDisassembler(table *DispatchTable) *Disassembler {
	return &Disassembler{table: table}
}

// Instruction is one decoded command.
type Instruction struct {
	Addr     int
	Line     int
	Name     string
	Operands []string
}

func (in Instruction) String() string {
	if len(in.Operands) == 0 {
		return in.Name
	}
	return in.Name + " " + strings.Join(in.Operands, " ")
}

// Decode splits a script into instructions. Decoding stops at the first
// malformed instruction and reports its address.
func (d *Disassembler) Decode(script *Script) ([]Instruction, error) {
	d.code = script.Code
	d.pc = 0

	var out []Instruction
	for d.pc < len(d.code) {
		addr := d.pc
		op, err := d.word()
		if err != nil {
			return out, err
		}
		name := d.table.CommandName(op)
		if name == "" {
			return out, fmt.Errorf("unknown opcode %d at %04d", op, addr)
		}
		in := Instruction{Addr: addr, Line: script.SourceOffset(addr), Name: name}
		for _, kind := range d.table.Operands(TableCommands, op) {
			if kind == 'n' {
				continue
			}
			text, err := d.operand(kind)
			if err != nil {
				return out, fmt.Errorf("%s at %04d: %w", name, addr, err)
			}
			in.Operands = append(in.Operands, text)
		}
		out = append(out, in)
	}
	return out, nil
}

// Dump writes a listing of script to w, one instruction per line.
func (d *Disassembler) Dump(w io.Writer, script *Script) error {
	instructions, err := d.Decode(script)
	for _, in := range instructions {
		if _, werr := fmt.Fprintf(w, "%04d  line %-4d %s\n", in.Addr, in.Line, in); werr != nil {
			return werr
		}
	}
	return err
}

func (d *Disassembler) take(n int) ([]byte, error) {
	if d.pc+n > len(d.code) {
		return nil, fmt.Errorf("truncated operand at %04d", d.pc)
	}
	b := d.code[d.pc : d.pc+n]
	d.pc += n
	return b, nil
}

func (d *Disassembler) word() (uint16, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *Disassembler) dword() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Disassembler) operand(kind rune) (string, error) {
	switch kind {
	case 'x', 'l':
		addr, err := d.dword()
		return fmt.Sprintf("@%04d", addr), err
	case '#':
		slot, err := d.word()
		return fmt.Sprintf("%02d", slot), err
	case 'b':
		n, err := d.word()
		if err != nil {
			return "", err
		}
		raw, err := d.take(evenSize(int(n)))
		if err != nil {
			return "", err
		}
		parts := make([]string, n)
		for i := range parts {
			parts[i] = strconv.Itoa(int(raw[i]))
		}
		return "[" + strings.Join(parts, " ") + "]", nil
	case 'c':
		return d.condition()
	}
	return d.tagged()
}

func (d *Disassembler) condition() (string, error) {
	var parts []string
	for {
		lhs, err := d.tagged()
		if err != nil {
			return "", err
		}
		cmp, err := d.word()
		if err != nil {
			return "", err
		}
		rhs, err := d.tagged()
		if err != nil {
			return "", err
		}
		parts = append(parts, lhs, Comparator(cmp).String(), rhs)

		logical, err := d.word()
		if err != nil {
			return "", err
		}
		switch Logical(logical) {
		case LogicalEnd:
			return strings.Join(parts, " "), nil
		case LogicalAnd:
			parts = append(parts, "AND")
		case LogicalOr:
			parts = append(parts, "OR")
		default:
			return "", fmt.Errorf("bad logical operator %d", logical)
		}
	}
}

func (d *Disassembler) tagged() (string, error) {
	tag, err := d.word()
	if err != nil {
		return "", err
	}
	switch OperandTag(tag) {
	case TagInteger:
		v, err := d.dword()
		return strconv.Itoa(int(int32(v))), err
	case TagFloat:
		v, err := d.dword()
		f := math.Float32frombits(v)
		return strconv.FormatFloat(float64(f), 'f', -1, 32), err
	case TagString:
		n, err := d.word()
		if err != nil {
			return "", err
		}
		raw, err := d.take(evenSize(int(n)))
		if err != nil {
			return "", err
		}
		return strconv.Quote(string(raw[:n])), nil
	case TagVariable:
		return d.call(TableVariables)
	case TagIntegerRV:
		return d.call(TableIntegerRVs)
	case TagStringRV:
		return d.call(TableStringRVs)
	case TagFloatRV:
		return d.call(TableFloatRVs)
	case TagAgentRV:
		return d.call(TableAgentRVs)
	}
	return "", fmt.Errorf("bad operand tag %d", tag)
}

func (d *Disassembler) call(kind TableKind) (string, error) {
	op, err := d.word()
	if err != nil {
		return "", err
	}
	name := d.table.Name(kind, op)
	if name == "" {
		return "", fmt.Errorf("unknown %s opcode %d", kind, op)
	}
	sig := d.table.Operands(kind, op)
	if sig == "#" {
		slot, err := d.word()
		return fmt.Sprintf("%s%02d", name, slot), err
	}
	parts := []string{name}
	for _, k := range sig {
		text, err := d.operand(k)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), nil
}
