package lang

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Operand signature letters used in Entry.Operands:
//
//	i, f  a numeric rvalue (integer or float)
//	s     a string rvalue
//	a     an agent rvalue
//	g     an rvalue of any type
//	v     a variable
//	c     a condition
//	b     an inline byte list
//	x     a flow-control address filled in by the assembler
//	l     a subroutine name to jump to (GSUB)
//	n     a subroutine name being defined (SUBR)
//	#     an inline slot number (variable banks)
const operandKinds = "ifsagvcbxln#"

var bankVariable = regexp.MustCompile(`^([A-Z]{2})(\d\d)$`)

type block struct {
	kind    string
	pos     lexer.Position
	start   int
	pending int
}

type callFixup struct {
	at   int
	name string
	pos  lexer.Position
}

// Assembler turns parsed programs into bytecode for a dispatch table.
type Assembler struct {
	table  *DispatchTable
	source string

	code   []byte
	lines  map[int]int
	blocks []*block
	subs   map[string]int
	calls  []callFixup
}

func NewAssembler(table *DispatchTable) *Assembler {
	return &Assembler{table: table}
}

// Assemble parses and assembles source into a script called name.
func Assemble(table *DispatchTable, name, source string) (*Script, error) {
	program, err := Parse(name, source)
	if err != nil {
		return nil, err
	}
	return NewAssembler(table).AssembleProgram(name, source, program)
}

func (a *Assembler) AssembleProgram(name, source string, program *Program) (*Script, error) {
	a.source = source
	a.code = make([]byte, 0, 64)
	a.lines = make(map[int]int)
	a.blocks = nil
	a.subs = make(map[string]int)
	a.calls = nil

	for _, stmt := range program.Statements {
		if err := a.statement(stmt); err != nil {
			return nil, err
		}
	}

	if n := len(a.blocks); n > 0 {
		b := a.blocks[n-1]
		return nil, a.errorf(ErrorSyntax, b.pos, b.kind, "%s is never closed", b.kind)
	}
	for _, c := range a.calls {
		addr, ok := a.subs[c.name]
		if !ok {
			return nil, a.errorf(ErrorUnknownName, c.pos, c.name, "no SUBR named %s", c.name)
		}
		binary.LittleEndian.PutUint32(a.code[c.at:], uint32(addr))
	}

	return NewScript(name, a.code, a.lines), nil
}

func (a *Assembler) errorf(kind AssembleErrorKind, pos lexer.Position, snippet, format string, args ...any) error {
	return newAssembleError(kind, pos, a.source, snippet, fmt.Sprintf(format, args...), "")
}

func (a *Assembler) emitWord(w uint16) {
	a.code = binary.LittleEndian.AppendUint16(a.code, w)
}

func (a *Assembler) emitUint32(v uint32) {
	a.code = binary.LittleEndian.AppendUint32(a.code, v)
}

func (a *Assembler) emitBytes(b []byte) {
	a.code = append(a.code, b...)
	if len(b)%2 == 1 {
		a.code = append(a.code, 0)
	}
}

func (a *Assembler) patch(at, addr int) {
	binary.LittleEndian.PutUint32(a.code[at:], uint32(addr))
}

// atoms walks the flat operand list of one statement.
type atoms struct {
	list []*Atom
	pos  lexer.Position
}

func (r *atoms) next() *Atom {
	if len(r.list) == 0 {
		return nil
	}
	at := r.list[0]
	r.list = r.list[1:]
	r.pos = at.Pos
	return at
}

func (r *atoms) peekWord() string {
	if len(r.list) == 0 || r.list[0].Word == nil {
		return ""
	}
	return strings.ToUpper(*r.list[0].Word)
}

func (a *Assembler) statement(stmt *Statement) error {
	name := strings.ToUpper(stmt.Name)
	op, ok := a.table.CommandOpcode(name)
	if !ok {
		return a.errorf(ErrorUnknownName, stmt.Pos, stmt.Name, "unknown command %s", stmt.Name)
	}

	start := len(a.code)
	a.lines[start] = stmt.Pos.Line
	a.emitWord(op)

	args := &atoms{list: stmt.Args, pos: stmt.Pos}
	slot := -1
	var define string
	for _, kind := range a.table.Operands(TableCommands, op) {
		switch kind {
		case 'x':
			slot = len(a.code)
			a.emitUint32(0)
		case 'l', 'n':
			at := args.next()
			if at == nil || at.Word == nil {
				return a.errorf(ErrorOperand, args.pos, stmt.Name, "%s needs a subroutine name", name)
			}
			if kind == 'n' {
				define = strings.ToUpper(*at.Word)
				continue
			}
			a.calls = append(a.calls, callFixup{at: len(a.code), name: strings.ToUpper(*at.Word), pos: at.Pos})
			a.emitUint32(0)
		default:
			if err := a.operand(kind, args); err != nil {
				return err
			}
		}
	}
	if len(args.list) > 0 {
		extra := args.list[0]
		return a.errorf(ErrorOperand, extra.Pos, "", "too many operands for %s", name)
	}

	end := len(a.code)
	if define != "" {
		if _, dup := a.subs[define]; dup {
			return a.errorf(ErrorOperand, stmt.Pos, define, "subroutine %s defined twice", define)
		}
		a.subs[define] = end
	}
	return a.structure(name, stmt.Pos, slot, end)
}

func (a *Assembler) push(b *block) { a.blocks = append(a.blocks, b) }

func (a *Assembler) pop(pos lexer.Position, closer string, kinds ...string) (*block, error) {
	n := len(a.blocks)
	if n > 0 {
		b := a.blocks[n-1]
		for _, k := range kinds {
			if b.kind == k {
				a.blocks = a.blocks[:n-1]
				return b, nil
			}
		}
	}
	return nil, a.errorf(ErrorSyntax, pos, closer, "%s without matching %s", closer, strings.Join(kinds, "/"))
}

// structure links flow-control instructions to each other. slot is the
// offset of the instruction's address operand and end the address just past
// the instruction.
func (a *Assembler) structure(name string, pos lexer.Position, slot, end int) error {
	switch name {
	case "DOIF":
		a.push(&block{kind: "DOIF", pos: pos, pending: slot})
	case "ELSE":
		b, err := a.pop(pos, name, "DOIF")
		if err != nil {
			return err
		}
		a.patch(b.pending, end)
		a.push(&block{kind: "ELSE", pos: pos, pending: slot})
	case "ENDI":
		b, err := a.pop(pos, name, "DOIF", "ELSE")
		if err != nil {
			return err
		}
		a.patch(b.pending, end)
	case "REPS", "LOOP":
		a.push(&block{kind: name, pos: pos, start: end})
	case "REPE":
		b, err := a.pop(pos, name, "REPS")
		if err != nil {
			return err
		}
		a.patch(slot, b.start)
	case "UNTL", "EVER":
		b, err := a.pop(pos, name, "LOOP")
		if err != nil {
			return err
		}
		a.patch(slot, b.start)
	case "ENUM":
		a.push(&block{kind: "ENUM", pos: pos, start: end, pending: slot})
	case "NEXT":
		b, err := a.pop(pos, name, "ENUM")
		if err != nil {
			return err
		}
		a.patch(slot, b.start)
		a.patch(b.pending, end)
	default:
		if slot >= 0 {
			return a.errorf(ErrorOperand, pos, name, "%s takes a flow-control address the assembler cannot resolve", name)
		}
	}
	return nil
}

func (a *Assembler) operand(kind rune, args *atoms) error {
	switch kind {
	case 'c':
		return a.condition(args)
	case 'v':
		at := args.next()
		if at == nil || at.Word == nil {
			return a.errorf(ErrorOperand, args.pos, "", "expected a variable")
		}
		ok, err := a.variable(at, args)
		if err != nil {
			return err
		}
		if !ok {
			return a.errorf(ErrorOperand, at.Pos, *at.Word, "%s is not a variable", *at.Word)
		}
		return nil
	case 'b':
		at := args.next()
		if at == nil || at.Bytes == nil {
			return a.errorf(ErrorOperand, args.pos, "", "expected a byte list like [0 1 2]")
		}
		if len(at.Bytes.Values) > math.MaxUint16 {
			return a.errorf(ErrorOperand, at.Pos, "", "byte list too long")
		}
		raw := make([]byte, len(at.Bytes.Values))
		for i, v := range at.Bytes.Values {
			if v < 0 || v > 255 {
				return a.errorf(ErrorOperand, at.Pos, "", "byte value %d out of range", v)
			}
			raw[i] = byte(v)
		}
		a.emitWord(uint16(len(raw)))
		a.emitBytes(raw)
		return nil
	case 'i', 'f', 's', 'a', 'g':
		return a.rvalue(kind, args)
	}
	return a.errorf(ErrorOperand, args.pos, "", "unsupported operand kind %q", kind)
}

func (a *Assembler) rvalue(kind rune, args *atoms) error {
	at := args.next()
	if at == nil {
		return a.errorf(ErrorOperand, args.pos, "", "missing %s operand", kindName(kind))
	}
	numeric := kind == 'i' || kind == 'f' || kind == 'g'

	switch {
	case at.Int != nil && numeric:
		if *at.Int > math.MaxInt32 || *at.Int < math.MinInt32 {
			return a.errorf(ErrorOperand, at.Pos, "", "integer %d does not fit in 32 bits", *at.Int)
		}
		a.emitWord(uint16(TagInteger))
		a.emitUint32(uint32(int32(*at.Int)))
		return nil
	case at.Float != nil && numeric:
		a.emitWord(uint16(TagFloat))
		a.emitUint32(math.Float32bits(float32(*at.Float)))
		return nil
	case at.String != nil && (kind == 's' || kind == 'g'):
		if len(*at.String) > math.MaxUint16 {
			return a.errorf(ErrorOperand, at.Pos, "", "string constant too long")
		}
		a.emitWord(uint16(TagString))
		a.emitWord(uint16(len(*at.String)))
		a.emitBytes([]byte(*at.String))
		return nil
	case at.Word != nil:
		ok, err := a.variable(at, args)
		if err != nil || ok {
			return err
		}
		return a.call(kind, at, args)
	}
	return a.errorf(ErrorOperand, at.Pos, "", "expected %s operand", kindName(kind))
}

var callTables = map[rune][]struct {
	kind TableKind
	tag  OperandTag
}{
	'i': {{TableIntegerRVs, TagIntegerRV}, {TableFloatRVs, TagFloatRV}},
	'f': {{TableFloatRVs, TagFloatRV}, {TableIntegerRVs, TagIntegerRV}},
	's': {{TableStringRVs, TagStringRV}},
	'a': {{TableAgentRVs, TagAgentRV}},
	'g': {{TableIntegerRVs, TagIntegerRV}, {TableFloatRVs, TagFloatRV}, {TableStringRVs, TagStringRV}, {TableAgentRVs, TagAgentRV}},
}

func (a *Assembler) call(kind rune, at *Atom, args *atoms) error {
	name := strings.ToUpper(*at.Word)
	for _, t := range callTables[kind] {
		op, ok := a.table.Opcode(t.kind, name)
		if !ok {
			continue
		}
		a.emitWord(uint16(t.tag))
		a.emitWord(op)
		for _, k := range a.table.Operands(t.kind, op) {
			if err := a.operand(k, args); err != nil {
				return err
			}
		}
		return nil
	}
	return a.errorf(ErrorUnknownName, at.Pos, *at.Word, "%s is not a %s", *at.Word, kindName(kind))
}

// variable emits at as a variable reference, reporting false when the word
// does not name a variable.
func (a *Assembler) variable(at *Atom, args *atoms) (bool, error) {
	word := strings.ToUpper(*at.Word)
	if m := bankVariable.FindStringSubmatch(word); m != nil {
		if op, ok := a.table.Opcode(TableVariables, m[1]); ok && a.table.Operands(TableVariables, op) == "#" {
			slot, _ := strconv.Atoi(m[2])
			a.emitWord(uint16(TagVariable))
			a.emitWord(op)
			a.emitWord(uint16(slot))
			return true, nil
		}
	}
	op, ok := a.table.Opcode(TableVariables, word)
	if !ok {
		return false, nil
	}
	a.emitWord(uint16(TagVariable))
	a.emitWord(op)
	for _, k := range a.table.Operands(TableVariables, op) {
		if k == '#' {
			return true, a.errorf(ErrorOperand, at.Pos, word, "%s needs a two digit slot, like %s00", word, word)
		}
		if err := a.operand(k, args); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (a *Assembler) condition(args *atoms) error {
	for {
		if err := a.rvalue('g', args); err != nil {
			return err
		}
		at := args.next()
		cmp := -1
		if at != nil && at.Word != nil {
			cmp = comparatorIndex(strings.ToUpper(*at.Word))
		}
		if cmp < 0 {
			return a.errorf(ErrorOperand, args.pos, "", "expected a comparison (EQ NE GT LT GE LE)")
		}
		a.emitWord(uint16(cmp))
		if err := a.rvalue('g', args); err != nil {
			return err
		}

		switch args.peekWord() {
		case "AND":
			args.next()
			a.emitWord(uint16(LogicalAnd))
		case "OR":
			args.next()
			a.emitWord(uint16(LogicalOr))
		default:
			a.emitWord(uint16(LogicalEnd))
			return nil
		}
	}
}

func comparatorIndex(word string) int {
	for i, n := range comparatorNames {
		if n == word {
			return i
		}
	}
	return -1
}

func kindName(kind rune) string {
	switch kind {
	case 'i', 'f':
		return "numeric"
	case 's':
		return "string"
	case 'a':
		return "agent"
	case 'v':
		return "variable"
	default:
		return "value"
	}
}
