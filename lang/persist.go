package lang

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Archive format versions
// v3: oldest readable layout
// v4: camera handle stored after the attention handle
const (
	ArchiveVersion    uint32 = 4
	MinArchiveVersion uint32 = 3
)

var ArchiveMagic = [4]byte{'A', 'V', 'M', 'S'}

var ErrArchiveTooOld = errors.New("archive version is too old")

// ArchiveWriter writes the little-endian archive stream. Errors are sticky:
// after the first failure every write is a no-op and Err reports it.
type ArchiveWriter struct {
	w       io.Writer
	agents  *Arena
	version uint32
	err     error
}

func NewArchiveWriter(w io.Writer, agents *Arena) (*ArchiveWriter, error) {
	return NewArchiveWriterVersion(w, agents, ArchiveVersion)
}

// NewArchiveWriterVersion writes an older layout, for producing archives
// that older readers accept. Version 3 has no camera field, so the camera
// handle is not saved and reads back as NULL.
func NewArchiveWriterVersion(w io.Writer, agents *Arena, version uint32) (*ArchiveWriter, error) {
	if version < MinArchiveVersion || version > ArchiveVersion {
		return nil, fmt.Errorf("cannot write archive version %d", version)
	}
	aw := &ArchiveWriter{w: w, agents: agents, version: version}
	aw.write(ArchiveMagic[:])
	aw.WriteUint32(version)
	return aw, aw.err
}

func (a *ArchiveWriter) Version() uint32 { return a.version }

func (a *ArchiveWriter) Err() error { return a.err }

func (a *ArchiveWriter) write(b []byte) {
	if a.err != nil {
		return
	}
	_, a.err = a.w.Write(b)
}

func (a *ArchiveWriter) WriteUint8(v uint8) { a.write([]byte{v}) }

func (a *ArchiveWriter) WriteBool(v bool) {
	if v {
		a.WriteUint8(1)
	} else {
		a.WriteUint8(0)
	}
}

func (a *ArchiveWriter) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.write(b[:])
}

func (a *ArchiveWriter) WriteInt32(v int32) { a.WriteUint32(uint32(v)) }

func (a *ArchiveWriter) WriteFloat32(v float32) { a.WriteUint32(math.Float32bits(v)) }

func (a *ArchiveWriter) WriteString(s string) {
	a.WriteUint32(uint32(len(s)))
	a.write([]byte(s))
}

// WriteHandle stores the persistent ID of the agent, 0 for null or dead
// handles.
func (a *ArchiveWriter) WriteHandle(h AgentHandle) {
	a.WriteUint32(a.agents.ID(h))
}

func (a *ArchiveWriter) WriteVariable(v Variable) {
	v.settle()
	a.WriteUint8(uint8(v.typ))
	switch v.typ {
	case TypeInteger:
		a.WriteInt32(v.i)
	case TypeFloat:
		a.WriteFloat32(v.f)
	case TypeString:
		a.WriteString(v.s)
	case TypeAgent:
		a.WriteHandle(v.agent)
	}
}

type ArchiveReader struct {
	r       io.Reader
	agents  *Arena
	version uint32
	err     error
}

func NewArchiveReader(r io.Reader, agents *Arena) (*ArchiveReader, error) {
	ar := &ArchiveReader{r: r, agents: agents}
	var magic [4]byte
	ar.read(magic[:])
	if ar.err != nil {
		return nil, fmt.Errorf("reading archive header: %w", ar.err)
	}
	if magic != ArchiveMagic {
		return nil, fmt.Errorf("not a VM archive (magic %q)", magic[:])
	}
	ar.version = ar.ReadUint32()
	if ar.err != nil {
		return nil, fmt.Errorf("reading archive header: %w", ar.err)
	}
	if ar.version < MinArchiveVersion {
		return nil, fmt.Errorf("%w: version %d, need at least %d", ErrArchiveTooOld, ar.version, MinArchiveVersion)
	}
	if ar.version > ArchiveVersion {
		return nil, fmt.Errorf("archive version %d is newer than supported version %d", ar.version, ArchiveVersion)
	}
	return ar, nil
}

func (a *ArchiveReader) Version() uint32 { return a.version }

func (a *ArchiveReader) Err() error { return a.err }

func (a *ArchiveReader) read(b []byte) {
	if a.err != nil {
		return
	}
	_, a.err = io.ReadFull(a.r, b)
}

func (a *ArchiveReader) ReadUint8() uint8 {
	var b [1]byte
	a.read(b[:])
	return b[0]
}

func (a *ArchiveReader) ReadBool() bool { return a.ReadUint8() != 0 }

func (a *ArchiveReader) ReadUint32() uint32 {
	var b [4]byte
	a.read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (a *ArchiveReader) ReadInt32() int32 { return int32(a.ReadUint32()) }

func (a *ArchiveReader) ReadFloat32() float32 { return math.Float32frombits(a.ReadUint32()) }

const maxArchiveString = 1 << 20

func (a *ArchiveReader) ReadString() string {
	n := a.ReadUint32()
	if a.err != nil {
		return ""
	}
	if n > maxArchiveString {
		a.err = fmt.Errorf("string of %d bytes exceeds archive limit", n)
		return ""
	}
	b := make([]byte, n)
	a.read(b)
	return string(b)
}

// ReadHandle resolves a stored agent ID; agents that no longer exist read
// as null.
func (a *ArchiveReader) ReadHandle() AgentHandle {
	return a.agents.Lookup(a.ReadUint32())
}

func (a *ArchiveReader) ReadVariable() Variable {
	switch t := ValueType(a.ReadUint8()); t {
	case TypeInteger:
		return IntegerValue(a.ReadInt32())
	case TypeFloat:
		return FloatValue(a.ReadFloat32())
	case TypeString:
		return StringValue(a.ReadString())
	case TypeAgent:
		return AgentValue(a.ReadHandle())
	default:
		if a.err == nil {
			a.err = fmt.Errorf("unknown variable type %d", t)
		}
		return Variable{}
	}
}

// Write stores the full execution context, including the name of a blocking
// command so it can be found again in a renumbered dispatch table.
func (vm *VM) Write(w *ArchiveWriter) error {
	w.WriteInt32(int32(vm.ip))
	w.WriteInt32(int32(vm.commandIP))
	w.WriteUint8(uint8(vm.state))
	w.WriteBool(vm.locked)

	w.WriteHandle(vm.owner)
	w.WriteHandle(vm.target)
	w.WriteHandle(vm.from)
	w.WriteHandle(vm.attention)
	if w.Version() >= 4 {
		w.WriteHandle(vm.camera)
	}

	w.WriteInt32(vm.part)
	w.WriteVariable(vm.p1)
	w.WriteVariable(vm.p2)
	w.WriteString(vm.scriptName())

	w.WriteUint32(uint32(len(vm.valueStack)))
	for _, v := range vm.valueStack {
		w.WriteInt32(v)
	}
	w.WriteUint32(uint32(len(vm.handleStack)))
	for _, h := range vm.handleStack {
		w.WriteHandle(h)
	}
	w.WriteUint32(LocalCount)
	for i := range vm.locals {
		w.WriteVariable(vm.locals[i])
	}

	if vm.state == StateBlocking {
		w.WriteString(vm.table.CommandName(vm.opcode))
	}
	return w.Err()
}

type savedContext struct {
	ip, commandIP int
	state         RunState
	locked        bool
	handles       [5]AgentHandle
	part          int32
	p1, p2        Variable
	script        string
	values        []int32
	stack         []AgentHandle
	locals        [LocalCount]Variable
	opcode        uint16
}

// Read replaces the VM's context with one stored by Write. Scripts are
// resolved by name and locked again. Nothing is changed when the archive is
// inconsistent.
func (vm *VM) Read(r *ArchiveReader, scripts ScriptResolver) error {
	var c savedContext
	c.ip = int(r.ReadInt32())
	c.commandIP = int(r.ReadInt32())
	c.state = RunState(r.ReadUint8())
	c.locked = r.ReadBool()

	c.handles[0] = r.ReadHandle()
	c.handles[1] = r.ReadHandle()
	c.handles[2] = r.ReadHandle()
	c.handles[3] = r.ReadHandle()
	if r.Version() >= 4 {
		c.handles[4] = r.ReadHandle()
	}

	c.part = r.ReadInt32()
	c.p1 = r.ReadVariable()
	c.p2 = r.ReadVariable()
	c.script = r.ReadString()

	n := r.ReadUint32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		c.values = append(c.values, r.ReadInt32())
	}
	n = r.ReadUint32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		c.stack = append(c.stack, r.ReadHandle())
	}
	n = r.ReadUint32()
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		v := r.ReadVariable()
		if i < LocalCount {
			c.locals[i] = v
		}
	}

	if c.state > StateBlocking {
		return fmt.Errorf("archive holds unknown run state %d", c.state)
	}
	if c.state == StateBlocking {
		name := r.ReadString()
		if r.Err() == nil {
			op, ok := vm.table.CommandOpcode(name)
			if !ok {
				return fmt.Errorf("blocking command %q is not in the dispatch table", name)
			}
			c.opcode = op
		}
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("reading VM context: %w", err)
	}

	var script *Script
	if c.state != StateFinished {
		s, ok := scripts.Script(c.script)
		if !ok {
			return fmt.Errorf("archived script %q is not installed", c.script)
		}
		if c.ip > s.Len() || c.commandIP > s.Len() {
			return fmt.Errorf("archived instruction pointer %d is outside script %q", c.ip, c.script)
		}
		script = s
	}

	vm.apply(&c, script)
	return nil
}

func (vm *VM) apply(c *savedContext, script *Script) {
	vm.StopScriptExecuting()
	// A finished context holds no references; whatever the archive
	// stored alongside it is dropped.
	if c.state == StateFinished {
		return
	}
	agents := vm.world.Agents

	if script != nil {
		script.Lock()
	}
	vm.script = script
	vm.state = c.state
	vm.ip = c.ip
	vm.commandIP = c.commandIP
	vm.opcode = c.opcode
	vm.locked = c.locked
	vm.atomic = false

	for i, h := range []*AgentHandle{&vm.owner, &vm.target, &vm.from, &vm.attention, &vm.camera} {
		agents.setHandle(h, c.handles[i])
	}
	vm.part = c.part
	agents.Assign(&vm.p1, c.p1)
	agents.Assign(&vm.p2, c.p2)

	vm.valueStack = append(vm.valueStack[:0], c.values...)
	for _, h := range c.stack {
		vm.PushHandle(h)
	}
	for i := range vm.locals {
		vm.locals[i] = Variable{}
		agents.Assign(&vm.locals[i], c.locals[i])
	}
}
