package lang

import (
	"fmt"
	"sort"
)

// Script is a compiled bytecode program. Code is never modified after
// construction; a VM running the script holds a lock on it so the repository
// refuses to replace it.
type Script struct {
	Name string
	Code []byte

	// Lines maps the address of each instruction to its line in the source.
	Lines map[int]int

	locks int
}

func NewScript(name string, code []byte, lines map[int]int) *Script {
	if lines == nil {
		lines = make(map[int]int)
	}
	return &Script{Name: name, Code: code, Lines: lines}
}

// RawData returns the bytecode starting at offset.
func (s *Script) RawData(offset int) []byte {
	return s.Code[offset:]
}

func (s *Script) Len() int { return len(s.Code) }

func (s *Script) Lock() { s.locks++ }
func (s *Script) Unlock() {
	if s.locks > 0 {
		s.locks--
	}
}

func (s *Script) Locked() bool { return s.locks > 0 }

// SourceOffset returns the source line of the instruction containing addr,
// or 0 when the script carries no debug information for it.
func (s *Script) SourceOffset(addr int) int {
	if line, ok := s.Lines[addr]; ok {
		return line
	}
	best, line := -1, 0
	for a, l := range s.Lines {
		if a <= addr && a > best {
			best, line = a, l
		}
	}
	return line
}

// Addresses returns the instruction addresses recorded in the debug
// information, in ascending order.
func (s *Script) Addresses() []int {
	addrs := make([]int, 0, len(s.Lines))
	for a := range s.Lines {
		addrs = append(addrs, a)
	}
	sort.Ints(addrs)
	return addrs
}

type ScriptResolver interface {
	Script(name string) (*Script, bool)
}

// ScriptRepository holds the installed scripts by name.
type ScriptRepository struct {
	scripts map[string]*Script
}

func NewScriptRepository() *ScriptRepository {
	return &ScriptRepository{scripts: make(map[string]*Script)}
}

// Install adds or replaces a script. Replacing a script that a VM is still
// running fails.
func (r *ScriptRepository) Install(s *Script) error {
	if old, ok := r.scripts[s.Name]; ok && old != s && old.Locked() {
		return fmt.Errorf("script %q is in use and cannot be replaced", s.Name)
	}
	r.scripts[s.Name] = s
	return nil
}

func (r *ScriptRepository) Remove(name string) error {
	if s, ok := r.scripts[name]; ok && s.Locked() {
		return fmt.Errorf("script %q is in use and cannot be removed", name)
	}
	delete(r.scripts, name)
	return nil
}

func (r *ScriptRepository) Script(name string) (*Script, bool) {
	s, ok := r.scripts[name]
	return s, ok
}
