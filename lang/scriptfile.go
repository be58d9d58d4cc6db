package lang

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// ScriptFileVersion is bumped whenever the layout of ScriptFile changes.
const ScriptFileVersion = 1

var ErrTableMismatch = errors.New("script was compiled against a different dispatch table")

// ScriptFile is the on-disk form of a compiled script. Tables records the
// handler names the bytecode was assembled against, in opcode order, so a
// script is never run through a table that would decode it differently.
type ScriptFile struct {
	Version int         `cbor:"1,keyasint"`
	Name    string      `cbor:"2,keyasint"`
	Code    []byte      `cbor:"3,keyasint"`
	Lines   map[int]int `cbor:"4,keyasint,omitempty"`
	Tables  [][]string  `cbor:"5,keyasint"`
}

var scriptEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("lang: failed to create CBOR enc mode: %v", err))
	}
	scriptEncMode = em
}

// Layout returns the handler names of every table in opcode order.
func (t *DispatchTable) Layout() [][]string {
	out := make([][]string, len(t.names))
	for i, names := range t.names {
		out[i] = slices.Clone(names)
	}
	return out
}

// MarshalScript encodes a script compiled against table.
func MarshalScript(table *DispatchTable, s *Script) ([]byte, error) {
	return scriptEncMode.Marshal(&ScriptFile{
		Version: ScriptFileVersion,
		Name:    s.Name,
		Code:    s.Code,
		Lines:   s.Lines,
		Tables:  table.Layout(),
	})
}

// UnmarshalScript decodes a script file and checks it against table.
func UnmarshalScript(table *DispatchTable, data []byte) (*Script, error) {
	var f ScriptFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("lang: unmarshal script: %w", err)
	}
	if f.Version != ScriptFileVersion {
		return nil, fmt.Errorf("lang: unsupported script file version %d", f.Version)
	}
	layout := table.Layout()
	if len(f.Tables) != len(layout) {
		return nil, ErrTableMismatch
	}
	for i := range layout {
		// A table may grow, but existing opcodes must keep their names.
		if len(f.Tables[i]) > len(layout[i]) || !slices.Equal(f.Tables[i], layout[i][:len(f.Tables[i])]) {
			return nil, fmt.Errorf("%w (%s table)", ErrTableMismatch, TableKind(i))
		}
	}
	return NewScript(f.Name, f.Code, f.Lines), nil
}

func SaveScript(path string, table *DispatchTable, s *Script) error {
	data, err := MarshalScript(table, s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func LoadScript(path string, table *DispatchTable) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalScript(table, data)
}
