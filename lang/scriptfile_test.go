package lang

import (
	"bytes"
	"errors"
	"maps"
	"path/filepath"
	"testing"
)

func TestScriptFileRoundTrip(t *testing.T) {
	table := NewDispatchTable(Builtins())
	script, err := Assemble(table, "hello", "SETV VA00 2\nOUTV VA00\nOUTS \"!\"")
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "hello.avm")
	if err := SaveScript(path, table, script); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadScript(path, table)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Name != script.Name || !bytes.Equal(loaded.Code, script.Code) || !maps.Equal(loaded.Lines, script.Lines) {
		t.Errorf("loaded %q %x %v, want %q %x %v", loaded.Name, loaded.Code, loaded.Lines, script.Name, script.Code, script.Lines)
	}
}

func TestScriptFileIsCanonical(t *testing.T) {
	table := NewDispatchTable(Builtins())
	script, err := Assemble(table, "c", "OUTS \"a\"\nOUTS \"b\"\nOUTS \"c\"")
	if err != nil {
		t.Fatal(err)
	}
	first, err := MarshalScript(table, script)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := MarshalScript(table, script)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding is not deterministic")
		}
	}
}

func TestScriptFileTableCheck(t *testing.T) {
	table := NewDispatchTable(Builtins())
	script, err := Assemble(table, "t", "OUTV 1")
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalScript(table, script)
	if err != nil {
		t.Fatal(err)
	}

	grown := Builtins()
	grown.CommandList = append(grown.CommandList, Entry[CommandHandler]{Name: "XTRA", Handler: commandSTOP})

	tests := []struct {
		name    string
		table   *DispatchTable
		wantErr bool
	}{
		{"same table", table, false},
		{"grown table", NewDispatchTable(grown), false},
		{"renumbered table", NewDispatchTable(reversedTables()), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalScript(tt.table, data)
			if tt.wantErr {
				if !errors.Is(err, ErrTableMismatch) {
					t.Errorf("err = %v, want ErrTableMismatch", err)
				}
				return
			}
			if err != nil {
				t.Error(err)
			}
		})
	}
}

func TestScriptFileRejectsVersion(t *testing.T) {
	table := NewDispatchTable(Builtins())
	data, err := scriptEncMode.Marshal(&ScriptFile{Version: ScriptFileVersion + 1, Name: "x", Tables: table.Layout()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalScript(table, data); err == nil {
		t.Error("accepted a newer script file version")
	}
	if _, err := UnmarshalScript(table, []byte{0xff, 0x00}); err == nil {
		t.Error("accepted garbage")
	}
}
