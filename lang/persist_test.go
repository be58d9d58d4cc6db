package lang

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/alecthomas/repr"
)

const blockingSource = `
SETV VA00 41
SETS VA01 "kept"
SETA VA02 OWNR
REPS 2
WAIT 2
REPE
ADDV VA00 1
OUTV VA00
OUTS VA01
`

// reversedTables returns the built-in tables with every command opcode
// renumbered.
func reversedTables() *Tables {
	tables := Builtins()
	slices.Reverse(tables.CommandList)
	return tables
}

func saveContext(t *testing.T, vm *VM, version uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewArchiveWriterVersion(&buf, vm.world.Agents, version)
	if err != nil {
		t.Fatal(err)
	}
	if err := vm.Write(w); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// restoreRig builds a fresh world with the same agents as newRig and reads
// the archive into a new VM.
func restoreRig(t *testing.T, table *DispatchTable, source string, archive []byte) (*testRig, error) {
	t.Helper()
	script, err := Assemble(table, "test", source)
	if err != nil {
		t.Fatal(err)
	}
	repo := NewScriptRepository()
	if err := repo.Install(script); err != nil {
		t.Fatal(err)
	}
	world := NewWorld()
	r := &testRig{
		table:  table,
		world:  world,
		owner:  world.Agents.Spawn("owner", KindCreature),
		script: script,
		vm:     NewVM(table, world),
		out:    &strings.Builder{},
	}
	r.vm.Output = r.out

	ar, err := NewArchiveReader(bytes.NewReader(archive), world.Agents)
	if err != nil {
		return r, err
	}
	return r, r.vm.Read(ar, repo)
}

func TestBlockingContextSurvivesRenumberedTable(t *testing.T) {
	r := newRig(t, blockingSource)
	r.update(t, 10)
	if !r.vm.IsBlocking() {
		t.Fatalf("expected blocking, got %s", r.vm.State())
	}
	before := r.vm.Snapshot()
	archive := saveContext(t, r.vm, ArchiveVersion)

	renumbered := NewDispatchTable(reversedTables())
	oldOp, _ := r.table.CommandOpcode("WAIT")
	newOp, _ := renumbered.CommandOpcode("WAIT")
	if oldOp == newOp {
		t.Fatal("test table did not renumber WAIT")
	}

	restored, err := restoreRig(t, renumbered, blockingSource, archive)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	after := restored.vm.Snapshot()

	if after.Command != "WAIT" || restored.vm.Opcode() != newOp {
		t.Errorf("blocking command = %q (opcode %d), want WAIT (opcode %d)", after.Command, restored.vm.Opcode(), newOp)
	}
	if after.State != before.State || after.IP != before.IP || after.CommandIP != before.CommandIP {
		t.Errorf("position changed:\nbefore %s\nafter  %s", before, after)
	}
	if !slices.Equal(after.ValueStack, before.ValueStack) {
		t.Errorf("value stack = %v, want %v", after.ValueStack, before.ValueStack)
	}
	for i := 0; i < 3; i++ {
		if i == 2 {
			// Handles are renumbered per world; compare what they point at.
			if after.Locals[i].agent != restored.owner {
				t.Errorf("VA02 = %#v, want the owner", after.Locals[i])
			}
			continue
		}
		if !after.Locals[i].Equal(before.Locals[i]) {
			t.Errorf("VA%02d = %#v, want %#v", i, after.Locals[i], before.Locals[i])
		}
	}
	if after.Owner != restored.owner || after.Target != restored.owner {
		t.Errorf("handles not restored:\n%s", repr.String(after, repr.Indent("  ")))
	}
	if !restored.script.Locked() {
		t.Error("restored script is not locked")
	}

	for tick := 0; tick < 10 && restored.vm.IsRunning(); tick++ {
		restored.update(t, 10)
	}
	if got := restored.out.String(); got != "42kept" {
		t.Errorf("output = %q, want %q", got, "42kept")
	}
}

// stateOffset is the position of the run state byte: magic, version, ip
// and command ip come first.
const stateOffset = 16

func TestFinishedArchiveHoldsNoReferences(t *testing.T) {
	r := newRig(t, blockingSource)
	r.update(t, 10)
	if !r.vm.IsBlocking() {
		t.Fatalf("expected blocking, got %s", r.vm.State())
	}
	archive := saveContext(t, r.vm, ArchiveVersion)
	if RunState(archive[stateOffset]) != StateBlocking {
		t.Fatalf("state byte = %d, want %d", archive[stateOffset], StateBlocking)
	}
	finished := slices.Clone(archive)
	finished[stateOffset] = byte(StateFinished)

	restored, err := restoreRig(t, r.table, blockingSource, finished)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	snap := restored.vm.Snapshot()
	if restored.vm.IsRunning() || restored.vm.Script() != nil {
		t.Errorf("restored a finished context as running:\n%s", repr.String(snap, repr.Indent("  ")))
	}
	if !snap.Owner.IsNull() || !snap.Target.IsNull() || len(snap.ValueStack) != 0 {
		t.Errorf("finished context kept archived state:\n%s", repr.String(snap, repr.Indent("  ")))
	}
	if got := restored.world.Agents.RefCount(restored.owner); got != 1 {
		t.Errorf("owner refcount = %d, want 1", got)
	}
	if restored.script.Locked() {
		t.Error("script locked by a finished context")
	}
}

func TestArchiveVersion3HasNoCamera(t *testing.T) {
	r := newRig(t, "SCAM OWNR\nWAIT 5\n")
	r.update(t, 10)
	if r.vm.Camera() != r.owner {
		t.Fatal("SCAM did not set the camera")
	}

	v4, err := restoreRigFrom(t, r, ArchiveVersion)
	if err != nil {
		t.Fatal(err)
	}
	if v4.vm.Camera() != v4.owner {
		t.Errorf("version 4 camera = %s, want the owner", v4.vm.Camera())
	}

	v3, err := restoreRigFrom(t, r, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !v3.vm.Camera().IsNull() {
		t.Errorf("version 3 camera = %s, want NULL", v3.vm.Camera())
	}
	if !v3.vm.IsBlocking() {
		t.Errorf("version 3 state = %s, want blocking", v3.vm.State())
	}
}

func restoreRigFrom(t *testing.T, r *testRig, version uint32) (*testRig, error) {
	t.Helper()
	return restoreRig(t, r.table, "SCAM OWNR\nWAIT 5\n", saveContext(t, r.vm, version))
}

func TestArchiveRejectsOldVersions(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(ArchiveMagic[:])
	buf.Write(binary.LittleEndian.AppendUint32(nil, MinArchiveVersion-1))

	_, err := NewArchiveReader(&buf, NewArena())
	if !errors.Is(err, ErrArchiveTooOld) {
		t.Fatalf("err = %v, want ErrArchiveTooOld", err)
	}

	if _, err := NewArchiveWriterVersion(&bytes.Buffer{}, NewArena(), MinArchiveVersion-1); err == nil {
		t.Error("writer accepted a version below the minimum")
	}
}

func TestArchiveRejectsBadMagic(t *testing.T) {
	_, err := NewArchiveReader(strings.NewReader("NOPE\x04\x00\x00\x00"), NewArena())
	if err == nil || errors.Is(err, ErrArchiveTooOld) {
		t.Fatalf("err = %v, want a magic mismatch", err)
	}
}

func TestReadFailuresLeaveVMUntouched(t *testing.T) {
	r := newRig(t, "WAIT 5\n")
	r.update(t, 10)
	archive := saveContext(t, r.vm, ArchiveVersion)

	withoutWait := Builtins()
	withoutWait.CommandList = slices.DeleteFunc(withoutWait.CommandList, func(e Entry[CommandHandler]) bool {
		return e.Name == "WAIT"
	})

	tests := []struct {
		name    string
		table   *DispatchTable
		archive []byte
	}{
		{name: "unknown blocking command", table: NewDispatchTable(withoutWait), archive: archive},
		{name: "truncated", table: r.table, archive: archive[:len(archive)-3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			restored, err := restoreRig(t, tt.table, "OUTS \"x\"\n", tt.archive)
			if err == nil {
				t.Fatal("expected an error")
			}
			if restored.vm.IsRunning() || restored.vm.Script() != nil {
				t.Errorf("VM changed by a failed read: %s", restored.vm.Snapshot())
			}
		})
	}
}

func TestReadMissingScript(t *testing.T) {
	r := newRig(t, "WAIT 5\n")
	r.update(t, 10)
	archive := saveContext(t, r.vm, ArchiveVersion)

	world := NewWorld()
	world.Agents.Spawn("owner", KindCreature)
	vm := NewVM(r.table, world)
	ar, err := NewArchiveReader(bytes.NewReader(archive), world.Agents)
	if err != nil {
		t.Fatal(err)
	}
	if err := vm.Read(ar, NewScriptRepository()); err == nil {
		t.Fatal("expected an error for a script that is not installed")
	}
	if vm.IsRunning() {
		t.Error("VM started without its script")
	}
}
