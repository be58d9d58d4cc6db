package lang

import (
	"bytes"
	"testing"
)

func TestBuiltinOutput(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"integer arithmetic", "SETV VA00 7\nMULV VA00 3\nSUBV VA00 1\nDIVV VA00 4\nOUTV VA00", "5"},
		{"float promotion", "SETV VA00 1\nADDV VA00 0.5\nOUTV VA00", "1.5"},
		{"modulus", "SETV VA00 17\nMODV VA00 5\nOUTV VA00", "2"},
		{"negate", "SETV VA00 4\nNEGV VA00\nOUTV VA00", "-4"},
		{"float to integer", "OUTV FTOI 2.5\nOUTS \",\"\nOUTV FTOI -2.5", "3,-3"},
		{"integer to float", "OUTV ITOF 3\nOUTS \",\"\nOUTV SQRT 2.25", "3,1.5"},
		{"strings", "SETS VA00 \"ab\"\nADDS VA00 \"cd\"\nOUTS VA00\nOUTV STRL VA00", "abcd4"},
		{"value to string", "OUTS VTOS 2.25\nOUTS VTOS 7", "2.257"},
		{"quoted output", "OUTX \"a\\\"b\"\nOUTX 3", `"a\"b"3`},
		{"game variables", "SETV GAME \"score\" 5\nADDV GAME \"score\" 1\nOUTV GAME \"score\"", "6"},
		{"owner variables", "SETV MV10 9\nOUTV OV10", "9"},
		{"rand with equal bounds", "SETV VA00 RAND 5 5\nOUTV VA00", "5"},
		{"part", "PART 3\nOUTV PRTN", "3"},
		{"names", "OUTS GNAM OWNR", "owner"},
		{
			"if else",
			"SETV VA00 2\nDOIF VA00 EQ 1\nOUTS \"one\"\nELSE\nOUTS \"other\"\nENDI\nOUTS \"!\"",
			"other!",
		},
		{"if without else", "DOIF 1 EQ 2\nOUTS \"no\"\nENDI\nOUTS \"yes\"", "yes"},
		{"nested if", "DOIF 1 EQ 1\nDOIF 2 EQ 3\nOUTS \"a\"\nELSE\nOUTS \"b\"\nENDI\nOUTS \"c\"\nENDI", "bc"},
		{"reps", "SETV VA00 0\nREPS 3\nADDV VA00 2\nREPE\nOUTV VA00", "6"},
		{"nested reps", "REPS 2\nREPS 3\nOUTS \".\"\nREPE\nOUTS \"|\"\nREPE", "...|...|"},
		{"loop until", "SETV VA00 0\nLOOP\nADDV VA00 1\nUNTL VA00 GE 4\nOUTV VA00", "4"},
		{"subroutine", "GSUB SHOW\nOUTS \"b\"\nGSUB SHOW\nSTOP\nSUBR SHOW\nOUTS \"a\"\nRETN", "aba"},
		{"falling into subr stops", "OUTS \"x\"\nSUBR NEVER\nOUTS \"y\"\nRETN", "x"},
		{"parameters", "OUTV _P1_\nOUTS _P2_", "1two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.source)
			r.vm.StartScriptExecuting(r.script, r.owner, AgentHandle{}, IntegerValue(1), StringValue("two"))
			if !r.update(t, 200) {
				t.Fatalf("script did not finish: %s", r.vm.Snapshot())
			}
			if got := r.out.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuiltinFaults(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   FaultKind
	}{
		{"divide by zero", "SETV VA00 1\nDIVV VA00 0", FaultValue},
		{"float divide by zero", "SETV VA00 1.5\nDIVV VA00 0", FaultValue},
		{"modulus by zero", "SETV VA00 1\nMODV VA00 0", FaultValue},
		{"arithmetic on string", "SETS VA00 \"x\"\nADDV VA00 1", FaultType},
		{"append to number", "ADDS VA00 \"x\"", FaultType},
		{"failed assertion", "ASRT 1 EQ 2", FaultAssert},
		{"negative sqrt", "OUTV SQRT -1", FaultValue},
		{"zero repeat count", "REPS 0\nREPE", FaultValue},
		{"negative part", "PART -1", FaultValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.source)
			_, err := r.vm.UpdateVM(20)
			if err == nil {
				t.Fatal("expected an error")
			}
			if kind := faultKind(t, err); kind != tt.want {
				t.Errorf("fault kind = %s, want %s", kind, tt.want)
			}
		})
	}
}

func TestEnumVisitsEveryAgent(t *testing.T) {
	r := newRig(t, "ENUM\nOUTS GNAM TARG\nOUTS \",\"\nNEXT\nOUTS GNAM TARG")
	rock := r.world.Agents.Spawn("rock", KindSimple)
	r.world.Agents.Spawn("tree", KindSimple)

	if !r.update(t, 100) {
		t.Fatalf("script did not finish: %s", r.vm.Snapshot())
	}
	if got := r.out.String(); got != "owner,rock,tree,owner" {
		t.Errorf("output = %q, want %q", got, "owner,rock,tree,owner")
	}
	// The handle stack references are gone once the walk is over.
	if got := r.world.Agents.RefCount(rock); got != 1 {
		t.Errorf("rock refcount = %d, want 1", got)
	}
}

func TestEnumOverKilledAgent(t *testing.T) {
	r := newRig(t, "ENUM\nDOIF TARG NE OWNR\nKILL TARG\nENDI\nNEXT\nOUTV CNTA")
	r.world.Agents.Spawn("rock", KindSimple)

	if !r.update(t, 100) {
		t.Fatalf("script did not finish: %s", r.vm.Snapshot())
	}
	if got := r.out.String(); got != "1" {
		t.Errorf("output = %q, want 1", got)
	}
}

func TestNewAndKill(t *testing.T) {
	r := newRig(t, "NEWA \"ghost\"\nSETA VA00 TARG\nKILL TARG\nOUTV CNTA\nTARG VA00\nOUTS GNAM TARG")

	_, err := r.vm.UpdateVM(20)
	if got := r.out.String(); got != "1" {
		t.Errorf("output = %q, want 1", got)
	}
	// Reading a killed agent through a kept handle fails as an invalid handle.
	if _, ok := err.(*InvalidAgentHandleError); !ok {
		t.Errorf("err = %T %v, want *InvalidAgentHandleError", err, err)
	}
}

func TestAnimStoresPoses(t *testing.T) {
	r := newRig(t, "ANIM [4 5 6]\nOUTS \"ok\"")
	if !r.update(t, 10) {
		t.Fatal("script did not finish")
	}
	owner, err := r.world.Agents.Get(r.owner)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(owner.Animation, []byte{4, 5, 6}) {
		t.Errorf("animation = %v, want [4 5 6]", owner.Animation)
	}
	if r.out.String() != "ok" {
		t.Errorf("output after ANIM = %q; the pose list was not skipped", r.out.String())
	}
}

func TestWaitZeroDoesNotBlock(t *testing.T) {
	r := newRig(t, "WAIT 0\nOUTS \"now\"")
	if !r.update(t, 10) {
		t.Fatalf("WAIT 0 blocked: %s", r.vm.State())
	}
}

func TestLockAndCamera(t *testing.T) {
	r := newRig(t, "LOCK\nSCAM OWNR\nWAIT 1\nUNLK\n")
	r.update(t, 10)
	if !r.vm.Locked() || r.vm.Camera() != r.owner {
		t.Errorf("locked=%v camera=%s after LOCK/SCAM", r.vm.Locked(), r.vm.Camera())
	}
	r.update(t, 10)
	if r.vm.Locked() {
		t.Error("UNLK did not clear the lock")
	}
}

func TestLockDoesNotChangeScheduling(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"unlocked", "OUTV 1\nWAIT 1\nOUTV 2\n"},
		{"locked", "LOCK\nOUTV 1\nWAIT 1\nOUTV 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.source)
			r.update(t, 10)
			if got := r.out.String(); got != "1" || !r.vm.IsBlocking() {
				t.Fatalf("first tick: output=%q state=%s, want 1 and blocking", got, r.vm.State())
			}
			if !r.update(t, 10) || r.out.String() != "12" {
				t.Errorf("second tick: output=%q running=%v, want 12 and finished", r.out.String(), r.vm.IsRunning())
			}
		})
	}
}
