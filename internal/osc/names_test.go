package osc

import (
	"strings"
	"testing"
)

func TestNewNames_Suffixes(t *testing.T) {
	n := NewNames("table1", "/tmp", "abcd1234")

	if n.Shadow != "_table1_new" {
		t.Errorf("Shadow = %q", n.Shadow)
	}
	if n.Delta != "_table1_chg" {
		t.Errorf("Delta = %q", n.Delta)
	}
	if n.Old != "_table1_old" {
		t.Errorf("Old = %q", n.Old)
	}
	if n.TriggerIns != "_table1_chg_ins" || n.TriggerUpd != "_table1_chg_upd" || n.TriggerDel != "_table1_chg_del" {
		t.Errorf("triggers = %q %q %q", n.TriggerIns, n.TriggerUpd, n.TriggerDel)
	}
	if !strings.HasPrefix(n.OutfileDir, "/tmp/_table1_") {
		t.Errorf("OutfileDir = %q", n.OutfileDir)
	}
	if !strings.HasPrefix(n.StateFile, "/tmp/osc.") || !strings.HasSuffix(n.StateFile, ".state") {
		t.Errorf("StateFile = %q", n.StateFile)
	}
}

func TestNewNames_UnicodeTableName(t *testing.T) {
	n := NewNames("(╯°□°）╯︵ ┻━┻", "/tmp", "abcd1234")
	if n.Shadow != "_(╯°□°）╯︵ ┻━┻_new" {
		t.Errorf("Shadow = %q", n.Shadow)
	}
	if n.Delta != "_(╯°□°）╯︵ ┻━┻_chg" {
		t.Errorf("Delta = %q", n.Delta)
	}
}

func TestNewNames_TruncatesLongNames(t *testing.T) {
	long := strings.Repeat("x", 70)
	n := NewNames(long, "/tmp", "abcd1234")

	for _, name := range []string{n.Shadow, n.Delta, n.Old, n.TriggerIns, n.TriggerUpd, n.TriggerDel} {
		if got := len([]rune(name)); got > maxIdentifierLen {
			t.Errorf("%q is %d chars, over the limit", name, got)
		}
		if !strings.Contains(name, "abcd1234") {
			t.Errorf("truncated name %q lost the nonce", name)
		}
	}
	if n.Shadow == n.Delta || n.Shadow == n.Old || n.Delta == n.Old {
		t.Error("truncated names collide")
	}
}

func TestNewNames_ShortNamesKeepNoNonce(t *testing.T) {
	n := NewNames("users", "/tmp", "abcd1234")
	if strings.Contains(n.Shadow, "abcd1234") {
		t.Errorf("short name should not embed the nonce: %q", n.Shadow)
	}
}

func TestChunkFile(t *testing.T) {
	n := NewNames("users", "/tmp", "abcd1234")
	if got := n.ChunkFile(7); !strings.HasSuffix(got, "/chunk.7") {
		t.Errorf("ChunkFile = %q", got)
	}
}
