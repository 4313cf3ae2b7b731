package osc

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestState_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	n := NewNames("users", dir, "abcd1234")
	st := NewState("appdb", n)

	path := filepath.Join(dir, "osc.123.state")
	if err := st.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !reflect.DeepEqual(st, loaded) {
		t.Errorf("round trip diverged:\n%+v\nvs\n%+v", st, loaded)
	}
}

func TestState_UnicodeIdentifiers(t *testing.T) {
	dir := t.TempDir()
	n := NewNames("(╯°□°）╯︵ ┻━┻", dir, "abcd1234")
	st := NewState("appdb", n)

	path := filepath.Join(dir, "osc.1.state")
	if err := st.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := LoadState(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Shadow != n.Shadow {
		t.Errorf("Shadow = %q, want %q", loaded.Shadow, n.Shadow)
	}
}

func TestRemoveState_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osc.9.state")
	if err := os.WriteFile(path, []byte("table=t\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := RemoveState(path); err != nil {
		t.Fatalf("first remove: %v", err)
	}
	if err := RemoveState(path); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
}

func TestFindStateFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"osc.11.state", "osc.12.state", "other.txt", "osc.nope"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := FindStateFiles(dir)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("got %v, want the two state files", files)
	}
}

func TestLoadState_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osc.5.state")
	if err := os.WriteFile(path, []byte("no separator here\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(path); err == nil {
		t.Error("expected error for malformed state file")
	}
}
