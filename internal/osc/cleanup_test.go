package osc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/oscerr"
)

func expectCleanupDrops(mock sqlmock.Sqlmock, st *State) {
	for _, trigger := range st.Triggers {
		mock.ExpectExec("DROP TRIGGER IF EXISTS " + qualify(st.Database, trigger)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for _, table := range []string{st.Shadow, st.Delta, st.Old} {
		mock.ExpectExec("DROP TABLE IF EXISTS " + qualify(st.Database, table)).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestCleaner_RemovesEverything(t *testing.T) {
	dir := t.TempDir()
	n := NewNames("users", dir, "abcd1234")
	st := NewState("appdb", n)

	if err := os.MkdirAll(n.OutfileDir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(n.ChunkFile(0), []byte("leftover"), 0600); err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(dir, "osc.1.state")
	if err := st.Save(statePath); err != nil {
		t.Fatal(err)
	}

	sess, mock := mockSession(t)
	expectCleanupDrops(mock, st)

	cleaner := NewCleaner(sess, hclog.NewNullLogger())
	if err := cleaner.Run(context.Background(), st, statePath); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if _, err := os.Stat(n.OutfileDir); !os.IsNotExist(err) {
		t.Error("outfile dir survived cleanup")
	}
	if _, err := os.Stat(statePath); !os.IsNotExist(err) {
		t.Error("state file survived cleanup")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// Running cleanup twice has the same post-state as running it once.
func TestCleaner_Idempotent(t *testing.T) {
	dir := t.TempDir()
	n := NewNames("users", dir, "abcd1234")
	st := NewState("appdb", n)
	statePath := filepath.Join(dir, "osc.2.state")

	sess, mock := mockSession(t)
	expectCleanupDrops(mock, st)
	expectCleanupDrops(mock, st)

	cleaner := NewCleaner(sess, hclog.NewNullLogger())
	ctx := context.Background()
	if err := cleaner.Run(ctx, st, statePath); err != nil {
		t.Fatalf("first cleanup: %v", err)
	}
	if err := cleaner.Run(ctx, st, statePath); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestCleaner_FailureRetainsStateFile(t *testing.T) {
	dir := t.TempDir()
	n := NewNames("users", dir, "abcd1234")
	st := NewState("appdb", n)
	statePath := filepath.Join(dir, "osc.3.state")
	if err := st.Save(statePath); err != nil {
		t.Fatal(err)
	}

	sess, mock := mockSession(t)
	mock.ExpectExec("DROP TRIGGER IF EXISTS " + qualify(st.Database, st.Triggers[0])).
		WillReturnError(os.ErrPermission)

	cleaner := NewCleaner(sess, hclog.NewNullLogger())
	err := cleaner.Run(context.Background(), st, statePath)
	if err == nil {
		t.Fatal("expected cleanup error")
	}
	if oscerr.KindOf(err) != oscerr.CleanupError {
		t.Errorf("kind = %v, want CleanupError", oscerr.KindOf(err))
	}
	if _, statErr := os.Stat(statePath); statErr != nil {
		t.Error("state file must be retained after a failed cleanup")
	}
}
