package osc

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/session"
)

// mockSession builds a Session backed by sqlmock with literal query
// matching.
func mockSession(t *testing.T) (*session.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	sess, err := session.NewFromDB(context.Background(), db, hclog.NewNullLogger())
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess, mock
}

func testReplayer(sess *session.Session) (*replayer, *progress) {
	prog := &progress{}
	r := newReplayer(sess, testNames(), []string{"id"}, []string{"id", "v"},
		DefaultOptions(), prog, hclog.NewNullLogger())
	return r, prog
}

func deltaRows(rows ...[3]int64) *sqlmock.Rows {
	out := sqlmock.NewRows([]string{"chg_id", "chg_type", "id"})
	for _, r := range rows {
		out.AddRow(r[0], r[1], r[2])
	}
	return out
}

func TestReplayer_AppliesBatchInOrder(t *testing.T) {
	sess, mock := mockSession(t)
	r, prog := testReplayer(sess)
	ctx := context.Background()

	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(0)).
		WillReturnRows(deltaRows([3]int64{1, dmlInsert, 10}, [3]int64{2, dmlDelete, 11}))
	mock.ExpectExec(r.replaceSQL).WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(r.deleteSQL).WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	consumed, err := r.replayOnce(ctx, sess)
	if err != nil {
		t.Fatalf("replayOnce: %v", err)
	}
	if consumed != 2 {
		t.Errorf("consumed = %d, want 2", consumed)
	}
	if got := prog.highWater.Load(); got != 2 {
		t.Errorf("high-water mark = %d, want 2", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// A vanished source row collapses an insert/update into a delete.
func TestReplayer_VanishedRowBecomesDelete(t *testing.T) {
	sess, mock := mockSession(t)
	r, _ := testReplayer(sess)

	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(0)).
		WillReturnRows(deltaRows([3]int64{5, dmlUpdate, 42}))
	mock.ExpectExec(r.replaceSQL).WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(r.deleteSQL).WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := r.replayOnce(context.Background(), sess); err != nil {
		t.Fatalf("replayOnce: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// The high-water mark only moves forward: the next fetch starts above
// the last consumed chg_id, so no change is ever reapplied.
func TestReplayer_HighWaterMarkMonotonic(t *testing.T) {
	sess, mock := mockSession(t)
	r, prog := testReplayer(sess)
	ctx := context.Background()

	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(0)).
		WillReturnRows(deltaRows([3]int64{7, dmlInsert, 1}))
	mock.ExpectExec(r.replaceSQL).WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if _, err := r.replayOnce(ctx, sess); err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(7)).
		WillReturnRows(deltaRows())
	consumed, err := r.replayOnce(ctx, sess)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 0 {
		t.Errorf("consumed = %d, want 0", consumed)
	}
	if got := prog.highWater.Load(); got != 7 {
		t.Errorf("high-water mark moved on empty batch: %d", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplayer_UnknownChangeTypeIsFatal(t *testing.T) {
	sess, mock := mockSession(t)
	r, _ := testReplayer(sess)

	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(0)).
		WillReturnRows(deltaRows([3]int64{1, 9, 1}))

	if _, err := r.replayOnce(context.Background(), sess); err == nil {
		t.Error("expected error for unknown chg_type")
	}
}

func TestReplayer_FinalReplayDrains(t *testing.T) {
	sess, mock := mockSession(t)
	r, _ := testReplayer(sess)

	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(0)).
		WillReturnRows(deltaRows([3]int64{1, dmlInsert, 1}))
	mock.ExpectExec(r.replaceSQL).WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(r.fetchSQL).WithArgs(int64(1)).
		WillReturnRows(deltaRows())

	converged, err := r.finalReplay(context.Background(), sess)
	if err != nil {
		t.Fatalf("finalReplay: %v", err)
	}
	if !converged {
		t.Error("expected convergence on drained delta table")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplayer_FinalReplayHitsIterationCap(t *testing.T) {
	sess, mock := mockSession(t)
	prog := &progress{}
	opts := DefaultOptions()
	opts.FinalReplayLimit = 1
	r := newReplayer(sess, testNames(), []string{"id"}, []string{"id", "v"},
		opts, prog, hclog.NewNullLogger())

	for i := int64(0); i < 2; i++ {
		mock.ExpectQuery(r.fetchSQL).WithArgs(i).
			WillReturnRows(deltaRows([3]int64{i + 1, dmlInsert, i + 1}))
		mock.ExpectExec(r.replaceSQL).WithArgs(i + 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	converged, err := r.finalReplay(context.Background(), sess)
	if err != nil {
		t.Fatalf("finalReplay: %v", err)
	}
	if converged {
		t.Error("expected the iteration cap to abandon the attempt")
	}
}
