package osc

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

// purgeEvery controls how often consumed delta rows are deleted, in
// batches.
const purgeEvery = 10

// deltaRow is one captured change: the id assigning the total order,
// the DML type and the PK values.
type deltaRow struct {
	id      int64
	dmlType int
	pk      []any
}

// replayer consumes the change-capture log in chg_id order and applies
// it to the shadow table, converging toward the source tail. The
// high-water mark only moves forward; rows at or below it are never
// reapplied.
type replayer struct {
	sess       *session.Session
	names      Names
	pkList     []string
	projection []string
	opts       Options
	prog       *progress
	log        hclog.Logger

	replaceSQL string
	deleteSQL  string
	fetchSQL   string
	countSQL   string
	purgeSQL   string

	batchesSincePurge int
}

func newReplayer(
	sess *session.Session, names Names, pkList, projection []string,
	opts Options, prog *progress, log hclog.Logger,
) *replayer {
	return &replayer{
		sess: sess, names: names, pkList: pkList, projection: projection,
		opts: opts, prog: prog, log: log,
		replaceSQL: replayReplaceSQL(names, projection, pkList),
		deleteSQL:  replayDeleteSQL(names, pkList),
		fetchSQL:   fetchDeltaBatchSQL(names, pkList, opts.BatchSize),
		countSQL:   countDeltaTailSQL(names),
		purgeSQL:   purgeDeltaSQL(names),
	}
}

// fetchBatch reads the next batch of changes above the high-water mark.
func (r *replayer) fetchBatch(ctx context.Context, sess *session.Session) ([]deltaRow, error) {
	rows, err := sess.Query(ctx, r.fetchSQL, r.prog.highWater.Load())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []deltaRow
	for rows.Next() {
		row := deltaRow{pk: make([]any, len(r.pkList))}
		dest := make([]any, 0, len(r.pkList)+2)
		dest = append(dest, &row.id, &row.dmlType)
		for i := range row.pk {
			dest = append(dest, &row.pk[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, oscerr.ClassifyDB(err, "scanning delta row")
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, oscerr.ClassifyDB(err, "streaming delta batch")
	}
	return batch, nil
}

// applyBatch replays one batch on the given session and advances the
// high-water mark past it. Inserts and updates re-read the current
// source row; a vanished source row collapses to a delete.
func (r *replayer) applyBatch(ctx context.Context, sess *session.Session, batch []deltaRow) error {
	for _, row := range batch {
		switch row.dmlType {
		case dmlInsert, dmlUpdate:
			affected, err := sess.Exec(ctx, r.replaceSQL, row.pk...)
			if err != nil {
				return err
			}
			if affected == 0 {
				if _, err := sess.Exec(ctx, r.deleteSQL, row.pk...); err != nil {
					return err
				}
			} else if !r.opts.SkipAffectedRowsCheck && affected > 2 {
				return oscerr.New(oscerr.FatalDBError,
					"replay of chg_id %d affected %d rows, expected at most 2", row.id, affected)
			}
		case dmlDelete:
			affected, err := sess.Exec(ctx, r.deleteSQL, row.pk...)
			if err != nil {
				return err
			}
			if !r.opts.SkipAffectedRowsCheck && affected > 1 {
				return oscerr.New(oscerr.FatalDBError,
					"replay of chg_id %d affected %d rows, expected at most 1", row.id, affected)
			}
		default:
			return oscerr.New(oscerr.FatalDBError,
				"unknown chg_type %d at chg_id %d", row.dmlType, row.id)
		}
	}
	r.prog.highWater.Store(batch[len(batch)-1].id)
	r.prog.rowsReplayed.Add(int64(len(batch)))
	return nil
}

// replayOnce fetches and applies a single batch on the given session.
// Returns the number of changes consumed.
func (r *replayer) replayOnce(ctx context.Context, sess *session.Session) (int, error) {
	batch, err := r.fetchBatch(ctx, sess)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := r.applyBatch(ctx, sess, batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// purgeConsumed deletes delta rows at or below the high-water mark.
func (r *replayer) purgeConsumed(ctx context.Context, sess *session.Session) error {
	_, err := sess.Exec(ctx, r.purgeSQL, r.prog.highWater.Load())
	return err
}

// tail counts unconsumed changes.
func (r *replayer) tail(ctx context.Context, sess *session.Session) (int64, error) {
	var n int64
	err := sess.QueryRow(ctx, r.countSQL, r.prog.highWater.Load()).Scan(&n)
	if err != nil {
		return 0, oscerr.ClassifyDB(err, "counting delta tail")
	}
	return n, nil
}

// catchUp loops batches until the copier is done and the unconsumed
// tail is within the replay-lag bound, or the replay-time budget runs
// out.
func (r *replayer) catchUp(ctx context.Context) error {
	deadline := time.Now().Add(r.opts.MaxReplayTime)
	for {
		if err := ctx.Err(); err != nil {
			return oscerr.Wrap(oscerr.CancelledError, err, "replay interrupted")
		}
		consumed, err := r.replayOnce(ctx, r.sess)
		if err != nil {
			return err
		}
		if r.batchesSincePurge++; r.batchesSincePurge >= purgeEvery {
			if err := r.purgeConsumed(ctx, r.sess); err != nil {
				return err
			}
			r.batchesSincePurge = 0
		}

		if consumed == 0 {
			if r.prog.copyDone.Load() {
				return nil
			}
			select {
			case <-ctx.Done():
				return oscerr.Wrap(oscerr.CancelledError, ctx.Err(), "replay interrupted")
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		if r.prog.copyDone.Load() && int64(consumed) < r.opts.BatchSize {
			tail, err := r.tail(ctx, r.sess)
			if err != nil {
				return err
			}
			if tail <= r.opts.MaxReplayLag {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return oscerr.New(oscerr.FatalDBError,
				"replay could not catch up within %s", r.opts.MaxReplayTime)
		}
	}
}

// finalReplay drains the delta table on the lock-holding session inside
// the cutover window. Returns false once more than FinalReplayLimit
// changes have been replayed without reaching an empty batch (the last
// batch can carry the total past the limit), in which case the cutover
// attempt must be abandoned.
func (r *replayer) finalReplay(ctx context.Context, lockSess *session.Session) (bool, error) {
	var drained int64
	for drained <= r.opts.FinalReplayLimit {
		consumed, err := r.replayOnce(ctx, lockSess)
		if err != nil {
			return false, err
		}
		if consumed == 0 {
			return true, nil
		}
		drained += int64(consumed)
	}
	return false, nil
}
