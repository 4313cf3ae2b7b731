package osc

import (
	"context"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

// Cleaner drops every artifact a run leaves behind: outfiles, triggers,
// shadow/delta/old tables, and finally the state file. It is idempotent;
// every drop tolerates an already-missing target.
type Cleaner struct {
	sess *session.Session
	log  hclog.Logger
}

func NewCleaner(sess *session.Session, log hclog.Logger) *Cleaner {
	return &Cleaner{sess: sess, log: log}
}

func qualify(db, name string) string {
	return session.Quote(db) + "." + session.Quote(name)
}

// Run removes all artifacts recorded in the state. Outfiles go first so
// a full disk cannot block the SQL cleanup; triggers go before the delta
// table so no window exists where a trigger writes into a missing table.
// The state file is deleted only after everything else is gone.
func (c *Cleaner) Run(ctx context.Context, st *State, statePath string) error {
	if st.OutfileDir != "" {
		if err := os.RemoveAll(st.OutfileDir); err != nil {
			c.log.Warn("failed to remove outfile dir", "dir", st.OutfileDir, "err", err)
		}
	}

	var stmts []string
	for _, trigger := range st.Triggers {
		stmts = append(stmts, "DROP TRIGGER IF EXISTS "+qualify(st.Database, trigger))
	}
	for _, table := range []string{st.Shadow, st.Delta, st.Old} {
		if table != "" {
			stmts = append(stmts, "DROP TABLE IF EXISTS "+qualify(st.Database, table))
		}
	}
	for _, stmt := range stmts {
		if _, err := c.sess.Exec(ctx, stmt); err != nil {
			return oscerr.Wrap(oscerr.CleanupError, err,
				"cleanup failed; state file %s retained, rerun cleanup", statePath)
		}
	}

	if statePath != "" {
		if err := RemoveState(statePath); err != nil {
			return oscerr.Wrap(oscerr.CleanupError, err, "removing state file")
		}
	}
	c.log.Info("cleanup complete", "table", st.Table)
	return nil
}

// KillRunning terminates the OSC process currently holding the advisory
// lock on this instance.
func (c *Cleaner) KillRunning(ctx context.Context) (int, error) {
	ids, err := c.sess.ProcessIDsHoldingLock(ctx, advisoryLockName)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		c.log.Info("killing osc session", "thread_id", id)
		if err := c.sess.Kill(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
