package osc

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/nethalo/tableshift/internal/diff"
	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/schema"
	"github.com/nethalo/tableshift/internal/session"
)

// RunState is the controller's position in the copy pipeline.
type RunState int

const (
	StateInit RunState = iota
	StateValidate
	StateCreateShadow
	StateInstallTriggers
	StateCopy
	StateReplayCatchup
	StateCutover
	StateCleanup
	StateDone
	StateCleanupFailed
)

func (s RunState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateValidate:
		return "VALIDATE"
	case StateCreateShadow:
		return "CREATE_SHADOW"
	case StateInstallTriggers:
		return "INSTALL_TRIGGERS"
	case StateCopy:
		return "COPY"
	case StateReplayCatchup:
		return "REPLAY_CATCHUP"
	case StateCutover:
		return "CUTOVER"
	case StateCleanup:
		return "CLEANUP"
	case StateDone:
		return "DONE"
	default:
		return "CLEANUP_FAILED"
	}
}

// Summary reports what one run did.
type Summary struct {
	Table        string
	FinalState   string
	NoOp         bool
	ChunksCopied int64
	RowsCopied   int64
	RowsReplayed int64
	WallTime     time.Duration
	LockTime     time.Duration
}

// Controller sequences the whole pipeline: validate, create shadow,
// install triggers, copy, catch up, cut over, clean up.
type Controller struct {
	cfg  session.Config
	opts Options
	ddl  string // desired CREATE TABLE text
	log  hclog.Logger

	names    Names
	state    RunState
	oldTable *schema.Table
	newTable *schema.Table
	result   *diff.Result
	keyList  []string         // chunk/replay identity columns
	keyCols  []*schema.Column

	main       *session.Session // foreground: DDL, locks, cutover
	side       *session.Session // kill channel
	copySess   *session.Session
	replaySess *session.Session

	hooks    *hookRunner
	cleaner  *Cleaner
	capture  *capture
	replay   *replayer
	prog     progress
	renamed  bool
	lockHeld bool

	stats Summary
}

// NewController builds a controller for one table change.
func NewController(cfg session.Config, opts Options, ddl string, log hclog.Logger) *Controller {
	return &Controller{cfg: cfg, opts: opts, ddl: ddl, log: log}
}

// Run drives the state machine to DONE, or to CLEANUP on any error.
func (c *Controller) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	summary, err := c.run(ctx)
	if summary != nil {
		summary.WallTime = time.Since(started)
	}
	return summary, err
}

func (c *Controller) run(ctx context.Context) (*Summary, error) {
	defer c.closeSessions()

	if err := c.init(ctx); err != nil {
		return &c.stats, c.failAndClean(ctx, err)
	}
	noop, err := c.validate(ctx)
	if err != nil {
		return &c.stats, c.failAndClean(ctx, err)
	}
	if noop {
		c.state = StateDone
		c.stats.NoOp = true
		c.stats.FinalState = c.state.String()
		return &c.stats, nil
	}

	stopKiller := c.watchCancel(ctx)
	defer stopKiller()

	for _, step := range []func(context.Context) error{
		c.createShadow,
		c.installTriggers,
		c.copyAndCatchUp,
		c.cutover,
		c.cleanupSuccess,
	} {
		if err := step(ctx); err != nil {
			return &c.stats, c.failAndClean(ctx, err)
		}
	}
	c.state = StateDone
	c.stats.FinalState = c.state.String()
	c.stats.ChunksCopied = c.prog.chunks.Load()
	c.stats.RowsCopied = c.prog.rowsCopied.Load()
	c.stats.RowsReplayed = c.prog.rowsReplayed.Load()
	return &c.stats, nil
}

func (c *Controller) init(ctx context.Context) error {
	c.state = StateInit
	var err error
	if c.main, err = session.Connect(ctx, c.cfg, c.log.Named("main")); err != nil {
		return err
	}
	if c.side, err = session.Connect(ctx, c.cfg, c.log.Named("side")); err != nil {
		return err
	}
	c.hooks = newHookRunner(c.opts.HookDir, c.main, c.log)
	c.cleaner = NewCleaner(c.main, c.log)
	if err := c.hooks.run(ctx, HookBeforeInitConnection); err != nil {
		return err
	}
	return c.setupSession(ctx, c.main)
}

// setupSession pins the isolation level and SQL mode every engine
// session depends on.
func (c *Controller) setupSession(ctx context.Context, s *session.Session) error {
	if _, err := s.Exec(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return err
	}
	return s.SetSessionVar(ctx, "sql_mode", "STRICT_ALL_TABLES")
}

func (c *Controller) validate(ctx context.Context) (noop bool, err error) {
	c.state = StateValidate

	newTable, err := schema.Parse(c.ddl)
	if err != nil {
		return false, err
	}
	if c.opts.RmPartition {
		newTable = newTable.WithoutPartition()
	}
	c.newTable = newTable
	c.stats.Table = newTable.Name

	got, err := c.main.GetLock(ctx, advisoryLockName)
	if err != nil {
		return false, err
	}
	if !got {
		return false, oscerr.New(oscerr.PreconditionError,
			"another schema change is already running on this instance; "+
				"use `cleanup --kill` if it is stale")
	}

	exists, err := c.main.TableExists(ctx, c.cfg.Database, newTable.Name)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, oscerr.New(oscerr.PreconditionError,
			"table `%s`.`%s` does not exist", c.cfg.Database, newTable.Name)
	}

	createSQL, err := c.main.ShowCreateTable(ctx, newTable.Name)
	if err != nil {
		return false, err
	}
	if c.oldTable, err = schema.Parse(createSQL); err != nil {
		return false, err
	}

	if c.oldTable.SemanticallyEqual(c.newTable) {
		c.log.Info("table already has the desired schema", "table", newTable.Name)
		return true, nil
	}

	c.result = diff.Compute(c.oldTable, c.newTable, diff.Options{
		AllowNoPK:           c.opts.AllowNoPK,
		AllowNewPK:          c.opts.AllowNewPK,
		EliminateDups:       c.opts.EliminateDups,
		FailForImplicitConv: c.opts.FailForImplicitConv,
		NoEngineCheck:       c.opts.NoEngineCheck,
	})
	switch c.result.Classification {
	case diff.Rejected:
		return false, oscerr.New(oscerr.ValidationError,
			"schema change rejected: %v", c.result.Reasons)
	case diff.Unsafe:
		c.log.Warn("schema change involves implicit conversions", "reasons", c.result.Reasons)
	}

	if err := c.decideKey(); err != nil {
		return false, err
	}
	if err := c.preflight(ctx); err != nil {
		return false, err
	}
	return false, nil
}

// decideKey picks the chunk/replay identity: the primary key, a unique
// key, or (with the no-PK override) every column.
func (c *Controller) decideKey() error {
	key := c.oldTable.UniqueKey()
	if key == nil {
		if !c.opts.AllowNoPK {
			return oscerr.New(oscerr.PreconditionError,
				"table %q has no primary or unique key", c.oldTable.Name)
		}
		// Without a key, whole rows are the identity: chunk and replay
		// on every column that exists on both sides.
		for _, col := range c.oldTable.Columns {
			if col.IsGenerated() || c.newTable.Column(col.Name) == nil {
				continue
			}
			c.keyList = append(c.keyList, col.Name)
			c.keyCols = append(c.keyCols, col)
		}
		if len(c.keyList) == 0 {
			return oscerr.New(oscerr.PreconditionError,
				"no shared columns to identify rows by")
		}
		return nil
	}
	for _, kc := range key.ColumnNames() {
		col := c.oldTable.Column(kc)
		if col == nil {
			return oscerr.New(oscerr.PreconditionError,
				"key column %q missing from table definition", kc)
		}
		// Replay looks rows up in the shadow table by the old key, so
		// its columns must survive into the new schema.
		if c.newTable.Column(kc) == nil {
			return oscerr.New(oscerr.PreconditionError,
				"key column %q does not exist in the new schema; "+
					"replay cannot match rows without it", kc)
		}
		c.keyList = append(c.keyList, col.Name)
		c.keyCols = append(c.keyCols, col)
	}
	return nil
}

func (c *Controller) preflight(ctx context.Context) error {
	fks, err := c.main.ForeignKeyCount(ctx, c.cfg.Database, c.oldTable.Name)
	if err != nil {
		return err
	}
	if fks > 0 {
		return oscerr.New(oscerr.PreconditionError,
			"table %q participates in %d foreign key(s)", c.oldTable.Name, fks)
	}

	tmpdir := c.opts.OutfileDir
	if tmpdir == "" {
		if tmpdir, err = c.main.Var(ctx, "secure_file_priv"); err != nil {
			return err
		}
		if tmpdir == "" {
			tmpdir = os.TempDir()
		}
	}
	c.names = NewNames(c.oldTable.Name, tmpdir, NewNonce())

	for _, leftover := range []string{c.names.Shadow, c.names.Delta, c.names.Old} {
		exists, err := c.main.TableExists(ctx, c.cfg.Database, leftover)
		if err != nil {
			return err
		}
		if exists {
			if !c.opts.ForceCleanup {
				return oscerr.New(oscerr.PreconditionError,
					"leftover table %q exists; rerun with --force-cleanup or run cleanup", leftover)
			}
			if _, err := c.main.Exec(ctx, dropTableSQL(leftover)); err != nil {
				return err
			}
		}
	}
	triggers, err := c.main.TriggersOn(ctx, c.cfg.Database, c.oldTable.Name)
	if err != nil {
		return err
	}
	if len(triggers) > 0 {
		return oscerr.New(oscerr.PreconditionError,
			"table %q already has trigger(s) %v; MySQL allows only one trigger per action",
			c.oldTable.Name, triggers)
	}

	if err := os.MkdirAll(c.names.OutfileDir, 0700); err != nil {
		return oscerr.Wrap(oscerr.IOError, err, "creating outfile dir")
	}
	return c.checkDiskSpace(ctx)
}

// checkDiskSpace refuses to start when the outfile directory cannot hold
// a table-sized dump plus headroom.
func (c *Controller) checkDiskSpace(ctx context.Context) error {
	st, err := c.main.Stats(ctx, c.cfg.Database, c.oldTable.Name)
	if err != nil {
		return err
	}
	var fs syscall.Statfs_t
	if err := syscall.Statfs(c.names.OutfileDir, &fs); err != nil {
		return oscerr.Wrap(oscerr.IOError, err, "statfs %s", c.names.OutfileDir)
	}
	avail := int64(fs.Bavail) * fs.Bsize
	need := st.Rows*st.AvgRowLength + 1<<30
	if avail < need {
		return oscerr.New(oscerr.PreconditionError,
			"not enough disk space for outfiles: need %d bytes, have %d", need, avail)
	}
	return nil
}

func (c *Controller) createShadow(ctx context.Context) error {
	c.state = StateCreateShadow
	// The state file must exist before the first DDL it would undo.
	if err := NewState(c.cfg.Database, c.names).Save(c.names.StateFile); err != nil {
		return err
	}
	c.log.Info("creating shadow table", "shadow", c.names.Shadow)
	_, err := c.main.Exec(ctx, createShadowTableSQL(c.newTable, c.names.Shadow))
	return err
}

func (c *Controller) installTriggers(ctx context.Context) error {
	c.state = StateInstallTriggers
	if err := c.ddlGuard(ctx); err != nil {
		return err
	}
	c.capture = newCapture(c.main, c.names, c.keyCols, c.log)
	return c.capture.install(ctx)
}

// ddlGuard delays trigger DDL while the server is busy; CREATE TRIGGER
// waits for every open transaction touching the table, so installing it
// under load can stall all writers.
func (c *Controller) ddlGuard(ctx context.Context) error {
	for attempt := 0; attempt < 60; attempt++ {
		val, err := c.main.Status(ctx, "Threads_running")
		if err != nil {
			return err
		}
		var running int64
		fmt.Sscan(val, &running)
		if c.opts.MaxRunningThreads <= 0 || running < c.opts.MaxRunningThreads {
			return nil
		}
		c.log.Info("deferring trigger install", "threads_running", running)
		select {
		case <-ctx.Done():
			return oscerr.Wrap(oscerr.CancelledError, ctx.Err(), "interrupted")
		case <-time.After(500 * time.Millisecond):
		}
	}
	return oscerr.New(oscerr.PreconditionError,
		"server stayed too busy to install triggers")
}

// copyAndCatchUp runs the chunk copier and the replayer as concurrent
// workers, each on its own session, coordinated by the shared progress
// structure.
func (c *Controller) copyAndCatchUp(ctx context.Context) error {
	c.state = StateCopy
	var err error
	if c.copySess, err = session.Connect(ctx, c.cfg, c.log.Named("copy")); err != nil {
		return err
	}
	if err := c.setupSession(ctx, c.copySess); err != nil {
		return err
	}
	if c.replaySess, err = session.Connect(ctx, c.cfg, c.log.Named("replay")); err != nil {
		return err
	}
	if err := c.setupSession(ctx, c.replaySess); err != nil {
		return err
	}

	indexName := ""
	if key := c.oldTable.UniqueKey(); key != nil {
		indexName = key.Name
	}
	throttle := newThrottler(newServerProbe(c.copySess, c.opts), c.opts.ThrottleBackoffCap, c.log)
	cop := newCopier(c.copySess, c.names, indexName, c.keyList, c.result.Projection,
		c.opts, throttle, c.hooks, &c.prog, c.log.Named("copier"))
	c.replay = newReplayer(c.replaySess, c.names, c.keyList, c.result.Projection,
		c.opts, &c.prog, c.log.Named("replayer"))

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return cop.run(gctx) })
	group.Go(func() error { return c.replay.catchUp(gctx) })
	if err := group.Wait(); err != nil {
		return err
	}
	c.state = StateReplayCatchup
	return nil
}

// cutover locks the three tables, drains the delta log, and atomically
// swaps the shadow table in. A drain that cannot finish inside the lock
// budget abandons the attempt and goes back to catch-up.
func (c *Controller) cutover(ctx context.Context) error {
	c.state = StateCutover
	if _, err := c.main.Exec(ctx, analyzeTableSQL(c.names.Shadow)); err != nil {
		return err
	}

	for attempt := 0; attempt < c.opts.MaxCutoverRetries; attempt++ {
		lockCtx, cancel := context.WithTimeout(ctx, c.opts.CutoverLockTimeout)
		converged, err := c.cutoverAttempt(lockCtx)
		cancel()
		if err != nil {
			return err
		}
		if converged {
			return c.hooks.run(ctx, HookAfterRunDDL)
		}
		c.log.Info("cutover attempt abandoned, catching up again", "attempt", attempt+1)
		c.state = StateReplayCatchup
		if err := c.replay.catchUp(ctx); err != nil {
			return err
		}
		c.state = StateCutover
	}
	return oscerr.New(oscerr.FatalDBError,
		"could not drain the change log within %d cutover attempts", c.opts.MaxCutoverRetries)
}

func (c *Controller) cutoverAttempt(ctx context.Context) (bool, error) {
	lockStart := time.Now()
	if err := c.main.LockTables(ctx, c.names.Table, c.names.Shadow, c.names.Delta); err != nil {
		return false, err
	}
	c.lockHeld = true
	unlock := func() error {
		c.lockHeld = false
		return c.main.UnlockTables(context.WithoutCancel(ctx))
	}

	converged, err := c.replay.finalReplay(ctx, c.main)
	if err != nil {
		unlock()
		// Hitting the lock budget abandons the attempt, not the run.
		if ctx.Err() == context.DeadlineExceeded {
			return false, nil
		}
		return false, err
	}
	if !converged {
		if err := unlock(); err != nil {
			return false, err
		}
		return false, nil
	}

	// Linearization point: every DML committed before this rename is in
	// the shadow table.
	if _, err := c.main.Exec(ctx, swapTablesSQL(c.names)); err != nil {
		unlock()
		return false, err
	}
	c.renamed = true
	if err := unlock(); err != nil {
		return false, err
	}
	c.stats.LockTime += time.Since(lockStart)
	c.log.Info("table swapped, new schema is live", "table", c.names.Table)
	return true, nil
}

// cleanupSuccess removes every intermediate artifact after a successful
// swap. The triggers moved to the renamed old table, so they are dropped
// before it.
func (c *Controller) cleanupSuccess(ctx context.Context) error {
	c.state = StateCleanup
	if err := c.hooks.run(ctx, HookBeforeCleanup); err != nil {
		return err
	}
	if err := c.capture.dropTriggers(ctx); err != nil {
		return err
	}
	if _, err := c.main.Exec(ctx, dropTableSQL(c.names.Old)); err != nil {
		return err
	}
	if err := c.capture.dropDelta(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(c.names.OutfileDir); err != nil {
		return oscerr.Wrap(oscerr.IOError, err, "removing outfile dir")
	}
	if err := c.main.ReleaseLock(ctx, advisoryLockName); err != nil {
		return err
	}
	if err := RemoveState(c.names.StateFile); err != nil {
		return err
	}
	return c.hooks.run(ctx, HookAfterCleanup)
}

// failAndClean transitions to CLEANUP after an error. Before the rename
// every shadow artifact is dropped and the source stays untouched; after
// the rename the old table is left for the cleanup command, since the
// new schema is already live.
func (c *Controller) failAndClean(ctx context.Context, cause error) error {
	c.state = StateCleanup
	c.stats.FinalState = c.state.String()
	// Use a fresh context: the run context is usually already cancelled.
	ctx = context.WithoutCancel(ctx)

	if c.lockHeld {
		c.main.UnlockTables(ctx)
		c.lockHeld = false
	}
	if c.renamed {
		c.state = StateCleanupFailed
		c.stats.FinalState = c.state.String()
		return oscerr.Wrap(oscerr.CleanupError, cause,
			"failed after table swap; new schema is live, run cleanup to drop %q", c.names.Old)
	}
	if c.names.StateFile == "" {
		// Nothing was mutated yet.
		return cause
	}
	if _, statErr := os.Stat(c.names.StateFile); statErr != nil {
		return cause
	}

	st, err := LoadState(c.names.StateFile)
	if err == nil {
		// The renamed-old table does not exist before the swap, and the
		// swap path never reaches here, so dropping it is a no-op.
		err = c.cleaner.Run(ctx, st, c.names.StateFile)
	}
	if err != nil {
		c.state = StateCleanupFailed
		c.stats.FinalState = c.state.String()
		c.log.Error("cleanup failed, state file retained", "err", err)
		return oscerr.Wrap(oscerr.CleanupError, cause, "cleanup after failure also failed: %v", err)
	}
	c.main.ReleaseLock(ctx, advisoryLockName)
	return cause
}

// watchCancel kills outstanding statements on the worker sessions from
// the side session once the run context is cancelled.
func (c *Controller) watchCancel(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, s := range []*session.Session{c.main, c.copySess, c.replaySess} {
				if s != nil {
					c.side.KillQuery(killCtx, s.ThreadID())
				}
			}
		}
	}()
	return func() { close(done) }
}

func (c *Controller) closeSessions() {
	for _, s := range []*session.Session{c.replaySess, c.copySess, c.side, c.main} {
		if s != nil {
			s.Close()
		}
	}
}
