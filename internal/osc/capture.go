package osc

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/schema"
	"github.com/nethalo/tableshift/internal/session"
)

// capture owns the change-capture log: the delta table plus the three
// triggers recording concurrent DML on the source. Triggers exist iff
// the delta table exists; install and drop keep that order.
type capture struct {
	sess   *session.Session
	names  Names
	pkCols []*schema.Column
	log    hclog.Logger
}

func newCapture(sess *session.Session, names Names, pkCols []*schema.Column, log hclog.Logger) *capture {
	return &capture{sess: sess, names: names, pkCols: pkCols, log: log}
}

func (c *capture) pkList() []string {
	names := make([]string, len(c.pkCols))
	for i, col := range c.pkCols {
		names[i] = col.Name
	}
	return names
}

// install creates the delta table first, then the triggers. Because
// triggers run inside the source transaction, every committed DML on the
// source appears in the delta table in commit order once this returns.
func (c *capture) install(ctx context.Context) error {
	pkList := c.pkList()
	c.log.Info("creating change-capture log", "delta", c.names.Delta)
	if _, err := c.sess.Exec(ctx, createDeltaTableSQL(c.names.Delta, c.pkCols)); err != nil {
		return err
	}
	for _, stmt := range []string{
		createInsertTriggerSQL(c.names, pkList),
		createUpdateTriggerSQL(c.names, pkList),
		createDeleteTriggerSQL(c.names, pkList),
	} {
		if _, err := c.sess.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dropTriggers removes the triggers. Dropping triggers before the delta
// table avoids the window where a trigger writes into a missing table.
func (c *capture) dropTriggers(ctx context.Context) error {
	for _, name := range []string{c.names.TriggerIns, c.names.TriggerUpd, c.names.TriggerDel} {
		if _, err := c.sess.Exec(ctx, dropTriggerSQL(name)); err != nil {
			return err
		}
	}
	return nil
}

// dropDelta removes the delta table after the triggers are gone.
func (c *capture) dropDelta(ctx context.Context) error {
	_, err := c.sess.Exec(ctx, dropTableSQL(c.names.Delta))
	return err
}
