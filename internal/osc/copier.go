package osc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

// progress is the structure shared between the copy and replay workers.
type progress struct {
	copyDone   atomic.Bool
	chunks     atomic.Int64
	rowsCopied atomic.Int64
	rowsReplayed atomic.Int64
	highWater  atomic.Int64
}

// copier streams PK-ordered chunks of the source into outfiles and loads
// them into the shadow table. It owns its session; chunk boundaries live
// in session variables assigned by the dump statement itself.
type copier struct {
	sess       *session.Session
	names      Names
	indexName  string // chunk key's index, "" for keyless tables
	pkList     []string
	projection []string // shared columns in new-table order; loadColumns puts the PK first
	opts       Options
	throttle   *throttler
	hooks      *hookRunner
	prog       *progress
	log        hclog.Logger
}

func newCopier(
	sess *session.Session, names Names, indexName string, pkList, projection []string,
	opts Options, throttle *throttler, hooks *hookRunner, prog *progress,
	log hclog.Logger,
) *copier {
	return &copier{
		sess: sess, names: names, indexName: indexName,
		pkList: pkList, projection: projection,
		opts: opts, throttle: throttle, hooks: hooks, prog: prog, log: log,
	}
}

// nonPK returns the projection columns that are not part of the PK.
func (c *copier) nonPK() []string {
	isPK := make(map[string]bool, len(c.pkList))
	for _, col := range c.pkList {
		isPK[col] = true
	}
	var rest []string
	for _, col := range c.projection {
		if !isPK[col] {
			rest = append(rest, col)
		}
	}
	return rest
}

// loadColumns is the column list in outfile order: PK first, then the
// remaining projection columns.
func (c *copier) loadColumns() []string {
	return append(append([]string{}, c.pkList...), c.nonPK()...)
}

// run copies the whole table chunk by chunk. An empty chunk terminates
// the copy; rows changed after their chunk's snapshot are reconciled by
// the replayer.
func (c *copier) run(ctx context.Context) error {
	defer c.prog.copyDone.Store(true)

	nonPK := c.nonPK()
	for chunk := int64(0); ; chunk++ {
		if err := ctx.Err(); err != nil {
			return oscerr.Wrap(oscerr.CancelledError, err, "copy interrupted")
		}
		if err := c.throttle.wait(ctx); err != nil {
			return err
		}

		if chunk > 0 {
			if _, err := c.sess.Exec(ctx, refreshRangeStartSQL(len(c.pkList))); err != nil {
				return err
			}
		}
		rows, err := c.copyChunk(ctx, chunk, chunk > 0, nonPK)
		if err != nil {
			return err
		}
		if rows > 0 {
			c.prog.chunks.Add(1)
			c.prog.rowsCopied.Add(rows)
		}
		if rows < c.opts.ChunkSize {
			c.log.Info("copy finished",
				"chunks", c.prog.chunks.Load(), "rows", c.prog.rowsCopied.Load())
			return nil
		}
	}
}

// copyChunk dumps one chunk into an outfile and loads it into the
// shadow table. The dump assigns the chunk-end PK into session
// variables, which the next chunk's range condition reads server-side.
func (c *copier) copyChunk(ctx context.Context, chunk int64, useRange bool, nonPK []string) (int64, error) {
	outfile := c.names.ChunkFile(chunk)
	dump := selectChunkIntoOutfileSQL(
		c.names, c.indexName, c.pkList, nonPK, c.opts.ChunkSize, useRange, c.opts.AdditionalWhere)

	rows, err := c.execWithRetry(ctx, dump, outfile)
	if err != nil {
		return 0, err
	}
	if err := c.hooks.run(ctx, HookAfterSelectChunkIntoOutfile); err != nil {
		return 0, err
	}
	if rows == 0 {
		os.Remove(outfile)
		return 0, nil
	}

	loadFile := outfile
	if c.opts.EnableOutfileCompression {
		compressed, err := c.compress(ctx, outfile)
		if err != nil {
			return 0, err
		}
		if loadFile, err = c.decompress(ctx, compressed); err != nil {
			return 0, err
		}
	}

	load := loadChunkSQL(c.names, c.loadColumns(), c.opts.EliminateDups)
	if _, err := c.execWithRetry(ctx, load, loadFile); err != nil {
		return 0, err
	}
	if err := os.Remove(loadFile); err != nil && !os.IsNotExist(err) {
		return 0, oscerr.Wrap(oscerr.IOError, err, "removing outfile %s", loadFile)
	}
	return rows, nil
}

// compress pipes the outfile through the configured compressor and
// removes the original.
func (c *copier) compress(ctx context.Context, path string) (string, error) {
	compressed := path + c.opts.CompressedOutfileExtension
	cmd := exec.CommandContext(ctx, c.opts.CompressorPath, "-q", "-f", "-o", compressed, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", oscerr.Wrap(oscerr.IOError, err, "compressing %s: %s", path, out)
	}
	if err := os.Remove(path); err != nil {
		return "", oscerr.Wrap(oscerr.IOError, err, "removing %s", path)
	}
	return compressed, nil
}

// decompress restores a compressed outfile in place for loading.
func (c *copier) decompress(ctx context.Context, compressed string) (string, error) {
	target := compressed[:len(compressed)-len(c.opts.CompressedOutfileExtension)]
	cmd := exec.CommandContext(ctx, c.opts.CompressorPath, "-d", "-q", "-f", "-o", target, compressed)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", oscerr.Wrap(oscerr.IOError, err, "decompressing %s: %s", compressed, out)
	}
	if err := os.Remove(compressed); err != nil {
		return "", oscerr.Wrap(oscerr.IOError, err, "removing %s", compressed)
	}
	return target, nil
}

// execWithRetry absorbs transient database errors with exponential
// backoff, up to the configured retry budget.
func (c *copier) execWithRetry(ctx context.Context, stmt string, args ...any) (int64, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxChunkRetries; attempt++ {
		rows, err := c.sess.Exec(ctx, stmt, args...)
		if err == nil {
			return rows, nil
		}
		if !errors.Is(err, oscerr.Sentinel(oscerr.TransientDBError)) {
			return 0, err
		}
		lastErr = err
		c.log.Warn("transient error, retrying", "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return 0, oscerr.Wrap(oscerr.CancelledError, ctx.Err(), "copy interrupted")
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return 0, fmt.Errorf("chunk retry budget exhausted: %w", lastErr)
}
