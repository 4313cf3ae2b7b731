package osc

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/nethalo/tableshift/internal/session"
)

// HealthProbe decides between chunks whether the server is healthy
// enough to keep copying. A non-empty reason means back off.
type HealthProbe interface {
	Check(ctx context.Context) (reason string, err error)
}

// serverProbe checks replication lag, running threads and the local
// load average against the configured thresholds.
type serverProbe struct {
	sess *session.Session
	opts Options
}

func newServerProbe(sess *session.Session, opts Options) *serverProbe {
	return &serverProbe{sess: sess, opts: opts}
}

func (p *serverProbe) Check(ctx context.Context) (string, error) {
	if p.opts.MaxReplicationLag > 0 {
		lag, ok, err := p.replicationLag(ctx)
		if err != nil {
			return "", err
		}
		if ok && lag > p.opts.MaxReplicationLag {
			return fmt.Sprintf("replication lag %s > %s", lag, p.opts.MaxReplicationLag), nil
		}
	}

	if p.opts.MaxRunningThreads > 0 {
		val, err := p.sess.Status(ctx, "Threads_running")
		if err != nil {
			return "", err
		}
		if running, _ := strconv.ParseInt(val, 10, 64); running > p.opts.MaxRunningThreads {
			return fmt.Sprintf("Threads_running %d > %d", running, p.opts.MaxRunningThreads), nil
		}
	}

	if p.opts.MaxLoadAvg > 0 {
		load, err := loadAverage()
		if err == nil && load > p.opts.MaxLoadAvg {
			return fmt.Sprintf("load average %.2f > %.2f", load, p.opts.MaxLoadAvg), nil
		}
	}
	return "", nil
}

// replicationLag reads Seconds_Behind_Master from any replica channel on
// this server. ok is false when the server replicates nothing.
func (p *serverProbe) replicationLag(ctx context.Context) (time.Duration, bool, error) {
	rows, err := p.sess.Query(ctx, "SHOW SLAVE STATUS")
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, false, err
	}
	lagIdx := -1
	for i, c := range cols {
		if strings.EqualFold(c, "Seconds_Behind_Master") {
			lagIdx = i
			break
		}
	}
	if lagIdx < 0 {
		return 0, false, nil
	}

	var maxLag time.Duration
	found := false
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return 0, false, err
		}
		if !values[lagIdx].Valid {
			// NULL means the SQL thread is stopped; treat as unbounded lag.
			return time.Hour, true, rows.Err()
		}
		secs, _ := strconv.ParseInt(values[lagIdx].String, 10, 64)
		if lag := time.Duration(secs) * time.Second; lag > maxLag {
			maxLag = lag
		}
		found = true
	}
	return maxLag, found, rows.Err()
}

// loadAverage reads the 1-minute load average.
func loadAverage() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty /proc/loadavg")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// throttler sleeps with exponential backoff while the probe reports an
// unhealthy server, and resets once a check passes.
type throttler struct {
	probe   HealthProbe
	backoff time.Duration
	cap     time.Duration
	log     hclog.Logger
}

func newThrottler(probe HealthProbe, cap time.Duration, log hclog.Logger) *throttler {
	return &throttler{probe: probe, backoff: time.Second, cap: cap, log: log}
}

// wait blocks until the probe reports healthy or the context is
// cancelled.
func (t *throttler) wait(ctx context.Context) error {
	for {
		reason, err := t.probe.Check(ctx)
		if err != nil {
			return err
		}
		if reason == "" {
			t.backoff = time.Second
			return nil
		}
		t.log.Info("throttling", "reason", reason, "sleep", t.backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.backoff):
		}
		if t.backoff *= 2; t.backoff > t.cap {
			t.backoff = t.cap
		}
	}
}
