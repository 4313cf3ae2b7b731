package osc

import "time"

// Options are the run-time switches of the copy engine. Field names
// mirror the CLI flags.
type Options struct {
	// Policy switches. RmPartition is applied by the controller; the
	// others are passed to the differ.
	AllowNewPK          bool
	AllowNoPK           bool
	EliminateDups       bool
	FailForImplicitConv bool
	RmPartition         bool
	NoEngineCheck       bool

	// Run behavior.
	ForceCleanup           bool
	SkipAffectedRowsCheck  bool
	ChunkSize              int64  // rows per copy chunk
	BatchSize              int64  // rows per replay batch
	MaxReplayLag           int64  // unconsumed delta rows allowed before cutover
	MaxReplayTime          time.Duration
	FinalReplayLimit       int64 // delta rows replayed under lock before the attempt is abandoned
	MaxCutoverRetries      int
	MaxChunkRetries        int
	CutoverLockTimeout     time.Duration
	AdditionalWhere        string
	OutfileDir             string // overrides the session tmpdir
	EnableOutfileCompression  bool
	CompressedOutfileExtension string
	CompressorPath         string

	// Throttling thresholds.
	MaxReplicationLag  time.Duration
	MaxRunningThreads  int64
	MaxLoadAvg         float64
	ThrottleBackoffCap time.Duration

	// HookDir holds the named hook files; empty disables hooks.
	HookDir string
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:                  500,
		BatchSize:                  500,
		MaxReplayLag:               1000,
		MaxReplayTime:              30 * time.Minute,
		FinalReplayLimit:           5000,
		MaxCutoverRetries:          3,
		MaxChunkRetries:            10,
		CutoverLockTimeout:         30 * time.Second,
		CompressedOutfileExtension: ".zst",
		CompressorPath:             "zstd",
		MaxReplicationLag:          10 * time.Second,
		MaxRunningThreads:          200,
		MaxLoadAvg:                 0, // disabled unless set
		ThrottleBackoffCap:         30 * time.Second,
	}
}
