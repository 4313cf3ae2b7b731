package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/tableshift/internal/osc"
	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/output"
	"github.com/nethalo/tableshift/internal/schema"
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Run an online schema change through a shadow-table copy",
	Long: `Copy reads CREATE TABLE statements from --ddl-file and brings each
named table to that schema without blocking writers. Statements that
do not begin with CREATE are skipped; a CREATE statement other than
CREATE TABLE is rejected with a parse error.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ddlFile, _ := cmd.Flags().GetString("ddl-file")
		data, err := os.ReadFile(ddlFile)
		if err != nil {
			return oscerr.Wrap(oscerr.IOError, err, "reading --ddl-file")
		}

		cfg, err := connConfig(cmd)
		if err != nil {
			return err
		}
		opts, err := copyOptions(cmd)
		if err != nil {
			return err
		}
		log := newLogger()
		renderer := output.NewRenderer(viper.GetString("format"), os.Stdout)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		for _, stmt := range schema.SplitStatements(string(data)) {
			if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(stmt)), "CREATE") {
				log.Warn("skipping non-CREATE statement in ddl file")
				continue
			}
			ctrl := osc.NewController(cfg, opts, stmt, log)
			summary, err := ctrl.Run(ctx)
			if err != nil {
				renderer.RenderError(err)
				if summary != nil {
					renderer.RenderSummary(summary)
				}
				return err
			}
			renderer.RenderSummary(summary)
		}
		return nil
	},
}

// copyOptions maps the command flags onto the engine options.
func copyOptions(cmd *cobra.Command) (osc.Options, error) {
	opts := osc.DefaultOptions()
	flags := cmd.Flags()

	opts.AllowNewPK, _ = flags.GetBool("allow-new-pk")
	opts.AllowNoPK, _ = flags.GetBool("allow-no-pk")
	opts.EliminateDups, _ = flags.GetBool("eliminate-dups")
	opts.FailForImplicitConv, _ = flags.GetBool("fail-for-implicit-conv")
	opts.RmPartition, _ = flags.GetBool("rm-partition")
	opts.NoEngineCheck, _ = flags.GetBool("no-engine-check")
	opts.ForceCleanup, _ = flags.GetBool("force-cleanup")
	opts.SkipAffectedRowsCheck, _ = flags.GetBool("skip-affected-rows-check")
	opts.ChunkSize, _ = flags.GetInt64("chunk-size")
	opts.BatchSize, _ = flags.GetInt64("replay-batch-size")
	opts.MaxReplayLag, _ = flags.GetInt64("max-replay-lag")
	opts.AdditionalWhere, _ = flags.GetString("additional-where")
	opts.OutfileDir, _ = flags.GetString("outfile-dir")
	opts.EnableOutfileCompression, _ = flags.GetBool("compress-outfile")
	opts.HookDir, _ = flags.GetString("hook-dir")
	if ext, _ := flags.GetString("compressed-outfile-extension"); ext != "" {
		opts.CompressedOutfileExtension = ext
	}
	if lag, _ := flags.GetDuration("max-replication-lag"); lag > 0 {
		opts.MaxReplicationLag = lag
	}
	if lockTimeout, _ := flags.GetDuration("cutover-lock-timeout"); lockTimeout > 0 {
		opts.CutoverLockTimeout = lockTimeout
	}

	if opts.ChunkSize <= 0 {
		return opts, oscerr.New(oscerr.PreconditionError, "--chunk-size must be positive")
	}
	if opts.BatchSize <= 0 {
		return opts, oscerr.New(oscerr.PreconditionError, "--replay-batch-size must be positive")
	}
	return opts, nil
}

func init() {
	defaults := osc.DefaultOptions()

	copyCmd.Flags().String("ddl-file", "", "file with the desired CREATE TABLE statement(s)")
	copyCmd.MarkFlagRequired("ddl-file")

	copyCmd.Flags().Bool("allow-new-pk", false, "allow changing the primary key")
	copyCmd.Flags().Bool("allow-no-pk", false, "allow tables without a primary or unique key")
	copyCmd.Flags().Bool("eliminate-dups", false, "resolve duplicate keys with REPLACE semantics")
	copyCmd.Flags().Bool("fail-for-implicit-conv", false, "reject changes needing implicit conversions")
	copyCmd.Flags().Bool("rm-partition", false, "strip the partition clause from the new schema")
	copyCmd.Flags().Bool("no-engine-check", false, "allow changing the storage engine")
	copyCmd.Flags().Bool("force-cleanup", false, "drop leftover artifacts from a previous unclean stop")
	copyCmd.Flags().Bool("skip-affected-rows-check", false, "skip replay affected-rows verification")
	copyCmd.Flags().Int64("chunk-size", defaults.ChunkSize, "rows per copy chunk")
	copyCmd.Flags().Int64("replay-batch-size", defaults.BatchSize, "rows per replay batch")
	copyCmd.Flags().Int64("max-replay-lag", defaults.MaxReplayLag, "unconsumed changes allowed before cutover")
	copyCmd.Flags().String("additional-where", "", "extra WHERE condition ANDed into the chunk copy")
	copyCmd.Flags().String("outfile-dir", "", "directory for chunk outfiles (default: secure_file_priv or tmpdir)")
	copyCmd.Flags().Bool("compress-outfile", false, "compress chunk outfiles")
	copyCmd.Flags().String("compressed-outfile-extension", defaults.CompressedOutfileExtension, "extension for compressed outfiles")
	copyCmd.Flags().Duration("max-replication-lag", defaults.MaxReplicationLag, "replica lag threshold for throttling")
	copyCmd.Flags().Duration("cutover-lock-timeout", defaults.CutoverLockTimeout, "max time to hold the cutover lock")
	copyCmd.Flags().String("hook-dir", "", "directory with hook SQL files for test harnesses")

	rootCmd.AddCommand(copyCmd)
}
