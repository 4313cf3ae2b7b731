package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nethalo/tableshift/internal/osc"
	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove artifacts left behind by an interrupted run",
	Long: `Cleanup reads the state files written by previous runs and drops the
recorded shadow tables, delta tables, triggers, renamed-old tables and
outfiles. With no state file present it is a no-op. With --kill it also
terminates the schema change currently running on the instance.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		stateFile, _ := cmd.Flags().GetString("state-file")
		stateDir, _ := cmd.Flags().GetString("state-dir")
		kill, _ := cmd.Flags().GetBool("kill")

		cfg, err := connConfig(cmd)
		if err != nil {
			return err
		}
		log := newLogger()
		ctx := context.Background()

		sess, err := session.Connect(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer sess.Close()
		cleaner := osc.NewCleaner(sess, log)

		if kill {
			n, err := cleaner.KillRunning(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("killed %d running schema change session(s)\n", n)
		}

		var files []string
		if stateFile != "" {
			files = []string{stateFile}
		} else {
			if stateDir == "" {
				stateDir = os.TempDir()
			}
			if files, err = osc.FindStateFiles(stateDir); err != nil {
				return err
			}
		}
		if len(files) == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}

		for _, path := range files {
			st, err := osc.LoadState(path)
			if err != nil {
				return err
			}
			if st.Database != cfg.Database {
				log.Info("skipping state file for another database",
					"file", path, "database", st.Database)
				continue
			}
			if err := cleaner.Run(ctx, st, path); err != nil {
				return oscerr.Wrap(oscerr.CleanupError, err, "cleaning up %s", path)
			}
			fmt.Printf("cleaned up artifacts of table %s\n", st.Table)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().String("state-file", "", "specific state file to clean up")
	cleanupCmd.Flags().String("state-dir", "", "directory to scan for state files (default: tmpdir)")
	cleanupCmd.Flags().Bool("kill", false, "kill the schema change currently running on the instance")
	rootCmd.AddCommand(cleanupCmd)
}
