package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/schema"
	"github.com/nethalo/tableshift/internal/session"
)

var directCmd = &cobra.Command{
	Use:   "direct",
	Short: "Run the DDL statements natively, without a shadow copy",
	Long: `Direct executes the statements in --ddl-file as-is against the server.
Use it for changes the server can do in place; it takes whatever locks
the native DDL takes.`,
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
		log := newLogger()

		ctx := context.Background()
		sess, err := session.Connect(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer sess.Close()

		for _, stmt := range schema.SplitStatements(string(data)) {
			if _, err := sess.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	directCmd.Flags().String("ddl-file", "", "file with DDL statements to execute")
	directCmd.MarkFlagRequired("ddl-file")
	rootCmd.AddCommand(directCmd)
}
