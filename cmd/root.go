package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/tableshift/internal/oscerr"
	"github.com/nethalo/tableshift/internal/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tableshift",
	Short: "Online schema change for MySQL tables",
	Long: `tableshift changes a table's schema on a running MySQL server without
blocking writers. It copies the table into a shadow table with the desired
schema, captures concurrent DML through triggers, replays it with bounded
lag, and atomically swaps the tables under a short lock.

The desired schema is given as a CREATE TABLE statement; the difference
against the live table is computed automatically.`,
}

// Execute is called by main.main(). It adds all child commands to the
// root command, runs it, and maps error kinds to exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var kerr *oscerr.Error
		if errors.As(err, &kerr) {
			os.Exit(kerr.Kind.ExitCode())
		}
		os.Exit(2)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tableshift/config.yaml)")
	rootCmd.PersistentFlags().StringP("host", "H", "", "MySQL host")
	rootCmd.PersistentFlags().IntP("port", "P", 3306, "MySQL port")
	rootCmd.PersistentFlags().StringP("user", "u", "", "MySQL user")
	rootCmd.PersistentFlags().StringP("password", "p", "", "MySQL password (will prompt if flag present without value)")
	rootCmd.PersistentFlags().Lookup("password").NoOptDefVal = "" // Allow -p without value to trigger prompt
	rootCmd.PersistentFlags().StringP("database", "d", "", "Target database")
	rootCmd.PersistentFlags().StringP("socket", "S", "", "Unix socket path")
	rootCmd.PersistentFlags().String("tls", "", "TLS mode: disabled, preferred, required, skip-verify, custom")
	rootCmd.PersistentFlags().String("tls-ca", "", "CA certificate file for --tls=custom")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "Output format: text, plain")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show every executed SQL statement")

	for _, flag := range []string{"host", "port", "user", "database", "socket", "tls", "tls-ca", "format", "verbose"} {
		viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home + "/.tableshift")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TABLESHIFT")
	viper.AutomaticEnv()

	// Silently ignore missing config file — it's optional
	viper.ReadInConfig()
}

// connConfig assembles the session config from flags, config file and
// environment, prompting for a password when requested.
func connConfig(cmd *cobra.Command) (session.Config, error) {
	cfg := session.Config{
		Host:     viper.GetString("host"),
		Port:     viper.GetInt("port"),
		User:     viper.GetString("user"),
		Database: viper.GetString("database"),
		Socket:   viper.GetString("socket"),
		TLSMode:  viper.GetString("tls"),
		TLSCA:    viper.GetString("tls-ca"),
	}
	if cfg.Host == "" && cfg.Socket == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Database == "" {
		return cfg, oscerr.New(oscerr.PreconditionError, "database not specified: use -d")
	}

	cfg.Password, _ = cmd.Flags().GetString("password")
	if cmd.Flags().Changed("password") && cfg.Password == "" {
		cfg.Password = session.PromptPassword()
	}
	return cfg, nil
}

// newLogger builds the engine logger honoring --verbose.
func newLogger() hclog.Logger {
	level := hclog.Info
	if viper.GetBool("verbose") {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "tableshift",
		Level:  level,
		Output: os.Stderr,
	})
}
