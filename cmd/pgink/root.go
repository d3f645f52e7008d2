package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pgink/pgink/internal/cli"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *cli.Config
	configPath string
	logger     *zap.Logger

	// Persistent flags
	cfgFile string
	verbose int
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "pgink",
	Short: "PostgreSQL extension schema compiler",
	Long: `pgink - PostgreSQL extension schema compiler

Pgink compiles declared callables, types and triggers into the DDL script
that registers a Go extension with PostgreSQL, without connecting to a
database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help/completion/version commands
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, configPath, err = cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}

		logger = newLogger()
		return nil
	},
	SilenceUsage:  true, // Don't show usage on errors
	SilenceErrors: true, // We handle errors ourselves
}

// Command group IDs
const (
	groupCompile = "compile"
	groupUtility = "utility"
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover pgink.yaml)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")

	// Define command groups
	rootCmd.AddGroup(
		&cobra.Group{ID: groupCompile, Title: "Compile:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	// Compile commands
	generateCmd.GroupID = groupCompile
	validateCmd.GroupID = groupCompile
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(validateCmd)

	// Utility commands
	configCmd.GroupID = groupUtility
	versionCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// newLogger builds the process logger from the verbosity flags. Quiet wins
// over verbose; each -v lowers the level by one step.
func newLogger() *zap.Logger {
	if quiet {
		return zap.NewNop()
	}
	level := zapcore.WarnLevel
	switch {
	case verbose >= 2:
		level = zapcore.DebugLevel
	case verbose == 1:
		level = zapcore.InfoLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	l, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// resolveString returns the first non-empty string from the provided values.
// Used to implement precedence: flag > config > default.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
