package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"wellbeing-agent/internal/app"
	"wellbeing-agent/internal/config"
)

// cli carries the state shared by every subcommand.
type cli struct {
	envFile    string
	configFile string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
	lookup config.LookupFunc
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithEnv(os.LookupEnv)
}

func newRootCmdWithEnv(lookup config.LookupFunc) *cobra.Command {
	c := &cli{lookup: lookup}
	root := &cobra.Command{
		Use:   "wellbeing",
		Short: "Operator tooling for the student wellbeing chat engine",
		Long: `wellbeing drives the response engine locally: send single messages,
hold a conversation backed by a SQLite file, probe which model gets pinned,
and exercise the speech normalizer.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "optional TOML config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		c.respondCmd(),
		c.chatCmd(),
		c.probeCmd(),
		c.normalizeCmd(),
		c.speakCmd(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command, _ []string) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}

	c.cfg = config.Default()
	if c.configFile != "" {
		if err := c.cfg.LoadTOML(c.configFile); err != nil {
			return err
		}
	}
	if err := c.cfg.ApplyEnv(c.lookup); err != nil {
		return err
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	level := c.cfg.Level()
	if c.verbose {
		level = slog.LevelDebug
	}
	c.logger = app.NewLogger(cmd.ErrOrStderr(), level, false)
	return nil
}

func (c *cli) engine(cmd *cobra.Command) (*app.Engine, error) {
	// The CLI reads secrets and rule files locally; no parameter store.
	return app.NewEngine(cmd.Context(), c.cfg, nil, c.logger)
}
