// Package commands implements the mammoth command line tool.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mammoth-analytics/mammoth-go/client"
	"github.com/mammoth-analytics/mammoth-go/config"
	"github.com/mammoth-analytics/mammoth-go/logger"
	"github.com/mammoth-analytics/mammoth-go/observability"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	ConfigFile string
	EnvFile    string
	Metrics    bool
	Verbose    bool
}

// app is the per-invocation state built from configuration.
type app struct {
	opts    *RootOptions
	version string

	cfg     *config.Config
	log     logger.Logger
	client  *client.Client
	metrics observability.Provider
}

// NewRootCommand creates the mammoth command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{opts: &RootOptions{}, version: version}

	cmd := &cobra.Command{
		Use:   "mammoth",
		Short: "Command line client for the Mammoth analytics API",
		Long: `Upload files, inspect jobs and check connectivity against the Mammoth API.

Settings come from mammoth.yaml (or --config), a .env file and MAMMOTH_*
environment variables, later sources winning.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&a.opts.ConfigFile, "config", "c", "", "YAML config file (default mammoth.yaml when present)")
	cmd.PersistentFlags().StringVar(&a.opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	cmd.PersistentFlags().BoolVar(&a.opts.Metrics, "metrics", false, "Write client metrics to stderr")
	cmd.PersistentFlags().BoolVar(&a.opts.Verbose, "verbose", false, "Debug logging")

	cmd.AddCommand(
		newPingCommand(a),
		newJobsCommand(a),
		newFilesCommand(a),
		newExportsCommand(a),
		newVersionCommand(version),
	)

	return cmd
}

// run wraps a command body with setup and teardown of the client.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.init(cmd); err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	if err := loadEnvFile(a.opts.EnvFile); err != nil {
		return err
	}

	var err error
	if a.opts.ConfigFile != "" {
		a.cfg, err = config.LoadFile(a.opts.ConfigFile)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := a.cfg.Log.Level
	if a.opts.Verbose {
		level = "debug"
	}
	a.log = logger.NewWithWriter(level, a.cfg.Log.Pretty, cmd.ErrOrStderr())

	a.metrics, err = observability.NewProvider(observability.Config{
		Enabled:        a.opts.Metrics || a.cfg.Metrics.Enabled,
		ServiceVersion: a.version,
		Interval:       a.cfg.Metrics.Interval,
		Endpoint:       a.cfg.Metrics.Endpoint,
		Protocol:       a.cfg.Metrics.Protocol,
		Insecure:       a.cfg.Metrics.Insecure,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.client, err = client.NewFromConfig(a.cfg, a.log)
	return err
}

func (a *app) close() {
	if err := observability.Shutdown(a.metrics, 0); err != nil {
		a.log.Warn().Err(err).Msg("Metrics shutdown failed")
	}
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// workspace resolves the workspace and project from flags, falling back to configuration.
func (a *app) workspace(workspaceID, projectID int64) (int64, int64, error) {
	if workspaceID == 0 {
		workspaceID = a.cfg.Workspace.ID
	}
	if projectID == 0 {
		projectID = a.cfg.Workspace.Project
	}
	if workspaceID == 0 {
		return 0, 0, fmt.Errorf("workspace id is required: pass --workspace or set %s", config.EnvVar("workspace.id"))
	}
	if projectID == 0 {
		return 0, 0, fmt.Errorf("project id is required: pass --project or set %s", config.EnvVar("workspace.project"))
	}
	return workspaceID, projectID, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addWorkspaceFlags(cmd *cobra.Command, workspaceID, projectID *int64) {
	cmd.Flags().Int64VarP(workspaceID, "workspace", "w", 0, "Workspace id (default from config)")
	cmd.Flags().Int64VarP(projectID, "project", "p", 0, "Project id (default from config)")
}
