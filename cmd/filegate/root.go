package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"filegate/gateway/internal/appdirs"
	"filegate/gateway/internal/envfile"
	"filegate/gateway/internal/envutil"
	"filegate/gateway/internal/gateway"
	"filegate/gateway/internal/logging"
	"filegate/gateway/internal/settings"
)

var (
	// Global flags
	cfgFile         string
	projectsDir     string
	requireApproval bool
	output          string
	verbose         bool
)

// app holds what the subcommands share once flags are parsed.
type app struct {
	cfg        *settings.Settings
	configPath string
	gw         *gateway.Gateway
	logger     *slog.Logger
	dataDir    string
	closers    []func() error
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "filegate",
	Short: "Project-scoped file gateway for coding agents",
	Long: `filegate sits between a coding agent and per-project directories.

The agent reads from read-only roots and writes into a single write root.
With approval on, writes land in a pending tree and reach the final tree
only when promoted.

Commands:
  serve      Serve the gateway over HTTP or stdio JSON-RPC
  projects   List projects
  ls         List a directory inside a project
  search     Search file names across a project's roots
  cat        Preview a file
  staged     Print a staged file
  diff       Diff a staged file against its destination
  promote    Copy a staged file into the final tree
  discard    Delete a staged file
  mentions   Resolve @mentions in text
  ask        Run the agent against a project
  config     Show or change persisted settings`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.close()
		}
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectsDir, "projects-dir", "", "Directory holding one folder per project")
	rootCmd.PersistentFlags().BoolVar(&requireApproval, "require-approval", true, "Stage agent writes until promoted")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "auto", "Output format (json, text, auto: text on a terminal)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging on stderr")
}

// newApp resolves settings in order: config file, environment, then flags.
func newApp(cmd *cobra.Command) (*app, error) {
	switch output {
	case "auto":
		output = "json"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			output = "text"
		}
	case "json", "text":
	default:
		return nil, fmt.Errorf("unknown output format %q", output)
	}
	envResult := envfile.Load()
	dataDir, err := appdirs.DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if !envResult.Loaded && envResult.Err == nil {
		envResult = envfile.Load(dataDir)
	}

	logSetup, logErr := logging.NewFileLogger(dataDir, envutil.Bool("FILEGATE_DEBUG"))
	logger := logging.Tee(logging.NewStderrLogger(verbose), logSetup.Logger).With("component", "gateway")
	a := &app{logger: logger, dataDir: dataDir}
	if logSetup.Close != nil {
		a.closers = append(a.closers, logSetup.Close)
	}
	if logSetup.Enabled {
		logger.Info("gateway.logging_enabled", "path", logSetup.Path)
	}
	if logErr != nil {
		logger.Warn("gateway.log_setup_failed", "error", logErr.Error())
	}
	if envResult.Loaded {
		logger.Debug("gateway.env_loaded", "path", envResult.Path, "keys", envResult.Keys)
	}
	if envResult.Err != nil {
		logger.Warn("gateway.env_load_failed", "path", envResult.Path, "error", envResult.Err.Error())
	}

	path := strings.TrimSpace(cfgFile)
	if path == "" {
		path = appdirs.ConfigPath(dataDir)
	}
	cfg, err := settings.NewStore(path).Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings.ApplyEnv(cfg)
	flags := cmd.Flags()
	if flags.Changed("projects-dir") {
		cfg.ProjectsDir = projectsDir
	}
	if flags.Changed("require-approval") {
		cfg.SetRequireApproval(requireApproval)
	}
	if strings.TrimSpace(cfg.ProjectsDir) == "" {
		cfg.ProjectsDir = appdirs.ProjectsDir(dataDir)
	}
	logger.Debug("gateway.settings", "config", path, "projects_dir", cfg.ProjectsDir, "require_approval", cfg.ApprovalRequired())

	a.cfg = cfg
	a.configPath = path
	a.gw = gateway.New(cfg, gateway.WithLogger(logger))
	return a, nil
}

func (a *app) close() {
	for _, closer := range a.closers {
		_ = closer()
	}
}
