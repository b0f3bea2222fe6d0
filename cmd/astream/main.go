package main

import (
	"fmt"
	"os"
	"time"

	"agentstream/internal/auth"
	"agentstream/internal/config"
	"agentstream/internal/logging"
	"agentstream/internal/transport"
	"agentstream/internal/trigger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	baseURL    string
	token      string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "astream",
	Short: "astream - streaming client for line-oriented agent backends",
	Long: `astream talks to agent backends that answer over a line-oriented
streaming protocol: a trigger request starts the work, and the answer arrives
as event/data frames over a websocket scoped to a session id.

The client reconnects with exponential backoff, understands boundary markers
that split an answer from its trailing evaluation, and can fan a list of
questions out as a batch with per-question isolation and retry.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Category log files under .astream/logs
		cwd, err := os.Getwd()
		if err != nil {
			cwd = "."
		}
		if err := logging.Initialize(cwd); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if err := logging.InitTranscript(); err != nil {
			logger.Warn("transcript logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseTranscript()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .astream/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Agent base URL (or set AGENTSTREAM_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (or set AGENTSTREAM_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolvedConfigPath is the config file the commands read and watch.
func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return ".astream/config.yaml"
}

// loadConfig loads the YAML config and layers the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.Agent.BaseURL = baseURL
	}
	if token != "" {
		cfg.Agent.Token = token
	}
	if cfg.Agent.Token == "" {
		// Fall back to credentials stored via `astream auth login`.
		stored, err := auth.NewStore(auth.DefaultPath()).Load()
		if err != nil {
			return nil, err
		}
		cfg.Agent.Token = stored.Token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// endpointsFor maps config onto the trigger package's endpoint description.
func endpointsFor(cfg *config.Config) trigger.Endpoints {
	return trigger.Endpoints{
		BaseURL:     cfg.Agent.BaseURL,
		TriggerPath: cfg.Agent.TriggerPath,
		StreamPath:  cfg.Agent.StreamPath,
	}
}

// authorizerFor picks bearer auth when a token is configured.
func authorizerFor(cfg *config.Config) trigger.Authorizer {
	if cfg.Agent.Token != "" {
		return trigger.TokenAuthorizer{Token: cfg.Agent.Token}
	}
	return trigger.NoAuth{}
}

// transportConfigFor maps config onto the transport's connection settings.
func transportConfigFor(cfg *config.Config, maxRetries int) transport.Config {
	tcfg := transport.DefaultConfig()
	tcfg.MaxRetries = maxRetries
	tcfg.BaseDelay = cfg.GetBaseDelay()
	tcfg.MaxDelay = cfg.GetMaxDelay()
	tcfg.BackoffMultiplier = cfg.Connection.BackoffMultiplier
	tcfg.PreserveDataLineBreaks = cfg.Connection.PreserveDataLineBreaks
	return tcfg
}
