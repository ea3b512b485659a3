package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"livemeet/internal/config"
	"livemeet/internal/logging"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "livemeet",
	Short: "Live meeting transcription with an AI participant",
	Long: `livemeet captures the microphone, streams it to Deepgram for live
transcription and lets a Gemini Live model answer when it is addressed.

Configuration is read from ~/.config/livemeet/config.yml (or --config) and
environment variables such as DEEPGRAM_API_KEY and GEMINI_API_KEY.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.config/livemeet/config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(transcriptCmd)
}

func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
