package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "loom reconstructs conversation transcripts from streamed multi-agent runs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger(viper.GetString("log-level"))
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("server", "http://localhost:8000", "backend base URL")
	pf.String("user-id", "", "user id sent with every request")
	pf.String("team-id", "cirkelline", "top-level team id")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	cobra.CheckErr(viper.BindPFlags(pf))
	viper.SetEnvPrefix("LOOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newSessionsCommand())
	rootCmd.AddCommand(newReplayCommand())
}

func initLogger(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "unknown log level %q", level)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().Timestamp().Logger()
	return nil
}
