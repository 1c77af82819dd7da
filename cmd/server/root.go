package main

import (
	"github.com/npezzotti/go-supportchat/internal/config"
	"github.com/spf13/cobra"
)

var (
	v       = config.NewViper()
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "supportchat",
	Short:         "Runs the support chat relay server",
	Long:          "Serves the websocket chat between site visitors and administrators, relaying messages to web push and an optional Telegram operator chat.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"path to a YAML or JSON config file")

	flags := rootCmd.Flags()
	flags.String("addr", "", "server address")
	flags.String("dsn", "", "postgres connection URL")
	flags.String("store", "", "room store backend: postgres or memory")
	flags.String("signing-key", "", "base64 encoded signing key")
	flags.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	bind := map[string]string{
		"addr":            "addr",
		"dsn":             "dsn",
		"store":           "store",
		"signing_key":     "signing-key",
		"allowed_origins": "allowed-origins",
		"log_level":       "log-level",
	}
	for key, flag := range bind {
		v.BindPFlag(key, flags.Lookup(flag))
	}
}
