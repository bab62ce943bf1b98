package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/hubchat/internal/fakehub"
)

func newServeCommand() *cobra.Command {
	var (
		addr    string
		origins []string
		burst   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory hub for local development",
		Long: "Run an in-memory hub. Settings come from FAKEHUB_* environment variables " +
			"and are overridden by flags. Bearer tokens are user ids.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := fakehub.NewConfigFromEnv()
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("allowed-origins") {
				cfg.AllowedOrigins = origins
			}
			if cmd.Flags().Changed("rate-limit-burst") {
				cfg.RateLimit.Burst = burst
			}
			logger := log.Logger
			cfg.Logger = &logger
			cfg.Registerer = prometheus.DefaultRegisterer

			return fakehub.New(cfg).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringSliceVar(&origins, "allowed-origins", nil, `browser origins allowed to connect ("*" for any)`)
	cmd.Flags().IntVar(&burst, "rate-limit-burst", 20, "streaming commands allowed per refill interval")
	return cmd
}
