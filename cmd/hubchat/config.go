package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/hubchat/config"
	"github.com/Tyrowin/hubchat/hub"
)

func newConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and create the client config"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file for a new or given user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := flags.path()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Errorf("config %q already exists, use --force to overwrite", path)
			}

			cfg := config.New()
			if flags.server != "" {
				cfg.ServerURL = flags.server
			}
			cfg.UserID = hub.NewID()
			if flags.user != "" {
				if cfg.UserID, err = hub.ParseID(flags.user); err != nil {
					return errors.Wrap(err, "--user")
				}
			}
			// The development server accepts the user id as bearer token.
			cfg.AuthToken = cfg.UserID.String()
			if flags.token != "" {
				cfg.AuthToken = flags.token
			}
			if _, err := cfg.APIURL(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for user %s\n", path, cfg.UserID)
			return err
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.AuthToken != "" {
				shown.AuthToken = "REDACTED"
			}
			return printJSON(cmd.OutOrStdout(), shown)
		},
	}

	cmd.AddCommand(initCmd, show)
	return cmd
}
