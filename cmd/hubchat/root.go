package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/hubchat/config"
	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/rest"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	server     string
	user       string
	token      string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "hubchat",
		Short:         "Chat hub client and local development server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return setupLogging(flags.logLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is the user config dir)")
	pf.StringVar(&flags.server, "server", "", "API endpoint, e.g. http://localhost:8080/api")
	pf.StringVar(&flags.user, "user", "", "user id to act as")
	pf.StringVar(&flags.token, "token", "", "auth token")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(),
		newListenCommand(flags),
		newSayCommand(flags),
		newHubCommand(flags),
		newChannelCommand(flags),
		newMessageCommand(flags),
		newConfigCommand(flags),
	)
	return root
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

func (f *globalFlags) path() (string, error) {
	if f.configPath != "" {
		return f.configPath, nil
	}
	return config.DefaultPath()
}

// load reads the config file, overlays the environment and then the
// command line flags.
func (f *globalFlags) load() (*config.ClientConfig, error) {
	path, err := f.path()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromEnv(path)
	if err != nil {
		return nil, err
	}
	if f.server != "" {
		cfg.ServerURL = f.server
	}
	if f.user != "" {
		id, err := hub.ParseID(f.user)
		if err != nil {
			return nil, errors.Wrap(err, "--user")
		}
		cfg.UserID = id
	}
	if f.token != "" {
		cfg.AuthToken = f.token
	}
	if err := cfg.Validate(time.Now()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *globalFlags) restClient() (*rest.Client, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	return rest.FromConfig(cfg, rest.WithLogger(log.Logger))
}
