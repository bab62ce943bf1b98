package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/rest"
)

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// idArgs parses every positional argument as an id.
func idArgs(args []string) ([]hub.ID, error) {
	ids := make([]hub.ID, len(args))
	for i, raw := range args {
		id, err := hub.ParseID(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d", i+1)
		}
		ids[i] = id
	}
	return ids, nil
}

// apiCommand builds a subcommand that talks to the REST API.
func apiCommand(flags *globalFlags, use, short string, args cobra.PositionalArgs, run func(cmd *cobra.Command, c *rest.Client, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.restClient()
			if err != nil {
				return err
			}
			return run(cmd, c, args)
		},
	}
}

func newHubCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "hub", Short: "Manage hubs"}

	cmd.AddCommand(
		apiCommand(flags, "create NAME", "Create a hub and print its id", cobra.ExactArgs(1),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				id, err := c.HubCreate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			}),
		apiCommand(flags, "get HUB", "Print a hub", cobra.ExactArgs(1),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args)
				if err != nil {
					return err
				}
				h, err := c.HubGet(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), h)
			}),
		apiCommand(flags, "join HUB", "Join a hub", cobra.ExactArgs(1),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args)
				if err != nil {
					return err
				}
				return c.HubJoin(cmd.Context(), ids[0])
			}),
		apiCommand(flags, "leave HUB", "Leave a hub", cobra.ExactArgs(1),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args)
				if err != nil {
					return err
				}
				return c.HubLeave(cmd.Context(), ids[0])
			}),
		apiCommand(flags, "delete HUB", "Delete a hub", cobra.ExactArgs(1),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args)
				if err != nil {
					return err
				}
				return c.HubDelete(cmd.Context(), ids[0])
			}),
	)
	return cmd
}

func newChannelCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "channel", Short: "Manage channels"}

	cmd.AddCommand(
		apiCommand(flags, "create HUB NAME", "Create a channel and print its id", cobra.ExactArgs(2),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args[:1])
				if err != nil {
					return err
				}
				id, err := c.ChannelCreate(cmd.Context(), ids[0], args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			}),
		apiCommand(flags, "get HUB CHANNEL", "Print a channel", cobra.ExactArgs(2),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args)
				if err != nil {
					return err
				}
				ch, err := c.ChannelGet(cmd.Context(), ids[0], ids[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ch)
			}),
		apiCommand(flags, "delete HUB CHANNEL", "Delete a channel", cobra.ExactArgs(2),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args)
				if err != nil {
					return err
				}
				return c.ChannelDelete(cmd.Context(), ids[0], ids[1])
			}),
	)
	return cmd
}

func newMessageCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "message", Short: "Send and read messages over the REST API"}

	cmd.AddCommand(
		apiCommand(flags, "send HUB CHANNEL TEXT", "Post a message and print its id", cobra.ExactArgs(3),
			func(cmd *cobra.Command, c *rest.Client, args []string) error {
				ids, err := idArgs(args[:2])
				if err != nil {
					return err
				}
				id, err := c.MessageSend(cmd.Context(), ids[0], ids[1], args[2])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			}),
	)

	var limit int
	after := apiCommand(flags, "after HUB CHANNEL MESSAGE", "Print the messages posted after MESSAGE", cobra.ExactArgs(3),
		func(cmd *cobra.Command, c *rest.Client, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			msgs, err := c.MessagesAfter(cmd.Context(), ids[0], ids[1], ids[2], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		})
	after.Flags().IntVar(&limit, "max", 50, "maximum number of messages")
	cmd.AddCommand(after)
	return cmd
}
