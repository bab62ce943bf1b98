package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/hubchat/config"
	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

func connect(ctx context.Context, cfg *config.ClientConfig) (*ws.Session, error) {
	api, err := cfg.APIURL()
	if err != nil {
		return nil, err
	}
	return ws.Connect(ctx, cfg.UserID, api, ws.WithLogger(log.Logger))
}

// printer writes every push event as one line and stops once its user is
// no longer in the hub.
type printer struct {
	out  io.Writer
	self hub.ID
}

func (p printer) HandleEvent(_ context.Context, _ ws.Commander, ev ws.Event) ws.Decision[hub.ID] {
	switch ev := ev.(type) {
	case ws.ChatMessage:
		fmt.Fprintf(p.out, "[%s] %s: %s\n", ev.ChannelID, ev.SenderID, ev.Message)
	case ws.UserStartedTyping:
		fmt.Fprintf(p.out, "[%s] %s is typing\n", ev.ChannelID, ev.UserID)
	case ws.UserStoppedTyping:
		fmt.Fprintf(p.out, "[%s] %s stopped typing\n", ev.ChannelID, ev.UserID)
	case ws.HubUpdated:
		if ev.Update.Subject == hub.Nil {
			fmt.Fprintf(p.out, "hub %s: %s\n", ev.HubID, ev.Update.Kind)
		} else {
			fmt.Fprintf(p.out, "hub %s: %s %s\n", ev.HubID, ev.Update.Kind, ev.Update.Subject)
		}
		if ev.Update.Kind == ws.UpdateHubDeleted {
			return ws.Stop(ev.HubID)
		}
		if (ev.Update.Kind == ws.UpdateUserLeft || ev.Update.Kind == ws.UpdateUserBanned) && ev.Update.Subject == p.self {
			return ws.Stop(ev.HubID)
		}
	}
	return ws.Continue[hub.ID]()
}

func newListenCommand(flags *globalFlags) *cobra.Command {
	var (
		hubFlag      string
		channelFlags []string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to a hub and print its events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			hubID, err := hub.ParseID(hubFlag)
			if err != nil {
				return errors.Wrap(err, "--hub")
			}
			channels := make([]hub.ID, 0, len(channelFlags))
			for _, raw := range channelFlags {
				id, err := hub.ParseID(raw)
				if err != nil {
					return errors.Wrap(err, "--channel")
				}
				channels = append(channels, id)
			}

			ctx := cmd.Context()
			sess, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				left, err := ws.Run[hub.ID](gctx, sess, printer{out: cmd.OutOrStdout(), self: cfg.UserID})
				if err != nil {
					return err
				}
				log.Info().Str("hub_id", left.String()).Msg("no longer in hub")
				return nil
			})
			g.Go(func() error {
				if err := sess.WaitRunning(gctx); err != nil {
					return nil
				}
				// Once gctx is done the loop's own result is the one to report.
				err := sess.SubscribeHub(gctx, hubID)
				for _, ch := range channels {
					if err != nil {
						break
					}
					err = sess.SubscribeChannel(gctx, hubID, ch)
				}
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				log.Info().Str("hub_id", hubID.String()).Int("channels", len(channels)).Msg("listening")
				return nil
			})

			err = g.Wait()
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&hubFlag, "hub", "", "hub id")
	cmd.Flags().StringArrayVar(&channelFlags, "channel", nil, "channel id to subscribe to (repeatable)")
	_ = cmd.MarkFlagRequired("hub")
	return cmd
}

func newSayCommand(flags *globalFlags) *cobra.Command {
	var hubFlag, channelFlag string

	cmd := &cobra.Command{
		Use:   "say TEXT",
		Short: "Send a chat message over the streaming connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			hubID, err := hub.ParseID(hubFlag)
			if err != nil {
				return errors.Wrap(err, "--hub")
			}
			channelID, err := hub.ParseID(channelFlag)
			if err != nil {
				return errors.Wrap(err, "--channel")
			}

			ctx := cmd.Context()
			sess, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			// A running loop makes the send wait for the server's answer.
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				_, err := ws.Run[struct{}](gctx, sess, ws.HandlerFunc[struct{}](
					func(context.Context, ws.Commander, ws.Event) ws.Decision[struct{}] {
						return ws.Continue[struct{}]()
					}))
				if errors.Is(err, ws.ErrSessionClosed) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				defer sess.Close()
				if err := sess.WaitRunning(gctx); err != nil {
					return err
				}
				return sess.SendMessage(gctx, hubID, channelID, args[0])
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&hubFlag, "hub", "", "hub id")
	cmd.Flags().StringVar(&channelFlag, "channel", "", "channel id")
	_ = cmd.MarkFlagRequired("hub")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}
