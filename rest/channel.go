package rest

import (
	"context"
	"net/http"

	"github.com/Tyrowin/hubchat/hub"
)

func (c *Client) ChannelGet(ctx context.Context, hubID, channelID hub.ID) (hub.Channel, error) {
	return call[hub.Channel](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("channel", hubID.String(), channelID.String()),
	})
}

// ChannelCreate creates a channel in hubID and returns its id.
func (c *Client) ChannelCreate(ctx context.Context, hubID hub.ID, name string) (hub.ID, error) {
	return call[hub.ID](ctx, c, textBody(http.MethodPost, pathf("channel", hubID.String()), name))
}

func (c *Client) ChannelUpdate(ctx context.Context, hubID, channelID hub.ID, changes hub.ChannelChanges) (hub.ChannelChanges, error) {
	req, err := jsonBody(http.MethodPut, pathf("channel", hubID.String(), channelID.String()), changes)
	if err != nil {
		return hub.ChannelChanges{}, err
	}
	return call[hub.ChannelChanges](ctx, c, req)
}

func (c *Client) ChannelDelete(ctx context.Context, hubID, channelID hub.ID) error {
	return callNoResult(ctx, c, request{
		method: http.MethodDelete,
		path:   pathf("channel", hubID.String(), channelID.String()),
	})
}
