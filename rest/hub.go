package rest

import (
	"context"
	"net/http"

	"github.com/Tyrowin/hubchat/hub"
)

// HubCreate creates a hub owned by the caller and returns its id.
func (c *Client) HubCreate(ctx context.Context, name string) (hub.ID, error) {
	return call[hub.ID](ctx, c, textBody(http.MethodPost, "/hub", name))
}

func (c *Client) HubGet(ctx context.Context, hubID hub.ID) (hub.Hub, error) {
	return call[hub.Hub](ctx, c, request{method: http.MethodGet, path: pathf("hub", hubID.String())})
}

// HubUpdate applies the non-nil fields of changes and returns the fields
// the server actually changed.
func (c *Client) HubUpdate(ctx context.Context, hubID hub.ID, changes hub.HubChanges) (hub.HubChanges, error) {
	req, err := jsonBody(http.MethodPost, pathf("hub", hubID.String()), changes)
	if err != nil {
		return hub.HubChanges{}, err
	}
	return call[hub.HubChanges](ctx, c, req)
}

func (c *Client) HubDelete(ctx context.Context, hubID hub.ID) error {
	return callNoResult(ctx, c, request{method: http.MethodDelete, path: pathf("hub", hubID.String())})
}

func (c *Client) HubJoin(ctx context.Context, hubID hub.ID) error {
	return callNoResult(ctx, c, request{method: http.MethodPost, path: pathf("hub", hubID.String(), "join")})
}

func (c *Client) HubLeave(ctx context.Context, hubID hub.ID) error {
	return callNoResult(ctx, c, request{method: http.MethodPost, path: pathf("hub", hubID.String(), "leave")})
}
