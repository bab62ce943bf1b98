package rest

import (
	"context"
	"net/http"

	"github.com/Tyrowin/hubchat/hub"
)

// MemberAction is a moderation action on a hub member.
type MemberAction string

const (
	ActionKick   MemberAction = "kick"
	ActionBan    MemberAction = "ban"
	ActionUnban  MemberAction = "unban"
	ActionMute   MemberAction = "mute"
	ActionUnmute MemberAction = "unmute"
)

// setPermission is the body of the permission PUT endpoints.
type setPermission struct {
	Setting hub.PermissionSetting `json:"setting"`
}

func (c *Client) MemberStatus(ctx context.Context, hubID, memberID hub.ID) (hub.MemberStatus, error) {
	return call[hub.MemberStatus](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("member", hubID.String(), memberID.String(), "status"),
	})
}

func (c *Client) MemberGet(ctx context.Context, hubID, memberID hub.ID) (hub.HubMember, error) {
	return call[hub.HubMember](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("member", hubID.String(), memberID.String()),
	})
}

func (c *Client) member(ctx context.Context, hubID, memberID hub.ID, action MemberAction) error {
	return callNoResult(ctx, c, request{
		method: http.MethodPost,
		path:   pathf("member", hubID.String(), memberID.String(), string(action)),
	})
}

func (c *Client) MemberKick(ctx context.Context, hubID, memberID hub.ID) error {
	return c.member(ctx, hubID, memberID, ActionKick)
}

func (c *Client) MemberBan(ctx context.Context, hubID, memberID hub.ID) error {
	return c.member(ctx, hubID, memberID, ActionBan)
}

func (c *Client) MemberUnban(ctx context.Context, hubID, memberID hub.ID) error {
	return c.member(ctx, hubID, memberID, ActionUnban)
}

func (c *Client) MemberMute(ctx context.Context, hubID, memberID hub.ID) error {
	return c.member(ctx, hubID, memberID, ActionMute)
}

func (c *Client) MemberUnmute(ctx context.Context, hubID, memberID hub.ID) error {
	return c.member(ctx, hubID, memberID, ActionUnmute)
}

func (c *Client) MemberGetHubPermission(ctx context.Context, hubID, memberID hub.ID, perm hub.HubPermission) (hub.PermissionSetting, error) {
	return call[hub.PermissionSetting](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("member", hubID.String(), memberID.String(), "hub_permission", string(perm)),
	})
}

func (c *Client) MemberSetHubPermission(ctx context.Context, hubID, memberID hub.ID, perm hub.HubPermission, setting hub.PermissionSetting) error {
	req, err := jsonBody(http.MethodPut,
		pathf("member", hubID.String(), memberID.String(), "hub_permission", string(perm)),
		setPermission{Setting: setting})
	if err != nil {
		return err
	}
	return callNoResult(ctx, c, req)
}

func (c *Client) MemberGetChannelPermission(ctx context.Context, hubID, memberID, channelID hub.ID, perm hub.ChannelPermission) (hub.PermissionSetting, error) {
	return call[hub.PermissionSetting](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("member", hubID.String(), memberID.String(), "channel_permission", channelID.String(), string(perm)),
	})
}

func (c *Client) MemberSetChannelPermission(ctx context.Context, hubID, memberID, channelID hub.ID, perm hub.ChannelPermission, setting hub.PermissionSetting) error {
	req, err := jsonBody(http.MethodPut,
		pathf("member", hubID.String(), memberID.String(), "channel_permission", channelID.String(), string(perm)),
		setPermission{Setting: setting})
	if err != nil {
		return err
	}
	return callNoResult(ctx, c, req)
}
