package hub

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// HubPermission names a hub-wide capability.
type HubPermission string

const (
	HubAll            HubPermission = "All"
	HubReadChannels   HubPermission = "ReadChannels"
	HubWriteChannels  HubPermission = "WriteChannels"
	HubAdministrate   HubPermission = "Administrate"
	HubManageChannels HubPermission = "ManageChannels"
	HubMute           HubPermission = "Mute"
	HubUnmute         HubPermission = "Unmute"
	HubKick           HubPermission = "Kick"
	HubBan            HubPermission = "Ban"
	HubUnban          HubPermission = "Unban"
)

// ChannelPermission names a per-channel capability.
type ChannelPermission string

const (
	ChannelAll    ChannelPermission = "All"
	ChannelRead   ChannelPermission = "Read"
	ChannelWrite  ChannelPermission = "Write"
	ChannelManage ChannelPermission = "Manage"
)

// PermissionSetting is a tri-state grant. On the wire it is true, false
// or null (inherit from groups).
type PermissionSetting int8

const (
	PermissionInherit PermissionSetting = iota
	PermissionAllow
	PermissionDeny
)

func (p PermissionSetting) String() string {
	switch p {
	case PermissionAllow:
		return "allow"
	case PermissionDeny:
		return "deny"
	default:
		return "inherit"
	}
}

func (p PermissionSetting) MarshalJSON() ([]byte, error) {
	switch p {
	case PermissionAllow:
		return []byte("true"), nil
	case PermissionDeny:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (p *PermissionSetting) UnmarshalJSON(data []byte) error {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode permission setting")
	}
	switch {
	case v == nil:
		*p = PermissionInherit
	case *v:
		*p = PermissionAllow
	default:
		*p = PermissionDeny
	}
	return nil
}
