package hub

import "time"

// Hub is a group of channels with a member list.
type Hub struct {
	ID           ID               `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Owner        ID               `json:"owner"`
	DefaultGroup ID               `json:"default_group"`
	Members      map[ID]HubMember `json:"members"`
	Channels     map[ID]Channel   `json:"channels"`
	Banned       []ID             `json:"banned"`
	Muted        []ID             `json:"muted"`
	Created      time.Time        `json:"created"`
}

// Channel is a named message stream inside a hub.
type Channel struct {
	ID          ID        `json:"id"`
	HubID       ID        `json:"hub_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Created     time.Time `json:"created"`
}

// Message is a chat message stored in a channel.
type Message struct {
	ID        ID        `json:"id"`
	HubID     ID        `json:"hub_id"`
	ChannelID ID        `json:"channel_id"`
	Sender    ID        `json:"sender"`
	Created   time.Time `json:"created"`
	Content   string    `json:"content"`
}

// HubMember describes a user's membership of a hub.
type HubMember struct {
	UserID             ID                                             `json:"user_id"`
	HubID              ID                                             `json:"hub_id"`
	Joined             time.Time                                      `json:"joined"`
	Groups             []ID                                           `json:"groups"`
	HubPermissions     map[HubPermission]PermissionSetting            `json:"hub_permissions"`
	ChannelPermissions map[ID]map[ChannelPermission]PermissionSetting `json:"channel_permissions"`
}

// MemberStatus is a user's relation to a hub.
type MemberStatus string

const (
	StatusMember   MemberStatus = "Member"
	StatusNotInHub MemberStatus = "NotInHub"
	StatusBanned   MemberStatus = "Banned"
)

// HubChanges is a partial hub update; nil fields are left untouched.
type HubChanges struct {
	Name         *string `json:"name,omitempty"`
	Description  *string `json:"description,omitempty"`
	DefaultGroup *ID     `json:"default_group,omitempty"`
}

// ChannelChanges is a partial channel update; nil fields are left untouched.
type ChannelChanges struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
