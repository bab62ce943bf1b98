package rest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/internal/fakehub/fakehubtest"
)

func TestHubLifecycle(t *testing.T) {
	h := fakehubtest.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), fakehubtest.Timeout)
	defer cancel()

	owner, member := hub.NewID(), hub.NewID()
	oc, mc := h.Client(owner), h.Client(member)

	hubID, err := oc.HubCreate(ctx, "general")
	require.NoError(t, err)

	got, err := oc.HubGet(ctx, hubID)
	require.NoError(t, err)
	assert.Equal(t, "general", got.Name)
	assert.Equal(t, owner, got.Owner)
	assert.Contains(t, got.Members, owner)

	_, err = mc.HubGet(ctx, hubID)
	assert.ErrorIs(t, err, hub.ErrNotInHub)

	require.NoError(t, mc.HubJoin(ctx, hubID))
	assert.ErrorIs(t, mc.HubJoin(ctx, hubID), hub.ErrAlreadyInHub)

	name := "renamed"
	applied, err := oc.HubUpdate(ctx, hubID, hub.HubChanges{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, applied.Name)
	assert.Equal(t, name, *applied.Name)

	_, err = mc.HubUpdate(ctx, hubID, hub.HubChanges{Name: &name})
	assert.ErrorIs(t, err, hub.ErrNoPermission)
	assert.ErrorIs(t, mc.HubDelete(ctx, hubID), hub.ErrNoPermission)

	require.NoError(t, mc.HubLeave(ctx, hubID))
	require.NoError(t, oc.HubDelete(ctx, hubID))
	_, err = oc.HubGet(ctx, hubID)
	assert.ErrorIs(t, err, hub.ErrHubNotFound)
}

func TestChannelsAndMessages(t *testing.T) {
	h := fakehubtest.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), fakehubtest.Timeout)
	defer cancel()

	owner := hub.NewID()
	c := h.Client(owner)
	hubID, channelID := h.Seed(t, owner)

	ch, err := c.ChannelGet(ctx, hubID, channelID)
	require.NoError(t, err)
	assert.Equal(t, "general", ch.Name)

	desc := "talk here"
	applied, err := c.ChannelUpdate(ctx, hubID, channelID, hub.ChannelChanges{Description: &desc})
	require.NoError(t, err)
	assert.Nil(t, applied.Name)
	require.NotNil(t, applied.Description)

	start := time.Now().Add(-time.Second)
	var ids []hub.ID
	for _, text := range []string{"one", "two", "three"} {
		id, err := c.MessageSend(ctx, hubID, channelID, text)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	msg, err := c.MessageGet(ctx, hubID, channelID, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "two", msg.Content)
	assert.Equal(t, owner, msg.Sender)

	after, err := c.MessagesAfter(ctx, hubID, channelID, ids[0], 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, ids[1], after[0].ID)
	assert.Equal(t, ids[2], after[1].ID)

	period, err := c.MessagesInPeriod(ctx, hubID, channelID, start, time.Now().Add(time.Second), 10, false)
	require.NoError(t, err)
	assert.Len(t, period, 3)

	empty, err := c.MessagesInPeriod(ctx, hubID, channelID, start.Add(-time.Hour), start.Add(-time.Minute), 10, false)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = c.MessageSend(ctx, hubID, channelID, "   ")
	assert.ErrorIs(t, err, hub.ErrInvalidText)

	require.NoError(t, c.ChannelDelete(ctx, hubID, channelID))
	_, err = c.ChannelGet(ctx, hubID, channelID)
	assert.ErrorIs(t, err, hub.ErrChannelNotFound)
}

func TestMemberModeration(t *testing.T) {
	h := fakehubtest.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), fakehubtest.Timeout)
	defer cancel()

	owner, member := hub.NewID(), hub.NewID()
	oc, mc := h.Client(owner), h.Client(member)
	hubID, channelID := h.Seed(t, owner)
	h.Join(t, member, hubID)

	status, err := oc.MemberStatus(ctx, hubID, member)
	require.NoError(t, err)
	assert.Equal(t, hub.StatusMember, status)

	m, err := oc.MemberGet(ctx, hubID, member)
	require.NoError(t, err)
	assert.Equal(t, member, m.UserID)

	require.NoError(t, oc.MemberMute(ctx, hubID, member))
	_, err = mc.MessageSend(ctx, hubID, channelID, "hi")
	assert.ErrorIs(t, err, hub.ErrMuted)
	require.NoError(t, oc.MemberUnmute(ctx, hubID, member))

	assert.ErrorIs(t, mc.MemberKick(ctx, hubID, owner), hub.ErrNoPermission)

	require.NoError(t, oc.MemberBan(ctx, hubID, member))
	status, err = oc.MemberStatus(ctx, hubID, member)
	require.NoError(t, err)
	assert.Equal(t, hub.StatusBanned, status)
	assert.ErrorIs(t, mc.HubJoin(ctx, hubID), hub.ErrBanned)

	require.NoError(t, oc.MemberUnban(ctx, hubID, member))
	require.NoError(t, mc.HubJoin(ctx, hubID))
	require.NoError(t, oc.MemberKick(ctx, hubID, member))
	status, err = oc.MemberStatus(ctx, hubID, member)
	require.NoError(t, err)
	assert.Equal(t, hub.StatusNotInHub, status)
}

func TestMemberPermissions(t *testing.T) {
	h := fakehubtest.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), fakehubtest.Timeout)
	defer cancel()

	owner, member := hub.NewID(), hub.NewID()
	oc := h.Client(owner)
	hubID, channelID := h.Seed(t, owner)
	h.Join(t, member, hubID)

	setting, err := oc.MemberGetHubPermission(ctx, hubID, member, hub.HubManageChannels)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionInherit, setting)

	require.NoError(t, oc.MemberSetHubPermission(ctx, hubID, member, hub.HubManageChannels, hub.PermissionAllow))
	setting, err = oc.MemberGetHubPermission(ctx, hubID, member, hub.HubManageChannels)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionAllow, setting)

	_, err = h.Client(member).ChannelCreate(ctx, hubID, "members-only")
	require.NoError(t, err)

	require.NoError(t, oc.MemberSetChannelPermission(ctx, hubID, member, channelID, hub.ChannelWrite, hub.PermissionDeny))
	setting, err = oc.MemberGetChannelPermission(ctx, hubID, member, channelID, hub.ChannelWrite)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionDeny, setting)
}

func TestUnauthenticatedRequest(t *testing.T) {
	h := fakehubtest.Start(t)
	_, err := h.Client(hub.Nil).HubCreate(context.Background(), "x")
	assert.ErrorIs(t, err, hub.ErrNotAuthenticated)
}
