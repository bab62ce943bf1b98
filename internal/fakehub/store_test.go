package fakehub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

// tickingClock advances one second on every read so message timestamps
// are distinct.
type tickingClock struct{ t time.Time }

func (c *tickingClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*store, hub.ID, hub.ID, hub.ID) {
	t.Helper()
	clock := &tickingClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := newStore(clock.now)
	owner := hub.NewID()
	hubID, err := s.createHub(owner, "general")
	require.NoError(t, err)
	channelID, err := s.createChannel(owner, hubID, "lobby")
	require.NoError(t, err)
	return s, owner, hubID, channelID
}

func TestStoreCreateHubValidatesName(t *testing.T) {
	s := newStore(nil)
	_, err := s.createHub(hub.NewID(), "   ")
	assert.Equal(t, hub.ErrInvalidName, err)

	long := make([]rune, maxNameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.createHub(hub.NewID(), string(long))
	assert.Equal(t, hub.ErrInvalidName, err)
}

func TestStoreMembership(t *testing.T) {
	s, owner, hubID, _ := newTestStore(t)
	user := hub.NewID()

	_, err := s.getHub(user, hubID)
	assert.Equal(t, hub.ErrNotInHub, err)
	_, err = s.getHub(user, hub.NewID())
	assert.Equal(t, hub.ErrHubNotFound, err)

	require.NoError(t, s.joinHub(user, hubID))
	assert.Equal(t, hub.ErrAlreadyInHub, s.joinHub(user, hubID))

	h, err := s.getHub(user, hubID)
	require.NoError(t, err)
	assert.Equal(t, owner, h.Owner)
	assert.Len(t, h.Members, 2)
	assert.Len(t, h.Channels, 1)

	status, err := s.memberStatus(owner, hubID, user)
	require.NoError(t, err)
	assert.Equal(t, hub.StatusMember, status)

	require.NoError(t, s.leaveHub(user, hubID))
	status, err = s.memberStatus(owner, hubID, user)
	require.NoError(t, err)
	assert.Equal(t, hub.StatusNotInHub, status)
}

func TestStoreGetHubReturnsCopy(t *testing.T) {
	s, owner, hubID, _ := newTestStore(t)
	h, err := s.getHub(owner, hubID)
	require.NoError(t, err)
	h.Members[owner].HubPermissions[hub.HubAll] = hub.PermissionDeny

	again, err := s.getHub(owner, hubID)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionAllow, again.Members[owner].HubPermissions[hub.HubAll])
}

func TestStoreUpdateHubReportsAppliedChanges(t *testing.T) {
	s, owner, hubID, _ := newTestStore(t)
	same, renamed, desc := "general", "random", "things"

	applied, err := s.updateHub(owner, hubID, hub.HubChanges{Name: &same, Description: &desc})
	require.NoError(t, err)
	assert.Nil(t, applied.Name)
	require.NotNil(t, applied.Description)
	assert.Equal(t, desc, *applied.Description)

	applied, err = s.updateHub(owner, hubID, hub.HubChanges{Name: &renamed})
	require.NoError(t, err)
	require.NotNil(t, applied.Name)
	assert.Equal(t, renamed, *applied.Name)

	member := hub.NewID()
	require.NoError(t, s.joinHub(member, hubID))
	_, err = s.updateHub(member, hubID, hub.HubChanges{Name: &same})
	assert.Equal(t, hub.ErrNoPermission, err)
}

func TestStoreDeleteHubOwnerOnly(t *testing.T) {
	s, owner, hubID, _ := newTestStore(t)
	member := hub.NewID()
	require.NoError(t, s.joinHub(member, hubID))

	assert.Equal(t, hub.ErrNoPermission, s.deleteHub(member, hubID))
	require.NoError(t, s.deleteHub(owner, hubID))
	_, err := s.getHub(owner, hubID)
	assert.Equal(t, hub.ErrHubNotFound, err)
}

func TestStoreChannelsRequireManagePermission(t *testing.T) {
	s, owner, hubID, channelID := newTestStore(t)
	member := hub.NewID()
	require.NoError(t, s.joinHub(member, hubID))

	_, err := s.createChannel(member, hubID, "mine")
	assert.Equal(t, hub.ErrNoPermission, err)

	require.NoError(t, s.setHubPermission(owner, hubID, member, hub.HubManageChannels, hub.PermissionAllow))
	id, err := s.createChannel(member, hubID, "mine")
	require.NoError(t, err)

	ch, err := s.getChannel(member, hubID, id)
	require.NoError(t, err)
	assert.Equal(t, "mine", ch.Name)

	require.NoError(t, s.deleteChannel(member, hubID, channelID))
	_, err = s.getChannel(member, hubID, channelID)
	assert.Equal(t, hub.ErrChannelNotFound, err)
}

func TestStoreSendMessage(t *testing.T) {
	s, owner, hubID, channelID := newTestStore(t)

	msg, err := s.sendMessage(owner, hubID, channelID, "hello")
	require.NoError(t, err)
	assert.Equal(t, owner, msg.Sender)
	assert.Equal(t, "hello", msg.Content)

	got, err := s.getMessage(owner, hubID, channelID, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	_, err = s.sendMessage(owner, hubID, channelID, " ")
	assert.Equal(t, hub.ErrInvalidText, err)
	_, err = s.sendMessage(owner, hubID, channelID, string(make([]byte, maxMessageLength+1)))
	assert.Equal(t, hub.ErrTooBig, err)
	_, err = s.sendMessage(owner, hubID, hub.NewID(), "hello")
	assert.Equal(t, hub.ErrChannelNotFound, err)
	_, err = s.getMessage(owner, hubID, channelID, hub.NewID())
	assert.Equal(t, hub.ErrMessageNotFound, err)
}

func TestStoreMessageHistory(t *testing.T) {
	s, owner, hubID, channelID := newTestStore(t)
	var sent []hub.Message
	for _, text := range []string{"one", "two", "three", "four"} {
		msg, err := s.sendMessage(owner, hubID, channelID, text)
		require.NoError(t, err)
		sent = append(sent, msg)
	}

	after, err := s.messagesAfter(owner, hubID, channelID, sent[0].ID, 2)
	require.NoError(t, err)
	assert.Equal(t, sent[1:3], after)

	_, err = s.messagesAfter(owner, hubID, channelID, hub.NewID(), 2)
	assert.Equal(t, hub.ErrMessageNotFound, err)

	period, err := s.messagesInPeriod(owner, hubID, channelID, sent[1].Created, sent[3].Created, 10, false)
	require.NoError(t, err)
	assert.Equal(t, sent[1:], period)

	period, err = s.messagesInPeriod(owner, hubID, channelID, sent[0].Created, sent[3].Created, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []hub.Message{sent[3], sent[2]}, period)

	empty, err := s.messagesInPeriod(owner, hubID, channelID, sent[3].Created.Add(time.Hour), sent[3].Created.Add(2*time.Hour), 10, false)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = s.messagesInPeriod(owner, hubID, channelID, sent[3].Created, sent[0].Created, 10, false)
	assert.Equal(t, hub.ErrBadRequest, err)
}

func TestStoreModeration(t *testing.T) {
	s, owner, hubID, channelID := newTestStore(t)
	member := hub.NewID()
	require.NoError(t, s.joinHub(member, hubID))

	_, err := s.moderate(member, hubID, owner, "kick")
	assert.Equal(t, hub.ErrNoPermission, err)
	_, err = s.moderate(owner, hubID, member, "dance")
	assert.Equal(t, hub.ErrBadRequest, err)

	update, err := s.moderate(owner, hubID, member, "mute")
	require.NoError(t, err)
	assert.Equal(t, ws.HubUpdate{Kind: ws.UpdateUserMuted, Subject: member}, update)
	_, err = s.sendMessage(member, hubID, channelID, "hi")
	assert.Equal(t, hub.ErrMuted, err)

	_, err = s.moderate(owner, hubID, member, "unmute")
	require.NoError(t, err)
	_, err = s.sendMessage(member, hubID, channelID, "hi")
	require.NoError(t, err)

	update, err = s.moderate(owner, hubID, member, "ban")
	require.NoError(t, err)
	assert.Equal(t, ws.UpdateUserBanned, update.Kind)
	assert.Equal(t, hub.ErrBanned, s.joinHub(member, hubID))
	status, err := s.memberStatus(owner, hubID, member)
	require.NoError(t, err)
	assert.Equal(t, hub.StatusBanned, status)

	_, err = s.moderate(owner, hubID, member, "unban")
	require.NoError(t, err)
	require.NoError(t, s.joinHub(member, hubID))

	update, err = s.moderate(owner, hubID, member, "kick")
	require.NoError(t, err)
	assert.Equal(t, ws.UserLeft(member), update)
	assert.Equal(t, hub.ErrNotInHub, s.requireMember(member, hubID))
}

func TestStorePermissions(t *testing.T) {
	s, owner, hubID, channelID := newTestStore(t)
	member := hub.NewID()
	require.NoError(t, s.joinHub(member, hubID))

	setting, err := s.hubPermission(owner, hubID, member, hub.HubKick)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionInherit, setting)

	require.NoError(t, s.setHubPermission(owner, hubID, member, hub.HubKick, hub.PermissionDeny))
	setting, err = s.hubPermission(owner, hubID, member, hub.HubKick)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionDeny, setting)

	require.NoError(t, s.setHubPermission(owner, hubID, member, hub.HubKick, hub.PermissionInherit))
	m, err := s.getMember(owner, hubID, member)
	require.NoError(t, err)
	assert.NotContains(t, m.HubPermissions, hub.HubKick)

	require.NoError(t, s.setChannelPermission(owner, hubID, member, channelID, hub.ChannelWrite, hub.PermissionAllow))
	setting, err = s.channelPermission(owner, hubID, member, channelID, hub.ChannelWrite)
	require.NoError(t, err)
	assert.Equal(t, hub.PermissionAllow, setting)

	assert.Equal(t, hub.ErrNoPermission, s.setHubPermission(member, hubID, owner, hub.HubKick, hub.PermissionDeny))
	_, err = s.channelPermission(owner, hubID, member, hub.NewID(), hub.ChannelWrite)
	assert.Equal(t, hub.ErrChannelNotFound, err)
}
