package fakehub

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

const (
	maxNameLength    = 64
	maxMessageLength = 2048
)

// hubState is one hub and its message history.
type hubState struct {
	info     hub.Hub
	messages map[hub.ID][]hub.Message // per channel, oldest first
}

// store keeps every hub in memory. Methods return hub.APIError values.
type store struct {
	mu   sync.RWMutex
	now  func() time.Time
	hubs map[hub.ID]*hubState
}

func newStore(now func() time.Time) *store {
	if now == nil {
		now = time.Now
	}
	return &store{now: now, hubs: make(map[hub.ID]*hubState)}
}

func validName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return hub.ErrInvalidName
	}
	return nil
}

func validText(text string) error {
	if strings.TrimSpace(text) == "" {
		return hub.ErrInvalidText
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return hub.ErrTooBig
	}
	return nil
}

// lookup returns the hub if user is a member of it. Callers hold mu.
func (s *store) lookup(user, hubID hub.ID) (*hubState, error) {
	h, ok := s.hubs[hubID]
	if !ok {
		return nil, hub.ErrHubNotFound
	}
	if _, member := h.info.Members[user]; !member {
		return nil, hub.ErrNotInHub
	}
	return h, nil
}

// can reports whether user holds perm in h. The owner holds everything.
func (h *hubState) can(user hub.ID, perm hub.HubPermission) bool {
	if h.info.Owner == user {
		return true
	}
	m, ok := h.info.Members[user]
	if !ok {
		return false
	}
	if m.HubPermissions[hub.HubAll] == hub.PermissionAllow || m.HubPermissions[hub.HubAdministrate] == hub.PermissionAllow {
		return true
	}
	return m.HubPermissions[perm] == hub.PermissionAllow
}

func isMember(h *hubState, user hub.ID) bool {
	_, ok := h.info.Members[user]
	return ok
}

func (h *hubState) muted(user hub.ID) bool {
	return slices.Contains(h.info.Muted, user)
}

func (h *hubState) banned(user hub.ID) bool {
	return slices.Contains(h.info.Banned, user)
}

func (s *store) newMember(user, hubID hub.ID) hub.HubMember {
	return hub.HubMember{
		UserID:             user,
		HubID:              hubID,
		Joined:             s.now().UTC(),
		HubPermissions:     map[hub.HubPermission]hub.PermissionSetting{},
		ChannelPermissions: map[hub.ID]map[hub.ChannelPermission]hub.PermissionSetting{},
	}
}

func (s *store) createHub(owner hub.ID, name string) (hub.ID, error) {
	if err := validName(name); err != nil {
		return hub.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := hub.NewID()
	owned := s.newMember(owner, id)
	owned.HubPermissions[hub.HubAll] = hub.PermissionAllow
	s.hubs[id] = &hubState{
		info: hub.Hub{
			ID:           id,
			Name:         strings.TrimSpace(name),
			Owner:        owner,
			DefaultGroup: hub.NewID(),
			Members:      map[hub.ID]hub.HubMember{owner: owned},
			Channels:     map[hub.ID]hub.Channel{},
			Created:      s.now().UTC(),
		},
		messages: make(map[hub.ID][]hub.Message),
	}
	return id, nil
}

func (s *store) getHub(user, hubID hub.ID) (hub.Hub, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.Hub{}, err
	}
	return cloneHub(h.info), nil
}

func cloneHub(in hub.Hub) hub.Hub {
	out := in
	out.Members = make(map[hub.ID]hub.HubMember, len(in.Members))
	for id, m := range in.Members {
		out.Members[id] = cloneMember(m)
	}
	out.Channels = make(map[hub.ID]hub.Channel, len(in.Channels))
	for id, c := range in.Channels {
		out.Channels[id] = c
	}
	out.Banned = slices.Clone(in.Banned)
	out.Muted = slices.Clone(in.Muted)
	return out
}

func cloneMember(in hub.HubMember) hub.HubMember {
	out := in
	out.Groups = slices.Clone(in.Groups)
	out.HubPermissions = make(map[hub.HubPermission]hub.PermissionSetting, len(in.HubPermissions))
	for p, v := range in.HubPermissions {
		out.HubPermissions[p] = v
	}
	out.ChannelPermissions = make(map[hub.ID]map[hub.ChannelPermission]hub.PermissionSetting, len(in.ChannelPermissions))
	for ch, perms := range in.ChannelPermissions {
		cp := make(map[hub.ChannelPermission]hub.PermissionSetting, len(perms))
		for p, v := range perms {
			cp[p] = v
		}
		out.ChannelPermissions[ch] = cp
	}
	return out
}

// updateHub applies changes and returns the fields that changed.
func (s *store) updateHub(user, hubID hub.ID, changes hub.HubChanges) (hub.HubChanges, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.HubChanges{}, err
	}
	if !h.can(user, hub.HubAdministrate) {
		return hub.HubChanges{}, hub.ErrNoPermission
	}

	var applied hub.HubChanges
	if changes.Name != nil {
		if err := validName(*changes.Name); err != nil {
			return hub.HubChanges{}, err
		}
		name := strings.TrimSpace(*changes.Name)
		if name != h.info.Name {
			h.info.Name = name
			applied.Name = &name
		}
	}
	if changes.Description != nil && *changes.Description != h.info.Description {
		desc := *changes.Description
		h.info.Description = desc
		applied.Description = &desc
	}
	if changes.DefaultGroup != nil && *changes.DefaultGroup != h.info.DefaultGroup {
		group := *changes.DefaultGroup
		h.info.DefaultGroup = group
		applied.DefaultGroup = &group
	}
	return applied, nil
}

func (s *store) deleteHub(user, hubID hub.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return err
	}
	if h.info.Owner != user {
		return hub.ErrNoPermission
	}
	delete(s.hubs, hubID)
	return nil
}

func (s *store) joinHub(user, hubID hub.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[hubID]
	if !ok {
		return hub.ErrHubNotFound
	}
	if h.banned(user) {
		return hub.ErrBanned
	}
	if _, member := h.info.Members[user]; member {
		return hub.ErrAlreadyInHub
	}
	h.info.Members[user] = s.newMember(user, hubID)
	return nil
}

func (s *store) leaveHub(user, hubID hub.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return err
	}
	delete(h.info.Members, user)
	return nil
}

// requireMember checks that user belongs to hubID.
func (s *store) requireMember(user, hubID hub.ID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.lookup(user, hubID)
	return err
}

// requireChannel checks that user belongs to hubID and the channel exists.
func (s *store) requireChannel(user, hubID, channelID hub.ID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return err
	}
	if _, ok := h.info.Channels[channelID]; !ok {
		return hub.ErrChannelNotFound
	}
	return nil
}

func (s *store) createChannel(user, hubID hub.ID, name string) (hub.ID, error) {
	if err := validName(name); err != nil {
		return hub.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.Nil, err
	}
	if !h.can(user, hub.HubManageChannels) {
		return hub.Nil, hub.ErrNoPermission
	}
	id := hub.NewID()
	h.info.Channels[id] = hub.Channel{
		ID:      id,
		HubID:   hubID,
		Name:    strings.TrimSpace(name),
		Created: s.now().UTC(),
	}
	return id, nil
}

func (s *store) getChannel(user, hubID, channelID hub.ID) (hub.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.Channel{}, err
	}
	ch, ok := h.info.Channels[channelID]
	if !ok {
		return hub.Channel{}, hub.ErrChannelNotFound
	}
	return ch, nil
}

func (s *store) updateChannel(user, hubID, channelID hub.ID, changes hub.ChannelChanges) (hub.ChannelChanges, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.ChannelChanges{}, err
	}
	ch, ok := h.info.Channels[channelID]
	if !ok {
		return hub.ChannelChanges{}, hub.ErrChannelNotFound
	}
	if !h.can(user, hub.HubManageChannels) {
		return hub.ChannelChanges{}, hub.ErrNoPermission
	}

	var applied hub.ChannelChanges
	if changes.Name != nil {
		if err := validName(*changes.Name); err != nil {
			return hub.ChannelChanges{}, err
		}
		name := strings.TrimSpace(*changes.Name)
		if name != ch.Name {
			ch.Name = name
			applied.Name = &name
		}
	}
	if changes.Description != nil && *changes.Description != ch.Description {
		desc := *changes.Description
		ch.Description = desc
		applied.Description = &desc
	}
	h.info.Channels[channelID] = ch
	return applied, nil
}

func (s *store) deleteChannel(user, hubID, channelID hub.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return err
	}
	if _, ok := h.info.Channels[channelID]; !ok {
		return hub.ErrChannelNotFound
	}
	if !h.can(user, hub.HubManageChannels) {
		return hub.ErrNoPermission
	}
	delete(h.info.Channels, channelID)
	delete(h.messages, channelID)
	return nil
}

func (s *store) sendMessage(user, hubID, channelID hub.ID, text string) (hub.Message, error) {
	if err := validText(text); err != nil {
		return hub.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.Message{}, err
	}
	if _, ok := h.info.Channels[channelID]; !ok {
		return hub.Message{}, hub.ErrChannelNotFound
	}
	if h.muted(user) {
		return hub.Message{}, hub.ErrMuted
	}
	msg := hub.Message{
		ID:        hub.NewID(),
		HubID:     hubID,
		ChannelID: channelID,
		Sender:    user,
		Created:   s.now().UTC(),
		Content:   text,
	}
	h.messages[channelID] = append(h.messages[channelID], msg)
	return msg, nil
}

// history returns the channel's messages. Callers hold mu.
func (s *store) history(user, hubID, channelID hub.ID) ([]hub.Message, error) {
	h, err := s.lookup(user, hubID)
	if err != nil {
		return nil, err
	}
	if _, ok := h.info.Channels[channelID]; !ok {
		return nil, hub.ErrChannelNotFound
	}
	return h.messages[channelID], nil
}

func (s *store) getMessage(user, hubID, channelID, messageID hub.ID) (hub.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, err := s.history(user, hubID, channelID)
	if err != nil {
		return hub.Message{}, err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			return m, nil
		}
	}
	return hub.Message{}, hub.ErrMessageNotFound
}

// messagesAfter returns up to max messages following from, oldest first.
func (s *store) messagesAfter(user, hubID, channelID, from hub.ID, max int) ([]hub.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, err := s.history(user, hubID, channelID)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(msgs, func(m hub.Message) bool { return m.ID == from })
	if idx < 0 {
		return nil, hub.ErrMessageNotFound
	}
	rest := msgs[idx+1:]
	if max >= 0 && len(rest) > max {
		rest = rest[:max]
	}
	return slices.Clone(rest), nil
}

// messagesInPeriod returns up to max messages created within [from, to].
func (s *store) messagesInPeriod(user, hubID, channelID hub.ID, from, to time.Time, max int, newToOld bool) ([]hub.Message, error) {
	if to.Before(from) {
		return nil, hub.ErrBadRequest
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, err := s.history(user, hubID, channelID)
	if err != nil {
		return nil, err
	}
	var out []hub.Message
	for _, m := range msgs {
		if !m.Created.Before(from) && !m.Created.After(to) {
			out = append(out, m)
		}
	}
	if newToOld {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	}
	if max >= 0 && len(out) > max {
		out = out[:max]
	}
	if out == nil {
		out = []hub.Message{}
	}
	return out, nil
}

func (s *store) memberStatus(user, hubID, member hub.ID) (hub.MemberStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return "", err
	}
	switch {
	case h.banned(member):
		return hub.StatusBanned, nil
	case isMember(h, member):
		return hub.StatusMember, nil
	default:
		return hub.StatusNotInHub, nil
	}
}

func (s *store) getMember(user, hubID, member hub.ID) (hub.HubMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.HubMember{}, err
	}
	m, ok := h.info.Members[member]
	if !ok {
		return hub.HubMember{}, hub.ErrMemberNotFound
	}
	return cloneMember(m), nil
}

// moderation describes what an action requires and announces.
type moderation struct {
	perm   hub.HubPermission
	update ws.UpdateKind
}

var moderations = map[string]moderation{
	"kick":   {perm: hub.HubKick, update: ws.UpdateUserLeft},
	"ban":    {perm: hub.HubBan, update: ws.UpdateUserBanned},
	"unban":  {perm: hub.HubUnban, update: ws.UpdateUserUnbanned},
	"mute":   {perm: hub.HubMute, update: ws.UpdateUserMuted},
	"unmute": {perm: hub.HubUnmute, update: ws.UpdateUserUnmuted},
}

// moderate applies action to member and returns the update to announce.
func (s *store) moderate(user, hubID, member hub.ID, action string) (ws.HubUpdate, error) {
	mod, ok := moderations[action]
	if !ok {
		return ws.HubUpdate{}, hub.ErrBadRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return ws.HubUpdate{}, err
	}
	if !h.can(user, mod.perm) {
		return ws.HubUpdate{}, hub.ErrNoPermission
	}
	if member == h.info.Owner {
		return ws.HubUpdate{}, hub.ErrNoPermission
	}

	_, present := h.info.Members[member]
	switch action {
	case "kick":
		if !present {
			return ws.HubUpdate{}, hub.ErrMemberNotFound
		}
		delete(h.info.Members, member)
	case "ban":
		if h.banned(member) {
			return ws.HubUpdate{}, hub.ErrBanned
		}
		delete(h.info.Members, member)
		h.info.Banned = append(h.info.Banned, member)
	case "unban":
		if !h.banned(member) {
			return ws.HubUpdate{}, hub.ErrMemberNotFound
		}
		h.info.Banned = slices.DeleteFunc(h.info.Banned, func(id hub.ID) bool { return id == member })
	case "mute":
		if !present {
			return ws.HubUpdate{}, hub.ErrMemberNotFound
		}
		if !h.muted(member) {
			h.info.Muted = append(h.info.Muted, member)
		}
	case "unmute":
		h.info.Muted = slices.DeleteFunc(h.info.Muted, func(id hub.ID) bool { return id == member })
	}
	return ws.HubUpdate{Kind: mod.update, Subject: member}, nil
}

func (s *store) hubPermission(user, hubID, member hub.ID, perm hub.HubPermission) (hub.PermissionSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.PermissionInherit, err
	}
	m, ok := h.info.Members[member]
	if !ok {
		return hub.PermissionInherit, hub.ErrMemberNotFound
	}
	return m.HubPermissions[perm], nil
}

func (s *store) setHubPermission(user, hubID, member hub.ID, perm hub.HubPermission, setting hub.PermissionSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return err
	}
	if !h.can(user, hub.HubAdministrate) {
		return hub.ErrNoPermission
	}
	m, ok := h.info.Members[member]
	if !ok {
		return hub.ErrMemberNotFound
	}
	if setting == hub.PermissionInherit {
		delete(m.HubPermissions, perm)
	} else {
		m.HubPermissions[perm] = setting
	}
	return nil
}

func (s *store) channelPermission(user, hubID, member, channelID hub.ID, perm hub.ChannelPermission) (hub.PermissionSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return hub.PermissionInherit, err
	}
	if _, ok := h.info.Channels[channelID]; !ok {
		return hub.PermissionInherit, hub.ErrChannelNotFound
	}
	m, ok := h.info.Members[member]
	if !ok {
		return hub.PermissionInherit, hub.ErrMemberNotFound
	}
	return m.ChannelPermissions[channelID][perm], nil
}

func (s *store) setChannelPermission(user, hubID, member, channelID hub.ID, perm hub.ChannelPermission, setting hub.PermissionSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, err := s.lookup(user, hubID)
	if err != nil {
		return err
	}
	if !h.can(user, hub.HubAdministrate) {
		return hub.ErrNoPermission
	}
	if _, ok := h.info.Channels[channelID]; !ok {
		return hub.ErrChannelNotFound
	}
	m, ok := h.info.Members[member]
	if !ok {
		return hub.ErrMemberNotFound
	}
	perms := m.ChannelPermissions[channelID]
	if perms == nil {
		perms = map[hub.ChannelPermission]hub.PermissionSetting{}
		m.ChannelPermissions[channelID] = perms
	}
	if setting == hub.PermissionInherit {
		delete(perms, perm)
	} else {
		perms[perm] = setting
	}
	return nil
}
