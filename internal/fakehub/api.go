package fakehub

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/hubchat/hub"
	"github.com/Tyrowin/hubchat/ws"
)

// apiHandler serves one authenticated REST route. The returned value is
// wrapped in the Success envelope; a returned error in the Error envelope.
type apiHandler func(r *http.Request, user hub.ID) (any, error)

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// authenticate resolves the caller. The fake hub accepts a user id as
// the bearer token.
func authenticate(r *http.Request) (hub.ID, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return hub.Nil, false
	}
	id, err := hub.ParseID(token)
	if err != nil || id == hub.Nil {
		return hub.Nil, false
	}
	return id, true
}

// apiError maps err to the code reported to clients.
func apiError(err error) hub.APIError {
	var code hub.APIError
	if errors.As(err, &code) {
		return code
	}
	return hub.ErrInternal
}

func statusFor(code hub.APIError) int {
	switch code {
	case hub.ErrNotAuthenticated:
		return http.StatusUnauthorized
	case hub.ErrHubNotFound, hub.ErrChannelNotFound, hub.ErrMessageNotFound, hub.ErrMemberNotFound:
		return http.StatusNotFound
	case hub.ErrNotInHub, hub.ErrBanned, hub.ErrMuted, hub.ErrNoPermission:
		return http.StatusForbidden
	case hub.ErrAlreadyInHub:
		return http.StatusConflict
	case hub.ErrInvalidName, hub.ErrInvalidText, hub.ErrBadRequest, hub.ErrNotSubscribed:
		return http.StatusBadRequest
	case hub.ErrTooBig:
		return http.StatusRequestEntityTooLarge
	case hub.ErrRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, resp hub.Response[any]) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

// route wraps h with authentication and envelope encoding.
func (s *Server) route(name string, h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := authenticate(r)
		if !ok {
			s.metrics.request(name, hub.ErrNotAuthenticated)
			s.writeEnvelope(w, http.StatusUnauthorized, hub.Fail[any](hub.ErrNotAuthenticated))
			return
		}
		v, err := h(r, user)
		if err != nil {
			code := apiError(err)
			if code == hub.ErrInternal {
				s.log.Error().Err(err).Str("route", name).Msg("request failed")
			}
			s.metrics.request(name, code)
			s.writeEnvelope(w, statusFor(code), hub.Fail[any](code))
			return
		}
		s.metrics.request(name, "")
		s.writeEnvelope(w, http.StatusOK, hub.Ok(v))
	}
}

func pathID(r *http.Request, name string) (hub.ID, error) {
	id, err := hub.ParseID(r.PathValue(name))
	if err != nil {
		return hub.Nil, hub.ErrBadRequest
	}
	return id, nil
}

// pathIDs parses several path wildcards at once.
func pathIDs(r *http.Request, names ...string) ([]hub.ID, error) {
	ids := make([]hub.ID, len(names))
	for i, name := range names {
		id, err := pathID(r, name)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *Server) readText(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxMessageSize+1))
	if err != nil {
		return "", hub.ErrBadRequest
	}
	if int64(len(body)) > s.cfg.MaxMessageSize {
		return "", hub.ErrTooBig
	}
	return string(body), nil
}

func (s *Server) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxMessageSize))
	if err := dec.Decode(v); err != nil {
		return hub.ErrBadRequest
	}
	return nil
}

func (s *Server) hubCreate(r *http.Request, user hub.ID) (any, error) {
	name, err := s.readText(r)
	if err != nil {
		return nil, err
	}
	return s.store.createHub(user, name)
}

func (s *Server) hubGet(r *http.Request, user hub.ID) (any, error) {
	hubID, err := pathID(r, "hub")
	if err != nil {
		return nil, err
	}
	return s.store.getHub(user, hubID)
}

func (s *Server) hubUpdate(r *http.Request, user hub.ID) (any, error) {
	hubID, err := pathID(r, "hub")
	if err != nil {
		return nil, err
	}
	var changes hub.HubChanges
	if err := s.readJSON(r, &changes); err != nil {
		return nil, err
	}
	applied, err := s.store.updateHub(user, hubID, changes)
	if err != nil {
		return nil, err
	}
	if applied.Name != nil {
		s.broker.announce(hubID, ws.HubUpdate{Kind: ws.UpdateHubRenamed}, hub.Nil)
	}
	return applied, nil
}

func (s *Server) hubDelete(r *http.Request, user hub.ID) (any, error) {
	hubID, err := pathID(r, "hub")
	if err != nil {
		return nil, err
	}
	if err := s.store.deleteHub(user, hubID); err != nil {
		return nil, err
	}
	s.broker.announce(hubID, ws.HubUpdate{Kind: ws.UpdateHubDeleted}, hub.Nil)
	return nil, nil
}

func (s *Server) hubJoin(r *http.Request, user hub.ID) (any, error) {
	hubID, err := pathID(r, "hub")
	if err != nil {
		return nil, err
	}
	if err := s.store.joinHub(user, hubID); err != nil {
		return nil, err
	}
	s.broker.announce(hubID, ws.UserJoined(user), hub.Nil)
	return nil, nil
}

func (s *Server) hubLeave(r *http.Request, user hub.ID) (any, error) {
	hubID, err := pathID(r, "hub")
	if err != nil {
		return nil, err
	}
	if err := s.store.leaveHub(user, hubID); err != nil {
		return nil, err
	}
	s.broker.announce(hubID, ws.UserLeft(user), user)
	return nil, nil
}

func (s *Server) channelCreate(r *http.Request, user hub.ID) (any, error) {
	hubID, err := pathID(r, "hub")
	if err != nil {
		return nil, err
	}
	name, err := s.readText(r)
	if err != nil {
		return nil, err
	}
	id, err := s.store.createChannel(user, hubID, name)
	if err != nil {
		return nil, err
	}
	s.broker.announce(hubID, ws.HubUpdate{Kind: ws.UpdateChannelCreated, Subject: id}, hub.Nil)
	return id, nil
}

func (s *Server) channelGet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel")
	if err != nil {
		return nil, err
	}
	return s.store.getChannel(user, ids[0], ids[1])
}

func (s *Server) channelUpdate(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel")
	if err != nil {
		return nil, err
	}
	var changes hub.ChannelChanges
	if err := s.readJSON(r, &changes); err != nil {
		return nil, err
	}
	applied, err := s.store.updateChannel(user, ids[0], ids[1], changes)
	if err != nil {
		return nil, err
	}
	if applied.Name != nil || applied.Description != nil {
		s.broker.announce(ids[0], ws.HubUpdate{Kind: ws.UpdateChannelUpdated, Subject: ids[1]}, hub.Nil)
	}
	return applied, nil
}

func (s *Server) channelDelete(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel")
	if err != nil {
		return nil, err
	}
	if err := s.store.deleteChannel(user, ids[0], ids[1]); err != nil {
		return nil, err
	}
	s.broker.announce(ids[0], ws.HubUpdate{Kind: ws.UpdateChannelDeleted, Subject: ids[1]}, hub.Nil)
	return nil, nil
}

func (s *Server) messageGet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel", "message")
	if err != nil {
		return nil, err
	}
	return s.store.getMessage(user, ids[0], ids[1], ids[2])
}

func queryMax(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("max")
	if raw == "" {
		return 100, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, hub.ErrBadRequest
	}
	return n, nil
}

func (s *Server) messagesAfter(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel")
	if err != nil {
		return nil, err
	}
	from, err := hub.ParseID(r.URL.Query().Get("from"))
	if err != nil {
		return nil, hub.ErrBadRequest
	}
	n, err := queryMax(r)
	if err != nil {
		return nil, err
	}
	return s.store.messagesAfter(user, ids[0], ids[1], from, n)
}

func (s *Server) messagesInPeriod(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel")
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	from, ferr := time.Parse(time.RFC3339Nano, q.Get("from"))
	to, terr := time.Parse(time.RFC3339Nano, q.Get("to"))
	if ferr != nil || terr != nil {
		return nil, hub.ErrBadRequest
	}
	n, err := queryMax(r)
	if err != nil {
		return nil, err
	}
	newToOld, _ := strconv.ParseBool(q.Get("new_to_old"))
	return s.store.messagesInPeriod(user, ids[0], ids[1], from, to, n, newToOld)
}

// messageSend stores a message and pushes it to channel subscribers, like
// the SendMessage command.
func (s *Server) messageSend(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "channel")
	if err != nil {
		return nil, err
	}
	text, err := s.readText(r)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.sendMessage(user, ids[0], ids[1], text)
	if err != nil {
		return nil, err
	}
	payload, err := ws.EncodeFrame(ws.EventFrame(ws.ChatMessage{
		SenderID:  msg.Sender,
		HubID:     msg.HubID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Message:   msg.Content,
	}))
	if err != nil {
		return nil, errors.Wrap(err, "encode chat message")
	}
	s.broker.publish(delivery{target: channelKey{hubID: msg.HubID, channelID: msg.ChannelID}, payload: payload})
	return msg.ID, nil
}

func (s *Server) memberStatus(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member")
	if err != nil {
		return nil, err
	}
	return s.store.memberStatus(user, ids[0], ids[1])
}

func (s *Server) memberGet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member")
	if err != nil {
		return nil, err
	}
	return s.store.getMember(user, ids[0], ids[1])
}

func (s *Server) memberModerate(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member")
	if err != nil {
		return nil, err
	}
	update, err := s.store.moderate(user, ids[0], ids[1], r.PathValue("action"))
	if err != nil {
		return nil, err
	}
	evict := hub.Nil
	if update.Kind == ws.UpdateUserLeft || update.Kind == ws.UpdateUserBanned {
		evict = ids[1]
	}
	s.broker.announce(ids[0], update, evict)
	return nil, nil
}

type setPermission struct {
	Setting hub.PermissionSetting `json:"setting"`
}

func (s *Server) hubPermissionGet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member")
	if err != nil {
		return nil, err
	}
	return s.store.hubPermission(user, ids[0], ids[1], hub.HubPermission(r.PathValue("perm")))
}

func (s *Server) hubPermissionSet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member")
	if err != nil {
		return nil, err
	}
	var body setPermission
	if err := s.readJSON(r, &body); err != nil {
		return nil, err
	}
	perm := hub.HubPermission(r.PathValue("perm"))
	if err := s.store.setHubPermission(user, ids[0], ids[1], perm, body.Setting); err != nil {
		return nil, err
	}
	s.broker.announce(ids[0], ws.HubUpdate{Kind: ws.UpdateUserHubPermissionChanged, Subject: ids[1]}, hub.Nil)
	return nil, nil
}

func (s *Server) channelPermissionGet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member", "channel")
	if err != nil {
		return nil, err
	}
	perm := hub.ChannelPermission(r.PathValue("perm"))
	return s.store.channelPermission(user, ids[0], ids[1], ids[2], perm)
}

func (s *Server) channelPermissionSet(r *http.Request, user hub.ID) (any, error) {
	ids, err := pathIDs(r, "hub", "member", "channel")
	if err != nil {
		return nil, err
	}
	var body setPermission
	if err := s.readJSON(r, &body); err != nil {
		return nil, err
	}
	perm := hub.ChannelPermission(r.PathValue("perm"))
	if err := s.store.setChannelPermission(user, ids[0], ids[1], ids[2], perm, body.Setting); err != nil {
		return nil, err
	}
	s.broker.announce(ids[0], ws.HubUpdate{Kind: ws.UpdateUserChannelPermissionChanged, Subject: ids[1]}, hub.Nil)
	return nil, nil
}
