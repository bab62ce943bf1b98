package ws

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Tyrowin/hubchat/hub"
)

// FrameKind classifies an inbound frame.
type FrameKind uint8

const (
	FrameSuccess FrameKind = iota + 1
	FrameError
	FrameEvent
)

func (k FrameKind) String() string {
	switch k {
	case FrameSuccess:
		return "success"
	case FrameError:
		return "error"
	case FrameEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is a decoded inbound frame: an acknowledgement (Success or Error)
// or a push event.
type Frame struct {
	Kind  FrameKind
	Code  hub.APIError // set for FrameError
	Event Event        // set for FrameEvent
}

func SuccessFrame() Frame                { return Frame{Kind: FrameSuccess} }
func ErrorFrame(code hub.APIError) Frame { return Frame{Kind: FrameError, Code: code} }
func EventFrame(ev Event) Frame          { return Frame{Kind: FrameEvent, Event: ev} }

// IsAck reports whether the frame answers a command.
func (f Frame) IsAck() bool {
	return f.Kind == FrameSuccess || f.Kind == FrameError
}

// Event is a push notification sent by the server without a matching
// command. The set of implementations is closed.
type Event interface {
	EventName() string
	isEvent()
}

// ChatMessage is delivered for every message posted to a subscribed channel.
type ChatMessage struct {
	SenderID  hub.ID `json:"sender_id"`
	HubID     hub.ID `json:"hub_id"`
	ChannelID hub.ID `json:"channel_id"`
	MessageID hub.ID `json:"message_id"`
	Message   string `json:"message"`
}

// HubUpdated is delivered when something changes in a subscribed hub.
type HubUpdated struct {
	HubID  hub.ID    `json:"hub_id"`
	Update HubUpdate `json:"update_type"`
}

// UserStartedTyping is delivered when another member starts typing in a
// subscribed channel.
type UserStartedTyping struct {
	UserID    hub.ID `json:"user_id"`
	HubID     hub.ID `json:"hub_id"`
	ChannelID hub.ID `json:"channel_id"`
}

// UserStoppedTyping is the counterpart of UserStartedTyping.
type UserStoppedTyping struct {
	UserID    hub.ID `json:"user_id"`
	HubID     hub.ID `json:"hub_id"`
	ChannelID hub.ID `json:"channel_id"`
}

const (
	eventChatMessage       = "ChatMessage"
	eventHubUpdated        = "HubUpdated"
	eventUserStartedTyping = "UserStartedTyping"
	eventUserStoppedTyping = "UserStoppedTyping"
)

func (ChatMessage) EventName() string       { return eventChatMessage }
func (HubUpdated) EventName() string        { return eventHubUpdated }
func (UserStartedTyping) EventName() string { return eventUserStartedTyping }
func (UserStoppedTyping) EventName() string { return eventUserStoppedTyping }

func (ChatMessage) isEvent()       {}
func (HubUpdated) isEvent()        {}
func (UserStartedTyping) isEvent() {}
func (UserStoppedTyping) isEvent() {}

// UpdateKind names what changed in a HubUpdated event.
type UpdateKind string

const (
	UpdateUserJoined                   UpdateKind = "UserJoined"
	UpdateUserLeft                     UpdateKind = "UserLeft"
	UpdateUserBanned                   UpdateKind = "UserBanned"
	UpdateUserUnbanned                 UpdateKind = "UserUnbanned"
	UpdateUserMuted                    UpdateKind = "UserMuted"
	UpdateUserUnmuted                  UpdateKind = "UserUnmuted"
	UpdateUserHubPermissionChanged     UpdateKind = "UserHubPermissionChanged"
	UpdateUserChannelPermissionChanged UpdateKind = "UserChannelPermissionChanged"
	UpdateChannelCreated               UpdateKind = "ChannelCreated"
	UpdateChannelDeleted               UpdateKind = "ChannelDeleted"
	UpdateChannelUpdated               UpdateKind = "ChannelUpdated"
	UpdateHubDeleted                   UpdateKind = "HubDeleted"
	UpdateHubRenamed                   UpdateKind = "HubRenamed"
)

// hasSubject reports whether the kind carries a user or channel id.
func (k UpdateKind) hasSubject() bool {
	switch k {
	case UpdateHubDeleted, UpdateHubRenamed:
		return false
	}
	return true
}

func (k UpdateKind) known() bool {
	switch k {
	case UpdateUserJoined, UpdateUserLeft, UpdateUserBanned, UpdateUserUnbanned,
		UpdateUserMuted, UpdateUserUnmuted, UpdateUserHubPermissionChanged,
		UpdateUserChannelPermissionChanged, UpdateChannelCreated, UpdateChannelDeleted,
		UpdateChannelUpdated, UpdateHubDeleted, UpdateHubRenamed:
		return true
	}
	return false
}

// HubUpdate is the change carried by HubUpdated. Subject is the user or
// channel the change is about, or hub.Nil for hub-wide changes.
type HubUpdate struct {
	Kind    UpdateKind
	Subject hub.ID
}

func UserJoined(user hub.ID) HubUpdate { return HubUpdate{Kind: UpdateUserJoined, Subject: user} }
func UserLeft(user hub.ID) HubUpdate   { return HubUpdate{Kind: UpdateUserLeft, Subject: user} }

func (u HubUpdate) MarshalJSON() ([]byte, error) {
	if !u.Kind.known() {
		return nil, errors.Errorf("unknown hub update kind %q", u.Kind)
	}
	if !u.Kind.hasSubject() {
		return json.Marshal(string(u.Kind))
	}
	return json.Marshal(map[UpdateKind]hub.ID{u.Kind: u.Subject})
}

func (u *HubUpdate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var kind UpdateKind
		if err := json.Unmarshal(data, &kind); err != nil {
			return errors.Wrap(err, "decode hub update")
		}
		if !kind.known() || kind.hasSubject() {
			return errors.Errorf("unexpected hub update %q", kind)
		}
		*u = HubUpdate{Kind: kind}
		return nil
	}
	var raw map[UpdateKind]hub.ID
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode hub update")
	}
	if len(raw) != 1 {
		return errors.Errorf("hub update has %d variants, want 1", len(raw))
	}
	for kind, subject := range raw {
		if !kind.known() || !kind.hasSubject() {
			return errors.Errorf("unexpected hub update %q", kind)
		}
		*u = HubUpdate{Kind: kind, Subject: subject}
	}
	return nil
}

const (
	ackSuccess = "Success"
	ackError   = "Error"
)

// EncodeFrame serializes an inbound frame. The client never sends these;
// servers and tests do.
func EncodeFrame(f Frame) ([]byte, error) {
	switch f.Kind {
	case FrameSuccess:
		return json.Marshal(ackSuccess)
	case FrameError:
		return json.Marshal(map[string]hub.APIError{ackError: f.Code})
	case FrameEvent:
		if f.Event == nil {
			return nil, errors.New("event frame without event")
		}
		data, err := json.Marshal(map[string]Event{f.Event.EventName(): f.Event})
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", f.Event.EventName())
		}
		return data, nil
	default:
		return nil, errors.Errorf("unknown frame kind %d", f.Kind)
	}
}

// DecodeFrame parses one inbound text frame.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Frame{}, errors.New("empty frame")
	}
	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return Frame{}, errors.Wrap(err, "decode frame tag")
		}
		if tag != ackSuccess {
			return Frame{}, errors.Errorf("unknown frame %q", tag)
		}
		return SuccessFrame(), nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if len(raw) != 1 {
		return Frame{}, errors.Errorf("frame has %d variants, want 1", len(raw))
	}
	var (
		tag  string
		body json.RawMessage
	)
	for tag, body = range raw {
	}
	switch tag {
	case ackError:
		var code hub.APIError
		if err := json.Unmarshal(body, &code); err != nil {
			return Frame{}, errors.Wrap(err, "decode error code")
		}
		return ErrorFrame(code), nil
	case eventChatMessage:
		return decodeEvent[ChatMessage](tag, body)
	case eventHubUpdated:
		return decodeEvent[HubUpdated](tag, body)
	case eventUserStartedTyping:
		return decodeEvent[UserStartedTyping](tag, body)
	case eventUserStoppedTyping:
		return decodeEvent[UserStoppedTyping](tag, body)
	default:
		return Frame{}, errors.Errorf("unknown frame %q", tag)
	}
}

func decodeEvent[E Event](tag string, body json.RawMessage) (Frame, error) {
	var ev E
	if err := json.Unmarshal(body, &ev); err != nil {
		return Frame{}, errors.Wrapf(err, "decode %s", tag)
	}
	return EventFrame(ev), nil
}
