package ws

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Tyrowin/hubchat/hub"
)

// CommandKind names an outbound command.
type CommandKind string

const (
	KindSubscribeHub       CommandKind = "SubscribeHub"
	KindUnsubscribeHub     CommandKind = "UnsubscribeHub"
	KindSubscribeChannel   CommandKind = "SubscribeChannel"
	KindUnsubscribeChannel CommandKind = "UnsubscribeChannel"
	KindSendMessage        CommandKind = "SendMessage"
	KindStartTyping        CommandKind = "StartTyping"
	KindStopTyping         CommandKind = "StopTyping"
)

func (k CommandKind) known() bool {
	switch k {
	case KindSubscribeHub, KindUnsubscribeHub, KindSubscribeChannel, KindUnsubscribeChannel,
		KindSendMessage, KindStartTyping, KindStopTyping:
		return true
	}
	return false
}

func (k CommandKind) needsChannel() bool {
	return k != KindSubscribeHub && k != KindUnsubscribeHub
}

// Command is an outbound request. It is a value type; build it with the
// constructors below.
type Command struct {
	kind      CommandKind
	hubID     hub.ID
	channelID hub.ID
	text      string
}

func SubscribeHub(hubID hub.ID) Command {
	return Command{kind: KindSubscribeHub, hubID: hubID}
}

func UnsubscribeHub(hubID hub.ID) Command {
	return Command{kind: KindUnsubscribeHub, hubID: hubID}
}

func SubscribeChannel(hubID, channelID hub.ID) Command {
	return Command{kind: KindSubscribeChannel, hubID: hubID, channelID: channelID}
}

func UnsubscribeChannel(hubID, channelID hub.ID) Command {
	return Command{kind: KindUnsubscribeChannel, hubID: hubID, channelID: channelID}
}

func SendMessage(hubID, channelID hub.ID, text string) Command {
	return Command{kind: KindSendMessage, hubID: hubID, channelID: channelID, text: text}
}

func StartTyping(hubID, channelID hub.ID) Command {
	return Command{kind: KindStartTyping, hubID: hubID, channelID: channelID}
}

func StopTyping(hubID, channelID hub.ID) Command {
	return Command{kind: KindStopTyping, hubID: hubID, channelID: channelID}
}

func (c Command) Kind() CommandKind { return c.kind }
func (c Command) HubID() hub.ID     { return c.hubID }
func (c Command) ChannelID() hub.ID { return c.channelID }
func (c Command) Text() string      { return c.text }

// Validate reports whether the command carries every identifier its kind
// requires.
func (c Command) Validate() error {
	if !c.kind.known() {
		return errors.Errorf("unknown command kind %q", c.kind)
	}
	if c.hubID == hub.Nil {
		return errors.Errorf("%s: missing hub id", c.kind)
	}
	if c.kind.needsChannel() && c.channelID == hub.Nil {
		return errors.Errorf("%s: missing channel id", c.kind)
	}
	return nil
}

type commandBody struct {
	HubID     hub.ID  `json:"hub_id"`
	ChannelID *hub.ID `json:"channel_id,omitempty"`
	Message   *string `json:"message,omitempty"`
}

// EncodeCommand serializes c as {"<Kind>": {"hub_id": ..., ...}}.
func EncodeCommand(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	body := commandBody{HubID: c.hubID}
	if c.kind.needsChannel() {
		ch := c.channelID
		body.ChannelID = &ch
	}
	if c.kind == KindSendMessage {
		text := c.text
		body.Message = &text
	}
	data, err := json.Marshal(map[CommandKind]commandBody{c.kind: body})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", c.kind)
	}
	return data, nil
}

// DecodeCommand parses a frame produced by EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	var raw map[CommandKind]commandBody
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, errors.Wrap(err, "decode command")
	}
	if len(raw) != 1 {
		return Command{}, errors.Errorf("command frame has %d variants, want 1", len(raw))
	}
	var (
		c       Command
		hasText bool
	)
	for kind, body := range raw {
		c = Command{kind: kind, hubID: body.HubID}
		if body.ChannelID != nil {
			c.channelID = *body.ChannelID
		}
		if body.Message != nil {
			c.text, hasText = *body.Message, true
		}
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	if c.kind == KindSendMessage && !hasText {
		return Command{}, errors.New("SendMessage: missing message")
	}
	return c, nil
}
