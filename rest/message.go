package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Tyrowin/hubchat/hub"
)

// TimeFormat is the layout of the from/to query parameters.
const TimeFormat = time.RFC3339Nano

func (c *Client) MessageGet(ctx context.Context, hubID, channelID, messageID hub.ID) (hub.Message, error) {
	return call[hub.Message](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("message", hubID.String(), channelID.String(), messageID.String()),
	})
}

// MessagesAfter returns up to max messages posted after the message from,
// oldest first. The bounds travel as query parameters; hubs that expect
// them as a JSON body on the GET request are not supported.
func (c *Client) MessagesAfter(ctx context.Context, hubID, channelID, from hub.ID, max int) ([]hub.Message, error) {
	query := url.Values{}
	query.Set("from", from.String())
	query.Set("max", strconv.Itoa(max))
	return call[[]hub.Message](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("message", hubID.String(), channelID.String(), "after"),
		query:  query,
	})
}

// MessagesInPeriod returns up to max messages created in [from, to],
// newest first when newToOld is set. Like MessagesAfter it sends query
// parameters, never a request body.
func (c *Client) MessagesInPeriod(ctx context.Context, hubID, channelID hub.ID, from, to time.Time, max int, newToOld bool) ([]hub.Message, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(TimeFormat))
	query.Set("to", to.UTC().Format(TimeFormat))
	query.Set("max", strconv.Itoa(max))
	query.Set("new_to_old", strconv.FormatBool(newToOld))
	return call[[]hub.Message](ctx, c, request{
		method: http.MethodGet,
		path:   pathf("message", hubID.String(), channelID.String(), "time_period"),
		query:  query,
	})
}

// MessageSend posts text to a channel and returns the new message's id.
func (c *Client) MessageSend(ctx context.Context, hubID, channelID hub.ID, text string) (hub.ID, error) {
	return call[hub.ID](ctx, c, textBody(http.MethodPost, pathf("message", hubID.String(), channelID.String()), text))
}
