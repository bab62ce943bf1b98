package hub

// APIError is an error code reported by the server, either inside a REST
// response envelope or as an Error frame on the streaming connection.
type APIError string

func (e APIError) Error() string {
	return "hub: server error: " + string(e)
}

// Codes reported by the server.
const (
	ErrNotAuthenticated APIError = "NotAuthenticated"
	ErrHubNotFound      APIError = "HubNotFound"
	ErrChannelNotFound  APIError = "ChannelNotFound"
	ErrMessageNotFound  APIError = "MessageNotFound"
	ErrMemberNotFound   APIError = "MemberNotFound"
	ErrNotInHub         APIError = "NotInHub"
	ErrAlreadyInHub     APIError = "AlreadyInHub"
	ErrNotSubscribed    APIError = "NotSubscribed"
	ErrBanned           APIError = "Banned"
	ErrMuted            APIError = "Muted"
	ErrNoPermission     APIError = "NoPermission"
	ErrInvalidName      APIError = "InvalidName"
	ErrInvalidText      APIError = "InvalidText"
	ErrTooBig           APIError = "TooBig"
	ErrBadRequest       APIError = "BadRequest"
	ErrRateLimited      APIError = "RateLimited"
	ErrInternal         APIError = "InternalError"
)
