package fakehub

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// apiPrefix is where the REST and streaming endpoints are mounted.
const apiPrefix = "/api"

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HealthHandler)
	mux.HandleFunc(apiPrefix+"/websocket", s.WebSocketHandler)
	if g, ok := s.cfg.Registerer.(prometheus.Gatherer); ok {
		mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	api := func(pattern, name string, h apiHandler) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+apiPrefix+path, s.route(name, h))
	}

	api("POST /hub", "hub_create", s.hubCreate)
	api("GET /hub/{hub}", "hub_get", s.hubGet)
	api("POST /hub/{hub}", "hub_update", s.hubUpdate)
	api("DELETE /hub/{hub}", "hub_delete", s.hubDelete)
	api("POST /hub/{hub}/join", "hub_join", s.hubJoin)
	api("POST /hub/{hub}/leave", "hub_leave", s.hubLeave)

	api("POST /channel/{hub}", "channel_create", s.channelCreate)
	api("GET /channel/{hub}/{channel}", "channel_get", s.channelGet)
	api("PUT /channel/{hub}/{channel}", "channel_update", s.channelUpdate)
	api("DELETE /channel/{hub}/{channel}", "channel_delete", s.channelDelete)

	api("POST /message/{hub}/{channel}", "message_send", s.messageSend)
	api("GET /message/{hub}/{channel}/after", "message_after", s.messagesAfter)
	api("GET /message/{hub}/{channel}/time_period", "message_time_period", s.messagesInPeriod)
	api("GET /message/{hub}/{channel}/{message}", "message_get", s.messageGet)

	api("GET /member/{hub}/{member}", "member_get", s.memberGet)
	api("GET /member/{hub}/{member}/status", "member_status", s.memberStatus)
	api("POST /member/{hub}/{member}/{action}", "member_moderate", s.memberModerate)
	api("GET /member/{hub}/{member}/hub_permission/{perm}", "hub_permission_get", s.hubPermissionGet)
	api("PUT /member/{hub}/{member}/hub_permission/{perm}", "hub_permission_set", s.hubPermissionSet)
	api("GET /member/{hub}/{member}/channel_permission/{channel}/{perm}", "channel_permission_get", s.channelPermissionGet)
	api("PUT /member/{hub}/{member}/channel_permission/{channel}/{perm}", "channel_permission_set", s.channelPermissionSet)

	return mux
}
