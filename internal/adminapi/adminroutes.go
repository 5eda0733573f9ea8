package adminapi

import (
	"net/http"

	serverops "github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/conversationservice"
	"github.com/caonguyenthanhan/medruntime/stateservice"
)

func AddAdminRoutes(mux *http.ServeMux, stateService stateservice.Service, conversationService conversationservice.Service) {
	a := &adminMux{stateService: stateService, conversationService: conversationService}

	mux.HandleFunc("GET /state", a.listState)
	mux.HandleFunc("DELETE /admin/conversations", a.purgeConversations)
}

type adminMux struct {
	stateService        stateservice.Service
	conversationService conversationservice.Service
}

// Retrieves the observed runtime state of all registered endpoints.
//
// Includes reachability, probed HTTP status, latency, and error information
// from the most recent probe cycle.
func (a *adminMux) listState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	states, err := a.stateService.Get(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}
	_ = serverops.Encode(w, r, http.StatusOK, states) // @response []statetype.EndpointRuntimeState
}

type purgeResponse struct {
	OK      bool     `json:"ok"`
	Deleted int      `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
}

// Deletes every conversation held by the upstream backend.
//
// The purge continues past per-conversation failures; IDs that could not be
// deleted are reported back rather than aborting the run.
func (a *adminMux) purgeConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := a.conversationService.PurgeAll(ctx, r.Header.Get("Authorization"))
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, purgeResponse{
		OK:      true,
		Deleted: result.Deleted,
		Failed:  result.Failed,
	}) // @response adminapi.purgeResponse
}
