package registryapi

import (
	"fmt"
	"net/http"
	"time"

	serverops "github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/registryservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

func AddServerRoutes(mux *http.ServeMux, registryService registryservice.Service) {
	s := &serverManager{service: registryService}

	mux.HandleFunc("GET /servers", s.listServers)
	mux.HandleFunc("POST /servers", s.upsertServer)
	mux.HandleFunc("GET /servers/logs", s.listLogs)
	mux.HandleFunc("GET /servers/latest", s.latestServer)
	mux.HandleFunc("POST /servers/check", s.checkServer)
	mux.HandleFunc("POST /servers/colab-update", s.colabUpdate)
}

type serverManager struct {
	service registryservice.Service
}

type serverList struct {
	Servers []*runtimetypes.Endpoint `json:"servers"`
}

type upsertResponse struct {
	OK   bool                   `json:"ok"`
	Item *runtimetypes.Endpoint `json:"item"`
}

type logList struct {
	Logs []*runtimetypes.RegistryLogEntry `json:"logs"`
}

type latestResponse struct {
	URL  string                 `json:"url"`
	Item *runtimetypes.Endpoint `json:"item"`
}

// Lists every registered inference endpoint, most recently updated first.
func (s *serverManager) listServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	servers, err := s.service.List(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, serverList{Servers: servers}) // @response registryapi.serverList
}

// Registers a tunneled inference endpoint or replaces an existing one.
//
// The id is the caller's stable identity for the tunnel; re-posting the same
// id with a fresh public URL replaces the old entry in place.
func (s *serverManager) upsertServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint, err := serverops.Decode[runtimetypes.Endpoint](r) // @request runtimetypes.Endpoint
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}
	created, err := s.service.Upsert(ctx, &endpoint)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.CreateOperation)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	_ = serverops.Encode(w, r, status, upsertResponse{OK: true, Item: &endpoint}) // @response registryapi.upsertResponse
}

// Returns the registry change log, newest entries first.
func (s *serverManager) listLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logs, err := s.service.Logs(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, logList{Logs: logs}) // @response registryapi.logList
}

// Resolves the endpoint the router would dispatch to right now.
//
// Active endpoints win over recency; an empty registry answers with the
// configured default URL and a null item.
func (s *serverManager) latestServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	url, item, err := s.service.Latest(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, latestResponse{URL: url, Item: item}) // @response registryapi.latestResponse
}

type checkRequest struct {
	URL       string `json:"url"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
	// timeout_ms is accepted as an alias for timeoutMs.
	TimeoutMSAlias int `json:"timeout_ms,omitempty"`
}

func (c checkRequest) timeout() time.Duration {
	ms := c.TimeoutMS
	if ms == 0 {
		ms = c.TimeoutMSAlias
	}
	return time.Duration(ms) * time.Millisecond
}

// Probes a URL on demand and reports reachability.
//
// The probe result is data, never an HTTP error: an unreachable target
// answers 200 with {ok:false, error:"unreachable"}. A missing url is a
// caller mistake and rejected before any probe runs.
func (s *serverManager) checkServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := serverops.Decode[checkRequest](r) // @request registryapi.checkRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ExecuteOperation)
		return
	}
	if req.URL == "" {
		_ = serverops.Error(w, r, fmt.Errorf("%w: url is required", serverops.ErrBadRequest), serverops.ExecuteOperation)
		return
	}

	result := s.service.Check(ctx, req.URL, req.timeout())
	_ = serverops.Encode(w, r, http.StatusOK, result) // @response probe.Result
}

type colabUpdateRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Accepts a fresh public URL announced by a tunneled notebook.
//
// The endpoint is upserted as active so target resolution picks it up
// immediately, and the change is recorded as a colab_update log entry.
func (s *serverManager) colabUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := serverops.Decode[colabUpdateRequest](r) // @request registryapi.colabUpdateRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	item, err := s.service.ColabUpdate(ctx, req.ID, req.URL)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, upsertResponse{OK: true, Item: item}) // @response registryapi.upsertResponse
}
