package runtimeapi

import (
	"encoding/json"
	"net/http"

	serverops "github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/eventservice"
	"github.com/caonguyenthanhan/medruntime/modeservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

func AddRuntimeRoutes(mux *http.ServeMux, modeService modeservice.Service, eventService eventservice.Service) {
	m := &runtimeManager{modeService: modeService, eventService: eventService}

	mux.HandleFunc("GET /runtime/mode", m.getMode)
	mux.HandleFunc("POST /runtime/mode", m.setMode)
	mux.HandleFunc("GET /runtime/events", m.listEvents)
	mux.HandleFunc("DELETE /runtime/events", m.clearEvents)
	mux.HandleFunc("GET /runtime/metrics", m.metrics)
}

type runtimeManager struct {
	modeService  modeservice.Service
	eventService eventservice.Service
}

// Returns the current compute-mode document.
//
// A first read on a fresh installation initializes the mode to cpu and
// persists that default before answering.
func (m *runtimeManager) getMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mode, err := m.modeService.Get(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, mode) // @response runtimetypes.RuntimeMode
}

type setModeRequest struct {
	Target string `json:"target"`
	GPUURL string `json:"gpu_url,omitempty"`
}

type setModeResponse struct {
	OK   bool                      `json:"ok"`
	Mode *runtimetypes.RuntimeMode `json:"mode"`
}

// Overwrites the compute mode.
//
// Any target other than gpu coerces to cpu, and the gpu URL is kept only for
// gpu targets. The change lands in the event log and is mirrored on the bus.
func (m *runtimeManager) setMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := serverops.Decode[setModeRequest](r) // @request runtimeapi.setModeRequest
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}
	mode, err := m.modeService.Set(ctx, req.Target, req.GPUURL)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.UpdateOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, setModeResponse{OK: true, Mode: mode}) // @response runtimeapi.setModeResponse
}

type eventList struct {
	Events []json.RawMessage `json:"events"`
}

// Returns runtime events (mode changes, fallbacks, gpu metrics), newest first.
func (m *runtimeManager) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	events, err := m.eventService.List(ctx, 0)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.ListOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, eventList{Events: events}) // @response runtimeapi.eventList
}

type clearedResponse struct {
	OK bool `json:"ok"`
}

// Truncates the event log. This is the only way events are ever discarded.
func (m *runtimeManager) clearEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := m.eventService.Clear(ctx); err != nil {
		_ = serverops.Error(w, r, err, serverops.DeleteOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, clearedResponse{OK: true}) // @response runtimeapi.clearedResponse
}

type metricsResponse struct {
	Summary map[string]int64             `json:"summary"`
	Last    []*runtimetypes.MetricSample `json:"last"`
}

// Summarizes dispatch latency per mode over the recent sample window.
func (m *runtimeManager) metrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, last, err := m.eventService.MetricsSummary(ctx)
	if err != nil {
		_ = serverops.Error(w, r, err, serverops.GetOperation)
		return
	}

	_ = serverops.Encode(w, r, http.StatusOK, metricsResponse{Summary: summary, Last: last}) // @response runtimeapi.metricsResponse
}
