package runtimesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/modeservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

// HTTPModeService implements the modeservice.Service interface
// using HTTP calls to the API
type HTTPModeService struct {
	client  *http.Client
	baseURL string
}

// NewHTTPModeService creates a new HTTP client that implements modeservice.Service
func NewHTTPModeService(baseURL string, client *http.Client) modeservice.Service {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPModeService{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Get implements modeservice.Service.Get
func (s *HTTPModeService) Get(ctx context.Context) (*runtimetypes.RuntimeMode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/runtime/mode", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiframework.HandleAPIError(resp)
	}

	var mode runtimetypes.RuntimeMode
	if err := json.NewDecoder(resp.Body).Decode(&mode); err != nil {
		return nil, err
	}
	return &mode, nil
}

// Set implements modeservice.Service.Set
func (s *HTTPModeService) Set(ctx context.Context, target, gpuURL string) (*runtimetypes.RuntimeMode, error) {
	raw, err := json.Marshal(map[string]string{"target": target, "gpu_url": gpuURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/runtime/mode", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiframework.HandleAPIError(resp)
	}

	var reply struct {
		OK   bool                      `json:"ok"`
		Mode *runtimetypes.RuntimeMode `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return reply.Mode, nil
}

var _ modeservice.Service = (*HTTPModeService)(nil)
