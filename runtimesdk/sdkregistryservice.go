// runtimesdk provides HTTP client implementations of the service
// interfaces, for Go programs that talk to a remote runtime node instead
// of embedding one.
package runtimesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/probe"
	"github.com/caonguyenthanhan/medruntime/registryservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

// HTTPRegistryService implements the registryservice.Service interface
// using HTTP calls to the API
type HTTPRegistryService struct {
	client  *http.Client
	baseURL string
}

// NewHTTPRegistryService creates a new HTTP client that implements registryservice.Service
func NewHTTPRegistryService(baseURL string, client *http.Client) registryservice.Service {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPRegistryService{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (s *HTTPRegistryService) do(ctx context.Context, method, path string, body, out any, okStatus ...int) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	accepted := false
	for _, status := range okStatus {
		if resp.StatusCode == status {
			accepted = true
			break
		}
	}
	if !accepted {
		return apiframework.HandleAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// List implements registryservice.Service.List
func (s *HTTPRegistryService) List(ctx context.Context) ([]*runtimetypes.Endpoint, error) {
	var result struct {
		Servers []*runtimetypes.Endpoint `json:"servers"`
	}
	if err := s.do(ctx, http.MethodGet, "/servers", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Servers, nil
}

// Upsert implements registryservice.Service.Upsert
func (s *HTTPRegistryService) Upsert(ctx context.Context, endpoint *runtimetypes.Endpoint) (bool, error) {
	var reply struct {
		OK   bool                   `json:"ok"`
		Item *runtimetypes.Endpoint `json:"item"`
	}
	raw, err := json.Marshal(endpoint)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/servers", bytes.NewReader(raw))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return false, apiframework.HandleAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return false, err
	}
	if reply.Item != nil {
		*endpoint = *reply.Item
	}
	return resp.StatusCode == http.StatusCreated, nil
}

// Latest implements registryservice.Service.Latest
func (s *HTTPRegistryService) Latest(ctx context.Context) (string, *runtimetypes.Endpoint, error) {
	var result struct {
		URL  string                 `json:"url"`
		Item *runtimetypes.Endpoint `json:"item"`
	}
	if err := s.do(ctx, http.MethodGet, "/servers/latest", nil, &result, http.StatusOK); err != nil {
		return "", nil, err
	}
	return result.URL, result.Item, nil
}

// ColabUpdate implements registryservice.Service.ColabUpdate
func (s *HTTPRegistryService) ColabUpdate(ctx context.Context, id, url string) (*runtimetypes.Endpoint, error) {
	var reply struct {
		OK   bool                   `json:"ok"`
		Item *runtimetypes.Endpoint `json:"item"`
	}
	body := map[string]string{"id": id, "url": url}
	if err := s.do(ctx, http.MethodPost, "/servers/colab-update", body, &reply, http.StatusOK); err != nil {
		return nil, err
	}
	return reply.Item, nil
}

// Check implements registryservice.Service.Check
func (s *HTTPRegistryService) Check(ctx context.Context, url string, timeout time.Duration) probe.Result {
	var result probe.Result
	body := map[string]any{"url": url, "timeoutMs": timeout.Milliseconds()}
	if err := s.do(ctx, http.MethodPost, "/servers/check", body, &result, http.StatusOK); err != nil {
		return probe.Result{OK: false, Error: "unreachable"}
	}
	return result
}

// Logs implements registryservice.Service.Logs
func (s *HTTPRegistryService) Logs(ctx context.Context) ([]*runtimetypes.RegistryLogEntry, error) {
	var result struct {
		Logs []*runtimetypes.RegistryLogEntry `json:"logs"`
	}
	if err := s.do(ctx, http.MethodGet, "/servers/logs", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return result.Logs, nil
}

var _ registryservice.Service = (*HTTPRegistryService)(nil)
