package chatservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/eventservice"
	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/modeservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

// SubjectGPUMetrics carries the base URL of a gpu target that just served a
// dispatch; a detached worker probes {base}/gpu/metrics off it.
const SubjectGPUMetrics = "runtime.gpumetrics"

// DefaultDispatchTimeout bounds one upstream call. Inference is slow, so it
// is generous on purpose; it exists to stop a dead tunnel from holding a
// request forever.
const DefaultDispatchTimeout = 120 * time.Second

var ErrEmptyMessage = errors.New("chat: message is required")
var ErrNoContent = errors.New("chat: upstream returned no content")

// Route is one configured chat surface: its logical name, the path on the
// inference server, and the always-local cpu fallback base URL.
type Route struct {
	Name        string
	Path        string
	FallbackURL string
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Message        string    `json:"message"`
	History        []Message `json:"conversationHistory,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Model          string    `json:"model,omitempty"`

	// Authorization is the caller's bearer header, passed through to the
	// upstream verbatim.
	Authorization string `json:"-"`
}

type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Mode      string    `json:"mode"`
	Fallback  bool      `json:"fallback,omitempty"`
}

type ChatResult struct {
	Response       string   `json:"response"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Metadata       Metadata `json:"metadata"`
}

type Service interface {
	// Dispatch resolves the active target, executes the chat call, and
	// recovers a gpu failure with exactly one retry against the route's
	// local fallback. A metric sample is recorded for every completed
	// dispatch, success or not.
	Dispatch(ctx context.Context, route Route, req *ChatRequest) (*ChatResult, error)
}

type service struct {
	dbInstance    libdb.DBManager
	modeService   modeservice.Service
	eventService  eventservice.Service
	pubsub        libbus.Messenger
	client        *http.Client
	defaultGPUURL string
}

func New(
	db libdb.DBManager,
	modeSvc modeservice.Service,
	eventSvc eventservice.Service,
	ps libbus.Messenger,
	client *http.Client,
	defaultGPUURL string,
) Service {
	if client == nil {
		client = &http.Client{Timeout: DefaultDispatchTimeout}
	}
	return &service{
		dbInstance:    db,
		modeService:   modeSvc,
		eventService:  eventSvc,
		pubsub:        ps,
		client:        client,
		defaultGPUURL: defaultGPUURL,
	}
}

func (s *service) Dispatch(ctx context.Context, route Route, req *ChatRequest) (*ChatResult, error) {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w %w", apiframework.ErrBadRequest, ErrEmptyMessage)
	}

	target, err := s.resolveTarget(ctx)
	if err != nil {
		return nil, err
	}
	mode := classifyMode(target)

	start := time.Now()
	result, usedMode, fellBack, dispatchErr := s.dispatchWithFallback(ctx, route, req, target, mode)
	elapsed := time.Since(start).Milliseconds()

	// The sample records the mode that actually served (or last failed).
	// Metrics are a side channel; the decorated event service logs the
	// failure and the dispatch outcome stands.
	_ = s.eventService.RecordMetric(ctx, &runtimetypes.MetricSample{
		Mode:       usedMode,
		DurationMS: elapsed,
		OK:         dispatchErr == nil,
		Endpoint:   route.Name,
	})
	if dispatchErr != nil {
		return nil, dispatchErr
	}

	if usedMode == runtimetypes.ModeGPU && s.pubsub != nil {
		// Detached gpu-metrics probe; losing the message is fine. A
		// dispatch that fell back to cpu gives the dead gpu target no
		// probe.
		_ = s.pubsub.Publish(ctx, SubjectGPUMetrics, []byte(target))
	}

	if result.ConversationID == "" {
		result.ConversationID = req.ConversationID
	}
	result.Metadata = Metadata{
		Timestamp: time.Now().UTC(),
		Mode:      usedMode,
		Fallback:  fellBack,
	}
	return result, nil
}

// dispatchWithFallback runs the primary attempt and, for gpu targets only,
// one synchronous retry against the route's local fallback. The retry
// budget is 1 and scoped to the gpu→cpu direction; cpu failures and parse
// failures are terminal.
func (s *service) dispatchWithFallback(ctx context.Context, route Route, req *ChatRequest, target, mode string) (*ChatResult, string, bool, error) {
	result, err := s.call(ctx, route, req, target, mode)
	if err == nil {
		return result, mode, false, nil
	}
	if mode != runtimetypes.ModeGPU || !isRetryable(err) {
		return nil, mode, false, err
	}

	result, retryErr := s.call(ctx, route, req, route.FallbackURL, runtimetypes.ModeCPU)
	if retryErr != nil {
		return nil, runtimetypes.ModeCPU, false, retryErr
	}

	// Retry succeeded: record the downgrade. Fallback event first, then
	// the mode_change appended by the mode write. Both are best effort
	// and logged by their decorators; the served response wins.
	_ = s.eventService.Append(ctx, runtimetypes.NewFallbackEvent(runtimetypes.ModeGPU, runtimetypes.ModeCPU, err.Error()))
	_, _ = s.modeService.Set(ctx, runtimetypes.ModeCPU, "")

	return result, runtimetypes.ModeCPU, true, nil
}

// call executes one upstream attempt. The tunnel-bypass header rides only
// on gpu attempts.
func (s *service) call(ctx context.Context, route Route, req *ChatRequest, base, mode string) (*ChatResult, error) {
	body, err := json.Marshal(map[string]any{
		"message":             req.Message,
		"conversationHistory": req.History,
		"conversation_id":     req.ConversationID,
		"user_id":             req.UserID,
		"model":               req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	endpoint := strings.TrimRight(base, "/") + route.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apiframework.ErrUpstreamUnreachable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}
	if mode == runtimetypes.ModeGPU {
		httpReq.Header.Set("ngrok-skip-browser-warning", "true")
	}
	httpReq.Header.Set("X-Mode", modelSelector(req.Model))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apiframework.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: upstream status %d", apiframework.ErrUpstreamUnreachable, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		// Connection died mid-body; treat like any transport failure.
		return nil, fmt.Errorf("%w: reading upstream body: %w", apiframework.ErrUpstreamUnreachable, err)
	}
	// Upstreams answer either OpenAI-shape (choices[0].message.content)
	// or a flat {response}; the first populated one wins.
	var parsed struct {
		Response       string `json:"response"`
		ConversationID string `json:"conversation_id"`
		Choices        []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w %w: invalid upstream payload: %w", errTerminal, apiframework.ErrUpstreamUnreachable, err)
	}
	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	if content == "" {
		content = parsed.Response
	}
	if content == "" {
		return nil, fmt.Errorf("%w %w", errTerminal, apiframework.NewAPIError(apiframework.ErrUpstreamUnreachable, ErrNoContent.Error(), ""))
	}

	return &ChatResult{Response: content, ConversationID: parsed.ConversationID}, nil
}

// errTerminal marks failures that must never trigger the fallback retry:
// the upstream answered, it just answered garbage.
var errTerminal = errors.New("chat: terminal upstream failure")

func isRetryable(err error) bool {
	return !errors.Is(err, errTerminal)
}

// resolveTarget walks the resolution chain: configured default, overridden
// by the mode store's gpu_url, overridden by the registry's latest
// endpoint when one exists.
func (s *service) resolveTarget(ctx context.Context) (string, error) {
	target := s.defaultGPUURL

	mode, err := s.modeService.Get(ctx)
	if err != nil {
		return "", err
	}
	if mode.GPUURL != "" {
		target = mode.GPUURL
	}

	tx := s.dbInstance.WithoutTransaction()
	endpoint, err := runtimetypes.New(tx).LatestEndpoint(ctx)
	switch {
	case err == nil:
		if endpoint.URL != "" {
			target = endpoint.URL
		}
	case errors.Is(err, libdb.ErrNotFound):
	default:
		return "", err
	}

	return target, nil
}

// classifyMode treats loopback targets as cpu, everything else as gpu.
func classifyMode(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return runtimetypes.ModeGPU
	}
	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "0.0.0.0" {
		return runtimetypes.ModeCPU
	}
	return runtimetypes.ModeGPU
}

// modelSelector maps the requested model onto the upstream's X-Mode header.
func modelSelector(model string) string {
	if model == "pro" {
		return "pro"
	}
	return "flash"
}
