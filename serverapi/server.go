package serverapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/chatservice"
	"github.com/caonguyenthanhan/medruntime/conversationservice"
	"github.com/caonguyenthanhan/medruntime/eventservice"
	"github.com/caonguyenthanhan/medruntime/internal/adminapi"
	"github.com/caonguyenthanhan/medruntime/internal/chatapi"
	"github.com/caonguyenthanhan/medruntime/internal/registryapi"
	"github.com/caonguyenthanhan/medruntime/internal/runtimeapi"
	"github.com/caonguyenthanhan/medruntime/internal/runtimestate"
	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/libroutine"
	"github.com/caonguyenthanhan/medruntime/libtracker"
	"github.com/caonguyenthanhan/medruntime/modeservice"
	"github.com/caonguyenthanhan/medruntime/registryservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/caonguyenthanhan/medruntime/stateservice"
)

// SubjectCheckNow forces an immediate probe cycle when any payload lands on
// it.
const SubjectCheckNow = "runtime.checknow"

func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	tenancy string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
	state *runtimestate.State,
) (func() error, error) {
	cleanup := func() error { return nil }
	stdOuttracker := libtracker.NewLogActivityTracker(slog.Default())
	serveropsChainedTracker := libtracker.ChainedTracker{
		stdOuttracker,
	}
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})
	version := apiframework.GetVersion()
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		apiframework.Encode(w, r, http.StatusOK, apiframework.AboutServer{Version: version, NodeInstanceID: nodeInstanceID, Tenancy: tenancy})
	})

	registryService := registryservice.New(dbInstance, http.DefaultClient, config.DefaultGPUURL)
	registryService = registryservice.WithActivityTracker(registryService, serveropsChainedTracker)
	registryapi.AddServerRoutes(mux, registryService)

	modeService := modeservice.New(dbInstance, pubsub)
	modeService = modeservice.WithActivityTracker(modeService, serveropsChainedTracker)
	eventService := eventservice.New(dbInstance)
	eventService = eventservice.WithActivityTracker(eventService, serveropsChainedTracker)
	runtimeapi.AddRuntimeRoutes(mux, modeService, eventService)

	chatService := chatservice.New(dbInstance, modeService, eventService, pubsub, nil, config.DefaultGPUURL)
	chatService = chatservice.WithActivityTracker(chatService, serveropsChainedTracker)
	chatapi.AddChatRoutes(mux, chatService,
		chatservice.Route{Name: "chat", Path: "/v1/chat/completions", FallbackURL: config.InternalLLMURL},
		chatservice.Route{Name: "friend-chat", Path: "/v1/friend-chat/completions", FallbackURL: config.InternalFriendChatURL},
	)

	stateService := stateservice.New(state)
	stateService = stateservice.WithActivityTracker(stateService, serveropsChainedTracker)
	conversationService := conversationservice.New(http.DefaultClient, config.BackendURL)
	conversationService = conversationservice.WithActivityTracker(conversationService, serveropsChainedTracker)
	adminapi.AddAdminRoutes(mux, stateService, conversationService)

	// Get circuit breaker group instance
	group := libroutine.GetGroup()

	// Start the managed probe loop using the group
	group.StartLoop(
		ctx,
		&libroutine.LoopConfig{
			Key:          "probeCycle",
			Threshold:    3,
			ResetTimeout: 10 * time.Second,
			Interval:     10 * time.Second,
			Operation:    state.RunProbeCycle,
		},
	)

	triggerCh := make(chan []byte, 10)
	err := pubsub.Publish(ctx, SubjectCheckNow, []byte("trigger"))
	if err != nil {
		return cleanup, fmt.Errorf("failed to publish %s message: %w", SubjectCheckNow, err)
	}
	sub, err := pubsub.Stream(ctx, SubjectCheckNow, triggerCh)
	if err != nil {
		return cleanup, fmt.Errorf("failed to subscribe to %s topic: %w", SubjectCheckNow, err)
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-triggerCh:
				if !ok {
					return
				}
				// Force immediate execution of the probe cycle
				group.ForceUpdate("probeCycle")
			}
		}
	}()

	if err := startModeMirrorWorker(ctx, pubsub, config.BackendURL); err != nil {
		return cleanup, err
	}
	if err := startGPUMetricsWorker(ctx, pubsub, eventService); err != nil {
		return cleanup, err
	}

	return cleanup, nil
}

// startModeMirrorWorker mirrors every mode change to the upstream backend so
// its own routing agrees with ours. Mirror failures are logged and dropped;
// the mode write already committed locally.
func startModeMirrorWorker(ctx context.Context, pubsub libbus.Messenger, backendURL string) error {
	ch := make(chan []byte, 10)
	sub, err := pubsub.Stream(ctx, modeservice.SubjectModeChanged, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s topic: %w", modeservice.SubjectModeChanged, err)
	}
	target := strings.TrimRight(backendURL, "/") + "/v1/runtime/mode"
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(raw)))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", "application/json")
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					log.Printf("mode mirror to %s failed: %v", target, err)
					continue
				}
				resp.Body.Close()
			}
		}
	}()
	return nil
}

// startGPUMetricsWorker drains gpu-metrics probe requests published by the
// router after a gpu dispatch. Each message carries the gpu base URL; the
// worker polls its companion metrics endpoint and logs the payload as a
// gpu_metrics event. Everything here is best effort.
func startGPUMetricsWorker(ctx context.Context, pubsub libbus.Messenger, eventService eventservice.Service) error {
	ch := make(chan []byte, 10)
	sub, err := pubsub.Stream(ctx, chatservice.SubjectGPUMetrics, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s topic: %w", chatservice.SubjectGPUMetrics, err)
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				base := strings.TrimRight(string(raw), "/")
				payload, err := fetchGPUMetrics(ctx, base)
				if err != nil {
					continue
				}
				if err := eventService.Append(ctx, runtimetypes.NewGPUMetricsEvent(payload)); err != nil {
					log.Printf("recording gpu metrics from %s failed: %v", base, err)
				}
			}
		}
	}()
	return nil
}

func fetchGPUMetrics(ctx context.Context, base string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/gpu/metrics", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("ngrok-skip-browser-warning", "true")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gpu metrics endpoint answered %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("gpu metrics endpoint answered non-JSON")
	}
	return json.RawMessage(raw), nil
}

type Config struct {
	DatabaseURL           string `json:"database_url"`
	SQLitePath            string `json:"sqlite_path"`
	Port                  string `json:"port"`
	Addr                  string `json:"addr"`
	NATSURL               string `json:"nats_url"`
	NATSUser              string `json:"nats_user"`
	NATSPassword          string `json:"nats_password"`
	BackendURL            string `json:"backend_url"`
	DefaultGPUURL         string `json:"default_gpu_url"`
	InternalLLMURL        string `json:"internal_llm_url"`
	InternalFriendChatURL string `json:"internal_friend_chat_url"`
}

func LoadConfig[T any](cfg *T) error {
	if cfg == nil {
		return fmt.Errorf("config pointer is nil")
	}
	config := map[string]string{}
	for _, kvPair := range os.Environ() {
		ar := strings.SplitN(kvPair, "=", 2)
		if len(ar) < 2 {
			continue
		}
		key := strings.ToLower(ar[0])
		value := ar[1]
		config[key] = value
	}

	b, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal env vars: %w", err)
	}
	err = json.Unmarshal(b, cfg)
	if err != nil {
		return fmt.Errorf("failed to unmarshal into config struct: %w", err)
	}

	return nil
}
