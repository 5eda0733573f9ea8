// runtimestate implements the core logic for reconciling the declared state
// of tunneled inference endpoints (from dbInstance) with their actual observed
// health. It probes every registered endpoint, keeps an in-memory snapshot of
// the results, and persists status transitions back to the registry.
// It is intended to be executed repeatedly within background tasks managed
// externally.
package runtimestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/probe"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/caonguyenthanhan/medruntime/statetype"
)

// SubjectStateChanged carries the observed state of an endpoint whose
// registry status flipped during a probe cycle.
const SubjectStateChanged = "runtime.state"

// State manages the observed runtime health of all registered endpoints.
// It orchestrates the synchronization between the registry entries and the
// live state of the tunnels behind them.
type State struct {
	dbInstance   libdb.DBManager
	state        sync.Map
	psInstance   libbus.Messenger
	client       *http.Client
	probeTimeout time.Duration
}

type Option func(*State)

// WithClient overrides the HTTP client used for health probes.
// Tests use this to route probe traffic into local fixtures.
func WithClient(client *http.Client) Option {
	return func(s *State) {
		s.client = client
	}
}

// WithProbeTimeout overrides the per-endpoint probe budget.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(s *State) {
		s.probeTimeout = timeout
	}
}

// New creates and initializes a new State manager.
// It requires a database manager (dbInstance) to load the registered endpoints
// and a messenger instance (psInstance) for check-now triggers.
// Returns an initialized State ready for use.
func New(ctx context.Context, dbInstance libdb.DBManager, psInstance libbus.Messenger, options ...Option) (*State, error) {
	s := &State{
		dbInstance:   dbInstance,
		state:        sync.Map{},
		psInstance:   psInstance,
		client:       http.DefaultClient,
		probeTimeout: probe.DefaultTimeout,
	}
	if psInstance == nil {
		return nil, errors.New("psInstance cannot be nil")
	}
	if dbInstance == nil {
		return nil, errors.New("dbInstance cannot be nil")
	}
	for _, option := range options {
		option(s)
	}
	return s, nil
}

// RunProbeCycle performs a single health check for all registered endpoints.
// It probes each endpoint, records the observed state, and persists
// active/inactive transitions back to the registry so that target resolution
// prefers endpoints that actually answer.
// DESIGN NOTE: This method executes one complete probe cycle and then returns.
// It does not manage its own background execution (e.g., via internal
// goroutines or timers). This deliberate design choice delegates execution
// management (scheduling, concurrency control, lifecycle via context, error
// handling, circuit breaking, etc.) entirely to the caller.
//
// Consequently, this method should be called periodically by an external
// process responsible for its scheduling and lifecycle.
func (s *State) RunProbeCycle(ctx context.Context) error {
	tx := s.dbInstance.WithoutTransaction()
	storeInstance := runtimetypes.New(tx)

	endpoints, err := storeInstance.ListAllEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("fetching endpoints: %v", err)
	}

	currentIDs := make(map[string]struct{})
	for _, endpoint := range endpoints {
		currentIDs[endpoint.ID] = struct{}{}
		s.probeEndpoint(ctx, storeInstance, endpoint)
	}
	return s.cleanupStaleEndpoints(currentIDs)
}

// Get returns a copy of the current observed state for all endpoints.
// This provides a safe snapshot for reading state without risking modification
// of the internal structures.
func (s *State) Get(ctx context.Context) map[string]statetype.EndpointRuntimeState {
	state := map[string]statetype.EndpointRuntimeState{}
	s.state.Range(func(key, value any) bool {
		endpoint, ok := value.(*statetype.EndpointRuntimeState)
		if !ok {
			return true
		}
		state[endpoint.ID] = *endpoint
		return true
	})
	return state
}

// probeEndpoint checks a single endpoint and reconciles the registry status
// with the probe outcome. A healthy endpoint becomes active, an unhealthy one
// inactive; unchanged statuses are left alone so updated_at stays meaningful.
func (s *State) probeEndpoint(ctx context.Context, storeInstance runtimetypes.Store, endpoint *runtimetypes.Endpoint) {
	started := time.Now()
	result := probe.Check(ctx, s.client, endpoint.URL, s.probeTimeout)
	latency := time.Since(started).Milliseconds()

	observed := &statetype.EndpointRuntimeState{
		ID:         endpoint.ID,
		Name:       endpoint.Name,
		URL:        endpoint.URL,
		Healthy:    result.OK,
		Endpoint:   *endpoint,
		HTTPStatus: result.Status,
		LatencyMS:  latency,
		Error:      result.Error,
		CheckedAt:  time.Now().UTC(),
	}

	wanted := runtimetypes.StatusInactive
	if result.OK {
		wanted = runtimetypes.StatusActive
	}
	if endpoint.Status != wanted {
		if err := storeInstance.UpdateEndpointStatus(ctx, endpoint.ID, wanted); err != nil {
			observed.Error = fmt.Sprintf("persisting status %q: %v", wanted, err)
		} else {
			observed.Endpoint.Status = wanted
			// Best-effort announcement. Probing must not fail because a
			// subscriber is slow or absent.
			message, _ := json.Marshal(observed)
			_ = s.psInstance.Publish(ctx, SubjectStateChanged, message)
		}
	}

	s.state.Store(endpoint.ID, observed)
}

// cleanupStaleEndpoints removes state entries for endpoints not present in
// currentIDs. It performs type checking on state keys and reports invalid key
// types. This centralizes the state cleanup used by the probe cycle.
func (s *State) cleanupStaleEndpoints(currentIDs map[string]struct{}) error {
	var err error
	s.state.Range(func(key, value any) bool {
		id, ok := key.(string)
		if !ok {
			err = fmt.Errorf("BUG: invalid key type: %T %v", key, key)
			return true
		}
		if _, exists := currentIDs[id]; !exists {
			s.state.Delete(id)
		}
		return true
	})
	return err
}
