package runtimetypes

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/stretchr/testify/require"
)

const MAXLIMIT = 1000

var ErrLimitParamExceeded = fmt.Errorf("limit exceeds maximum allowed value")

// Endpoint statuses as observed by the health prober.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusUnknown  = "unknown"
)

// Compute-mode targets.
const (
	ModeCPU = "cpu"
	ModeGPU = "gpu"
)

// Endpoint is a registered tunneled inference server. JSON tags follow the
// wire format of the admin surface.
type Endpoint struct {
	ID     string `json:"id" example:"colab-ngrok"`
	Name   string `json:"name,omitempty" example:"colab-gpu-1"`
	URL    string `json:"url" example:"https://x.ngrok-free.dev"`
	Status string `json:"status" example:"active"`

	CreatedAt time.Time `json:"created_at" example:"2023-11-15T14:30:45Z"`
	UpdatedAt time.Time `json:"updated_at" example:"2023-11-15T14:30:45Z"`
}

// RuntimeMode is the singleton compute-mode document. GPUURL is present
// only when Target is gpu and a non-empty URL was supplied.
type RuntimeMode struct {
	Target    string    `json:"target" example:"gpu"`
	GPUURL    string    `json:"gpu_url,omitempty" example:"https://x.ngrok-free.dev"`
	UpdatedAt time.Time `json:"updated_at" example:"2023-11-15T14:30:45Z"`
}

// RegistryLogEntry records a registry mutation (add, update, colab_update).
type RegistryLogEntry struct {
	ID     string `json:"-"`
	Action string `json:"type" example:"add"`
	Ref    string `json:"id" example:"colab-ngrok"`
	Name   string `json:"name,omitempty" example:"colab-gpu-1"`
	URL    string `json:"url" example:"https://x.ngrok-free.dev"`
	Status string `json:"status,omitempty" example:"active"`

	CreatedAt time.Time `json:"ts" example:"2023-11-15T14:30:45Z"`
}

// StoredEvent is one row of the append-only runtime event log. Payload is
// the full wire-format event object including its type tag.
type StoredEvent struct {
	ID        string          `json:"-"`
	Type      string          `json:"type" example:"mode_change"`
	Payload   json.RawMessage `json:"-"`
	CreatedAt time.Time       `json:"ts" example:"2023-11-15T14:30:45Z"`
}

// MetricSample records one completed dispatch.
type MetricSample struct {
	ID         string    `json:"-"`
	Mode       string    `json:"mode" example:"gpu"`
	DurationMS int64     `json:"duration_ms" example:"812"`
	OK         bool      `json:"ok" example:"true"`
	Endpoint   string    `json:"endpoint" example:"chat"`
	CreatedAt  time.Time `json:"ts" example:"2023-11-15T14:30:45Z"`
}

type Store interface {
	CreateEndpoint(ctx context.Context, endpoint *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	UpdateEndpoint(ctx context.Context, endpoint *Endpoint) error
	UpdateEndpointStatus(ctx context.Context, id string, status string) error
	DeleteEndpoint(ctx context.Context, id string) error
	ListAllEndpoints(ctx context.Context) ([]*Endpoint, error)
	ListEndpoints(ctx context.Context, createdAtCursor *time.Time, limit int) ([]*Endpoint, error)
	LatestEndpoint(ctx context.Context) (*Endpoint, error)
	EstimateEndpointCount(ctx context.Context) (int64, error)

	GetMode(ctx context.Context) (*RuntimeMode, error)
	SetMode(ctx context.Context, mode *RuntimeMode) error

	AppendRegistryLog(ctx context.Context, entry *RegistryLogEntry) error
	ListRegistryLogs(ctx context.Context, limit int) ([]*RegistryLogEntry, error)
	EstimateRegistryLogCount(ctx context.Context) (int64, error)

	AppendEvent(ctx context.Context, event *StoredEvent) error
	ListEvents(ctx context.Context, limit int) ([]*StoredEvent, error)
	DeleteAllEvents(ctx context.Context) error
	EstimateEventCount(ctx context.Context) (int64, error)

	AppendMetric(ctx context.Context, sample *MetricSample) error
	ListMetrics(ctx context.Context, limit int) ([]*MetricSample, error)
	EstimateMetricCount(ctx context.Context) (int64, error)
}

//go:embed schema.sql
var Schema string

//go:embed schema_sqlite.sql
var SchemaSQLite string

type store struct {
	libdb.Exec
}

func New(exec libdb.Exec) Store {
	if exec == nil {
		panic("SERVER BUG: store.New called with nil exec")
	}
	return &store{exec}
}

// sqliteCountableTables is the whitelist for SELECT COUNT(*) fallback when estimate_row_count is not available (e.g. SQLite).
var sqliteCountableTables = map[string]bool{
	"runtime_endpoints": true, "registry_log": true,
	"runtime_events": true, "runtime_metrics": true,
}

func (s *store) estimateCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.Exec.QueryRowContext(ctx, `
		SELECT estimate_row_count($1)
	`, table).Scan(&count)
	if err == nil {
		return count, nil
	}
	// SQLite has no estimate_row_count; fall back to COUNT(*) for whitelisted tables only.
	if !strings.Contains(err.Error(), "no such function") {
		return 0, err
	}
	if !sqliteCountableTables[table] {
		return 0, err
	}
	err = s.Exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

func quiet() func() {
	null, _ := os.Open(os.DevNull)
	sout := os.Stdout
	serr := os.Stderr
	os.Stdout = null
	os.Stderr = null
	log.SetOutput(null)
	return func() {
		defer null.Close()
		os.Stdout = sout
		os.Stderr = serr
		log.SetOutput(os.Stderr)
	}
}

// SetupStore initializes an in-memory SQLite instance and returns the store.
func SetupStore(t *testing.T) (context.Context, Store) {
	t.Helper()

	// Silence logs
	unquiet := quiet()
	t.Cleanup(unquiet)

	ctx := context.TODO()
	dbManager, err := libdb.NewSQLiteDBManager(ctx, ":memory:", SchemaSQLite)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
	})

	s := New(dbManager.WithoutTransaction())
	return ctx, s
}
