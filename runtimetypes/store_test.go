package runtimetypes_test

import (
	"encoding/json"
	"testing"
	"time"

	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/stretchr/testify/require"
)

func TestUnit_Mode_AbsentUntilFirstWrite(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	_, err := s.GetMode(ctx)
	require.ErrorIs(t, err, libdb.ErrNotFound)
}

func TestUnit_Mode_SetOverwritesWholesale(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	err := s.SetMode(ctx, &runtimetypes.RuntimeMode{
		Target: runtimetypes.ModeGPU,
		GPUURL: "https://x.ngrok-free.dev",
	})
	require.NoError(t, err)

	got, err := s.GetMode(ctx)
	require.NoError(t, err)
	require.Equal(t, runtimetypes.ModeGPU, got.Target)
	require.Equal(t, "https://x.ngrok-free.dev", got.GPUURL)
	require.False(t, got.UpdatedAt.IsZero())

	err = s.SetMode(ctx, &runtimetypes.RuntimeMode{Target: runtimetypes.ModeCPU})
	require.NoError(t, err)

	got, err = s.GetMode(ctx)
	require.NoError(t, err)
	require.Equal(t, runtimetypes.ModeCPU, got.Target)
	require.Empty(t, got.GPUURL)
}

func TestUnit_RegistryLog_AppendAndListNewestFirst(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	require.NoError(t, s.AppendRegistryLog(ctx, &runtimetypes.RegistryLogEntry{
		Action: runtimetypes.RegistryActionAdd,
		Ref:    "colab-ngrok",
		URL:    "https://x.ngrok-free.dev",
		Status: runtimetypes.StatusActive,
	}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendRegistryLog(ctx, &runtimetypes.RegistryLogEntry{
		Action: runtimetypes.RegistryActionColabUpdate,
		Ref:    "colab-ngrok",
		URL:    "https://y.ngrok-free.dev",
		Status: runtimetypes.StatusActive,
	}))

	logs, err := s.ListRegistryLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, runtimetypes.RegistryActionColabUpdate, logs[0].Action)
	require.Equal(t, runtimetypes.RegistryActionAdd, logs[1].Action)
}

func TestUnit_RegistryLog_RejectsOversizedLimit(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	_, err := s.ListRegistryLogs(ctx, runtimetypes.MAXLIMIT+1)
	require.ErrorIs(t, err, runtimetypes.ErrLimitParamExceeded)
}

func TestUnit_Events_AppendListAndTruncate(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	payload, err := json.Marshal(runtimetypes.NewModeChangeEvent(runtimetypes.ModeGPU, "https://x.dev"))
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, &runtimetypes.StoredEvent{
		Type:    runtimetypes.EventTypeModeChange,
		Payload: payload,
	}))

	time.Sleep(5 * time.Millisecond)

	payload, err = json.Marshal(runtimetypes.NewFallbackEvent(runtimetypes.ModeGPU, runtimetypes.ModeCPU, "upstream 500"))
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, &runtimetypes.StoredEvent{
		Type:    runtimetypes.EventTypeFallback,
		Payload: payload,
	}))

	events, err := s.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, runtimetypes.EventTypeFallback, events[0].Type)

	var fb runtimetypes.FallbackEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &fb))
	require.Equal(t, runtimetypes.ModeGPU, fb.From)
	require.Equal(t, runtimetypes.ModeCPU, fb.To)

	require.NoError(t, s.DeleteAllEvents(ctx))

	events, err = s.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, events)

	// A fresh append after truncation starts a new sequence.
	payload, err = json.Marshal(runtimetypes.NewModeChangeEvent(runtimetypes.ModeCPU, ""))
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(ctx, &runtimetypes.StoredEvent{
		Type:    runtimetypes.EventTypeModeChange,
		Payload: payload,
	}))

	events, err = s.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestUnit_Metrics_AppendAndListNewestFirst(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	require.NoError(t, s.AppendMetric(ctx, &runtimetypes.MetricSample{
		Mode:       runtimetypes.ModeGPU,
		DurationMS: 812,
		OK:         true,
		Endpoint:   "chat",
	}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendMetric(ctx, &runtimetypes.MetricSample{
		Mode:       runtimetypes.ModeCPU,
		DurationMS: 95,
		OK:         false,
		Endpoint:   "friend-chat",
	}))

	samples, err := s.ListMetrics(ctx, 50)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	require.Equal(t, runtimetypes.ModeCPU, samples[0].Mode)
	require.False(t, samples[0].OK)
	require.Equal(t, int64(812), samples[1].DurationMS)
}

func TestUnit_Store_EstimateCountsOnSQLite(t *testing.T) {
	ctx, s := runtimetypes.SetupStore(t)

	require.NoError(t, s.CreateEndpoint(ctx, &runtimetypes.Endpoint{
		ID:  "one",
		URL: "https://one.dev",
	}))

	count, err := s.EstimateEndpointCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
