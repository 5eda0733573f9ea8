package runtimetypes

import (
	"encoding/json"
	"time"
)

// Event type tags as they appear on the wire.
const (
	EventTypeModeChange = "mode_change"
	EventTypeFallback   = "fallback"
	EventTypeGPUMetrics = "gpu_metrics"
)

// Registry log actions.
const (
	RegistryActionAdd         = "add"
	RegistryActionUpdate      = "update"
	RegistryActionColabUpdate = "colab_update"
)

// Event is one variant of the runtime event log's tagged union. Variants
// marshal flat, with their type tag inline.
type Event interface {
	EventType() string
	EventTime() time.Time
}

type ModeChangeEvent struct {
	Type   string    `json:"type"`
	Target string    `json:"target"`
	GPUURL string    `json:"gpu_url,omitempty"`
	TS     time.Time `json:"ts"`
}

func NewModeChangeEvent(target, gpuURL string) *ModeChangeEvent {
	return &ModeChangeEvent{
		Type:   EventTypeModeChange,
		Target: target,
		GPUURL: gpuURL,
		TS:     time.Now().UTC(),
	}
}

func (e *ModeChangeEvent) EventType() string    { return EventTypeModeChange }
func (e *ModeChangeEvent) EventTime() time.Time { return e.TS }

type FallbackEvent struct {
	Type  string    `json:"type"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Error string    `json:"error,omitempty"`
	TS    time.Time `json:"ts"`
}

func NewFallbackEvent(from, to, reason string) *FallbackEvent {
	return &FallbackEvent{
		Type:  EventTypeFallback,
		From:  from,
		To:    to,
		Error: reason,
		TS:    time.Now().UTC(),
	}
}

func (e *FallbackEvent) EventType() string    { return EventTypeFallback }
func (e *FallbackEvent) EventTime() time.Time { return e.TS }

type GPUMetricsEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	TS   time.Time       `json:"ts"`
}

func NewGPUMetricsEvent(data json.RawMessage) *GPUMetricsEvent {
	return &GPUMetricsEvent{
		Type: EventTypeGPUMetrics,
		Data: data,
		TS:   time.Now().UTC(),
	}
}

func (e *GPUMetricsEvent) EventType() string    { return EventTypeGPUMetrics }
func (e *GPUMetricsEvent) EventTime() time.Time { return e.TS }
