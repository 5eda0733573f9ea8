package modeservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	libbus "github.com/caonguyenthanhan/medruntime/libbus"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

// SubjectModeChanged carries the freshly written mode document; the mirror
// worker relays it to the upstream backend out-of-band.
const SubjectModeChanged = "runtime.mode"

type Service interface {
	// Get reads the mode document, writing the {target: cpu} default on
	// first access.
	Get(ctx context.Context) (*runtimetypes.RuntimeMode, error)
	// Set overwrites the mode. Invalid targets coerce to cpu; gpuURL is
	// kept only for gpu targets. A mode_change event is appended and the
	// new document is published on the bus; publish failures are logged
	// by the tracker, never surfaced.
	Set(ctx context.Context, target, gpuURL string) (*runtimetypes.RuntimeMode, error)
}

type service struct {
	dbInstance libdb.DBManager
	pubsub     libbus.Messenger
}

func New(db libdb.DBManager, ps libbus.Messenger) Service {
	return &service{dbInstance: db, pubsub: ps}
}

func (s *service) Get(ctx context.Context) (*runtimetypes.RuntimeMode, error) {
	tx := s.dbInstance.WithoutTransaction()
	storeInstance := runtimetypes.New(tx)

	mode, err := storeInstance.GetMode(ctx)
	if errors.Is(err, libdb.ErrNotFound) {
		mode = &runtimetypes.RuntimeMode{Target: runtimetypes.ModeCPU}
		if err := storeInstance.SetMode(ctx, mode); err != nil {
			return nil, fmt.Errorf("failed to initialize mode: %w", err)
		}
		return mode, nil
	}
	return mode, err
}

func (s *service) Set(ctx context.Context, target, gpuURL string) (*runtimetypes.RuntimeMode, error) {
	if target != runtimetypes.ModeGPU {
		target = runtimetypes.ModeCPU
	}
	if target != runtimetypes.ModeGPU {
		gpuURL = ""
	}

	mode := &runtimetypes.RuntimeMode{Target: target, GPUURL: gpuURL}

	tx, commit, release, err := s.dbInstance.WithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = release()
	}()
	storeInstance := runtimetypes.New(tx)

	if err := storeInstance.SetMode(ctx, mode); err != nil {
		return nil, err
	}

	event := runtimetypes.NewModeChangeEvent(mode.Target, mode.GPUURL)
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mode_change event: %w", err)
	}
	if err := storeInstance.AppendEvent(ctx, &runtimetypes.StoredEvent{
		Type:    event.EventType(),
		Payload: payload,
	}); err != nil {
		return nil, err
	}

	if err := commit(ctx); err != nil {
		return nil, err
	}

	if s.pubsub != nil {
		doc, err := json.Marshal(mode)
		if err == nil {
			err = s.pubsub.Publish(ctx, SubjectModeChanged, doc)
		}
		if err != nil {
			return mode, fmt.Errorf("%w: mode mirror publish failed: %w", errPublishOnly, err)
		}
	}
	return mode, nil
}

// errPublishOnly marks a Set that persisted fine but could not announce the
// change. Callers treat it as success; the decorator logs it.
var errPublishOnly = errors.New("modeservice: publish failed")

// IsPublishOnly reports whether err only concerns the fire-and-forget
// publish, with the mode itself durably written.
func IsPublishOnly(err error) bool {
	return errors.Is(err, errPublishOnly)
}
