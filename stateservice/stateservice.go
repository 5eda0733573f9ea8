package stateservice

import (
	"context"

	"github.com/caonguyenthanhan/medruntime/internal/runtimestate"
	"github.com/caonguyenthanhan/medruntime/statetype"
)

type Service interface {
	Get(ctx context.Context) ([]statetype.EndpointRuntimeState, error)
}

type service struct {
	state *runtimestate.State
}

// Get implements Service.
func (s *service) Get(ctx context.Context) ([]statetype.EndpointRuntimeState, error) {
	m := s.state.Get(ctx)
	l := make([]statetype.EndpointRuntimeState, 0, len(m))
	for _, e := range m {
		l = append(l, e)
	}
	return l, nil
}

func New(state *runtimestate.State) Service {
	return &service{
		state: state,
	}
}
