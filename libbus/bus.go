// Package libbus provides a small publish/subscribe and request/reply
// abstraction used for fire-and-forget side channels. Backed by NATS in
// multi-process deployments and by InMem for single-process use and tests.
package libbus

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	ErrConnectionClosed = errors.New("libbus: connection closed")
	ErrRequestTimeout   = errors.New("libbus: request timed out")
)

// Handler processes a request payload and returns a reply.
type Handler func(ctx context.Context, data []byte) ([]byte, error)

// Subscription is a handle to an active stream or serve registration.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is the messaging surface services depend on.
type Messenger interface {
	// Publish sends a fire-and-forget message to all subscribers of subject.
	Publish(ctx context.Context, subject string, data []byte) error
	// Stream delivers messages on subject to ch until unsubscribed.
	Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error)
	// Request sends data and waits for a reply from a Serve handler.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
	// Serve registers a request handler for subject.
	Serve(ctx context.Context, subject string, handler Handler) (Subscription, error)
	Close() error
}

// Config holds NATS connection settings.
type Config struct {
	NATSURL      string
	NATSUser     string
	NATSPassword string
}

// NewPubSub connects to NATS. An empty URL falls back to the in-memory
// messenger so local single-process runs need no broker.
func NewPubSub(ctx context.Context, cfg *Config) (Messenger, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return NewInMem(), nil
	}
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if cfg.NATSUser != "" {
		opts = append(opts, nats.UserInfo(cfg.NATSUser, cfg.NATSPassword))
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, err
	}
	return &natsPubSub{nc: nc}, nil
}

type natsPubSub struct {
	nc *nats.Conn
}

func (p *natsPubSub) Publish(ctx context.Context, subject string, data []byte) error {
	if p.nc.IsClosed() {
		return ErrConnectionClosed
	}
	return p.nc.Publish(subject, data)
}

func (p *natsPubSub) Stream(ctx context.Context, subject string, ch chan<- []byte) (Subscription, error) {
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case ch <- msg.Data:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (p *natsPubSub) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	msg, err := p.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrRequestTimeout
		}
		return nil, err
	}
	return msg.Data, nil
}

func (p *natsPubSub) Serve(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	if p.nc.IsClosed() {
		return nil, ErrConnectionClosed
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		reply, err := handler(ctx, msg.Data)
		if err != nil {
			return
		}
		_ = msg.Respond(reply)
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return &natsSubscription{sub: sub}, nil
}

func (p *natsPubSub) Close() error {
	p.nc.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

var _ Messenger = (*natsPubSub)(nil)
