package registryservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/probe"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
)

var ErrInvalidEndpoint = errors.New("invalid endpoint data")

type Service interface {
	List(ctx context.Context) ([]*runtimetypes.Endpoint, error)
	// Upsert registers or replaces an endpoint and appends an add/update
	// entry to the registry change log. Returns true when the endpoint
	// was newly created.
	Upsert(ctx context.Context, endpoint *runtimetypes.Endpoint) (bool, error)
	// Latest resolves the routing candidate per the active-preferred,
	// most-recently-updated rule. On an empty registry it returns the
	// configured default URL and a nil item.
	Latest(ctx context.Context) (string, *runtimetypes.Endpoint, error)
	// ColabUpdate upserts an endpoint as active and records a
	// colab_update log entry. Used by tunneled notebooks announcing a
	// fresh public URL.
	ColabUpdate(ctx context.Context, id, url string) (*runtimetypes.Endpoint, error)
	Check(ctx context.Context, url string, timeout time.Duration) probe.Result
	Logs(ctx context.Context) ([]*runtimetypes.RegistryLogEntry, error)
}

type service struct {
	dbInstance libdb.DBManager
	client     *http.Client
	defaultURL string
}

func New(db libdb.DBManager, client *http.Client, defaultURL string) Service {
	if client == nil {
		client = http.DefaultClient
	}
	return &service{dbInstance: db, client: client, defaultURL: defaultURL}
}

func (s *service) List(ctx context.Context) ([]*runtimetypes.Endpoint, error) {
	tx := s.dbInstance.WithoutTransaction()
	return runtimetypes.New(tx).ListAllEndpoints(ctx)
}

func (s *service) Upsert(ctx context.Context, endpoint *runtimetypes.Endpoint) (bool, error) {
	if err := validate(endpoint); err != nil {
		return false, err
	}
	if endpoint.Status == "" {
		endpoint.Status = runtimetypes.StatusUnknown
	}

	return s.upsert(ctx, endpoint, "")
}

func (s *service) ColabUpdate(ctx context.Context, id, url string) (*runtimetypes.Endpoint, error) {
	endpoint := &runtimetypes.Endpoint{
		ID:     id,
		URL:    url,
		Status: runtimetypes.StatusActive,
	}
	if err := validate(endpoint); err != nil {
		return nil, err
	}

	if _, err := s.upsert(ctx, endpoint, runtimetypes.RegistryActionColabUpdate); err != nil {
		return nil, err
	}
	return endpoint, nil
}

// upsert runs the replace-or-create plus its log append in one transaction
// so the change log never disagrees with the registry.
func (s *service) upsert(ctx context.Context, endpoint *runtimetypes.Endpoint, action string) (bool, error) {
	tx, commit, release, err := s.dbInstance.WithTransaction(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = release()
	}()
	storeInstance := runtimetypes.New(tx)

	created := false
	existing, err := storeInstance.GetEndpoint(ctx, endpoint.ID)
	switch {
	case err == nil:
		if endpoint.Name == "" {
			endpoint.Name = existing.Name
		}
		endpoint.CreatedAt = existing.CreatedAt
		if err := storeInstance.UpdateEndpoint(ctx, endpoint); err != nil {
			return false, err
		}
	case errors.Is(err, libdb.ErrNotFound):
		created = true
		if err := storeInstance.CreateEndpoint(ctx, endpoint); err != nil {
			return false, err
		}
	default:
		return false, err
	}

	if action == "" {
		action = runtimetypes.RegistryActionUpdate
		if created {
			action = runtimetypes.RegistryActionAdd
		}
	}
	if err := storeInstance.AppendRegistryLog(ctx, &runtimetypes.RegistryLogEntry{
		Action: action,
		Ref:    endpoint.ID,
		Name:   endpoint.Name,
		URL:    endpoint.URL,
		Status: endpoint.Status,
	}); err != nil {
		return false, err
	}

	return created, commit(ctx)
}

func (s *service) Latest(ctx context.Context) (string, *runtimetypes.Endpoint, error) {
	tx := s.dbInstance.WithoutTransaction()
	endpoint, err := runtimetypes.New(tx).LatestEndpoint(ctx)
	if errors.Is(err, libdb.ErrNotFound) {
		return s.defaultURL, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return endpoint.URL, endpoint, nil
}

func (s *service) Check(ctx context.Context, url string, timeout time.Duration) probe.Result {
	return probe.Check(ctx, s.client, url, timeout)
}

func (s *service) Logs(ctx context.Context) ([]*runtimetypes.RegistryLogEntry, error) {
	tx := s.dbInstance.WithoutTransaction()
	return runtimetypes.New(tx).ListRegistryLogs(ctx, 0)
}

func validate(endpoint *runtimetypes.Endpoint) error {
	if endpoint.ID == "" {
		return fmt.Errorf("%w %w: id is required", apiframework.ErrBadRequest, ErrInvalidEndpoint)
	}
	if endpoint.URL == "" {
		return fmt.Errorf("%w %w: url is required", apiframework.ErrBadRequest, ErrInvalidEndpoint)
	}
	return nil
}
