package conversationservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/caonguyenthanhan/medruntime/apiframework"
)

// Result reports a purge run. Failed holds IDs whose delete call errored;
// the run itself continues past them.
type Result struct {
	Deleted int      `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
}

type Service interface {
	// PurgeAll lists every conversation on the upstream backend and
	// deletes them one by one, continuing on per-item errors.
	PurgeAll(ctx context.Context, bearer string) (*Result, error)
}

type service struct {
	client     *http.Client
	backendURL string
}

func New(client *http.Client, backendURL string) Service {
	if client == nil {
		client = http.DefaultClient
	}
	return &service{client: client, backendURL: strings.TrimRight(backendURL, "/")}
}

func (s *service) PurgeAll(ctx context.Context, bearer string) (*Result, error) {
	ids, err := s.listConversationIDs(ctx, bearer)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, id := range ids {
		if err := s.deleteConversation(ctx, id, bearer); err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Deleted++
	}
	return result, nil
}

func (s *service) listConversationIDs(ctx context.Context, bearer string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.backendURL+"/v1/conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apiframework.ErrUpstreamUnreachable, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: listing conversations: %w", apiframework.ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: listing conversations: upstream status %d", apiframework.ErrUpstreamUnreachable, resp.StatusCode)
	}

	var parsed struct {
		Conversations []struct {
			ID string `json:"id"`
		} `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding conversation list: %w", apiframework.ErrUpstreamUnreachable, err)
	}

	ids := make([]string, 0, len(parsed.Conversations))
	for _, c := range parsed.Conversations {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (s *service) deleteConversation(ctx context.Context, id, bearer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.backendURL+"/v1/conversations/"+id, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return nil
}
