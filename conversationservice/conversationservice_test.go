package conversationservice_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/caonguyenthanhan/medruntime/apiframework"
	"github.com/caonguyenthanhan/medruntime/conversationservice"
	"github.com/stretchr/testify/require"
)

func TestUnit_Conversations_PurgeDeletesEveryListedID(t *testing.T) {
	var mu sync.Mutex
	deleted := []string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/conversations":
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"conversations": []map[string]string{{"id": "a"}, {"id": "b"}, {"id": "c"}},
			})
		case r.Method == http.MethodDelete:
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := conversationservice.New(srv.Client(), srv.URL)
	result, err := svc.PurgeAll(context.Background(), "Bearer tok-1")
	require.NoError(t, err)
	require.Equal(t, 3, result.Deleted)
	require.Empty(t, result.Failed)
	require.ElementsMatch(t, []string{
		"/v1/conversations/a",
		"/v1/conversations/b",
		"/v1/conversations/c",
	}, deleted)
}

func TestUnit_Conversations_PurgeContinuesPastFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/conversations":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"conversations": []map[string]string{{"id": "ok-1"}, {"id": "broken"}, {"id": "ok-2"}},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/conversations/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := conversationservice.New(srv.Client(), srv.URL)
	result, err := svc.PurgeAll(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, result.Deleted)
	require.Equal(t, []string{"broken"}, result.Failed)
}

func TestUnit_Conversations_PurgeFailsWhenListingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := conversationservice.New(srv.Client(), srv.URL)
	_, err := svc.PurgeAll(context.Background(), "")
	require.ErrorIs(t, err, apiframework.ErrUpstreamUnreachable)
}
