package registryapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caonguyenthanhan/medruntime/internal/registryapi"
	libdb "github.com/caonguyenthanhan/medruntime/libdbexec"
	"github.com/caonguyenthanhan/medruntime/registryservice"
	"github.com/caonguyenthanhan/medruntime/runtimetypes"
	"github.com/stretchr/testify/require"
)

const defaultURL = "http://127.0.0.1:8000"

func setupRouter(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.TODO()
	dbManager, err := libdb.NewSQLiteDBManager(ctx, ":memory:", runtimetypes.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, dbManager.Close())
	})

	mux := http.NewServeMux()
	registryapi.AddServerRoutes(mux, registryservice.New(dbManager, nil, defaultURL))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestUnit_ServerRoutes_UpsertCreateThenReplace(t *testing.T) {
	srv := setupRouter(t)

	resp := postJSON(t, srv.URL+"/servers", map[string]string{
		"id":     "colab-ngrok",
		"url":    "https://x.ngrok-free.dev",
		"name":   "colab",
		"status": "active",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		OK   bool                  `json:"ok"`
		Item runtimetypes.Endpoint `json:"item"`
	}
	decodeInto(t, resp, &created)
	require.True(t, created.OK)
	require.Equal(t, "colab-ngrok", created.Item.ID)

	resp = postJSON(t, srv.URL+"/servers", map[string]string{
		"id":  "colab-ngrok",
		"url": "https://y.ngrok-free.dev",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	listResp, err := http.Get(srv.URL + "/servers")
	require.NoError(t, err)
	var list struct {
		Servers []runtimetypes.Endpoint `json:"servers"`
	}
	decodeInto(t, listResp, &list)
	require.Len(t, list.Servers, 1)
	require.Equal(t, "https://y.ngrok-free.dev", list.Servers[0].URL)
}

func TestUnit_ServerRoutes_UpsertMissingURLIs400(t *testing.T) {
	srv := setupRouter(t)

	resp := postJSON(t, srv.URL+"/servers", map[string]string{"id": "colab-ngrok"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeInto(t, resp, &envelope)
	require.NotEmpty(t, envelope.Error.Message)
}

func TestUnit_ServerRoutes_LatestDefaultsOnEmptyRegistry(t *testing.T) {
	srv := setupRouter(t)

	resp, err := http.Get(srv.URL + "/servers/latest")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var latest struct {
		URL  string                 `json:"url"`
		Item *runtimetypes.Endpoint `json:"item"`
	}
	decodeInto(t, resp, &latest)
	require.Equal(t, defaultURL, latest.URL)
	require.Nil(t, latest.Item)
}

func TestUnit_ServerRoutes_ColabUpdateActivatesAndLogs(t *testing.T) {
	srv := setupRouter(t)

	resp := postJSON(t, srv.URL+"/servers/colab-update", map[string]string{
		"id":  "colab-ngrok",
		"url": "https://fresh.ngrok-free.dev",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated struct {
		OK   bool                  `json:"ok"`
		Item runtimetypes.Endpoint `json:"item"`
	}
	decodeInto(t, resp, &updated)
	require.True(t, updated.OK)
	require.Equal(t, runtimetypes.StatusActive, updated.Item.Status)

	logsResp, err := http.Get(srv.URL + "/servers/logs")
	require.NoError(t, err)
	var logs struct {
		Logs []runtimetypes.RegistryLogEntry `json:"logs"`
	}
	decodeInto(t, logsResp, &logs)
	require.Len(t, logs.Logs, 1)
	require.Equal(t, runtimetypes.RegistryActionColabUpdate, logs.Logs[0].Action)

	latestResp, err := http.Get(srv.URL + "/servers/latest")
	require.NoError(t, err)
	var latest struct {
		URL string `json:"url"`
	}
	decodeInto(t, latestResp, &latest)
	require.Equal(t, "https://fresh.ngrok-free.dev", latest.URL)
}

func TestUnit_ServerRoutes_CheckReportsUnreachableAs200(t *testing.T) {
	srv := setupRouter(t)

	resp := postJSON(t, srv.URL+"/servers/check", map[string]any{
		"url":       "http://127.0.0.1:1",
		"timeoutMs": 200,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	decodeInto(t, resp, &result)
	require.False(t, result.OK)
	require.Equal(t, "unreachable", result.Error)
}

func TestUnit_ServerRoutes_CheckHonorsTimeoutSpellings(t *testing.T) {
	srv := setupRouter(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}

	// A tight timeoutMs cuts the probe off before the upstream answers.
	resp := postJSON(t, srv.URL+"/servers/check", map[string]any{
		"url":       slow.URL,
		"timeoutMs": 50,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &result)
	require.False(t, result.OK)
	require.Equal(t, "unreachable", result.Error)

	// The snake_case alias behaves identically.
	resp = postJSON(t, srv.URL+"/servers/check", map[string]any{
		"url":        slow.URL,
		"timeout_ms": 50,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &result)
	require.False(t, result.OK)

	// Without an override the default window is wide enough.
	resp = postJSON(t, srv.URL+"/servers/check", map[string]any{"url": slow.URL})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &result)
	require.True(t, result.OK)
}

func TestUnit_ServerRoutes_CheckMissingURLIs400(t *testing.T) {
	srv := setupRouter(t)

	resp := postJSON(t, srv.URL+"/servers/check", map[string]any{"timeoutMs": 200})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeInto(t, resp, &envelope)
	require.Contains(t, envelope.Error.Message, "url")
}
