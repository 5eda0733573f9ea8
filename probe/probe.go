package probe

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds both probe attempts together.
const DefaultTimeout = 3000 * time.Millisecond

// Result is the outcome of a health check. It is always well-formed; probe
// failures are data, not Go errors.
type Result struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Check probes url with a GET to {url}/health and, when that attempt fails
// or answers non-2xx, once more against the bare url. Tunneled dev servers
// frequently lack a /health route, so the second attempt avoids false
// negatives; the shared timeout caps the combined latency. Timeouts and
// network errors collapse to {ok:false, error:"unreachable"}.
func Check(ctx context.Context, client *http.Client, url string, timeout time.Duration) Result {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base := strings.TrimRight(url, "/")
	status, err := attempt(ctx, client, base+"/health")
	if err == nil && status >= 200 && status < 300 {
		return Result{OK: true, Status: status}
	}

	status, err = attempt(ctx, client, base)
	if err != nil {
		return Result{OK: false, Error: "unreachable"}
	}
	return Result{OK: status >= 200 && status < 300, Status: status}
}

func attempt(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("ngrok-skip-browser-warning", "true")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
