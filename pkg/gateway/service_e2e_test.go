package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autoreply/pkg/bot"
	"autoreply/pkg/bus"
	"autoreply/pkg/config"
	"autoreply/pkg/metrics"
	"autoreply/pkg/rules"
	"autoreply/pkg/transport"
	"autoreply/pkg/transport/transporttest"

	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	svc       *Service
	server    *httptest.Server
	pool      *transporttest.Pool
	events    *bus.MessageBus
	rulesPath string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{
		pool:      &transporttest.Pool{},
		events:    bus.NewMessageBus(),
		rulesPath: filepath.Join(t.TempDir(), "rules.json"),
	}
	m := metrics.New()

	fileStore, err := rules.NewFileStore(f.rulesPath, discardLogger())
	require.NoError(t, err)
	store, err := rules.NewStore(fileStore, discardLogger())
	require.NoError(t, err)

	ctrl, err := bot.NewController(bot.Options{
		Store:     store,
		Factory:   f.pool.Factory(),
		Publisher: f.events,
		Metrics:   m,
		Log:       discardLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = ctrl.Run(ctx) }()

	f.svc, err = NewService(config.GatewayConfig{Host: "127.0.0.1"}, ctrl, f.events, m, discardLogger())
	require.NoError(t, err)
	f.server = httptest.NewServer(f.svc.Handler())

	t.Cleanup(func() {
		f.server.Close()
		cancel()
		<-ctrl.Done()
		f.events.Close()
	})

	return f
}

func (f *gatewayFixture) do(t *testing.T, method string, path string, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	request, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := f.server.Client().Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	return response.StatusCode, payload
}

func TestGatewayReadyzFollowsConnectionState(t *testing.T) {
	f := newGatewayFixture(t)

	code, _ := f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, payload := f.do(t, http.MethodPost, "/api/bot/start", "")
	require.Equal(t, http.StatusAccepted, code)
	var status bot.Status
	require.NoError(t, json.Unmarshal(payload, &status))
	require.Equal(t, "fake", status.Transport)

	f.pool.Last().Emit(transport.Event{Kind: transport.EventReady, Detail: "connected as bot"})

	code, payload = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, code)
	var ready statusResponse
	require.NoError(t, json.Unmarshal(payload, &ready))
	require.Equal(t, "ready", ready.Status)
	require.Equal(t, "connected", ready.Bot.State.String())

	code, payload = f.do(t, http.MethodPost, "/api/bot/pause", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"paused":true}`, string(payload))

	code, _ = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, code, "paused bot stays ready")

	code, _ = f.do(t, http.MethodPost, "/api/bot/stop", "")
	require.Equal(t, http.StatusAccepted, code)
	require.True(t, f.pool.Last().Destroyed())

	code, _ = f.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestGatewayPauseRejectedWhileDisconnected(t *testing.T) {
	f := newGatewayFixture(t)

	code, payload := f.do(t, http.MethodPost, "/api/bot/pause", "")
	require.Equal(t, http.StatusConflict, code)
	require.Contains(t, string(payload), "error")
}

func TestGatewayRuleCRUD(t *testing.T) {
	f := newGatewayFixture(t)

	code, payload := f.do(t, http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"rules":[]}`, string(payload))

	code, payload = f.do(t, http.MethodPost, "/api/rules", `{"triggers":["Hello"],"response":"hi there"}`)
	require.Equal(t, http.StatusOK, code)
	var result bot.RuleResult
	require.NoError(t, json.Unmarshal(payload, &result))
	require.True(t, result.Success)
	require.Len(t, result.Rules, 1)
	require.Equal(t, []string{"hello"}, result.Rules[0].Triggers)

	code, _ = f.do(t, http.MethodPut, "/api/rules/0", `{"triggers":["price"],"lead_qualifier":true,"forward_target":"5511888@c.us"}`)
	require.Equal(t, http.StatusOK, code)

	code, payload = f.do(t, http.MethodPost, "/api/rules", `{"triggers":[],"response":"x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.NoError(t, json.Unmarshal(payload, &result))
	require.False(t, result.Success)
	require.Len(t, result.Rules, 1, "rejected rule leaves the set unchanged")

	code, _ = f.do(t, http.MethodPut, "/api/rules/7", `{"triggers":["a"],"response":"b"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.do(t, http.MethodPut, "/api/rules/abc", `{"triggers":["a"],"response":"b"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/rules", `{"triggers":["a"],"reply":"b"}`)
	require.Equal(t, http.StatusBadRequest, code, "unknown fields are rejected")

	content, err := os.ReadFile(f.rulesPath)
	require.NoError(t, err)
	require.Contains(t, string(content), "5511888@c.us")

	code, payload = f.do(t, http.MethodDelete, "/api/rules/0", "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(payload, &result))
	require.True(t, result.Success)
	require.Empty(t, result.Rules)

	code, _ = f.do(t, http.MethodDelete, "/api/rules/0", "")
	require.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestGatewayEventStream(t *testing.T) {
	f := newGatewayFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/events", nil)
	require.NoError(t, err)
	response, err := f.server.Client().Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, "text/event-stream", response.Header.Get("Content-Type"))

	code, _ := f.do(t, http.MethodPost, "/api/rules/reload", "")
	require.Equal(t, http.StatusOK, code)

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(response.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before rules_changed arrived")
			if line == "event: "+string(bus.EventRulesChanged) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for rules_changed event")
		}
	}
}

func TestGatewayMetricsEndpoint(t *testing.T) {
	f := newGatewayFixture(t)

	code, payload := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(payload), "autoreply_rules_active")
}

func TestGatewayServiceRunServesHealth(t *testing.T) {
	f := newGatewayFixture(t)

	port := freeTCPPort(t)
	f.svc.cfg = config.GatewayConfig{Host: "127.0.0.1", Port: port}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.svc.Run(ctx)
	}()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, healthURL, 2*time.Second))

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for service run to exit")
	}
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
