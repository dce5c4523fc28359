package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/config"
	"casevault/internal/license"
)

const testPassword = "Correct-Horse-42"

type testApp struct {
	*Application
	priv     ed25519.PrivateKey
	verifier license.Verifier
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	verifier, err := license.NewEd25519Verifier(pub)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Paths.Root = t.TempDir()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.KDF = config.KDFConfig{MemoryKiB: 64, Iterations: 1, Parallelism: 1}
	cfg.Biometric.Enabled = false
	cfg.Session.CheckInterval = 20 * time.Millisecond

	a, err := NewApplication(cfg,
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithLicenseOptions(license.WithVerifier(verifier)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.OTelProviders.Shutdown(context.Background()) })
	return &testApp{Application: a, priv: priv, verifier: verifier}
}

func (ta *testApp) token(t *testing.T) string {
	t.Helper()
	tok, err := license.Mint(ta.priv, "CVLT", license.Claims{Subject: "Acme Legal", KeyID: "k-1"})
	require.NoError(t, err)
	return tok
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(data) > 0 && strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestApplicationWiring(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.Router)
	defer srv.Close()

	resp, body := call(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, body = call(t, srv, http.MethodGet, "/api/vault/status", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "LICENSE_REQUIRED", body["error_code"])

	resp, body = call(t, srv, http.MethodGet, "/api/license/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["activated"])

	resp, body = call(t, srv, http.MethodPost, "/api/license/activate", `{"token":"`+ta.token(t)+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Acme Legal", body["client"])

	resp, body = call(t, srv, http.MethodPost, "/api/vault/unlock", `{"password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.True(t, ta.Vault.Unlocked())

	resp, _ = call(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, srv, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplicationRejectsForeignHost(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.Router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Host = "casevault.example.com"
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMisdirectedRequest, resp.StatusCode)
}

func TestServeLocksVaultOnShutdown(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()

	_, err := ta.Services.Vault.Unlock(ctx, testPassword)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ta.Serve(runCtx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.False(t, ta.Vault.Unlocked())
}

func TestTamperedLicenseAtStartup(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.Router)
	resp, _ := call(t, srv, http.MethodPost, "/api/license/activate", `{"token":"`+ta.token(t)+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	srv.Close()

	// A surviving marker without its record is tampering.
	require.NoError(t, os.Remove(ta.Paths.LicenseRecordFile))

	again, err := NewApplication(ta.Config,
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithLicenseOptions(license.WithVerifier(ta.verifier)))
	require.NoError(t, err)
	defer again.OTelProviders.Shutdown(context.Background())

	assert.True(t, again.Services.License.Status(context.Background()).Tampered)
	assert.False(t, again.Vault.Unlocked())

	srv = httptest.NewServer(again.Router)
	defer srv.Close()
	resp, body := call(t, srv, http.MethodGet, "/api/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not_ready", body["status"])
}
