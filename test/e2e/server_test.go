package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/cache"
	"github.com/sundayezeilo/linkshare/internal/config"
	"github.com/sundayezeilo/linkshare/internal/db/migrations"
	"github.com/sundayezeilo/linkshare/internal/links"
	"github.com/sundayezeilo/linkshare/internal/notify"
	"github.com/sundayezeilo/linkshare/internal/preview"
	"github.com/sundayezeilo/linkshare/internal/server"
	"github.com/sundayezeilo/linkshare/internal/worker"
)

const (
	issuer      = "https://id.example.com"
	jwtSecret   = "e2e-signing-secret-0123456789abcdef"
	adminSecret = "e2e-admin-secret-0123456789"
)

// testApp holds the application components for e2e testing
type testApp struct {
	http    *httptest.Server
	dbPool  *pgxpool.Pool
	clock   *clock
	mail    *mailbox
	workers *worker.Pool
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mailbox collects messages instead of talking to an SMTP relay.
type mailbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (m *mailbox) Send(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mailbox) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type staticSource struct{}

func (staticSource) Fetch(ctx context.Context, rawURL string) (preview.Preview, error) {
	return preview.Preview{Title: "Example Domain", Description: "An example page"}, nil
}

// setupTestApp creates a test application with a real database
func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	require.NoError(t, err)
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2

	dbPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err)
	t.Cleanup(dbPool.Close)
	require.NoError(t, dbPool.Ping(ctx))
	require.NoError(t, migrations.Up(dbPool))

	logger := setupTestLogger()
	clk := &clock{now: time.Now().UTC()}
	mail := &mailbox{}
	kv := cache.NewMemory(nil)

	workers := worker.New(worker.Config{Workers: 2, QueueSize: 16, TaskTimeout: 5 * time.Second, Logger: logger})
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workers.Start(workerCtx)
	t.Cleanup(func() {
		stopWorkers()
		_ = workers.Stop(context.Background())
	})

	verifier, err := auth.NewVerifier(auth.VerifierConfig{Issuer: issuer, Secret: []byte(jwtSecret)})
	require.NoError(t, err)
	gate := auth.NewGate(auth.GateConfig{Tokens: verifier, AdminSecret: adminSecret, Logger: logger})

	repo := links.NewRepository(dbPool, nil)
	svc := links.NewService(repo, &links.ServiceConfig{
		Clock: clk.Now,
		Tasks: workers,
		Previews: preview.NewService(preview.ServiceConfig{
			Source: staticSource{},
			Cache:  kv,
			Logger: logger,
		}),
		Notifier: notify.NewDispatcher(notify.DispatcherConfig{
			Sender:  mail,
			BaseURL: "http://localhost:8080",
			Logger:  logger,
		}),
		Logger: logger,
	})
	handler := links.NewHandler(links.HandlerConfig{Service: svc, Logger: logger})

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			BaseURL:         "http://localhost:8080",
			ShutdownTimeout: 5 * time.Second,
		},
		App: config.AppConfig{Environment: "test", LogLevel: "error", Name: "linkshare-test", Version: "test"},
	}
	srv := server.New(cfg, logger, handler, gate, dbPool)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testApp{http: ts, dbPool: dbPool, clock: clk, mail: mail, workers: workers}
}

func (a *testApp) token(t *testing.T, sub, email string) string {
	t.Helper()
	claims := auth.Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (a *testApp) do(t *testing.T, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.http.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

var admin = map[string]string{auth.DefaultAdminHeader: adminSecret}

func TestHealthCheck(t *testing.T) {
	app := setupTestApp(t)

	status, body := app.do(t, http.MethodGet, "/x/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = app.do(t, http.MethodGet, "/x/ready", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
}

func TestLinkLifecycle_E2E(t *testing.T) {
	app := setupTestApp(t)
	alice := bearer(app.token(t, "alice", "alice@example.com"))
	bob := bearer(app.token(t, "bob", ""))

	status, created := app.do(t, http.MethodPost, "/links", map[string]string{
		"url":   "https://example.com/article",
		"title": "Article",
	}, alice)
	require.Equal(t, http.StatusCreated, status, "body: %v", created)
	assert.Equal(t, "alice", created["owner_id"])
	assert.EqualValues(t, 0, created["click_count"])
	assert.NotEmpty(t, created["editable_until"])
	id := created["id"].(string)

	assert.Eventually(t, func() bool { return app.mail.count() == 1 }, 5*time.Second, 20*time.Millisecond,
		"creation email should be delivered once")

	t.Run("anyone can read and click", func(t *testing.T) {
		for range 3 {
			status, _ := app.do(t, http.MethodPost, "/links/"+id+"/click", nil, nil)
			require.Equal(t, http.StatusNoContent, status)
		}
		status, got := app.do(t, http.MethodGet, "/links/"+id, nil, nil)
		require.Equal(t, http.StatusOK, status)
		assert.EqualValues(t, 3, got["click_count"])
	})

	t.Run("preview is enriched in the background", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			_, got := app.do(t, http.MethodGet, "/links/"+id, nil, nil)
			p, ok := got["preview"].(map[string]any)
			return ok && p["title"] == "Example Domain"
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("owner edits inside the window", func(t *testing.T) {
		status, got := app.do(t, http.MethodPatch, "/links/"+id, map[string]string{"title": "Renamed"}, alice)
		require.Equal(t, http.StatusOK, status, "body: %v", got)
		assert.Equal(t, "Renamed", got["title"])
		assert.Equal(t, "https://example.com/article", got["url"])
	})

	t.Run("url cannot change", func(t *testing.T) {
		status, got := app.do(t, http.MethodPatch, "/links/"+id, map[string]string{"url": "https://evil.example"}, alice)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_input", got["error"])
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		status, got := app.do(t, http.MethodPatch, "/links/"+id, map[string]string{"title": "Mine"}, bob)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "forbidden", got["error"])

		status, _ = app.do(t, http.MethodDelete, "/links/"+id, nil, bob)
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("owner is locked out after the window", func(t *testing.T) {
		app.clock.Advance(links.DefaultEditWindow + time.Second)

		status, got := app.do(t, http.MethodPatch, "/links/"+id, map[string]string{"title": "Late"}, alice)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "edit_window_expired", got["error"])
	})

	t.Run("admin bypasses ownership and window", func(t *testing.T) {
		status, got := app.do(t, http.MethodPatch, "/links/"+id, map[string]string{"description": "moderated"}, admin)
		require.Equal(t, http.StatusOK, status, "body: %v", got)
		assert.Equal(t, "moderated", got["description"])
		assert.Equal(t, "alice", got["owner_id"])
	})

	t.Run("admin lists every link", func(t *testing.T) {
		status, got := app.do(t, http.MethodGet, "/links?limit=10", nil, admin)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, got["links"], 1)
	})

	t.Run("delete then delete again", func(t *testing.T) {
		status, _ := app.do(t, http.MethodDelete, "/links/"+id, nil, admin)
		assert.Equal(t, http.StatusNoContent, status)

		status, got := app.do(t, http.MethodDelete, "/links/"+id, nil, admin)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", got["error"])

		status, _ = app.do(t, http.MethodGet, "/links/"+id, nil, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestCredentials_E2E(t *testing.T) {
	app := setupTestApp(t)
	body := map[string]string{"url": "https://example.com"}

	status, _ := app.do(t, http.MethodPost, "/links", body, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = app.do(t, http.MethodPost, "/links", body, admin)
	assert.Equal(t, http.StatusUnauthorized, status, "admin secret cannot create links")

	expired := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	status, _ = app.do(t, http.MethodPost, "/links", body, bearer(tok))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, got := app.do(t, http.MethodPost, "/links", map[string]string{"url": "ftp://example.com"}, bearer(app.token(t, "alice", "")))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", got["error"])
}

func TestConcurrentClicks_E2E(t *testing.T) {
	app := setupTestApp(t)
	alice := bearer(app.token(t, "alice", ""))

	status, created := app.do(t, http.MethodPost, "/links", map[string]string{"url": "https://example.com/hot"}, alice)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)

	const clicks = 25
	var wg sync.WaitGroup
	for range clicks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, app.http.URL+"/links/"+id+"/click", nil)
			resp, err := app.http.Client().Do(req)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	_, got := app.do(t, http.MethodGet, "/links/"+id, nil, nil)
	assert.EqualValues(t, clicks, got["click_count"])
}

func setupTestLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	})
	return slog.New(handler)
}
