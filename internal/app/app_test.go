package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/creatorsync/internal/config"
	"github.com/peteski22/creatorsync/internal/creator"
	"github.com/peteski22/creatorsync/internal/storage"
	"github.com/peteski22/creatorsync/internal/sync"
)

// newPlatformServer fakes the platform API and token endpoint for the creator "alice".
func newPlatformServer(t *testing.T) *httptest.Server {
	t.Helper()

	writeJSON := func(w http.ResponseWriter, body string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, `{"error":"invalid_grant","error_description":"unknown refresh token"}`)
			return
		}
		writeJSON(w, `{"access_token":"access-1","expires_in":3600,"token_type":"Bearer"}`)
	})
	mux.HandleFunc("GET /creators/alice/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, `{"id":"u1","username":"alice"}`)
	})
	mux.HandleFunc("GET /creators/alice/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"activeSubscribers":1,"subscribersCount":2,"earnings":{"tips":5,"subscriptions":20,"total":25}}`)
	})
	mux.HandleFunc("GET /creators/alice/subscribers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"data":[
			{"id":"fan_a","username":"fan_a","name":"Fan A","subscribedIsActive":true,"totalSumm":"20.00"},
			{"id":"fan_b","username":"fan_b","name":"Fan B","subscribedIsActive":false,"totalSumm":"5.00"}
		]}`)
	})
	mux.HandleFunc("GET /creators/alice/transactions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, `{"data":[
			{"id":"tx_1","userId":"fan_a","amount":"20.00","currency":"USD","type":"subscription","createdAt":"2024-05-01T10:00:00Z"},
			{"id":"tx_2","userId":"fan_b","amount":"5.00","currency":"USD","type":"tip","createdAt":"2024-05-02T10:00:00Z"},
			{"id":"tx_3","userId":"fan_gone","amount":"1.00","currency":"USD","type":"tip","createdAt":"2024-05-03T10:00:00Z"}
		]}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testSettings(t *testing.T, platformURL string) *config.Settings {
	t.Helper()

	return &config.Settings{
		LogLevel: "info",
		Platform: config.Platform{
			AuthURL:      platformURL + "/oauth/authorize",
			BaseURL:      platformURL,
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RateLimit:    100,
			Timeout:      5 * time.Second,
			TokenURL:     platformURL + "/oauth/token",
		},
		Server: config.Server{SyncRateLimit: 0},
		Storage: config.Storage{
			Backend: config.StorageMemory,
		},
		Sync: config.Sync{
			InitialWindowDays: 90,
			RunTimeout:        time.Minute,
			StaleAfter:        sync.DefaultStaleAfter,
			StatusBackend:     config.StatusMemory,
		},
		Tokens: config.Tokens{
			Backend: config.TokenFile,
			Dir:     t.TempDir(),
		},
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		mutate func(s *config.Settings)
		errMsg string
	}{
		"unsupported storage": {
			mutate: func(s *config.Settings) { s.Storage.Backend = "postgres" },
			errMsg: `unsupported storage backend "postgres"`,
		},
		"unsupported status": {
			mutate: func(s *config.Settings) { s.Sync.StatusBackend = "memcached" },
			errMsg: `unsupported status backend "memcached"`,
		},
		"unsupported tokens": {
			mutate: func(s *config.Settings) { s.Tokens.Backend = "vault" },
			errMsg: `unsupported token backend "vault"`,
		},
		"unreachable redis": {
			mutate: func(s *config.Settings) {
				s.Sync.StatusBackend = config.StatusRedis
				s.Redis.Addr = "127.0.0.1:1"
			},
			errMsg: "connecting to redis",
		},
		"missing client secret": {
			mutate: func(s *config.Settings) { s.Platform.ClientSecret = "" },
			errMsg: "client secret is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			settings := testSettings(t, "http://127.0.0.1:1")
			tc.mutate(settings)

			a, err := New(context.Background(), settings, nil)

			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
			require.Nil(t, a)
		})
	}

	_, err := New(context.Background(), nil, nil)
	require.ErrorContains(t, err, "settings are required")
}

func TestNew_Backends(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	tests := map[string]struct {
		mutate     func(t *testing.T, s *config.Settings)
		wantChecks []string
	}{
		"memory": {
			mutate:     func(*testing.T, *config.Settings) {},
			wantChecks: []string{},
		},
		"sqlite and redis": {
			mutate: func(t *testing.T, s *config.Settings) {
				s.Storage.Backend = config.StorageSQLite
				s.Storage.SQLitePath = t.TempDir() + "/nested/creatorsync.db"
				s.Sync.StatusBackend = config.StatusRedis
				s.Redis.Addr = mr.Addr()
			},
			wantChecks: []string{"database", "redis"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			settings := testSettings(t, "http://127.0.0.1:1")
			tc.mutate(t, settings)

			a, err := New(context.Background(), settings, nil)
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, a.Close()) })

			require.NotNil(t, a.Runner)
			require.NotNil(t, a.Tokens)

			checks := make([]string, 0, len(a.checks))
			for name, check := range a.checks {
				require.NoError(t, check(context.Background()))
				checks = append(checks, name)
			}
			require.ElementsMatch(t, tc.wantChecks, checks)
		})
	}
}

func TestApp_SyncOverHTTP(t *testing.T) {
	t.Parallel()

	srv := newPlatformServer(t)
	settings := testSettings(t, srv.URL)
	ctx := context.Background()

	a, err := New(ctx, settings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Runner.Shutdown(context.Background()) })

	require.NoError(t, a.Datastore.SaveCreator(ctx, creator.Creator{ID: "creator-1", Name: "Alice", ExternalHandle: "alice"}))
	tokens, err := storage.NewFileTokenStore(settings.Tokens.Dir)
	require.NoError(t, err)
	require.NoError(t, tokens.SaveRefreshToken(ctx, "creator-1", "refresh-1"))

	h, err := a.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/creators/creator-1/sync", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		Mode    string `json:"mode"`
		RunID   string `json:"runId"`
		Success bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.True(t, started.Success)
	require.Equal(t, "initial", started.Mode)

	var progress sync.Progress
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/creators/creator-1/sync-status", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		progress = sync.Progress{}
		if err := json.Unmarshal(rec.Body.Bytes(), &progress); err != nil {
			return false
		}
		return progress.Stage.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, sync.StageCompleted, progress.Stage)
	require.Equal(t, 100, progress.Percent)
	require.Equal(t, started.RunID, progress.RunID)
	require.Equal(t, &sync.ItemsSynced{Fans: 2, Transactions: 2}, progress.ItemsSynced)

	store, ok := a.Datastore.(*storage.MemoryStore)
	require.True(t, ok)
	fans, err := store.Fans(ctx, "creator-1")
	require.NoError(t, err)
	require.Len(t, fans, 2)

	c, err := a.Datastore.Creator(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, 2, c.Metrics.TotalFans)
	require.Equal(t, 1, c.Metrics.ActiveFans)
	require.InDelta(t, 25.0, c.Metrics.TotalRevenue, 0.001)

	last, err := a.Datastore.LastSyncTime(ctx, "creator-1")
	require.NoError(t, err)
	require.False(t, last.IsZero())

	// A second start now resumes incrementally.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/creators/creator-1/sync", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"mode":"incremental"`)
}

func TestApp_UnknownCreatorAndMissingToken(t *testing.T) {
	t.Parallel()

	srv := newPlatformServer(t)
	settings := testSettings(t, srv.URL)
	ctx := context.Background()

	a, err := New(ctx, settings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Runner.Shutdown(context.Background()) })

	require.NoError(t, a.Datastore.SaveCreator(ctx, creator.Creator{ID: "creator-2", ExternalHandle: "bob"}))

	h, err := a.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/creators/nobody/sync", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/creators/creator-2/sync", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/creators/creator-2/sync-status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"stage":"pending","message":"Not yet synced","progress":0}`, rec.Body.String())
}
