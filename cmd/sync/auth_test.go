package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/creatorsync/internal/config"
	"github.com/peteski22/creatorsync/internal/storage"
)

func TestGenerateOAuthState(t *testing.T) {
	t.Parallel()

	a, err := generateOAuthState()
	require.NoError(t, err)
	b, err := generateOAuthState()
	require.NoError(t, err)

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestWriteCallbackResponse(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	writeCallbackResponse(w, "Test Title", "<script>alert(1)</script>")

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "<h1>Test Title</h1>")
	require.Contains(t, body, "&lt;script&gt;")
	require.NotContains(t, body, "<script>")
	require.Contains(t, body, "You can close this window.")
}

func TestBrowserCommand(t *testing.T) {
	t.Parallel()

	testURL := "https://example.com/auth"
	name, args := browserCommand(testURL)

	require.NotEmpty(t, name)
	require.Contains(t, args, testURL)
}

func TestStartOAuthCallbackServer(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		query    string
		wantCode string
		wantErr  string
	}{
		"successful authorization callback": {
			query:    "?code=test-auth-code&state=expected",
			wantCode: "test-auth-code",
		},
		"error callback": {
			query:   "?error=access_denied&error_description=User%20denied%20access",
			wantErr: "access_denied: User denied access",
		},
		"missing code callback": {
			query:   "?state=expected",
			wantErr: "no authorization code",
		},
		"state mismatch": {
			query:   "?code=test-auth-code&state=forged",
			wantErr: "state mismatch",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			codeChan := make(chan string, 1)
			errChan := make(chan error, 1)

			server, port, err := startOAuthCallbackServer("localhost:0", codeChan, errChan, "expected")
			require.NoError(t, err)
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = server.Shutdown(ctx)
			})

			resp, err := http.Get(fmt.Sprintf("http://localhost:%d%s%s", port, callbackPath, tc.query))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			select {
			case code := <-codeChan:
				require.Empty(t, tc.wantErr, "unexpected code received")
				require.Equal(t, tc.wantCode, code)
			case err := <-errChan:
				require.NotEmpty(t, tc.wantErr, "unexpected error: %v", err)
				require.Contains(t, err.Error(), tc.wantErr)
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for callback")
			}
		})
	}
}

// newTokenServer fakes the platform token endpoint, accepting a single authorization code.
func newTokenServer(t *testing.T, refreshToken string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")

		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "The authorization code has expired",
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-token-xyz",
			"expires_in":    3600,
			"refresh_token": refreshToken,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// callbackWith returns an Open func that answers the consent page with the given code.
func callbackWith(code string) func(string) error {
	return func(authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		query := parsed.Query()

		callback, err := url.Parse(query.Get("redirect_uri"))
		if err != nil {
			return err
		}
		params := url.Values{"code": {code}, "state": {query.Get("state")}}
		callback.RawQuery = params.Encode()

		go func() {
			resp, err := http.Get(callback.String())
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
		return nil
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		code         string
		refreshToken string
		open         func(code string) func(string) error
		wantErr      string
	}{
		"saves refresh token": {
			code:         "good-code",
			refreshToken: "refresh-abc",
			open:         callbackWith,
		},
		"rejected code": {
			code:         "stale-code",
			refreshToken: "refresh-abc",
			open:         callbackWith,
			wantErr:      "invalid_grant",
		},
		"missing refresh token": {
			code:    "good-code",
			open:    callbackWith,
			wantErr: "did not include a refresh token",
		},
		"browser fails and nobody answers": {
			code: "good-code",
			open: func(string) func(string) error {
				return func(string) error { return errors.New("no display") }
			},
			wantErr: "timed out",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tokenServer := newTokenServer(t, tc.refreshToken)
			tokenDir := t.TempDir()
			cfg := &config.LocalConfig{
				Platform: config.Platform{
					AuthURL:      "https://auth.example.test/authorize",
					ClientID:     "client-id",
					ClientSecret: "client-secret",
					Timeout:      5 * time.Second,
					TokenURL:     tokenServer.URL,
				},
				TokenDir: tokenDir,
			}

			var out bytes.Buffer
			err := authorize(context.Background(), cfg, authOptions{
				CreatorID:  "creator-1",
				ListenAddr: "localhost:0",
				Open:       tc.open(tc.code),
				Timeout:    2 * time.Second,
			}, &out)

			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				_, statErr := os.Stat(filepath.Join(tokenDir, "creator-1.token"))
				require.True(t, os.IsNotExist(statErr))
				return
			}

			require.NoError(t, err)
			require.Contains(t, out.String(), "https://auth.example.test/authorize?")
			require.Contains(t, out.String(), "Authorization successful!")

			store, err := storage.NewFileTokenStore(tokenDir)
			require.NoError(t, err)
			saved, err := store.RefreshToken(context.Background(), "creator-1")
			require.NoError(t, err)
			require.Equal(t, tc.refreshToken, saved)
		})
	}
}

func TestRunAuth_RequiresCreator(t *testing.T) {
	t.Parallel()

	err := runAuth(context.Background(), nil, &bytes.Buffer{})

	require.ErrorContains(t, err, "--creator is required")
}
