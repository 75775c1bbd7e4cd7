package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientWithOptions(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		errMsg      string
		expectedURL string
		opts        []Option
		wantErr     bool
	}{
		"default base URL": {
			opts:        nil,
			expectedURL: "https://api.creatorplatform.com/v2",
			wantErr:     false,
		},
		"custom base URL": {
			opts:        []Option{WithBaseURL("https://custom.api.com")},
			expectedURL: "https://custom.api.com",
			wantErr:     false,
		},
		"invalid option - empty base URL": {
			opts:    []Option{WithBaseURL("")},
			wantErr: true,
			errMsg:  "base URL cannot be empty",
		},
		"invalid option - nil HTTP client": {
			opts:    []Option{WithHTTPClient(nil)},
			wantErr: true,
			errMsg:  "HTTP client cannot be nil",
		},
		"invalid option - negative rate limit": {
			opts:    []Option{WithRateLimit(-1, 1)},
			wantErr: true,
			errMsg:  "rate limit cannot be negative",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(tc.opts...)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, client)
			} else {
				require.NoError(t, err)
				require.NotNil(t, client)
				require.Equal(t, tc.expectedURL, client.baseURL)
			}
		})
	}
}

func TestClient_Authenticate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body      string
		errMsg    string
		status    int
		wantErr   bool
		wantValid bool
	}{
		"valid token": {
			status:    http.StatusOK,
			body:      `{"id":"u_1","username":"alice"}`,
			wantValid: true,
		},
		"token for another creator": {
			status:    http.StatusOK,
			body:      `{"id":"u_2","username":"bob"}`,
			wantValid: false,
		},
		"unauthorized": {
			status:    http.StatusUnauthorized,
			body:      `{"error":"invalid_token"}`,
			wantValid: false,
		},
		"forbidden": {
			status:    http.StatusForbidden,
			wantValid: false,
		},
		"server error": {
			status:  http.StatusInternalServerError,
			body:    "boom",
			wantErr: true,
			errMsg:  "unexpected status 500: boom",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/creators/alice/me", r.URL.Path)
				require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client, err := NewClient(WithBaseURL(server.URL))
			require.NoError(t, err)

			valid, err := client.Authenticate(context.Background(), "alice", "test-token")

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantValid, valid)
		})
	}
}

func TestClient_CreatorStats(t *testing.T) {
	t.Parallel()

	t.Run("returns stats", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/creators/alice/stats", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Stats{
				ActiveSubscribers: 7,
				Earnings:          Earnings{Total: 1234.5},
				SubscribersCount:  12,
			})
		}))
		defer server.Close()

		client, err := NewClient(WithBaseURL(server.URL))
		require.NoError(t, err)

		stats, err := client.CreatorStats(context.Background(), "alice", "token")

		require.NoError(t, err)
		require.NotNil(t, stats)
		require.Equal(t, 7, stats.ActiveSubscribers)
		require.Equal(t, 12, stats.SubscribersCount)
		require.InDelta(t, 1234.5, stats.Earnings.Total, 0.001)
	})

	t.Run("returns nil when not found", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client, err := NewClient(WithBaseURL(server.URL))
		require.NoError(t, err)

		stats, err := client.CreatorStats(context.Background(), "alice", "token")

		require.NoError(t, err)
		require.Nil(t, stats)
	})

	t.Run("unauthorized is a status error", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client, err := NewClient(WithBaseURL(server.URL))
		require.NoError(t, err)

		_, err = client.CreatorStats(context.Background(), "alice", "token")

		require.Error(t, err)
		require.True(t, IsUnauthorized(err))
	})
}

func TestClient_TransactionHistory(t *testing.T) {
	t.Parallel()

	t.Run("fetches multiple pages", func(t *testing.T) {
		t.Parallel()

		since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		server := newMockPagedServer(t, "/creators/alice/transactions", []transactionsResponse{
			{Data: []Transaction{{ID: "tx_1", Amount: "5.00"}}, NextCursor: "cursor_1"},
			{Data: []Transaction{{ID: "tx_2", Amount: "7.50"}}},
		}, func(t *testing.T, r *http.Request) {
			require.Equal(t, "2024-03-01T00:00:00Z", r.URL.Query().Get("since"))
			require.Equal(t, "100", r.URL.Query().Get("limit"))
		})
		defer server.Close()

		client, err := NewClient(WithBaseURL(server.URL))
		require.NoError(t, err)

		result, err := client.TransactionHistory(context.Background(), "alice", "token", since)

		require.NoError(t, err)
		require.Len(t, result, 2)
		require.Equal(t, "tx_1", result[0].ID)
		require.Equal(t, "tx_2", result[1].ID)
	})

	t.Run("returns error on API failure", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}))
		defer server.Close()

		client, err := NewClient(WithBaseURL(server.URL))
		require.NoError(t, err)

		result, err := client.TransactionHistory(context.Background(), "alice", "token", time.Now())

		require.Error(t, err)
		require.Nil(t, result)
		require.Contains(t, err.Error(), "unexpected status 502")
	})
}

func TestClient_Subscribers(t *testing.T) {
	t.Parallel()

	server := newMockPagedServer(t, "/creators/alice/subscribers", []subscribersResponse{
		{Data: []Subscriber{{ID: "fan_1"}, {ID: "fan_2"}}, NextCursor: "next"},
		{Data: []Subscriber{{ID: "fan_3"}}},
	}, nil)
	defer server.Close()

	client, err := NewClient(WithBaseURL(server.URL))
	require.NoError(t, err)

	result, err := client.Subscribers(context.Background(), "alice", "token")

	require.NoError(t, err)
	require.Len(t, result, 3)
	require.Equal(t, "fan_3", result[2].ID)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"id":"u_1","username":"alice"}`))
	}))
	defer server.Close()

	client, err := NewClient(WithBaseURL(server.URL), WithRateLimit(0.001, 1))
	require.NoError(t, err)

	// The first call consumes the only token in the bucket.
	_, err = client.Authenticate(context.Background(), "alice", "token")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Authenticate(ctx, "alice", "token")

	require.Error(t, err)
	require.Contains(t, err.Error(), "waiting for rate limiter")
	require.Equal(t, int32(1), calls.Load())
}

// newMockPagedServer serves pages in order, following the nextCursor chain.
func newMockPagedServer[T any](
	t *testing.T,
	path string,
	pages []T,
	check func(t *testing.T, r *http.Request),
) *httptest.Server {
	t.Helper()

	var page atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, path, r.URL.Path)
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		if check != nil {
			check(t, r)
		}

		idx := int(page.Add(1)) - 1
		if idx > 0 {
			require.NotEmpty(t, r.URL.Query().Get("cursor"))
		}
		if idx >= len(pages) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pages[idx])
	}))
}
