package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/creatorsync/internal/creator"
)

func TestStats_Metrics(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		stats *Stats
		want  creator.Metrics
	}{
		"nil stats": {
			stats: nil,
			want:  creator.Metrics{},
		},
		"platform total": {
			stats: &Stats{
				ActiveSubscribers: 3,
				Earnings:          Earnings{Subscriptions: 10, Tips: 5, Total: 100},
				SubscribersCount:  9,
			},
			want: creator.Metrics{ActiveFans: 3, TotalFans: 9, TotalRevenue: 100},
		},
		"summed breakdown when total missing": {
			stats: &Stats{
				ActiveSubscribers: 1,
				Earnings: Earnings{
					Messages:      1.5,
					Posts:         2,
					Streams:       3,
					Subscriptions: 10,
					Tips:          4,
				},
				SubscribersCount: 2,
			},
			want: creator.Metrics{ActiveFans: 1, TotalFans: 2, TotalRevenue: 20.5},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := tc.stats.Metrics()

			require.Equal(t, tc.want.ActiveFans, got.ActiveFans)
			require.Equal(t, tc.want.TotalFans, got.TotalFans)
			require.InDelta(t, tc.want.TotalRevenue, got.TotalRevenue, 0.0001)
		})
	}
}

func TestSubscriber_ToDomainType(t *testing.T) {
	t.Parallel()

	subscribedAt := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	expiredAt := subscribedAt.AddDate(0, 1, 0)

	tests := map[string]struct {
		errMsg     string
		subscriber *Subscriber
		want       *creator.Fan
		wantErr    bool
	}{
		"nil subscriber": {
			subscriber: nil,
			want:       nil,
		},
		"full subscriber": {
			subscriber: &Subscriber{
				DisplayName:  "Alice",
				ExpiredAt:    &expiredAt,
				ID:           "fan_1",
				IsActive:     true,
				SubscribedAt: &subscribedAt,
				TotalSpent:   "42.50",
				Username:     "alice",
			},
			want: &creator.Fan{
				CreatorID:    "creator-1",
				DisplayName:  "Alice",
				ExpiresAt:    expiredAt,
				ExternalID:   "fan_1",
				ID:           creator.FanID("creator-1", "fan_1"),
				IsActive:     true,
				SubscribedAt: subscribedAt,
				TotalSpent:   42.5,
				Username:     "alice",
			},
		},
		"empty total spent": {
			subscriber: &Subscriber{ID: "fan_2", Username: "bob"},
			want: &creator.Fan{
				CreatorID:  "creator-1",
				ExternalID: "fan_2",
				ID:         creator.FanID("creator-1", "fan_2"),
				Username:   "bob",
			},
		},
		"missing ID": {
			subscriber: &Subscriber{Username: "ghost"},
			wantErr:    true,
			errMsg:     "missing platform ID",
		},
		"invalid total spent": {
			subscriber: &Subscriber{ID: "fan_3", TotalSpent: "lots"},
			wantErr:    true,
			errMsg:     "parsing total spent",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := tc.subscriber.ToDomainType("creator-1")

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestTransaction_ToDomainType(t *testing.T) {
	t.Parallel()

	createdAt := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		errMsg      string
		transaction *Transaction
		want        *creator.Transaction
		wantErr     bool
	}{
		"nil transaction": {
			transaction: nil,
			want:        nil,
		},
		"tip": {
			transaction: &Transaction{
				Amount:    "12.00",
				CreatedAt: createdAt,
				Currency:  "usd",
				FanID:     "fan_1",
				ID:        "tx_1",
				Type:      TransactionTypeTip,
			},
			want: &creator.Transaction{
				Amount:     12,
				CreatedAt:  createdAt,
				CreatorID:  "creator-1",
				Currency:   "USD",
				ExternalID: "tx_1",
				FanID:      "internal-fan",
				ID:         creator.TransactionID("tx_1"),
				Type:       creator.TransactionTypeTip,
			},
		},
		"missing ID": {
			transaction: &Transaction{Amount: "1.00"},
			wantErr:     true,
			errMsg:      "missing platform ID",
		},
		"invalid amount": {
			transaction: &Transaction{ID: "tx_2", Amount: "abc"},
			wantErr:     true,
			errMsg:      "parsing transaction amount abc",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := tc.transaction.ToDomainType("creator-1", "internal-fan")

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestTransactionType_ToDomainType(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		tt   TransactionType
		want creator.TransactionType
	}{
		"subscription":           {tt: TransactionTypeSubscription, want: creator.TransactionTypeSubscription},
		"recurring subscription": {tt: TransactionTypeRecurring, want: creator.TransactionTypeSubscription},
		"tip":                    {tt: TransactionTypeTip, want: creator.TransactionTypeTip},
		"chat message":           {tt: TransactionTypeChatMessage, want: creator.TransactionTypeMessage},
		"post":                   {tt: TransactionTypePost, want: creator.TransactionTypePost},
		"stream":                 {tt: TransactionTypeStream, want: creator.TransactionTypeStream},
		"unknown":                {tt: TransactionType("referral"), want: creator.TransactionTypeOther},
		"empty":                  {tt: "", want: creator.TransactionTypeOther},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.want, tc.tt.ToDomainType())
		})
	}
}
