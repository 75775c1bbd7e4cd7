// Package creator defines the internal entity model shared by the sync pipeline and its storage backends.
package creator

import (
	"errors"
	"time"
)

const (
	// TransactionTypeMessage is a paid direct message unlock.
	TransactionTypeMessage TransactionType = "message"

	// TransactionTypeOther is any transaction the platform reports with an unrecognised type.
	TransactionTypeOther TransactionType = "other"

	// TransactionTypePost is a paid post unlock.
	TransactionTypePost TransactionType = "post"

	// TransactionTypeStream is a paid live stream.
	TransactionTypeStream TransactionType = "stream"

	// TransactionTypeSubscription is a subscription payment or renewal.
	TransactionTypeSubscription TransactionType = "subscription"

	// TransactionTypeTip is a tip.
	TransactionTypeTip TransactionType = "tip"
)

// ErrNotFound is returned when a creator does not exist.
var ErrNotFound = errors.New("creator not found")

// Creator is a creator account managed by an agency.
type Creator struct {
	// CreatedAt is when the creator was added.
	CreatedAt time.Time `json:"createdAt"`

	// ExternalHandle is the creator's handle on the external platform.
	ExternalHandle string `json:"externalHandle"`

	// ID is the internal creator identifier.
	ID string `json:"id"`

	// LastSyncedAt is when the last successful sync finished, zero if never synced.
	LastSyncedAt time.Time `json:"lastSyncedAt"`

	// Metrics are the derived totals from the last stats fetch.
	Metrics Metrics `json:"metrics"`

	// Name is the display name.
	Name string `json:"name"`

	// UpdatedAt is when the creator was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fan is a subscriber of exactly one creator.
type Fan struct {
	// CreatorID is the creator this fan subscribes to.
	CreatorID string `json:"creatorId"`

	// DisplayName is the fan's display name on the platform.
	DisplayName string `json:"displayName"`

	// ExpiresAt is when the current subscription ends, zero if unknown.
	ExpiresAt time.Time `json:"expiresAt"`

	// ExternalID is the platform's fan identifier.
	ExternalID string `json:"externalId"`

	// ID is the internal fan identifier, see FanID.
	ID string `json:"id"`

	// IsActive reports whether the subscription is currently active.
	IsActive bool `json:"isActive"`

	// SubscribedAt is when the fan first subscribed.
	SubscribedAt time.Time `json:"subscribedAt"`

	// TotalSpent is the lifetime spend reported by the platform.
	TotalSpent float64 `json:"totalSpent"`

	// Username is the fan's platform username.
	Username string `json:"username"`
}

// Metrics holds the derived revenue and audience totals of a creator.
type Metrics struct {
	// ActiveFans is the number of currently active subscribers.
	ActiveFans int `json:"activeFans"`

	// TotalFans is the number of subscribers ever recorded.
	TotalFans int `json:"totalFans"`

	// TotalRevenue is the lifetime revenue.
	TotalRevenue float64 `json:"totalRevenue"`
}

// Transaction is a single payment from a fan to a creator.
type Transaction struct {
	// Amount is the gross amount.
	Amount float64 `json:"amount"`

	// CreatedAt is when the payment happened.
	CreatedAt time.Time `json:"createdAt"`

	// CreatorID is the receiving creator.
	CreatorID string `json:"creatorId"`

	// Currency is the three-letter currency code.
	Currency string `json:"currency"`

	// ExternalID is the platform's transaction identifier.
	ExternalID string `json:"externalId"`

	// FanID is the internal identifier of the paying fan.
	FanID string `json:"fanId"`

	// ID is the internal transaction identifier, see TransactionID.
	ID string `json:"id"`

	// Type is the kind of payment.
	Type TransactionType `json:"type"`
}

// TransactionType represents the kind of payment.
type TransactionType string
