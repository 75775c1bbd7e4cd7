// Package platform provides a client for the external creator platform API.
package platform

import "time"

// Stats contains a creator's aggregate statistics as reported by the platform.
type Stats struct {
	// ActiveSubscribers is the number of currently active subscribers.
	ActiveSubscribers int `json:"activeSubscribers"`

	// Earnings holds the lifetime earnings breakdown.
	Earnings Earnings `json:"earnings"`

	// SubscribersCount is the total number of subscribers ever recorded.
	SubscribersCount int `json:"subscribersCount"`
}

// Earnings is the platform's earnings breakdown, in the creator's payout currency.
type Earnings struct {
	// Messages is revenue from paid messages.
	Messages float64 `json:"messages"`

	// Posts is revenue from paid posts.
	Posts float64 `json:"posts"`

	// Streams is revenue from live streams.
	Streams float64 `json:"streams"`

	// Subscriptions is revenue from subscriptions.
	Subscriptions float64 `json:"subscriptions"`

	// Tips is revenue from tips.
	Tips float64 `json:"tips"`

	// Total is the platform-reported lifetime total. Zero when the platform omits it.
	Total float64 `json:"total"`
}

// Subscriber represents a fan subscribed to a creator.
type Subscriber struct {
	// DisplayName is the subscriber's display name.
	DisplayName string `json:"name"`

	// ExpiredAt is when the current subscription ends.
	ExpiredAt *time.Time `json:"expiredAt"`

	// ID is the platform's subscriber identifier.
	ID string `json:"id"`

	// IsActive reports whether the subscription is active.
	IsActive bool `json:"subscribedIsActive"`

	// SubscribedAt is when the subscription started.
	SubscribedAt *time.Time `json:"subscribedAt"`

	// TotalSpent is the lifetime spend, as a decimal string.
	TotalSpent string `json:"totalSumm"`

	// Username is the subscriber's platform username.
	Username string `json:"username"`
}

// Transaction represents a single payment on the platform.
type Transaction struct {
	// Amount is the gross amount as a decimal string.
	Amount string `json:"amount"`

	// CreatedAt is when the payment happened.
	CreatedAt time.Time `json:"createdAt"`

	// Currency is the three-letter currency code.
	Currency string `json:"currency"`

	// Description is free text describing the payment.
	Description string `json:"description"`

	// FanID is the platform identifier of the paying fan.
	FanID string `json:"userId"`

	// ID is the platform's transaction identifier.
	ID string `json:"id"`

	// Type is the platform's payment type.
	Type TransactionType `json:"type"`
}

// TransactionType is the platform's payment type.
type TransactionType string

const (
	// TransactionTypeChatMessage is a paid chat message.
	TransactionTypeChatMessage TransactionType = "chat_message"

	// TransactionTypePost is a paid post.
	TransactionTypePost TransactionType = "post"

	// TransactionTypeRecurring is a subscription renewal.
	TransactionTypeRecurring TransactionType = "recurring_subscription"

	// TransactionTypeStream is a live stream payment.
	TransactionTypeStream TransactionType = "stream"

	// TransactionTypeSubscription is a first subscription payment.
	TransactionTypeSubscription TransactionType = "subscription"

	// TransactionTypeTip is a tip.
	TransactionTypeTip TransactionType = "tip"
)

// authResponse is returned by the identity endpoint.
type authResponse struct {
	Handle string `json:"username"`
	ID     string `json:"id"`
}

// subscribersResponse is a page of subscribers.
type subscribersResponse struct {
	Data       []Subscriber `json:"data"`
	NextCursor string       `json:"nextCursor"`
}

// transactionsResponse is a page of transactions.
type transactionsResponse struct {
	Data       []Transaction `json:"data"`
	NextCursor string        `json:"nextCursor"`
}
