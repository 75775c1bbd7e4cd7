package platform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peteski22/creatorsync/internal/creator"
)

// ErrMissingID is returned when a platform record has no identifier.
var ErrMissingID = errors.New("missing platform ID")

// Metrics derives the creator metrics from platform statistics.
// The earnings breakdown is summed when the platform omits the total.
func (s *Stats) Metrics() creator.Metrics {
	if s == nil {
		return creator.Metrics{}
	}

	revenue := s.Earnings.Total
	if revenue == 0 {
		e := s.Earnings
		revenue = e.Messages + e.Posts + e.Streams + e.Subscriptions + e.Tips
	}

	return creator.Metrics{
		ActiveFans:   s.ActiveSubscribers,
		TotalFans:    s.SubscribersCount,
		TotalRevenue: revenue,
	}
}

// ToDomainType converts a Subscriber to a Fan of the given creator.
func (s *Subscriber) ToDomainType(creatorID string) (*creator.Fan, error) {
	if s == nil {
		return nil, nil
	}
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("mapping subscriber %q: %w", s.Username, ErrMissingID)
	}

	fan := &creator.Fan{
		CreatorID:   creatorID,
		DisplayName: s.DisplayName,
		ExternalID:  s.ID,
		ID:          creator.FanID(creatorID, s.ID),
		IsActive:    s.IsActive,
		Username:    s.Username,
	}

	if s.SubscribedAt != nil {
		fan.SubscribedAt = s.SubscribedAt.UTC()
	}
	if s.ExpiredAt != nil {
		fan.ExpiresAt = s.ExpiredAt.UTC()
	}

	// Platform totals are decimal strings; an empty total means nothing spent yet.
	if s.TotalSpent != "" {
		spent, err := strconv.ParseFloat(s.TotalSpent, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing total spent %s for subscriber %s: %w", s.TotalSpent, s.ID, err)
		}
		fan.TotalSpent = spent
	}

	return fan, nil
}

// ToDomainType converts a Transaction to the internal representation, attributed to fanID.
func (t *Transaction) ToDomainType(creatorID string, fanID string) (*creator.Transaction, error) {
	if t == nil {
		return nil, nil
	}
	if strings.TrimSpace(t.ID) == "" {
		return nil, fmt.Errorf("mapping transaction: %w", ErrMissingID)
	}

	amount, err := strconv.ParseFloat(t.Amount, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing transaction amount %s for %s: %w", t.Amount, t.ID, err)
	}

	return &creator.Transaction{
		Amount:     amount,
		CreatedAt:  t.CreatedAt.UTC(),
		CreatorID:  creatorID,
		Currency:   strings.ToUpper(t.Currency),
		ExternalID: t.ID,
		FanID:      fanID,
		ID:         creator.TransactionID(t.ID),
		Type:       t.Type.ToDomainType(),
	}, nil
}

// ToDomainType converts a platform payment type to the internal transaction type.
func (tt TransactionType) ToDomainType() creator.TransactionType {
	switch tt {
	case TransactionTypeSubscription, TransactionTypeRecurring:
		return creator.TransactionTypeSubscription
	case TransactionTypeTip:
		return creator.TransactionTypeTip
	case TransactionTypeChatMessage:
		return creator.TransactionTypeMessage
	case TransactionTypePost:
		return creator.TransactionTypePost
	case TransactionTypeStream:
		return creator.TransactionTypeStream
	default:
		return creator.TransactionTypeOther
	}
}
