package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/peteski22/creatorsync/internal/metrics"
)

// API is the set of platform calls the sync pipeline makes.
type API interface {
	// Authenticate reports whether the token is valid for the creator handle.
	Authenticate(ctx context.Context, handle string, token string) (bool, error)

	// CreatorStats fetches aggregate statistics, nil if the platform has none.
	CreatorStats(ctx context.Context, handle string, token string) (*Stats, error)

	// Subscribers fetches the full subscriber list.
	Subscribers(ctx context.Context, handle string, token string) ([]Subscriber, error)

	// TransactionHistory fetches transactions created at or after since.
	TransactionHistory(ctx context.Context, handle string, token string, since time.Time) ([]Transaction, error)
}

// BreakerSettings configures a BreakerClient.
type BreakerSettings struct {
	// Logger is used for state transitions. Defaults to slog.Default().
	Logger *slog.Logger

	// MinRequests is the number of requests in a window before the failure ratio is considered.
	MinRequests uint32

	// Name identifies the breaker in logs and metrics.
	Name string

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// BreakerClient guards platform calls with a circuit breaker so an unavailable
// platform fails runs fast instead of tying them up in timeouts.
type BreakerClient struct {
	cb     *gobreaker.CircuitBreaker[any]
	client API
	logger *slog.Logger
	name   string
}

// NewBreakerClient wraps client with a circuit breaker.
// The breaker opens when at least 60% of MinRequests or more requests in a one minute window fail.
func NewBreakerClient(client API, settings BreakerSettings) *BreakerClient {
	if settings.Name == "" {
		settings.Name = "platform-api"
	}
	if settings.MinRequests == 0 {
		settings.MinRequests = 10
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 2 * time.Minute
	}
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		// Token rejections and caller cancellations say nothing about platform health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				IsUnauthorized(err) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerClient{
		cb:     cb,
		client: client,
		logger: logger,
		name:   settings.Name,
	}
}

// Authenticate calls the wrapped client's Authenticate through the breaker.
func (b *BreakerClient) Authenticate(ctx context.Context, handle string, token string) (bool, error) {
	result, err := b.execute(func() (any, error) {
		return b.client.Authenticate(ctx, handle, token)
	})
	if err != nil {
		return false, err
	}
	valid, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return valid, nil
}

// CreatorStats calls the wrapped client's CreatorStats through the breaker.
func (b *BreakerClient) CreatorStats(ctx context.Context, handle string, token string) (*Stats, error) {
	return castResult[Stats](b.execute(func() (any, error) {
		return b.client.CreatorStats(ctx, handle, token)
	}))
}

// State returns the current breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

// Subscribers calls the wrapped client's Subscribers through the breaker.
func (b *BreakerClient) Subscribers(ctx context.Context, handle string, token string) ([]Subscriber, error) {
	return castSlice[Subscriber](b.execute(func() (any, error) {
		return b.client.Subscribers(ctx, handle, token)
	}))
}

// TransactionHistory calls the wrapped client's TransactionHistory through the breaker.
func (b *BreakerClient) TransactionHistory(
	ctx context.Context,
	handle string,
	token string,
	since time.Time,
) ([]Transaction, error) {
	return castSlice[Transaction](b.execute(func() (any, error) {
		return b.client.TransactionHistory(ctx, handle, token, since)
	}))
}

// execute runs fn through the breaker and records the outcome.
func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			b.logger.Warn("Circuit breaker rejected request", "breaker", b.name, "error", err)
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	return result, nil
}

// castResult type-asserts a pointer result. A typed nil stays nil.
func castResult[T any](result any, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// castSlice type-asserts a slice result.
func castSlice[T any](result any, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	typed, ok := result.([]T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateToFloat converts breaker state to its gauge value.
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
