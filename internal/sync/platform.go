package sync

import (
	"context"
	"time"

	"github.com/peteski22/creatorsync/internal/platform"
)

// PlatformClient defines the platform operations required by the sync service.
type PlatformClient interface {
	// Authenticate reports whether the token is currently valid for the creator handle.
	Authenticate(ctx context.Context, handle string, token string) (bool, error)

	// CreatorStats returns aggregate statistics, or nil if the platform has none.
	CreatorStats(ctx context.Context, handle string, token string) (*platform.Stats, error)

	// Subscribers returns the creator's full current subscriber list.
	Subscribers(ctx context.Context, handle string, token string) ([]platform.Subscriber, error)

	// TransactionHistory returns every transaction created at or after since.
	TransactionHistory(
		ctx context.Context,
		handle string,
		token string,
		since time.Time,
	) ([]platform.Transaction, error)
}
