package sync

import (
	"context"
	"log/slog"

	"github.com/peteski22/creatorsync/internal/creator"
)

// dryRunStorage logs write operations instead of executing them.
type dryRunStorage struct {
	logger *slog.Logger
}

// newDryRunStorage creates a Storage that only logs what would be written.
func newDryRunStorage(logger *slog.Logger) *dryRunStorage {
	return &dryRunStorage{logger: logger}
}

// UpsertFans logs the fans that would be stored and reports them all as new.
func (d *dryRunStorage) UpsertFans(_ context.Context, fans []creator.Fan) (int, error) {
	for i := range fans {
		d.logger.Info("[DRY-RUN] would upsert fan",
			"creator_id", fans[i].CreatorID,
			"fan_id", fans[i].ID,
			"external_id", fans[i].ExternalID,
			"username", fans[i].Username,
			"active", fans[i].IsActive)
	}
	return len(fans), nil
}

// AppendTransactions logs the transactions that would be stored and reports them all as new.
func (d *dryRunStorage) AppendTransactions(_ context.Context, transactions []creator.Transaction) (int, error) {
	for i := range transactions {
		d.logger.Info("[DRY-RUN] would append transaction",
			"creator_id", transactions[i].CreatorID,
			"transaction_id", transactions[i].ID,
			"external_id", transactions[i].ExternalID,
			"fan_id", transactions[i].FanID,
			"type", transactions[i].Type,
			"amount", transactions[i].Amount,
			"currency", transactions[i].Currency)
	}
	return len(transactions), nil
}

// UpdateCreatorMetrics logs the metrics that would be stored.
func (d *dryRunStorage) UpdateCreatorMetrics(_ context.Context, creatorID string, m creator.Metrics) error {
	d.logger.Info("[DRY-RUN] would update creator metrics",
		"creator_id", creatorID,
		"total_revenue", m.TotalRevenue,
		"total_fans", m.TotalFans,
		"active_fans", m.ActiveFans)
	return nil
}
