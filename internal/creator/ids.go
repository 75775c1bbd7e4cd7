package creator

import "github.com/google/uuid"

var (
	fanNamespace         = uuid.MustParse("5d8c3f0e-6f0b-4a44-9a61-3f1f4f7d2c10")
	transactionNamespace = uuid.MustParse("a4e2b7c1-0d3e-4c8f-b1f6-8e2d9c7a5b34")
)

// FanID returns the internal identifier for a platform fan of a creator.
// The same pair always yields the same ID, so re-mapping a known fan resolves to the stored record.
func FanID(creatorID string, externalFanID string) string {
	return uuid.NewSHA1(fanNamespace, []byte(creatorID+"\x00"+externalFanID)).String()
}

// TransactionID returns the internal identifier for a platform transaction.
func TransactionID(externalTransactionID string) string {
	return uuid.NewSHA1(transactionNamespace, []byte(externalTransactionID)).String()
}
