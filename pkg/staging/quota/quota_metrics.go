package quota

// QuotaMetrics provides observability for ledger traffic.
//
// The interface is optional: a nil value disables collection entirely.
type QuotaMetrics interface {
	// RecordReserve records an opened hold.
	RecordReserve(bytes int64)

	// RecordRejection records an admission refused for lack of budget.
	RecordRejection()

	// RecordCommit records a hold settled at its actual size.
	RecordCommit(bytes int64)

	// RecordRelease records bytes returned to the budget, from cancelled
	// holds and deleted files alike.
	RecordRelease(bytes int64)
}
