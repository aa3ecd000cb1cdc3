package sweep

// SweepMetrics provides observability for retention passes.
//
// The interface is optional: a nil value disables collection entirely.
type SweepMetrics interface {
	// RecordPass records the artifact counts one pass reclaimed.
	RecordPass(report *Report)
}
