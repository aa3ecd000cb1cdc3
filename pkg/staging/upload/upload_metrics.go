package upload

// UploadMetrics provides observability for upload sessions.
//
// The interface is optional: a nil value disables collection entirely.
type UploadMetrics interface {
	// RecordAdmitted records an opened session by kind.
	RecordAdmitted(kind string)

	// RecordBytes records payload bytes accepted into workspaces.
	RecordBytes(n int64)

	// RecordSettled records a closed session by kind and outcome,
	// "completed" or "abandoned".
	RecordSettled(kind, outcome string)
}
