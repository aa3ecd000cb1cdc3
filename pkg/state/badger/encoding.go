package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stagefs/stagefs/pkg/state"
)

// ============================================================================
// Database Key Namespace Design
// ============================================================================
//
// BadgerDB is a key-value store, so prefixed keys organize the data types
// into logical namespaces. This design:
//   - Prevents key collisions between different record types
//   - Enables efficient range scans (all leases of a project, all jobs of a
//     queue in enqueue order)
//   - Makes the database structure self-documenting
//
// Key Namespace Prefixes:
//
// Data Type       Prefix   Key Format                        Value Type
// ==========================================================================
// Leases          "ls:"    ls:<project>:<leaseID>           Lease (JSON)
// Lease index     "lsid:"  lsid:<leaseID>                   project (bytes)
// Jobs            "jb:"    jb:<jobID>                       Job (JSON)
// Queue index     "jq:"    jq:<queue>:<seq>:<jobID>         jobID (bytes)
//
// The queue index seq is the enqueue time as zero-padded nanoseconds, so a
// plain prefix iteration over "jq:<queue>:" visits jobs oldest first.

const (
	prefixLease      = "ls:"
	prefixLeaseIndex = "lsid:"
	prefixJob        = "jb:"
	prefixQueueIndex = "jq:"
)

// ============================================================================
// Key Generation Functions
// ============================================================================

// keyLease generates a key for a lease record: "ls:<project>:<leaseID>"
func keyLease(project, leaseID string) []byte {
	return []byte(prefixLease + project + ":" + leaseID)
}

// keyLeasePrefix generates a key prefix for range scanning a project's
// leases: "ls:<project>:"
func keyLeasePrefix(project string) []byte {
	return []byte(prefixLease + project + ":")
}

// keyLeaseIndex generates a key for the lease ID index: "lsid:<leaseID>"
func keyLeaseIndex(leaseID string) []byte {
	return []byte(prefixLeaseIndex + leaseID)
}

// keyJob generates a key for a job record: "jb:<jobID>"
func keyJob(jobID string) []byte {
	return []byte(prefixJob + jobID)
}

// keyQueueIndex generates a key for the queue ordering index:
// "jq:<queue>:<seq>:<jobID>"
func keyQueueIndex(queue string, enqueuedAt time.Time, jobID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixQueueIndex, queue, enqueuedAt.UnixNano(), jobID))
}

// keyQueuePrefix generates a key prefix for range scanning a queue in
// enqueue order: "jq:<queue>:"
func keyQueuePrefix(queue string) []byte {
	return []byte(prefixQueueIndex + queue + ":")
}

// ============================================================================
// JSON Encoding/Decoding
// ============================================================================

func encodeLease(lease *state.Lease) ([]byte, error) {
	bytes, err := json.Marshal(lease)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lease: %w", err)
	}
	return bytes, nil
}

func decodeLease(bytes []byte) (*state.Lease, error) {
	var lease state.Lease
	if err := json.Unmarshal(bytes, &lease); err != nil {
		return nil, fmt.Errorf("failed to decode lease: %w", err)
	}
	return &lease, nil
}

func encodeJob(job *state.Job) ([]byte, error) {
	bytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return bytes, nil
}

func decodeJob(bytes []byte) (*state.Job, error) {
	var job state.Job
	if err := json.Unmarshal(bytes, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
