package domain

import (
	"context"
	"io"
)

// EventLog is an append-only sink for reconciliation audit records. The CSV
// implementation opens, appends, and closes the file on every call so no file
// handle outlives a cycle.
type EventLog interface {
	Append(ctx context.Context, ev ReconcileEvent) error
}

// BlobWriter uploads produced artifacts (CSV outputs, event logs) to object
// storage for archival.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}
