// Package artifact holds the Artifact metadata entity (spec §3). The blob
// itself lives in an external store behind the Storage interface; this
// package only models the metadata index row.
package artifact

import "time"

// Artifact is the metadata row for a large out-of-band payload.
type Artifact struct {
	ID             string
	RunID          string
	StepID         string
	Key            string
	SizeBytes      int64
	ContentType    string
	StorageBackend string
	ETag           string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
}

// Storage is the interface artifact blobs are stored behind; local-FS and
// S3 backends are external collaborators per spec §1 and are not part of
// the core here beyond this contract.
type Storage interface {
	Put(key string, data []byte, contentType string) (etag string, err error)
	Delete(key string) error
}
