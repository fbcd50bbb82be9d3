// Package storage stages task input data onto the local filesystem
// before dispatch to an executor, and can optionally push completed
// output back to remote storage.
package storage

import (
	"context"
)

// InputSource describes where a task's input data lives.
type InputSource struct {
	// Type is "s3" or "http" (anything else is rejected).
	Type string `json:"type"`
	// Bucket and Key apply to Type "s3".
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	// URL applies to Type "http".
	URL string `json:"url,omitempty"`
}

// Provider fetches task input data to a local path, using whichever
// backend filesystem (real disk or in-memory, via afero) the caller
// configured it with.
type Provider interface {
	// Download fetches source and writes it beneath destDir, returning
	// the local path it wrote to.
	Download(ctx context.Context, source InputSource, destDir string) (string, error)
}
