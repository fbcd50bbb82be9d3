package s3

import (
	"fmt"
	"strings"
)

// InputSource identifies a single object or a prefix of objects inside
// an S3 bucket.
type InputSource struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Region string `json:"region,omitempty"`
}

// Validate checks that the source names both a bucket and a key.
func (s InputSource) Validate() error {
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("invalid s3 input source: bucket cannot be empty")
	}
	if strings.TrimSpace(s.Key) == "" {
		return fmt.Errorf("invalid s3 input source: key cannot be empty")
	}
	return nil
}
