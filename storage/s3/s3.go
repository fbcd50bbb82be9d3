// Package s3 stages task input data from an S3-compatible bucket onto
// a local (or in-memory, via afero) filesystem for an executor to
// mount, and can push completed output back to a bucket.
package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3Manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
)

// Storage is an S3 client bound to a filesystem. fs is swappable so
// tests can run against afero.NewMemMapFs() instead of the real disk.
type Storage struct {
	client     *s3.Client
	downloader *s3Manager.Downloader
	uploader   *s3Manager.Uploader
	fs         afero.Fs
}

type s3Object struct {
	key   string
	eTag  *string
	size  int64
	isDir bool
}

// NewClient builds a Storage from an AWS config and a target
// filesystem. Pass afero.NewOsFs() for real disk staging.
func NewClient(cfg aws.Config, fs afero.Fs) (*Storage, error) {
	if !hasValidCredentials(cfg) {
		return nil, fmt.Errorf("invalid aws credentials")
	}
	client := s3.NewFromConfig(cfg)
	return &Storage{
		client:     client,
		downloader: s3Manager.NewDownloader(client),
		uploader:   s3Manager.NewUploader(client),
		fs:         fs,
	}, nil
}

// Size returns the content length of a single object.
func (s *Storage) Size(ctx context.Context, source InputSource) (uint64, error) {
	if err := source.Validate(); err != nil {
		return 0, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(source.Bucket),
		Key:    aws.String(source.Key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get object size: %w", err)
	}
	return uint64(out.ContentLength), nil
}
