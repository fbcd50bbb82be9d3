package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Download fetches source into destDir, returning the local directory
// it staged files under. The key may name a single object or, ending
// in "/" or containing "*", a prefix of objects.
func (s *Storage) Download(ctx context.Context, source InputSource, destDir string) (string, error) {
	if err := source.Validate(); err != nil {
		return "", err
	}

	if err := s.fs.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	objects, err := s.resolveStorageKey(ctx, source)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage key: %w", err)
	}

	for _, obj := range objects {
		if err := s.downloadObject(ctx, source, obj, destDir); err != nil {
			return "", fmt.Errorf("failed to download s3 object %s: %w", obj.key, err)
		}
	}

	return destDir, nil
}

func (s *Storage) downloadObject(ctx context.Context, source InputSource, object s3Object, destDir string) error {
	outputPath := filepath.Join(destDir, filepath.Base(object.key))

	if object.isDir {
		return s.fs.MkdirAll(outputPath, 0o755)
	}

	outputFile, err := s.fs.OpenFile(outputPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer outputFile.Close()

	_, err = s.downloader.Download(ctx, outputFile, &s3.GetObjectInput{
		Bucket:  aws.String(source.Bucket),
		Key:     aws.String(object.key),
		IfMatch: object.eTag,
	})
	return err
}

func (s *Storage) resolveStorageKey(ctx context.Context, source InputSource) ([]s3Object, error) {
	key := source.Key
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	if !strings.HasSuffix(key, "/") && !strings.Contains(key, "*") {
		return s.resolveSingleObject(ctx, source)
	}
	return s.resolveObjectsWithPrefix(ctx, source)
}

func (s *Storage) resolveSingleObject(ctx context.Context, source InputSource) ([]s3Object, error) {
	key := sanitizeKey(source.Key)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(source.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve object metadata: %w", err)
	}

	return []s3Object{{
		key:  key,
		eTag: head.ETag,
		size: head.ContentLength,
	}}, nil
}

func (s *Storage) resolveObjectsWithPrefix(ctx context.Context, source InputSource) ([]s3Object, error) {
	key := sanitizeKey(source.Key)

	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(source.Bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, s3Object{
				key:   aws.ToString(obj.Key),
				size:  obj.Size,
				isDir: strings.HasSuffix(aws.ToString(obj.Key), "/"),
			})
		}
	}
	return objects, nil
}
