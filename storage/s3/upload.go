package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
)

// Upload walks localDir (recursively) and uploads every file to the
// bucket/prefix named by target.
func (s *Storage) Upload(ctx context.Context, localDir string, target InputSource) error {
	if target.Bucket == "" {
		return fmt.Errorf("invalid s3 upload target: bucket cannot be empty")
	}
	prefix := sanitizeKey(target.Key)

	err := afero.Walk(s.fs, localDir, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(localDir, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		key := filepath.Join(prefix, relPath)

		file, err := s.fs.Open(filePath)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()

		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(target.Bucket),
			Key:    aws.String(key),
			Body:   file,
		})
		if err != nil {
			return fmt.Errorf("failed to upload file to s3: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload failed, some files may have been uploaded: %w", err)
	}
	return nil
}
