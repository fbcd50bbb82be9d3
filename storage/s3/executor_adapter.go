package s3

import "context"

// DownloaderAdapter satisfies executor.S3Downloader's flat
// (bucket, key, destDir) signature by wrapping it into this package's
// own InputSource. Kept separate from Storage itself so executor never
// needs to import storage/s3 (and therefore never needs the AWS SDK)
// to depend on the interface.
type DownloaderAdapter struct {
	Storage *Storage
}

func (a DownloaderAdapter) Download(ctx context.Context, bucket, key, destDir string) (string, error) {
	return a.Storage.Download(ctx, InputSource{Bucket: bucket, Key: key}, destDir)
}
