package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// minPartSize is the S3 lower bound for multipart parts.
const minPartSize int64 = 5 << 20

// archiveMeta tags every uploaded object so archives are recognisable in a
// shared bucket.
var archiveMeta = map[string]string{"producer": "auctionhouse"}

// Writer uploads event-log archives.
type Writer struct {
	client *s3.Client
	bucket string
}

func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put stores data at path in a single request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
		Metadata:    archiveMeta,
	}); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams data through the upload manager for logs too large
// for one request. partSize is raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(jsonlContentType),
		Metadata:    archiveMeta,
	}); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
