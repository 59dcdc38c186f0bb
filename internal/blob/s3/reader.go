package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Reader fetches archived event logs.
type Reader struct {
	client *s3.Client
	bucket string
}

func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Get opens the object at path. The caller closes the body. A missing
// object yields domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch {
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

// Exists reports whether an object is stored at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch {
	case isNotFound(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey from GetObject and the bare 404 HeadObject
// returns.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)
