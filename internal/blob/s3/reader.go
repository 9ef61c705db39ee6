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

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// maxObjectSize bounds how much of one archive object is read into memory.
const maxObjectSize = 256 * 1024 * 1024

// Reader fetches archive objects from the client's bucket.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader on c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.s3, bucket: c.bucket}
}

// Get downloads the object at path with its user metadata.
func (r *Reader) Get(ctx context.Context, path string) (domain.Object, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket:       aws.String(r.bucket),
		Key:          aws.String(path),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if isNotFound(err) {
		return domain.Object{}, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Object{}, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectSize+1))
	if err != nil {
		return domain.Object{}, fmt.Errorf("s3blob: read %s: %w", path, err)
	}
	if len(body) > maxObjectSize {
		return domain.Object{}, fmt.Errorf("s3blob: read %s: object exceeds %d bytes", path, maxObjectSize)
	}
	return domain.Object{
		Path:        path,
		Body:        body,
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}, nil
}

// isNotFound reports whether err means the object does not exist. GetObject
// answers NoSuchKey, HeadObject a bare 404.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

// httpStatus digs the HTTP status out of an SDK error, or returns 0.
func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

var _ domain.BlobReader = (*Reader)(nil)
