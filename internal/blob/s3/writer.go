package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

const (
	// minPartSize is the S3 multipart minimum (5 MiB).
	minPartSize int64 = 5 * 1024 * 1024
	// multipartThreshold is the body size above which uploads go through
	// the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// Writer stores write-once archive objects in the client's bucket.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer on c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.s3, bucket: c.bucket}
}

// PutIfAbsent uploads obj with a SHA-256 checksum. Small objects use a
// conditional PutObject (If-None-Match: *); large ones are checked with
// HeadObject and then streamed through the multipart manager.
func (w *Writer) PutIfAbsent(ctx context.Context, obj domain.Object) error {
	sum := sha256.Sum256(obj.Body)
	in := &s3.PutObjectInput{
		Bucket:            aws.String(w.bucket),
		Key:               aws.String(obj.Path),
		Body:              bytes.NewReader(obj.Body),
		ContentType:       aws.String(obj.ContentType),
		Metadata:          obj.Metadata,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}

	if len(obj.Body) <= multipartThreshold {
		in.ChecksumSHA256 = aws.String(base64.StdEncoding.EncodeToString(sum[:]))
		in.IfNoneMatch = aws.String("*")
		_, err := w.client.PutObject(ctx, in)
		if isPreconditionFailed(err) {
			return fmt.Errorf("s3blob: put %s: %w", obj.Path, domain.ErrAlreadyExists)
		}
		if err != nil {
			return fmt.Errorf("s3blob: put %s: %w", obj.Path, err)
		}
		return nil
	}

	_, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(obj.Path),
	})
	switch {
	case err == nil:
		return fmt.Errorf("s3blob: put %s: %w", obj.Path, domain.ErrAlreadyExists)
	case !isNotFound(err):
		return fmt.Errorf("s3blob: put %s: head: %w", obj.Path, err)
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = minPartSize * 2
		u.Concurrency = 3
	})
	if _, err := uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", obj.Path, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	return httpStatus(err) == http.StatusPreconditionFailed
}

var _ domain.BlobWriter = (*Writer)(nil)
