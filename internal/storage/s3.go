package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	uploadAuthTTL = 15 * time.Minute
	downloadTTL   = time.Hour

	// Derived objects bigger than this go through the multipart uploader
	minMultipartSize = 12 << 20
)

// S3Gateway implements Gateway on top of any S3-compatible backend.
type S3Gateway struct {
	c         *s3.Client
	presigner *s3.PresignClient
	bucket    *string
}

func NewS3Gateway() (*S3Gateway, error) {
	client, bucket, err := newS3Client()
	if err != nil {
		return nil, err
	}

	return &S3Gateway{
		c:         client,
		presigner: s3.NewPresignClient(client),
		bucket:    bucket,
	}, nil
}

func (g *S3Gateway) IssueUploadAuthorization(ctx context.Context, key, contentType string, maxBytes int64) (*UploadAuthorization, error) {
	if maxBytes <= 0 {
		return nil, ErrQuotaExceeded
	}

	if contentType == "" {
		return nil, ErrInvalidContentType
	}

	req, err := g.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      g.bucket,
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(uploadAuthTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for key %s, %w", key, err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for k, v := range req.SignedHeader {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &UploadAuthorization{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		ExpiresAt: time.Now().Add(uploadAuthTTL),
	}, nil
}

func (g *S3Gateway) StatObject(ctx context.Context, key string) (*ObjectStat, error) {
	out, err := g.c.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: g.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, ErrNotFound
			}
		}

		return nil, fmt.Errorf("failed to stat object %s, %w", key, err)
	}

	stat := &ObjectStat{Exists: true}

	if out.ContentLength != nil {
		stat.Size = *out.ContentLength
	}

	if out.ETag != nil {
		stat.Checksum = strings.Trim(*out.ETag, `"`)
	}

	return stat, nil
}

func (g *S3Gateway) DeleteObject(ctx context.Context, key string) error {
	// S3 deletes are idempotent already, a missing key returns success
	_, err := g.c.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: g.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s, %w", key, err)
	}

	return nil
}

func (g *S3Gateway) Put(ctx context.Context, key, contentType string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        g.bucket,
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	}

	if len(body) > minMultipartSize {
		uploader := manager.NewUploader(g.c, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})

		_, err := uploader.Upload(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to upload object %s, %w", key, err)
		}

		return nil
	}

	_, err := g.c.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload object %s, %w", key, err)
	}

	return nil
}

func (g *S3Gateway) ResolveURL(key string) string {
	req, err := g.presigner.PresignGetObject(context.Background(), &s3.GetObjectInput{
		Bucket: g.bucket,
		Key:    aws.String(key),
	}, s3.WithPresignExpires(downloadTTL))
	if err != nil {
		zap.L().Error("Failed to presign download URL, falling back to the plain one", zap.String("key", key), zap.Error(err))
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(viper.GetString("storage.endpoint"), "/"), *g.bucket, key)
	}

	return req.URL
}
