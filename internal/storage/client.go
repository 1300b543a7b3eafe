package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/spf13/viper"
)

// newS3Client builds the raw S3 client from the storage.* config block.
// A custom endpoint switches the client to any S3-compatible backend
// (R2, minio) without further changes.
func newS3Client() (*s3.Client, *string, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			viper.GetString("storage.access_key_id"),
			viper.GetString("storage.secret_access_key"),
			"",
		)),
	)
	if err != nil {
		return nil, nil, err
	}

	bucket := aws.String(viper.GetString("storage.bucket"))

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := viper.GetString("storage.endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}

		if region := viper.GetString("storage.region"); region != "" {
			o.Region = region
		} else {
			o.Region = "auto"
		}
	})

	_, err = client.HeadBucket(context.TODO(), &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, nil, fmt.Errorf("bucket '%s' does not exist", *bucket)
			}
		}

		return nil, nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return client, bucket, nil
}
