package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the settings for S3-compatible cold storage (AWS S3, R2,
// MinIO).
type S3Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Prefix          string
}

// S3Storage keeps bundles in an S3-compatible bucket. Locations are
// "s3://<bucket>/<key>".
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Storage builds the client with static credentials and path-style
// addressing so S3-compatible endpoints work unchanged.
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("credentials are required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := s3.Options{
		Region: region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Storage{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Write uploads the bundle bytes.
func (s *S3Storage) Write(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := key
	if s.prefix != "" {
		objectKey = s.prefix + "/" + key
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("put bundle object: %w", err)
	}
	return "s3://" + s.bucket + "/" + objectKey, nil
}

// Read downloads the bundle bytes for a location previously returned by
// Write.
func (s *S3Storage) Read(ctx context.Context, location string) ([]byte, error) {
	key, ok := strings.CutPrefix(location, "s3://"+s.bucket+"/")
	if !ok {
		return nil, fmt.Errorf("location %q is not in bucket %s", location, s.bucket)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get bundle object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read bundle object: %w", err)
	}
	return data, nil
}
