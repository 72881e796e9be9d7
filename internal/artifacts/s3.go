package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Store implements Store on one bucket of an S3-compatible service (AWS S3, MinIO, etc.)
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates an S3-compatible store for bucket
func NewS3Store(endpoint, accessKey, secretKey, region, bucket string, useSSL bool) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("bucket", bucket).
		Bool("ssl", useSSL).
		Msg("S3-compatible layer cache initialized")

	return &S3Store{client: client, bucket: bucket}, nil
}

// Name returns the provider name
func (s *S3Store) Name() string {
	return "s3"
}

// Get downloads the object stored under key
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return data, nil
}

// Put uploads data under key
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Artifact uploaded to S3")
	return nil
}

// Exists checks if an object is stored under key
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
