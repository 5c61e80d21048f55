// Package storage keeps side artifacts, such as insurance documents, in S3.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	client  objectAPI
	presign func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	bucket  string
	logger  *slog.Logger
}

type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage.NewS3Store: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage.NewS3Store: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	presigner := s3.NewPresignClient(client)

	return &S3Store{
		client: client,
		presign: func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
			req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(ttl))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("storage.Put %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "object stored", "bucket", s.bucket, "key", key, "size", len(body))
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage.Delete %s: %w", key, err)
	}
	return nil
}

// URL returns a time limited download link for key.
func (s *S3Store) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return "", errors.New("storage.URL: presigning not configured")
	}
	u, err := s.presign(ctx, s.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("storage.URL %s: %w", key, err)
	}
	return u, nil
}
