package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// S3Store is the second blob-store engine, putting/getting content-addressed
// blobs against any S3-compatible bucket via a custom-endpoint,
// static-credentials, path-style client.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logrus.Entry
}

// S3Options configures the engine.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // key prefix under which blobs are stored, e.g. "driftsync/blobs/"
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               opts.Endpoint,
			HostnameImmutable: true,
			SigningRegion:     region,
		}, nil
	})

	cfg := aws.Config{
		Region:                      opts.Region,
		Credentials:                 credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		EndpointResolverWithOptions: customResolver,
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Store{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
		log:    logrus.WithField("component", "blobstore-s3"),
	}, nil
}

func (s *S3Store) key(id string) string {
	return s.prefix + id
}

func (s *S3Store) Set(ctx context.Context, data []byte, opts ...SetOption) (string, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: s3 put %s: %w", id, err)
	}

	s.log.WithField("id", id).Debug("blob stored in s3")
	return id, nil
}

func (s *S3Store) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore: s3 read body %s: %w", id, err)
	}
	return data, nil
}
