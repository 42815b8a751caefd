package trust

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WriteBundle atomically replaces <dir>/bundled-ca.pem with the store's bundle, for the
// TLS-terminating proxy. A configured publisher also receives a copy.
func WriteBundle(ctx context.Context, dir string, store *Store, publisher Publisher) error {
	bundle := store.Bundle()
	path := filepath.Join(dir, BundleFile)

	tmp, err := os.CreateTemp(dir, BundleFile+".*")
	if err != nil {
		return errors.Wrap(err, "[trust.WriteBundle] create temp")
	}
	if _, err := tmp.Write(bundle); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "[trust.WriteBundle] write")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "[trust.WriteBundle] close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "[trust.WriteBundle] rename")
	}
	log.Info().Int("cas", store.CustomCount()+1).Str("path", path).Msg("CA bundle written")

	if publisher == nil {
		return nil
	}
	if err := publisher.Publish(ctx, bundle); err != nil {
		return errors.Wrap(err, "[trust.WriteBundle] publish")
	}
	return nil
}

// Publisher ships the CA bundle somewhere other hosts can fetch it.
type Publisher interface {
	Publish(ctx context.Context, bundle []byte) error
}

type S3Config struct {
	Bucket    string
	Key       string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads the bundle to an S3 (or S3-compatible) bucket.
type S3Publisher struct {
	client s3PutAPI
	bucket string
	key    string
}

func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("[trust.NewS3Publisher] bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "[trust.NewS3Publisher] load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Publisher(client, cfg.Bucket, cfg.Key), nil
}

func newS3Publisher(client s3PutAPI, bucket, key string) *S3Publisher {
	if key == "" {
		key = BundleFile
	}
	return &S3Publisher{client: client, bucket: bucket, key: key}
}

func (p *S3Publisher) Publish(ctx context.Context, bundle []byte) error {
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.key),
		Body:        bytes.NewReader(bundle),
		ContentType: aws.String("application/x-pem-file"),
	})
	if err != nil {
		return errors.Wrapf(err, "[S3Publisher.Publish] s3://%s/%s", p.bucket, p.key)
	}
	return nil
}
