package rawstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"quantflow/config"
	"quantflow/logger"
)

// Mirror copies files into an S3 bucket after they land locally. Uploads
// are best effort: the local file is the source of truth and a failed
// upload never fails the pipeline.
type Mirror struct {
	config   config.S3Config
	client   *s3.Client
	version  string
	contents string
	log      *logger.Log
}

// NewMirror builds an S3 client for the configured bucket. Credentials
// must resolve at construction time so a misconfigured mirror fails the
// run up front instead of silently dropping every upload.
func NewMirror(ctx context.Context, cfg config.S3Config, version, compression string) (*Mirror, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("mirror").WithError(err).Warn("Failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("mirror").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("Mirror initialized")

	return &Mirror{
		config:   cfg,
		client:   client,
		version:  version,
		contents: compression,
		log:      log,
	}, nil
}

// Upload copies one local file into the bucket under the configured
// prefix. The key is the file's path relative to the data root, so the
// bucket layout mirrors the local one.
func (m *Mirror) Upload(key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s for mirroring: %w", localPath, err)
	}

	objectKey := key
	if m.config.Prefix != "" {
		objectKey = path.Join(m.config.Prefix, key)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(m.config.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       m.contents,
			"quantflow-version": m.version,
		},
	}

	if _, err := m.client.PutObject(context.Background(), input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", m.config.Bucket, err)
	}

	logger.IncrementS3Mirror(int64(len(data)))
	m.log.WithComponent("mirror").WithFields(logger.Fields{
		"operation": "upload",
		"key":       objectKey,
		"data_size": len(data),
	}).Debug("Mirrored file to S3")
	return nil
}
