package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dancegen/api/internal/config"
)

// ObjectMirror copies finished artifacts to object storage
type ObjectMirror interface {
	Upload(ctx context.Context, key, path string) (string, error)
	Delete(ctx context.Context, key string) error
}

// R2Mirror implements ObjectMirror for Cloudflare R2
type R2Mirror struct {
	s3Client   *s3.Client
	accountID  string
	bucketName string
	publicURL  string
}

// NewR2Mirror creates a new R2 mirror client
func NewR2Mirror(cfg *config.R2Config) (*R2Mirror, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &R2Mirror{
		s3Client:   s3.NewFromConfig(awsCfg),
		accountID:  cfg.AccountID,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Upload streams a local artifact to R2 and returns its public URL
func (m *R2Mirror) Upload(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucketName),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	return m.PublicURL(key), nil
}

// Delete removes an object from R2
func (m *R2Mirror) Delete(ctx context.Context, key string) error {
	_, err := m.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}
	return nil
}

// PublicURL returns the public CDN URL for a key
func (m *R2Mirror) PublicURL(key string) string {
	return objectURL(m.publicURL, m.accountID, m.bucketName, key)
}

// objectURL prefers the configured public base URL and falls back to the
// path-style address of the account endpoint.
func objectURL(publicURL, accountID, bucket, key string) string {
	if publicURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(publicURL, "/"), key)
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s/%s", accountID, bucket, key)
}

// MirrorKey is the object key of an artifact belonging to a job.
func MirrorKey(jobID, path string) string {
	return fmt.Sprintf("dances/%s/%s", jobID, filepath.Base(path))
}
