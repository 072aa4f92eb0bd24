package cloud

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client stores history exports and hands out download links for them.
type S3Client struct {
	svc     *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return cfg, nil
}

// NewS3Client creates a client for bucket. Presigned links live for expiry,
// one hour when expiry is zero.
func NewS3Client(ctx context.Context, region, bucket string, expiry time.Duration) (*S3Client, error) {
	cfg, err := loadAWSConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	svc := s3.NewFromConfig(cfg)
	return &S3Client{
		svc:     svc,
		presign: s3.NewPresignClient(svc),
		bucket:  bucket,
		expiry:  expiry,
	}, nil
}

// UploadExport stores data under key and returns a presigned GET URL.
func (c *S3Client) UploadExport(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"uploaded-at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if _, err := c.svc.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	res, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = c.expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return res.URL, nil
}

// ListExports returns the keys stored under prefix.
func (c *S3Client) ListExports(ctx context.Context, prefix string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.svc, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// ExportPrefix is the key prefix shared by every export of one sensor.
func ExportPrefix(sensorID string) string {
	return "exports/" + sensorID + "/"
}

// ExportKey names the object for one sensor's history export.
func ExportKey(sensorID string, at time.Time) string {
	return fmt.Sprintf("%ssensor_%s_history_%s.csv", ExportPrefix(sensorID), sensorID, at.UTC().Format("20060102T150405Z"))
}
