package staging

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nemanja-m/casbatch/internal/shared/config"
)

const defaultRegion = "us-east-1"

// S3Store talks to any S3-compatible endpoint. Pointed at
// https://storage.googleapis.com with HMAC keys it serves gs:// locations.
type S3Store struct {
	client *s3.Client
}

func NewS3Store(ctx context.Context, cfg config.StagingConfig) (*S3Store, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			// GCS interoperability rejects the flexible checksum headers
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
			o.UsePathStyle = cfg.UsePathStyle
		},
	}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewS3StoreFromClient(s3.NewFromConfig(awsCfg, opts...)), nil
}

func NewS3StoreFromClient(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

func (s *S3Store) List(ctx context.Context, loc Location) ([]Location, error) {
	var out []Location
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(loc.Bucket),
		Prefix: aws.String(loc.Key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", loc, err)
		}
		for _, obj := range page.Contents {
			out = append(out, Location{Scheme: loc.Scheme, Bucket: loc.Bucket, Key: aws.ToString(obj.Key)})
		}
	}
	return out, nil
}

func (s *S3Store) Put(ctx context.Context, loc Location, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Bucket),
		Key:         aws.String(loc.Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", loc, err)
	}
	return nil
}
