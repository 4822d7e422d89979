package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"labscope/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3Client erstellt einen S3-Client für einen S3-kompatiblen Endpunkt.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	if cfg.S3URL == "" || cfg.S3Bucket == "" {
		return nil, errors.New("S3_URL and S3_BUCKET must be set")
	}
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// ObjectPutter ist der Teil des S3-Clients, den das Archiv braucht.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PDFArchive legt hochgeladene Befunde unter reports/<id>.pdf ab.
type PDFArchive struct {
	client ObjectPutter
	bucket string
}

// NewPDFArchive erstellt eine neue Instanz des PDFArchive.
func NewPDFArchive(client ObjectPutter, bucket string) *PDFArchive {
	return &PDFArchive{client: client, bucket: bucket}
}

// ArchiveKey liefert den Objektschlüssel eines Reports.
func ArchiveKey(reportID string) string {
	return fmt.Sprintf("reports/%s.pdf", reportID)
}

func (a *PDFArchive) ArchivePDF(ctx context.Context, reportID string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(ArchiveKey(reportID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", ArchiveKey(reportID), err)
	}
	return nil
}
