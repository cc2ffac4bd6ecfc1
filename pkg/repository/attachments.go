package repository

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func contentType(objectPath string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(objectPath))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// FirebaseAttachments uploads to a Firebase Storage bucket.
type FirebaseAttachments struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

func NewFirebaseAttachments(bucket *gcs.BucketHandle, bucketName string) *FirebaseAttachments {
	return &FirebaseAttachments{bucket: bucket, bucketName: bucketName}
}

func (f *FirebaseAttachments) Upload(ctx context.Context, objectPath string, data []byte) (string, error) {
	w := f.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType(objectPath)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing %s: %w", objectPath, err)
	}

	escaped := strings.ReplaceAll(url.PathEscape(objectPath), "/", "%2F")
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media", f.bucketName, escaped), nil
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

// S3Attachments uploads to S3, R2 or MinIO.
type S3Attachments struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewS3Attachments(cfg S3Config) *S3Attachments {
	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Attachments{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}
}

func (s *S3Attachments) Upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(key)),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	if s.publicURL != "" {
		return s.publicURL + "/" + key, nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}
