package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"fieldops/inquiry/internal/config"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// PhotoPrefix is the key prefix of every inquiry photo.
const PhotoPrefix = "inquiries/"

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// IS3Storage defines the object storage operations used for inquiry photos.
type IS3Storage interface {
	GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (string, string, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, string, error)
	PutObject(ctx context.Context, key string, body io.Reader, contentType string) error
	PublicURL(key string) string
}

// s3Storage implements IS3Storage against any S3 compatible endpoint (AWS, Cloudflare R2).
type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: s3.NewPresignClient(s3Client),
	}, nil
}

// PhotoKey builds the object key for a new upload. Keys are namespaced per user
// so uploads can be checked for ownership on confirmation.
func PhotoKey(userID, filename string) string {
	name := unsafeFilenameChars.ReplaceAllString(path.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "photo"
	}
	return fmt.Sprintf("%s%s/%s_%s", PhotoPrefix, userID, uuid.NewString(), name)
}

// OwnsPhotoKey reports whether key was issued to userID by PhotoKey.
func OwnsPhotoKey(userID, key string) bool {
	return strings.HasPrefix(key, PhotoPrefix+userID+"/") && !strings.Contains(key, "..")
}

// GeneratePresignedPutURL creates a pre-signed URL for uploading a photo.
// It returns the URL and the generated object key.
func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, userID, filename, contentType string) (string, string, error) {
	objectKey := PhotoKey(userID, filename)

	presignedReq, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.uploadTTL()))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	log.Printf("Generated presigned URL for key: %s", objectKey)
	return presignedReq.URL, objectKey, nil
}

func (s *s3Storage) uploadTTL() time.Duration {
	if s.cfg.UploadURLTTL > 0 {
		return s.cfg.UploadURLTTL
	}
	return 15 * time.Minute
}

// GetObject opens an object for reading and returns its content type.
func (s *s3Storage) GetObject(ctx context.Context, key string) (io.ReadCloser, string, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, "", fmt.Errorf("failed to get object %s: %w", key, err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// PutObject writes an object, overwriting any existing one.
func (s *s3Storage) PutObject(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PublicURL expands a stored key into the URL served by the public bucket domain.
// Values that are already absolute URLs are returned unchanged.
func (s *s3Storage) PublicURL(key string) string {
	return JoinPublicURL(s.cfg.ImageBaseURL, key)
}

// JoinPublicURL joins base and key with exactly one slash.
func JoinPublicURL(base, key string) string {
	if base == "" || strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
