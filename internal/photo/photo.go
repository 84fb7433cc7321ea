// Package photo stores meal photos in S3-compatible storage and turns stored
// references into URLs the analysis model can fetch.
package photo

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxImageBytes caps a decoded upload.
const MaxImageBytes = 8 << 20

const refScheme = "s3://"

var (
	ErrBadDataURL  = errors.New("image must be a base64 data:image URL")
	ErrTooLarge    = fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	ErrUnsupported = errors.New("unsupported image reference")
	ErrNotOwned    = errors.New("image reference does not belong to this user")
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	PresignTTL time.Duration
}

// Enabled reports whether enough is configured to talk to a bucket.
func (c S3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Store uploads photos and resolves references. Without a bucket it keeps
// data URLs inline and passes http(s) URLs through.
type Store struct {
	bucket     string
	client     s3Client
	presign    presigner
	presignTTL time.Duration
	logger     *slog.Logger
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func NewStore(cfg S3Config, logger *slog.Logger) *Store {
	s := &Store{
		bucket:     cfg.Bucket,
		presignTTL: cfg.PresignTTL,
		logger:     logger,
	}
	if s.presignTTL <= 0 {
		s.presignTTL = 15 * time.Minute
	}
	if cfg.Enabled() {
		client := newS3Client(cfg)
		s.client = client
		s.presign = s3.NewPresignClient(client)
	}
	return s
}

// Enabled reports whether uploads go to S3.
func (s *Store) Enabled() bool {
	return s.client != nil
}

// decodeDataURL splits "data:image/png;base64,..." into content type and bytes.
func decodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return "", nil, ErrBadDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrBadDataURL
	}
	contentType, encoding, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(contentType, "image/") || encoding != "base64" {
		return "", nil, ErrBadDataURL
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+3 {
		return "", nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBadDataURL, err)
	}
	if len(data) > MaxImageBytes {
		return "", nil, ErrTooLarge
	}
	return contentType, data, nil
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	default:
		return ""
	}
}

// Save stores a data URL upload for owner and returns the image reference to
// keep on the entry.
func (s *Store) Save(ctx context.Context, owner int64, dataURL string) (string, error) {
	contentType, data, err := decodeDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if !s.Enabled() {
		return strings.TrimSpace(dataURL), nil
	}

	key := ownerPrefix(owner) + uuid.NewString() + extension(contentType)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	s.logger.Debug("photo uploaded", "key", key, "bytes", len(data))
	return refScheme + s.bucket + "/" + key, nil
}

// ownerPrefix is the key prefix of every upload belonging to owner.
func ownerPrefix(owner int64) string {
	return fmt.Sprintf("photos/%d/", owner)
}

// keyOf returns the object key of ref if it names an upload of owner in
// this bucket.
func (s *Store) keyOf(owner int64, ref string) (string, bool) {
	rest, ok := strings.CutPrefix(ref, refScheme+s.bucket+"/")
	if !ok || !strings.HasPrefix(rest, ownerPrefix(owner)) || len(rest) == len(ownerPrefix(owner)) {
		return "", false
	}
	if strings.Contains(rest, "..") {
		return "", false
	}
	return rest, true
}

func passthrough(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "data:image/")
}

// CheckImageRef reports whether owner may attach ref to an entry. Stored
// references must name one of owner's own uploads.
func (s *Store) CheckImageRef(owner int64, ref string) error {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "", passthrough(ref):
		return nil
	case strings.HasPrefix(ref, refScheme):
		if _, ok := s.keyOf(owner, ref); !ok {
			return ErrNotOwned
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, ref)
	}
}

// ResolveImage turns owner's image reference into a URL the model can fetch.
func (s *Store) ResolveImage(ctx context.Context, owner int64, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case passthrough(ref):
		return ref, nil
	case strings.HasPrefix(ref, refScheme):
		if !s.Enabled() {
			return "", fmt.Errorf("%w: %s", ErrUnsupported, ref)
		}
		key, ok := s.keyOf(owner, ref)
		if !ok {
			return "", ErrNotOwned
		}
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.presignTTL))
		if err != nil {
			return "", fmt.Errorf("presign photo: %w", err)
		}
		return req.URL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ref)
	}
}

// Delete removes one of owner's uploads. References that are not owner's
// uploads in this bucket are ignored.
func (s *Store) Delete(ctx context.Context, owner int64, ref string) error {
	key, ok := s.keyOf(owner, strings.TrimSpace(ref))
	if !ok || !s.Enabled() {
		return nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}
