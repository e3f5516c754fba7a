// Package storage сохраняет изображения объявлений в S3 или в локальный каталог.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

var ErrInvalidKey = errors.New("invalid storage key")

// PutObjectAPI - единственный вызов S3, который нужен хранилищу.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client        PutObjectAPI
	bucket        string
	publicBaseURL string
}

func NewS3Store(client PutObjectAPI, bucket, publicBaseURL string) *S3Store {
	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return &S3Store{client: client, bucket: bucket, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("storage: failed to put object %s: %w", key, err)
	}

	log.Debug().Str("bucket", s.bucket).Str("key", key).Int("size", len(data)).Msg("storage: object uploaded")
	return s.publicBaseURL + "/" + key, nil
}

// LocalStore пишет файлы на диск; каталог раздаётся HTTP-сервером по publicBaseURL.
type LocalStore struct {
	dir           string
	publicBaseURL string
}

func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create upload dir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (l *LocalStore) Dir() string {
	return l.dir
}

func (l *LocalStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	full := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: failed to create dir for %s: %w", key, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: failed to write %s: %w", key, err)
	}
	return l.publicBaseURL + "/" + key, nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
