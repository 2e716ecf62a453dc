package storage

import (
	"context"
	"errors"
	"io"
)

const (
	UploadBucket = "uploads"
	ResultBucket = "results"
	LogBucket    = "logs"
)

var Buckets = []string{UploadBucket, ResultBucket, LogBucket}

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidKey     = errors.New("invalid object key")
)

func InputKey(taskId string) string {
	return taskId + ".txt"
}

func ResultKey(taskId string) string {
	return taskId + ".csv"
}

func LogKey(taskId string) string {
	return taskId + ".log"
}

type Object struct {
	Name string
	Size int64
}

type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	// GetObjectStream fails with ErrObjectNotFound for missing objects.
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// CreateBuckets makes sure every bucket the service writes to exists.
func CreateBuckets(ctx context.Context, p Provider) error {
	for _, bucket := range Buckets {
		if err := p.CreateBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}
