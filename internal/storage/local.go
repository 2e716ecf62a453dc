package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalProvider struct {
	baseDir string
}

var _ Provider = &LocalProvider{}

func NewLocalProvider(dir string) (*LocalProvider, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", baseDir, err)
	}

	return &LocalProvider{baseDir: baseDir}, nil
}

// fullpath maps bucket/key to a path under the base dir, rejecting anything
// that would escape it.
func (p *LocalProvider) fullpath(bucket, key string) (string, error) {
	path := filepath.Join(p.baseDir, bucket, key)
	bucketDir := filepath.Join(p.baseDir, bucket)
	if bucket == "" || key == "" || !strings.HasPrefix(path, bucketDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s/%s", ErrInvalidKey, bucket, key)
	}
	return path, nil
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(p.baseDir, bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket dir %s: %w", bucket, err)
	}
	return nil
}

func (p *LocalProvider) ObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	path, err := p.fullpath(bucket, key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s/%s: %w", bucket, key, err)
	}
	return !info.IsDir(), nil
}

func (p *LocalProvider) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := p.fullpath(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, fmt.Errorf("failed to open file %s/%s: %w", bucket, key, err)
	}
	return file, nil
}

func (p *LocalProvider) DownloadObject(ctx context.Context, bucket, key, filename string) error {
	src, err := p.GetObjectStream(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(filename), err)
	}

	dst, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy %s/%s to %s: %w", bucket, key, filename, err)
	}

	return nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	path, err := p.fullpath(bucket, key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, key, err)
	}

	// Written next to the target and renamed so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", bucket, key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store file %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (p *LocalProvider) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	files, err := os.ReadDir(filepath.Join(p.baseDir, bucket))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list files in %s: %w", bucket, err)
	}

	var objects []Object
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".upload-") {
			continue
		}
		if prefix != "" && !strings.HasPrefix(file.Name(), prefix) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s/%s: %w", bucket, file.Name(), err)
		}

		objects = append(objects, Object{Name: file.Name(), Size: info.Size()})
	}

	return objects, nil
}
