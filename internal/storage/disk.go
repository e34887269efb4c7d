package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DiskStore сохраняет изображения в локальный каталог и отдаёт их по пути /uploads.
type DiskStore struct {
	dir string
}

// NewDiskStore создаёт хранилище в указанном каталоге, создавая его при необходимости.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Save записывает изображение в файл и возвращает относительный URL.
func (s *DiskStore) Save(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filepath.Base(key))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}

	return "/uploads/" + filepath.Base(key), nil
}
