// Package storage содержит хранилища загруженных изображений тарелок.
package storage

import (
	"context"
	"io"
)

// ImageStore описывает хранилище бинарных изображений. Save сохраняет изображение
// под указанным ключом и возвращает URL, по которому оно доступно.
type ImageStore interface {
	Save(ctx context.Context, key, contentType string, data io.Reader) (string, error)
}
