// Package qr содержит генерацию QR-кодов для ссылок на страницу предложений.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// Renderer описывает генератор QR-изображения по целевому URL.
type Renderer interface {
	Render(targetURL string) (string, error)
}

// PNGRenderer генерирует QR-код в виде PNG data URL.
type PNGRenderer struct {
	size int
}

// NewPNGRenderer создаёт генератор с указанным размером изображения в пикселях.
func NewPNGRenderer(size int) *PNGRenderer {
	if size <= 0 {
		size = 400
	}
	return &PNGRenderer{size: size}
}

// Render кодирует URL в QR-код и возвращает его как data URL.
func (r *PNGRenderer) Render(targetURL string) (string, error) {
	png, err := qrcode.Encode(targetURL, qrcode.High, r.size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
