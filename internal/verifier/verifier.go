// Package verifier содержит проверку чистоты тарелки по загруженному изображению.
package verifier

import (
	"context"
	"time"

	"github.com/mmeshcher/bonyad-system/internal/model"
)

// Verifier описывает стратегию проверки изображения тарелки. Реализация
// подменяется целиком: остальной код сервиса зависит только от этого контракта.
type Verifier interface {
	Verify(ctx context.Context, imageURL string) (model.VerificationStatus, error)
}

// StubVerifier одобряет любое изображение после имитации времени обработки.
// Используется до подключения настоящей модели классификации.
type StubVerifier struct {
	delay time.Duration
}

// NewStubVerifier создаёт заглушку проверки с указанной задержкой обработки.
func NewStubVerifier(delay time.Duration) *StubVerifier {
	return &StubVerifier{delay: delay}
}

// Verify возвращает approved для любого изображения после ограниченной задержки.
func (v *StubVerifier) Verify(ctx context.Context, imageURL string) (model.VerificationStatus, error) {
	if v.delay > 0 {
		timer := time.NewTimer(v.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return model.VerificationStatusApproved, nil
}
