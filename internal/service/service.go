// Package service реализует бизнес-логику сервиса бонусных скидок.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/bonyad-system/internal/model"
	"github.com/mmeshcher/bonyad-system/internal/qr"
	"github.com/mmeshcher/bonyad-system/internal/repository"
	"github.com/mmeshcher/bonyad-system/internal/storage"
	"github.com/mmeshcher/bonyad-system/internal/verifier"
)

const (
	// scanCooldown — окно ожидания устройства после подтверждённого скана.
	scanCooldown = 24 * time.Hour
	// rewardTTL — срок действия кода погашения.
	rewardTTL = 24 * time.Hour
	// rewardCodePrefix — префикс кода погашения, показываемого персоналу.
	rewardCodePrefix = "BNY-"

	recentScansLimit = 10
)

// ErrNoPlateImage возвращается при попытке проверить скан без загруженного изображения.
var ErrNoPlateImage = errors.New("no plate image uploaded")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetLatestApprovedScan(ctx context.Context, fingerprint string) (*model.Scan, error)
	GetScanByID(ctx context.Context, id string) (*model.Scan, error)
	GetScanDetails(ctx context.Context, id string) (*model.ScanDetails, error)
	CreatePendingScan(ctx context.Context, scan *model.Scan) error
	AttachPlateImage(ctx context.Context, scanID, imageURL, fingerprint string, now time.Time) (*model.Scan, error)
	FinalizeScan(ctx context.Context, scanID string, status model.VerificationStatus, verifiedAt time.Time, nextAvailableAt *time.Time) (*model.Scan, error)
	CreateClaimedScan(ctx context.Context, p repository.ClaimParams) (*repository.ClaimResult, error)
	GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error)
	ListOffers(ctx context.Context, restaurantID string) (*model.Offers, error)
	ListScans(ctx context.Context) ([]model.ScanDetails, error)
	GetDashboardMetrics(ctx context.Context, recentLimit int) (*model.DashboardMetrics, error)
	ClearStaleCooldowns(ctx context.Context) (int64, error)
}

// Service содержит бизнес-логику сервиса бонусных скидок.
type Service struct {
	repo      Repository
	verifier  verifier.Verifier
	images    storage.ImageStore
	qrender   qr.Renderer
	qrBaseURL string

	now func() time.Time
}

// NewService создаёт новый сервис с указанными зависимостями.
func NewService(repo Repository, v verifier.Verifier, images storage.ImageStore, qrRender qr.Renderer, qrBaseURL string) *Service {
	return &Service{
		repo:      repo,
		verifier:  v,
		images:    images,
		qrender:   qrRender,
		qrBaseURL: strings.TrimRight(qrBaseURL, "/"),
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CheckEligibility проверяет, может ли устройство получить новую награду.
// Окно ожидания создаёт только последний подтверждённый скан: отклонённые
// и незавершённые попытки не блокируют повторные проверки.
func (s *Service) CheckEligibility(ctx context.Context, fingerprint string) (*model.Eligibility, error) {
	scan, err := s.repo.GetLatestApprovedScan(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	if scan == nil || scan.NextScanAvailableAt == nil {
		return &model.Eligibility{Eligible: true}, nil
	}

	if s.now().Before(*scan.NextScanAvailableAt) {
		next := *scan.NextScanAvailableAt
		return &model.Eligibility{Eligible: false, NextAvailableAt: &next}, nil
	}

	return &model.Eligibility{Eligible: true}, nil
}

// UploadParams содержит параметры загрузки изображения тарелки.
type UploadParams struct {
	ScanID            string
	DeviceFingerprint string
	RestaurantID      string
	ShopID            string
	ItemID            string
	FileName          string
	ContentType       string
	Data              io.Reader
}

// UploadPlate сохраняет изображение тарелки и создаёт (или обновляет) скан
// в статусе pending. Если устройство ещё в окне ожидания, загрузка отклоняется
// до сохранения изображения и вызова проверки.
func (s *Service) UploadPlate(ctx context.Context, p UploadParams) (*model.Scan, error) {
	elig, err := s.CheckEligibility(ctx, p.DeviceFingerprint)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return nil, &repository.CooldownError{NextAvailableAt: *elig.NextAvailableAt}
	}

	now := s.now()

	key := uuid.NewString() + strings.ToLower(path.Ext(p.FileName))
	imageURL, err := s.images.Save(ctx, key, p.ContentType, p.Data)
	if err != nil {
		return nil, fmt.Errorf("save plate image: %w", err)
	}

	if p.ScanID != "" {
		return s.repo.AttachPlateImage(ctx, p.ScanID, imageURL, p.DeviceFingerprint, now)
	}

	scan := &model.Scan{
		ID:                 uuid.NewString(),
		RestaurantID:       optionalID(p.RestaurantID),
		ShopID:             optionalID(p.ShopID),
		ItemID:             optionalID(p.ItemID),
		DeviceFingerprint:  p.DeviceFingerprint,
		PlateImageURL:      imageURL,
		VerificationStatus: model.VerificationStatusPending,
		ScannedAt:          now,
	}

	if err := s.repo.CreatePendingScan(ctx, scan); err != nil {
		return nil, err
	}

	return scan, nil
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// VerifyScan запускает проверку тарелки для скана в статусе pending.
// При ошибке проверяющего скан остаётся pending и проверку можно повторить;
// повторная проверка завершённого скана отклоняется как конфликт.
func (s *Service) VerifyScan(ctx context.Context, scanID string) (*model.Scan, error) {
	scan, err := s.repo.GetScanByID(ctx, scanID)
	if err != nil {
		return nil, err
	}

	if scan.VerificationStatus.IsTerminal() {
		return nil, repository.ErrScanFinalized
	}

	if scan.PlateImageURL == "" {
		return nil, ErrNoPlateImage
	}

	status, err := s.verifier.Verify(ctx, scan.PlateImageURL)
	if err != nil {
		return nil, fmt.Errorf("verify plate: %w", err)
	}

	now := s.now()
	var nextAvailableAt *time.Time
	if status == model.VerificationStatusApproved {
		next := now.Add(scanCooldown)
		nextAvailableAt = &next
	}

	return s.repo.FinalizeScan(ctx, scanID, status, now, nextAvailableAt)
}

// ClaimRequest содержит параметры прямого получения награды из списка предложений.
type ClaimRequest struct {
	RestaurantID      string
	ShopID            string
	ItemID            string
	GuestName         string
	DeviceFingerprint string
}

// ClaimReward атомарно выдаёт награду: резервирует единицу товара, создаёт
// подтверждённый скан с зафиксированными ценами и возвращает код погашения
// с окном действия.
func (s *Service) ClaimReward(ctx context.Context, req ClaimRequest) (*model.Reward, error) {
	guestName := req.GuestName
	if guestName == "" {
		guestName = "Guest"
	}

	now := s.now()
	scanID := uuid.NewString()

	res, err := s.repo.CreateClaimedScan(ctx, repository.ClaimParams{
		ScanID:            scanID,
		RestaurantID:      req.RestaurantID,
		ShopID:            req.ShopID,
		ItemID:            req.ItemID,
		GuestName:         guestName,
		DeviceFingerprint: req.DeviceFingerprint,
		Now:               now,
		Cooldown:          scanCooldown,
	})
	if err != nil {
		return nil, err
	}

	return &model.Reward{
		ScanID:          res.Scan.ID,
		Code:            RewardCode(res.Scan.ID),
		ItemName:        res.ItemName,
		ShopName:        res.ShopName,
		OriginalPrice:   float64(res.Scan.OriginalPriceCents) / 100,
		DiscountedPrice: float64(res.Scan.DiscountedPriceCents) / 100,
		DiscountAmount:  float64(res.Scan.DiscountAmountCents) / 100,
		ClaimedAt:       now,
		ExpiresAt:       now.Add(rewardTTL),
	}, nil
}

// RewardCode выводит код погашения из идентификатора скана. Код проверяется
// поиском скана в хранилище, поэтому от него требуется только уникальность.
func RewardCode(scanID string) string {
	cleaned := strings.ReplaceAll(scanID, "-", "")
	if len(cleaned) > 5 {
		cleaned = cleaned[len(cleaned)-5:]
	}
	return rewardCodePrefix + strings.ToUpper(cleaned)
}

// GetScanStatus возвращает скан с названиями связанных сущностей.
func (s *Service) GetScanStatus(ctx context.Context, scanID string) (*model.ScanDetails, error) {
	return s.repo.GetScanDetails(ctx, scanID)
}

// ListOffers возвращает доступные предложения ресторана.
func (s *Service) ListOffers(ctx context.Context, restaurantID string) (*model.Offers, error) {
	return s.repo.ListOffers(ctx, restaurantID)
}

// RestaurantQR содержит QR-код ресторана и целевой URL страницы предложений.
type RestaurantQR struct {
	Restaurant model.Restaurant
	QR         string
	TargetURL  string
}

// GenerateRestaurantQR генерирует QR-код, ведущий на страницу предложений ресторана.
func (s *Service) GenerateRestaurantQR(ctx context.Context, restaurantID string) (*RestaurantQR, error) {
	restaurant, err := s.repo.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	targetURL := fmt.Sprintf("%s/qr/offers?restaurantId=%s", s.qrBaseURL, restaurant.ID)

	encoded, err := s.qrender.Render(targetURL)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	return &RestaurantQR{
		Restaurant: *restaurant,
		QR:         encoded,
		TargetURL:  targetURL,
	}, nil
}

// ListScans возвращает историю сканов для панели администратора.
func (s *Service) ListScans(ctx context.Context) ([]model.ScanDetails, error) {
	return s.repo.ListScans(ctx)
}

// GetDashboardMetrics возвращает сводные показатели для панели администратора.
func (s *Service) GetDashboardMetrics(ctx context.Context) (*model.DashboardMetrics, error) {
	return s.repo.GetDashboardMetrics(ctx, recentScansLimit)
}

// CleanupCooldowns снимает окна ожидания с неподтверждённых сканов.
// Запускается периодически обслуживающей задачей.
func (s *Service) CleanupCooldowns(ctx context.Context) (int64, error) {
	return s.repo.ClearStaleCooldowns(ctx)
}
