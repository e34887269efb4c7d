// Package handler содержит HTTP-обработчики API сервиса бонусных скидок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/bonyad-system/internal/middleware"
	"github.com/mmeshcher/bonyad-system/internal/model"
	"github.com/mmeshcher/bonyad-system/internal/repository"
	"github.com/mmeshcher/bonyad-system/internal/service"
	"github.com/mmeshcher/bonyad-system/internal/validation"
)

// maxUploadSize ограничивает размер загружаемого изображения тарелки.
const maxUploadSize = 5 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CheckEligibility(ctx context.Context, fingerprint string) (*model.Eligibility, error)
	UploadPlate(ctx context.Context, p service.UploadParams) (*model.Scan, error)
	VerifyScan(ctx context.Context, scanID string) (*model.Scan, error)
	ClaimReward(ctx context.Context, req service.ClaimRequest) (*model.Reward, error)
	GetScanStatus(ctx context.Context, scanID string) (*model.ScanDetails, error)
	ListOffers(ctx context.Context, restaurantID string) (*model.Offers, error)
	GenerateRestaurantQR(ctx context.Context, restaurantID string) (*service.RestaurantQR, error)
	ListScans(ctx context.Context) ([]model.ScanDetails, error)
	GetDashboardMetrics(ctx context.Context) (*model.DashboardMetrics, error)
}

// Handler реализует HTTP-обработчики API сервиса бонусных скидок.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type cooldownResponse struct {
	Message         string `json:"message"`
	NextAvailableAt string `json:"nextAvailableAt"`
}

func writeCooldown(w http.ResponseWriter, message string, nextAvailableAt time.Time) {
	writeJSON(w, http.StatusTooManyRequests, cooldownResponse{
		Message:         message,
		NextAvailableAt: nextAvailableAt.Format(time.RFC3339),
	})
}

type eligibilityRequest struct {
	DeviceFingerprint string `json:"deviceFingerprint"`
}

type remainingTime struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

type eligibilityResponse struct {
	Eligible        bool           `json:"eligible"`
	Message         string         `json:"message"`
	NextAvailableAt string         `json:"nextAvailableAt,omitempty"`
	RemainingTime   *remainingTime `json:"remainingTime,omitempty"`
}

// CheckEligibility проверяет, может ли устройство начать новый скан.
func (h *Handler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	var req eligibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Device identifier is required."})
		return
	}

	if !validation.IsValidFingerprint(req.DeviceFingerprint) {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Device identifier is required."})
		return
	}

	elig, err := h.service.CheckEligibility(r.Context(), req.DeviceFingerprint)
	if err != nil {
		h.logger.Error("check eligibility error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to check scan eligibility."})
		return
	}

	if elig.Eligible {
		writeJSON(w, http.StatusOK, eligibilityResponse{
			Eligible: true,
			Message:  "You can proceed with scanning.",
		})
		return
	}

	remaining := time.Until(*elig.NextAvailableAt)
	writeJSON(w, http.StatusOK, eligibilityResponse{
		Eligible:        false,
		Message:         "Scan limit reached. Try again later.",
		NextAvailableAt: elig.NextAvailableAt.Format(time.RFC3339),
		RemainingTime: &remainingTime{
			Hours:   int(remaining / time.Hour),
			Minutes: int(remaining % time.Hour / time.Minute),
		},
	})
}

type scanResponse struct {
	ID                  string `json:"id"`
	PlateImageURL       string `json:"plateImageUrl,omitempty"`
	VerificationStatus  string `json:"verificationStatus"`
	RewardUnlocked      bool   `json:"rewardUnlocked"`
	NextScanAvailableAt string `json:"nextScanAvailableAt,omitempty"`
}

func toScanResponse(s *model.Scan) scanResponse {
	resp := scanResponse{
		ID:                 s.ID,
		PlateImageURL:      s.PlateImageURL,
		VerificationStatus: string(s.VerificationStatus),
		RewardUnlocked:     s.RewardUnlocked,
	}
	if s.NextScanAvailableAt != nil {
		resp.NextScanAvailableAt = s.NextScanAvailableAt.Format(time.RFC3339)
	}
	return resp
}

// UploadPlate принимает изображение тарелки и создаёт скан для проверки.
func (h *Handler) UploadPlate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No image uploaded."})
		return
	}

	fingerprint := r.FormValue("deviceFingerprint")
	if !validation.IsValidFingerprint(fingerprint) {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Device identifier is required."})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No image uploaded."})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Only image uploads are allowed."})
		return
	}

	scan, err := h.service.UploadPlate(r.Context(), service.UploadParams{
		ScanID:            r.FormValue("scanId"),
		DeviceFingerprint: fingerprint,
		RestaurantID:      r.FormValue("restaurantId"),
		ShopID:            r.FormValue("shopId"),
		ItemID:            r.FormValue("itemId"),
		FileName:          header.Filename,
		ContentType:       contentType,
		Data:              file,
	})
	if err != nil {
		var cooldown *repository.CooldownError
		switch {
		case errors.As(err, &cooldown):
			writeCooldown(w, "Scan limit reached. You can only scan once every 24 hours.", cooldown.NextAvailableAt)
		case errors.Is(err, repository.ErrScanNotFound):
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "Scan not found."})
		case errors.Is(err, repository.ErrScanFinalized):
			writeJSON(w, http.StatusConflict, messageResponse{Message: "Scan already finalized."})
		default:
			h.logger.Error("upload plate error", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to upload image."})
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Message string       `json:"message"`
		Scan    scanResponse `json:"scan"`
	}{
		Message: "Image uploaded successfully. Verification in progress...",
		Scan:    toScanResponse(scan),
	})
}

// VerifyScan запускает проверку тарелки для указанного скана.
func (h *Handler) VerifyScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	scan, err := h.service.VerifyScan(r.Context(), scanID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrScanNotFound):
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "Scan not found."})
		case errors.Is(err, repository.ErrScanFinalized):
			writeJSON(w, http.StatusConflict, messageResponse{Message: "Scan already verified."})
		case errors.Is(err, service.ErrNoPlateImage):
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "No plate image uploaded."})
		default:
			h.logger.Error("verify scan error", zap.Error(err), zap.String("scanID", scanID))
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Verification failed."})
		}
		return
	}

	message := "Plate verified! Your reward is unlocked."
	if scan.VerificationStatus == model.VerificationStatusRejected {
		message = "Plate verification failed. Food leftovers detected."
	}

	writeJSON(w, http.StatusOK, struct {
		Message string       `json:"message"`
		Scan    scanResponse `json:"scan"`
	}{
		Message: message,
		Scan:    toScanResponse(scan),
	})
}

type scanStatusResponse struct {
	ID                  string `json:"id"`
	PlateImageURL       string `json:"plateImageUrl,omitempty"`
	VerificationStatus  string `json:"verificationStatus"`
	RewardUnlocked      bool   `json:"rewardUnlocked"`
	NextScanAvailableAt string `json:"nextScanAvailableAt,omitempty"`
	Restaurant          string `json:"restaurant,omitempty"`
	Shop                string `json:"shop,omitempty"`
	Item                string `json:"item,omitempty"`
	ScannedAt           string `json:"scannedAt"`
	VerifiedAt          string `json:"verifiedAt,omitempty"`
}

// GetScanStatus возвращает текущее состояние скана.
func (h *Handler) GetScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	details, err := h.service.GetScanStatus(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, repository.ErrScanNotFound) {
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "Scan not found."})
			return
		}
		h.logger.Error("get scan status error", zap.Error(err), zap.String("scanID", scanID))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to retrieve scan status."})
		return
	}

	resp := scanStatusResponse{
		ID:                 details.Scan.ID,
		PlateImageURL:      details.Scan.PlateImageURL,
		VerificationStatus: string(details.Scan.VerificationStatus),
		RewardUnlocked:     details.Scan.RewardUnlocked,
		Restaurant:         details.RestaurantName,
		Shop:               details.ShopName,
		Item:               details.ItemName,
		ScannedAt:          details.Scan.ScannedAt.Format(time.RFC3339),
	}
	if details.Scan.NextScanAvailableAt != nil {
		resp.NextScanAvailableAt = details.Scan.NextScanAvailableAt.Format(time.RFC3339)
	}
	if details.Scan.VerifiedAt != nil {
		resp.VerifiedAt = details.Scan.VerifiedAt.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, struct {
		Scan scanStatusResponse `json:"scan"`
	}{Scan: resp})
}

type offerItemResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	OriginalPrice      float64 `json:"originalPrice"`
	DiscountedPrice    float64 `json:"discountedPrice"`
	QuantityAvailable  int64   `json:"quantityAvailable"`
	DiscountAmount     float64 `json:"discountAmount"`
	DiscountPercentage int     `json:"discountPercentage"`
}

type shopResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

type shopOffersResponse struct {
	Shop  shopResponse        `json:"shop"`
	Items []offerItemResponse `json:"items"`
}

type restaurantResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ListOffers возвращает доступные предложения ресторана, сгруппированные по точкам.
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	restaurantID := r.URL.Query().Get("restaurantId")

	offers, err := h.service.ListOffers(r.Context(), restaurantID)
	if err != nil {
		if errors.Is(err, repository.ErrRestaurantNotFound) {
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "Restaurant not found"})
			return
		}
		h.logger.Error("list offers error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to fetch offers"})
		return
	}

	shops := make([]shopOffersResponse, 0, len(offers.Shops))
	for _, so := range offers.Shops {
		items := make([]offerItemResponse, 0, len(so.Items))
		for _, it := range so.Items {
			items = append(items, offerItemResponse{
				ID:                 it.ID,
				Name:               it.Name,
				OriginalPrice:      it.OriginalPrice,
				DiscountedPrice:    it.DiscountedPrice,
				QuantityAvailable:  it.QuantityAvailable,
				DiscountAmount:     it.DiscountAmount,
				DiscountPercentage: it.DiscountPercentage,
			})
		}
		shops = append(shops, shopOffersResponse{
			Shop: shopResponse{
				ID:      so.Shop.ID,
				Name:    so.Shop.Name,
				Address: so.Shop.Address,
				Status:  string(so.Shop.Status),
			},
			Items: items,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Restaurant  restaurantResponse   `json:"restaurant"`
		Shops       []shopOffersResponse `json:"shops"`
		TotalOffers int                  `json:"totalOffers"`
	}{
		Restaurant: restaurantResponse{
			ID:      offers.Restaurant.ID,
			Name:    offers.Restaurant.Name,
			Address: offers.Restaurant.Address,
		},
		Shops:       shops,
		TotalOffers: offers.TotalOffers,
	})
}

type claimRequest struct {
	RestaurantID      string `json:"restaurantId"`
	ShopID            string `json:"shopId"`
	ItemID            string `json:"itemId"`
	GuestName         string `json:"guestName"`
	DeviceFingerprint string `json:"deviceFingerprint"`
}

type rewardResponse struct {
	ID              string  `json:"id"`
	RewardCode      string  `json:"rewardCode"`
	Item            string  `json:"item"`
	Shop            string  `json:"shop"`
	OriginalPrice   float64 `json:"originalPrice"`
	DiscountedPrice float64 `json:"discountedPrice"`
	DiscountAmount  float64 `json:"discountAmount"`
	ClaimedAt       string  `json:"claimedAt"`
	ExpiresAt       string  `json:"expiresAt"`
}

// ClaimReward выдаёт награду за выбранный товар из списка предложений.
func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Restaurant, shop, and item are required"})
		return
	}

	if req.RestaurantID == "" || req.ShopID == "" || req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Restaurant, shop, and item are required"})
		return
	}

	if !validation.IsValidFingerprint(req.DeviceFingerprint) {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Device identifier is required."})
		return
	}

	reward, err := h.service.ClaimReward(r.Context(), service.ClaimRequest{
		RestaurantID:      req.RestaurantID,
		ShopID:            req.ShopID,
		ItemID:            req.ItemID,
		GuestName:         req.GuestName,
		DeviceFingerprint: req.DeviceFingerprint,
	})
	if err != nil {
		var cooldown *repository.CooldownError
		switch {
		case errors.As(err, &cooldown):
			writeCooldown(w, "You have already claimed a reward in the last 24 hours", cooldown.NextAvailableAt)
		case errors.Is(err, repository.ErrRestaurantNotFound),
			errors.Is(err, repository.ErrShopNotFound),
			errors.Is(err, repository.ErrItemNotFound):
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "Item not found"})
		case errors.Is(err, repository.ErrItemUnavailable):
			writeJSON(w, http.StatusConflict, messageResponse{Message: "This item is no longer available"})
		default:
			h.logger.Error("claim reward error", zap.Error(err), zap.String("itemID", req.ItemID))
			writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to create scan reward"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Message string         `json:"message"`
		Scan    rewardResponse `json:"scan"`
	}{
		Message: "Reward claimed successfully!",
		Scan: rewardResponse{
			ID:              reward.ScanID,
			RewardCode:      reward.Code,
			Item:            reward.ItemName,
			Shop:            reward.ShopName,
			OriginalPrice:   reward.OriginalPrice,
			DiscountedPrice: reward.DiscountedPrice,
			DiscountAmount:  reward.DiscountAmount,
			ClaimedAt:       reward.ClaimedAt.Format(time.RFC3339),
			ExpiresAt:       reward.ExpiresAt.Format(time.RFC3339),
		},
	})
}

// GenerateRestaurantQR возвращает QR-код ресторана для страницы предложений.
func (h *Handler) GenerateRestaurantQR(w http.ResponseWriter, r *http.Request) {
	restaurantID := chi.URLParam(r, "restaurantID")

	res, err := h.service.GenerateRestaurantQR(r.Context(), restaurantID)
	if err != nil {
		if errors.Is(err, repository.ErrRestaurantNotFound) {
			writeJSON(w, http.StatusNotFound, messageResponse{Message: "Restaurant not found"})
			return
		}
		h.logger.Error("generate qr error", zap.Error(err), zap.String("restaurantID", restaurantID))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to generate QR code"})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		QR         string             `json:"qr"`
		Restaurant restaurantResponse `json:"restaurant"`
		TargetURL  string             `json:"targetUrl"`
	}{
		QR: res.QR,
		Restaurant: restaurantResponse{
			ID:      res.Restaurant.ID,
			Name:    res.Restaurant.Name,
			Address: res.Restaurant.Address,
		},
		TargetURL: res.TargetURL,
	})
}

type adminScanResponse struct {
	ID                 string  `json:"id"`
	Restaurant         string  `json:"restaurant,omitempty"`
	Shop               string  `json:"shop,omitempty"`
	Item               string  `json:"item,omitempty"`
	GuestName          string  `json:"guestName,omitempty"`
	VerificationStatus string  `json:"verificationStatus"`
	RewardUnlocked     bool    `json:"rewardUnlocked"`
	DiscountAmount     float64 `json:"discountAmount"`
	ScannedAt          string  `json:"scannedAt"`
}

// ListScans возвращает историю сканов для панели администратора.
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := h.service.ListScans(r.Context())
	if err != nil {
		h.logger.Error("list scans error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to fetch scans"})
		return
	}

	resp := make([]adminScanResponse, 0, len(scans))
	for _, d := range scans {
		resp = append(resp, adminScanResponse{
			ID:                 d.Scan.ID,
			Restaurant:         d.RestaurantName,
			Shop:               d.ShopName,
			Item:               d.ItemName,
			GuestName:          d.Scan.GuestName,
			VerificationStatus: string(d.Scan.VerificationStatus),
			RewardUnlocked:     d.Scan.RewardUnlocked,
			DiscountAmount:     float64(d.Scan.DiscountAmountCents) / 100,
			ScannedAt:          d.Scan.ScannedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type recentScanResponse struct {
	ID              string  `json:"id"`
	ScannedAt       string  `json:"scannedAt"`
	ShopName        string  `json:"shopName"`
	ItemName        string  `json:"itemName"`
	DiscountApplied float64 `json:"discountApplied"`
}

// GetDashboardMetrics возвращает сводные показатели для панели администратора.
func (h *Handler) GetDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.GetDashboardMetrics(r.Context())
	if err != nil {
		h.logger.Error("dashboard metrics error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Failed to fetch metrics"})
		return
	}

	recent := make([]recentScanResponse, 0, len(metrics.Recent))
	for _, rec := range metrics.Recent {
		recent = append(recent, recentScanResponse{
			ID:              rec.ID,
			ScannedAt:       rec.ScannedAt.Format(time.RFC3339),
			ShopName:        rec.ShopName,
			ItemName:        rec.ItemName,
			DiscountApplied: rec.DiscountApplied,
		})
	}

	writeJSON(w, http.StatusOK, struct {
		TotalScans   int64                `json:"totalScans"`
		TotalRewards float64              `json:"totalRewards"`
		Recent       []recentScanResponse `json:"recent"`
	}{
		TotalScans:   metrics.TotalScans,
		TotalRewards: metrics.TotalRewards,
		Recent:       recent,
	})
}
