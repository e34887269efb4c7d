package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/bonyad-system/internal/middleware"
	"github.com/mmeshcher/bonyad-system/internal/model"
	"github.com/mmeshcher/bonyad-system/internal/repository"
	"github.com/mmeshcher/bonyad-system/internal/service"
)

type stubService struct {
	eligibility *model.Eligibility
	eligErr     error

	uploadScan *model.Scan
	uploadErr  error

	verifyScan *model.Scan
	verifyErr  error

	reward   *model.Reward
	claimErr error

	scanDetails *model.ScanDetails
	detailsErr  error

	offers    *model.Offers
	offersErr error

	qrResult *service.RestaurantQR
	qrErr    error

	scans    []model.ScanDetails
	scansErr error

	metrics    *model.DashboardMetrics
	metricsErr error
}

func (s *stubService) CheckEligibility(ctx context.Context, fingerprint string) (*model.Eligibility, error) {
	return s.eligibility, s.eligErr
}

func (s *stubService) UploadPlate(ctx context.Context, p service.UploadParams) (*model.Scan, error) {
	return s.uploadScan, s.uploadErr
}

func (s *stubService) VerifyScan(ctx context.Context, scanID string) (*model.Scan, error) {
	return s.verifyScan, s.verifyErr
}

func (s *stubService) ClaimReward(ctx context.Context, req service.ClaimRequest) (*model.Reward, error) {
	return s.reward, s.claimErr
}

func (s *stubService) GetScanStatus(ctx context.Context, scanID string) (*model.ScanDetails, error) {
	return s.scanDetails, s.detailsErr
}

func (s *stubService) ListOffers(ctx context.Context, restaurantID string) (*model.Offers, error) {
	return s.offers, s.offersErr
}

func (s *stubService) GenerateRestaurantQR(ctx context.Context, restaurantID string) (*service.RestaurantQR, error) {
	return s.qrResult, s.qrErr
}

func (s *stubService) ListScans(ctx context.Context) ([]model.ScanDetails, error) {
	return s.scans, s.scansErr
}

func (s *stubService) GetDashboardMetrics(ctx context.Context) (*model.DashboardMetrics, error) {
	return s.metrics, s.metricsErr
}

func newTestHandler(svc Service) *Handler {
	return NewHandler(svc, zap.NewNop(), middleware.NewAuthMiddleware("test-secret"))
}

func doRequest(h *Handler, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestCheckEligibility(t *testing.T) {
	next := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		body       string
		svc        *stubService
		wantStatus int
		wantField  string
	}{
		{
			name:       "invalid json",
			body:       "not-json",
			svc:        &stubService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing fingerprint",
			body:       `{}`,
			svc:        &stubService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "fingerprint too short",
			body:       `{"deviceFingerprint":"abc"}`,
			svc:        &stubService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "eligible device",
			body:       `{"deviceFingerprint":"device-fingerprint-1"}`,
			svc:        &stubService{eligibility: &model.Eligibility{Eligible: true}},
			wantStatus: http.StatusOK,
			wantField:  `"eligible":true`,
		},
		{
			name: "device in cooldown",
			body: `{"deviceFingerprint":"device-fingerprint-1"}`,
			svc: &stubService{
				eligibility: &model.Eligibility{Eligible: false, NextAvailableAt: &next},
			},
			wantStatus: http.StatusOK,
			wantField:  `"nextAvailableAt":"2025-06-02T12:00:00Z"`,
		},
		{
			name:       "service failure",
			body:       `{"deviceFingerprint":"device-fingerprint-1"}`,
			svc:        &stubService{eligErr: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.svc)
			rec := doRequest(h, http.MethodPost, "/api/plate/check-eligibility", "application/json", []byte(tt.body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantField != "" && !strings.Contains(rec.Body.String(), tt.wantField) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.wantField)
			}
		})
	}
}

func newMultipartBody(t *testing.T, fingerprint string, withImage bool, imageContentType string) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("deviceFingerprint", fingerprint); err != nil {
		t.Fatalf("write field: %v", err)
	}

	if withImage {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="image"; filename="plate.jpg"`)
		header.Set("Content-Type", imageContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte("fake image bytes")); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	return buf.Bytes(), writer.FormDataContentType()
}

func TestUploadPlate(t *testing.T) {
	next := time.Now().Add(10 * time.Hour)

	tests := []struct {
		name        string
		fingerprint string
		withImage   bool
		contentType string
		svc         *stubService
		wantStatus  int
		wantField   string
	}{
		{
			name:        "success",
			fingerprint: "device-fingerprint-1",
			withImage:   true,
			contentType: "image/jpeg",
			svc: &stubService{
				uploadScan: &model.Scan{
					ID:                 "scan-1",
					PlateImageURL:      "/uploads/a.jpg",
					VerificationStatus: model.VerificationStatusPending,
				},
			},
			wantStatus: http.StatusOK,
			wantField:  `"verificationStatus":"pending"`,
		},
		{
			name:        "invalid fingerprint",
			fingerprint: "abc",
			withImage:   true,
			contentType: "image/jpeg",
			svc:         &stubService{},
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "missing image",
			fingerprint: "device-fingerprint-1",
			withImage:   false,
			svc:         &stubService{},
			wantStatus:  http.StatusBadRequest,
			wantField:   "No image uploaded.",
		},
		{
			name:        "non-image upload",
			fingerprint: "device-fingerprint-1",
			withImage:   true,
			contentType: "application/pdf",
			svc:         &stubService{},
			wantStatus:  http.StatusBadRequest,
			wantField:   "Only image uploads are allowed.",
		},
		{
			name:        "device in cooldown",
			fingerprint: "device-fingerprint-1",
			withImage:   true,
			contentType: "image/jpeg",
			svc:         &stubService{uploadErr: &repository.CooldownError{NextAvailableAt: next}},
			wantStatus:  http.StatusTooManyRequests,
			wantField:   "nextAvailableAt",
		},
		{
			name:        "scan already finalized",
			fingerprint: "device-fingerprint-1",
			withImage:   true,
			contentType: "image/jpeg",
			svc:         &stubService{uploadErr: repository.ErrScanFinalized},
			wantStatus:  http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := newMultipartBody(t, tt.fingerprint, tt.withImage, tt.contentType)

			h := newTestHandler(tt.svc)
			rec := doRequest(h, http.MethodPost, "/api/plate/upload", contentType, body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantField != "" && !strings.Contains(rec.Body.String(), tt.wantField) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.wantField)
			}
		})
	}
}

func TestVerifyScan(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		wantStatus int
		wantField  string
	}{
		{
			name: "approved",
			svc: &stubService{
				verifyScan: &model.Scan{
					ID:                 "scan-1",
					VerificationStatus: model.VerificationStatusApproved,
					RewardUnlocked:     true,
				},
			},
			wantStatus: http.StatusOK,
			wantField:  "Plate verified! Your reward is unlocked.",
		},
		{
			name: "rejected",
			svc: &stubService{
				verifyScan: &model.Scan{
					ID:                 "scan-1",
					VerificationStatus: model.VerificationStatusRejected,
				},
			},
			wantStatus: http.StatusOK,
			wantField:  "Food leftovers detected.",
		},
		{
			name:       "scan not found",
			svc:        &stubService{verifyErr: repository.ErrScanNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "already verified",
			svc:        &stubService{verifyErr: repository.ErrScanFinalized},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "no plate image",
			svc:        &stubService{verifyErr: service.ErrNoPlateImage},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "verifier failure",
			svc:        &stubService{verifyErr: errors.New("classifier down")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.svc)
			rec := doRequest(h, http.MethodPost, "/api/plate/verify/scan-1", "", nil)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantField != "" && !strings.Contains(rec.Body.String(), tt.wantField) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.wantField)
			}
		})
	}
}

func TestClaimReward(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(24 * time.Hour)

	validBody := `{"restaurantId":"r1","shopId":"s1","itemId":"i1","deviceFingerprint":"device-fingerprint-1"}`

	tests := []struct {
		name       string
		body       string
		svc        *stubService
		wantStatus int
		wantField  string
	}{
		{
			name: "success",
			body: validBody,
			svc: &stubService{
				reward: &model.Reward{
					ScanID:          "scan-1",
					Code:            "BNY-C3301",
					ItemName:        "Falafel",
					ShopName:        "Corner Shop",
					OriginalPrice:   10,
					DiscountedPrice: 7,
					DiscountAmount:  3,
					ClaimedAt:       now,
					ExpiresAt:       next,
				},
			},
			wantStatus: http.StatusCreated,
			wantField:  `"rewardCode":"BNY-C3301"`,
		},
		{
			name:       "missing item",
			body:       `{"restaurantId":"r1","shopId":"s1","deviceFingerprint":"device-fingerprint-1"}`,
			svc:        &stubService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing fingerprint",
			body:       `{"restaurantId":"r1","shopId":"s1","itemId":"i1"}`,
			svc:        &stubService{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "device in cooldown",
			body:       validBody,
			svc:        &stubService{claimErr: &repository.CooldownError{NextAvailableAt: next}},
			wantStatus: http.StatusTooManyRequests,
			wantField:  `"nextAvailableAt":"2025-06-02T12:00:00Z"`,
		},
		{
			name:       "item not found",
			body:       validBody,
			svc:        &stubService{claimErr: repository.ErrItemNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "shop not found",
			body:       validBody,
			svc:        &stubService{claimErr: repository.ErrShopNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "sold out",
			body:       validBody,
			svc:        &stubService{claimErr: repository.ErrItemUnavailable},
			wantStatus: http.StatusConflict,
			wantField:  "This item is no longer available",
		},
		{
			name:       "storage failure",
			body:       validBody,
			svc:        &stubService{claimErr: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.svc)
			rec := doRequest(h, http.MethodPost, "/api/guest/scan", "application/json", []byte(tt.body))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantField != "" && !strings.Contains(rec.Body.String(), tt.wantField) {
				t.Fatalf("body %q does not contain %q", rec.Body.String(), tt.wantField)
			}
		})
	}
}

func TestGetScanStatus(t *testing.T) {
	verifiedAt := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		svc := &stubService{
			scanDetails: &model.ScanDetails{
				Scan: model.Scan{
					ID:                 "scan-1",
					VerificationStatus: model.VerificationStatusApproved,
					RewardUnlocked:     true,
					ScannedAt:          verifiedAt.Add(-time.Minute),
					VerifiedAt:         &verifiedAt,
				},
				RestaurantName: "Bistro",
				ShopName:       "Corner Shop",
				ItemName:       "Falafel",
			},
		}
		h := newTestHandler(svc)
		rec := doRequest(h, http.MethodGet, "/api/plate/status/scan-1", "", nil)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		var resp struct {
			Scan struct {
				ID                 string `json:"id"`
				VerificationStatus string `json:"verificationStatus"`
				RewardUnlocked     bool   `json:"rewardUnlocked"`
				Shop               string `json:"shop"`
			} `json:"scan"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Scan.VerificationStatus != "approved" || !resp.Scan.RewardUnlocked {
			t.Fatalf("unexpected scan payload: %+v", resp.Scan)
		}
		if resp.Scan.Shop != "Corner Shop" {
			t.Fatalf("shop = %q, want Corner Shop", resp.Scan.Shop)
		}
	})

	t.Run("not found", func(t *testing.T) {
		h := newTestHandler(&stubService{detailsErr: repository.ErrScanNotFound})
		rec := doRequest(h, http.MethodGet, "/api/plate/status/missing", "", nil)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestListOffers(t *testing.T) {
	svc := &stubService{
		offers: &model.Offers{
			Restaurant: model.Restaurant{ID: "r1", Name: "Bistro"},
			Shops: []model.ShopOffers{
				{
					Shop: model.Shop{ID: "s1", Name: "Corner Shop", Status: model.ShopStatusActive},
					Items: []model.OfferItem{
						{
							ID:                 "i1",
							Name:               "Falafel",
							OriginalPrice:      10,
							DiscountedPrice:    7,
							QuantityAvailable:  3,
							DiscountAmount:     3,
							DiscountPercentage: 30,
						},
					},
				},
			},
			TotalOffers: 1,
		},
	}

	h := newTestHandler(svc)
	rec := doRequest(h, http.MethodGet, "/api/guest/offers?restaurantId=r1", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{`"totalOffers":1`, `"discountPercentage":30`, `"quantityAvailable":3`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q does not contain %q", body, want)
		}
	}
}

func TestListOffers_RestaurantNotFound(t *testing.T) {
	h := newTestHandler(&stubService{offersErr: repository.ErrRestaurantNotFound})
	rec := doRequest(h, http.MethodGet, "/api/guest/offers?restaurantId=missing", "", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGenerateRestaurantQR(t *testing.T) {
	svc := &stubService{
		qrResult: &service.RestaurantQR{
			Restaurant: model.Restaurant{ID: "r1", Name: "Bistro"},
			QR:         "data:image/png;base64,stub",
			TargetURL:  "http://localhost:5173/qr/offers?restaurantId=r1",
		},
	}

	h := newTestHandler(svc)
	rec := doRequest(h, http.MethodGet, "/api/guest/qr/r1", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "data:image/png;base64,stub") {
		t.Fatalf("body does not contain qr payload: %s", rec.Body.String())
	}
}

func TestAdminRoutes_Auth(t *testing.T) {
	auth := middleware.NewAuthMiddleware("test-secret")
	svc := &stubService{metrics: &model.DashboardMetrics{TotalScans: 5}}
	h := NewHandler(svc, zap.NewNop(), auth)
	router := h.SetupRouter()

	cookieFor := func(staff middleware.Staff) *http.Cookie {
		rec := httptest.NewRecorder()
		auth.SetAuthCookie(rec, staff)
		cookies := rec.Result().Cookies()
		if len(cookies) == 0 {
			t.Fatalf("auth cookie was not set")
		}
		return cookies[0]
	}

	tests := []struct {
		name       string
		cookie     *http.Cookie
		wantStatus int
	}{
		{name: "no cookie", cookie: nil, wantStatus: http.StatusUnauthorized},
		{
			name:       "forged cookie",
			cookie:     &http.Cookie{Name: "staff_token", Value: "1:admin.deadbeef"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "staff without admin role",
			cookie:     cookieFor(middleware.Staff{ID: 7, Role: "waiter"}),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "admin",
			cookie:     cookieFor(middleware.Staff{ID: 1, Role: "admin"}),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestListScans_Admin(t *testing.T) {
	auth := middleware.NewAuthMiddleware("test-secret")
	scannedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubService{
		scans: []model.ScanDetails{
			{
				Scan: model.Scan{
					ID:                  "scan-1",
					GuestName:           "Guest",
					VerificationStatus:  model.VerificationStatusApproved,
					RewardUnlocked:      true,
					DiscountAmountCents: 300,
					ScannedAt:           scannedAt,
				},
				ShopName: "Corner Shop",
				ItemName: "Falafel",
			},
		},
	}
	h := NewHandler(svc, zap.NewNop(), auth)

	rec := httptest.NewRecorder()
	auth.SetAuthCookie(rec, middleware.Staff{ID: 1, Role: "admin"})
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/api/admin/scans", nil)
	req.AddCookie(cookie)
	resp := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.Code, http.StatusOK)
	}
	body := resp.Body.String()
	for _, want := range []string{`"discountAmount":3`, `"verificationStatus":"approved"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q does not contain %q", body, want)
		}
	}
}
