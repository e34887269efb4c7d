package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/bonyad-system/internal/model"
)

// RemoteVerifier обращается к внешнему сервису классификации изображений.
type RemoteVerifier struct {
	baseURL    string
	httpClient *http.Client
}

type verifyRequest struct {
	ImageURL string `json:"imageUrl"`
}

type verifyResponse struct {
	Clean bool `json:"clean"`
}

// NewRemoteVerifier создаёт клиент сервиса классификации по указанному адресу.
func NewRemoteVerifier(baseURL string) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Verify отправляет изображение на классификацию и возвращает вердикт.
// При ответе 429 ждёт Retry-After и повторяет запрос один раз.
func (v *RemoteVerifier) Verify(ctx context.Context, imageURL string) (model.VerificationStatus, error) {
	if v == nil || v.baseURL == "" {
		return "", fmt.Errorf("verifier client not configured")
	}

	status, retryAfter, err := v.doVerify(ctx, imageURL)
	if err != nil {
		return "", err
	}

	if retryAfter > 0 {
		timer := time.NewTimer(retryAfter)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}

		status, retryAfter, err = v.doVerify(ctx, imageURL)
		if err != nil {
			return "", err
		}
		if retryAfter > 0 {
			return "", fmt.Errorf("verifier throttled")
		}
	}

	return status, nil
}

func (v *RemoteVerifier) doVerify(ctx context.Context, imageURL string) (model.VerificationStatus, time.Duration, error) {
	base := v.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(verifyRequest{ImageURL: imageURL})
	if err != nil {
		return "", 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/verify", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if h := resp.Header.Get("Retry-After"); h != "" {
			if seconds, parseErr := strconv.Atoi(h); parseErr == nil && seconds > 0 {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return "", retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}

	if result.Clean {
		return model.VerificationStatusApproved, 0, nil
	}
	return model.VerificationStatusRejected, 0, nil
}
