// Package identity verifies credentials issued by external identity providers.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/devhub/internal/apperrors"
	"github.com/nkiryanov/devhub/internal/logger"
)

const (
	DefaultGoogleBaseURL = "https://oauth2.googleapis.com"

	requestTimeout = 5 * time.Second
)

const (
	CodeRejected   = "rejected"
	CodeRetryAfter = "retry-after"
	CodeUnknown    = "unknown"
)

type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code string, retryAfter time.Duration, err error) *Error {
	return &Error{Code: code, RetryAfter: retryAfter, Err: err}
}

// Google returns booleans in tokeninfo as strings
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

type tokenInfo struct {
	Audience      string   `json:"aud"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
}

// Verifies Google ID tokens with tokeninfo endpoint
type GoogleVerifier struct {
	BaseURL  string
	ClientID string

	client *http.Client
	logger logger.Logger
}

func NewGoogleVerifier(baseURL string, clientID string, logger logger.Logger) *GoogleVerifier {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}

	return &GoogleVerifier{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		ClientID: clientID,
		client:   &http.Client{},
		logger:   logger,
	}
}

// Verify ID token and return the email it was issued for
// Rejected credential unwraps to apperrors.ErrExternalIdentity
func (v *GoogleVerifier) Verify(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", newError(CodeRejected, 0, apperrors.ErrExternalIdentity)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	endpoint := v.BaseURL + "/tokeninfo?id_token=" + url.QueryEscape(credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", newError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", newError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		return v.processSuccess(resp)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", v.processTooManyRequests(resp)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		v.logger.Info("External credential rejected", "status_code", resp.StatusCode)
		return "", newError(CodeRejected, 0, apperrors.ErrExternalIdentity)
	default:
		v.logger.Warn("Failed to verify external credential", "status_code", resp.StatusCode)
		return "", newError(CodeUnknown, 0, fmt.Errorf("unknown status code %d", resp.StatusCode))
	}
}

func (v *GoogleVerifier) processSuccess(resp *http.Response) (string, error) {
	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		v.logger.Warn("Failed to decode response", "error", err)
		return "", newError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
	}

	switch {
	case info.Audience != v.ClientID:
		v.logger.Warn("External credential issued for other client", "aud", info.Audience)
		return "", newError(CodeRejected, 0, apperrors.ErrExternalIdentity)
	case info.Email == "" || !bool(info.EmailVerified):
		return "", newError(CodeRejected, 0, apperrors.ErrExternalIdentity)
	}

	return info.Email, nil
}

func (v *GoogleVerifier) processTooManyRequests(resp *http.Response) error {
	retryAfter, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil {
		retryAfter = 60
	}

	v.logger.Warn("Identity provider throttled", "retry_after", retryAfter)
	return newError(CodeRetryAfter, time.Duration(retryAfter)*time.Second, fmt.Errorf("retry after %d seconds", retryAfter))
}
