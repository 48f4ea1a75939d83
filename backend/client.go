// Package backend registers deployed accounts with the account backend service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-signer/shared"
)

const registerPath = "/accounts/register"

// ErrorTypeBackend identifies backend failures
const ErrorTypeBackend = "backend_error"

// Registration is the body of an account registration
type Registration struct {
	Email       string `json:"email"`
	AccountCode string `json:"accountCode"`
	ChainID     int64  `json:"chainId"`
	SafeAddress string `json:"safeAddress"`
}

// RegistrationError reports a failed registration call
type RegistrationError struct {
	*shared.FlowError
	StatusCode int `json:"status_code,omitempty"`
}

// Client calls the backend HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *shared.Logger
}

// NewClient creates a backend client
func NewClient(baseURL string, timeout time.Duration, logger *shared.Logger) *Client {
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RegisterAccount registers the vault for email. Any non-2xx response is an error.
func (c *Client) RegisterAccount(ctx context.Context, email, accountCode string, chainID int64, safe common.Address) error {
	payload, err := json.Marshal(Registration{
		Email:       email,
		AccountCode: accountCode,
		ChainID:     chainID,
		SafeAddress: safe.Hex(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	logger := c.logger.WithRequest(requestID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newRegistrationError(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		logger.Warn("Backend rejected registration",
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(body))))
		return newRegistrationError(resp.StatusCode, nil)
	}

	logger.Info("Account registered", zap.String("email", email), zap.String("safe", safe.Hex()))
	return nil
}

func newRegistrationError(status int, cause error) *RegistrationError {
	msg := "Failed to register account with backend"
	if status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, status)
	}
	return &RegistrationError{
		FlowError:  &shared.FlowError{Type: ErrorTypeBackend, Message: msg, Cause: cause},
		StatusCode: status,
	}
}
