package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-signer/shared"
)

const maxBodyBytes = 4 << 20

// Client talks to the email-auth relayer HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *shared.Logger
}

// NewClient creates a relayer client for baseURL (e.g. https://relayer.example.org)
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

// AccountSalt asks the relayer to derive the account salt for an account code and email
func (c *Client) AccountSalt(ctx context.Context, accountCode, emailAddress string) (common.Hash, error) {
	var out accountSaltResponse
	_, err := c.postJSON(ctx, "accountSalt", accountSaltPath, accountSaltRequest{
		AccountCode:  accountCode,
		EmailAddress: emailAddress,
	}, &out)
	if err != nil {
		return common.Hash{}, err
	}

	if !shared.IsHexString(out.AccountSalt) || len(out.AccountSalt) != 66 {
		return common.Hash{}, NewMalformedResponseError("accountSalt", fmt.Sprintf("invalid account salt %q", out.AccountSalt))
	}
	return common.HexToHash(out.AccountSalt), nil
}

// SubmitSignatureRequest sends the approval request and returns the proof request handle
func (c *Client) SubmitSignatureRequest(ctx context.Context, req *shared.ApprovalRequest) (string, error) {
	var out submitResponse
	requestID, err := c.postJSON(ctx, "submit", submitPath, NewSubmitRequest(req), &out)
	if err != nil {
		return "", err
	}

	handle, err := handleFromID(out.ID)
	if err != nil {
		return "", NewMalformedResponseError("submit", err.Error())
	}

	c.logger.WithRequest(requestID).Info("Signature request accepted",
		zap.String("proof_id", handle),
		zap.String("email", req.EmailAddress))
	return handle, nil
}

// GetProofStatus fetches the current status for a proof request handle.
// Transport failures and non-2xx responses are returned as *shared.RelayerError.
func (c *Client) GetProofStatus(ctx context.Context, handle string) (shared.ProofStatus, error) {
	requestID := uuid.NewString()
	endpoint := c.baseURL + statusPath + url.PathEscape(handle)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return shared.ProofStatus{}, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	body, err := c.do(req, "status")
	if err != nil {
		return shared.ProofStatus{}, err
	}

	return parseStatus(body), nil
}

func parseStatus(body []byte) shared.ProofStatus {
	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		// soft error, counted against the retry budget
		return shared.ErrorStatus(fmt.Sprintf("malformed status response: %v", err))
	}

	if msg := errorMessage(status.Error); msg != "" {
		return shared.ErrorStatus(msg)
	}
	if status.Response == nil {
		return shared.PendingStatus()
	}
	if err := ValidateStatusPayload(body); err != nil {
		return shared.ErrorStatus(err.Error())
	}
	return shared.ReadyStatus(status.Response.toMaterial())
}

func (c *Client) postJSON(ctx context.Context, operation, path string, in interface{}, out interface{}) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s request: %w", operation, err)
	}

	requestID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	body, err := c.do(req, operation)
	if err != nil {
		return requestID, err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return requestID, NewMalformedResponseError(operation, err.Error())
	}
	return requestID, nil
}

func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	logger := c.logger.WithRequest(req.Header.Get("X-Request-Id"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("Relayer call failed", zap.String("operation", operation), zap.Error(err))
		return nil, shared.NewRelayerError(operation, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, shared.NewRelayerError(operation, 0, "", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Relayer returned error status",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode))
		return nil, shared.NewRelayerError(operation, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}
	return body, nil
}

// NewMalformedResponseError reports a 2xx response whose body could not be used.
// It is not transient: retrying will return the same body.
func NewMalformedResponseError(operation, message string) *shared.RelayerError {
	err := shared.NewRelayerError(operation, http.StatusUnprocessableEntity, message, nil)
	err.Message = fmt.Sprintf("relayer %s returned a malformed response: %s", operation, message)
	return err
}
