package safe

import (
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

// Safe operation types
const (
	OperationCall         = 0
	OperationDelegateCall = 1
)

// MultisigTransaction is the subset of a pending Safe transaction we inspect
type MultisigTransaction struct {
	Safe       common.Address `json:"safe"`
	To         common.Address `json:"to"`
	Value      string         `json:"value"`
	Data       string         `json:"data"`
	Operation  int            `json:"operation"`
	Nonce      json.Number    `json:"nonce"`
	SafeTxHash common.Hash    `json:"safeTxHash"`
}

// HasUntrustedDelegateCall reports whether tx delegatecalls a target outside trusted
func (tx *MultisigTransaction) HasUntrustedDelegateCall(trusted []common.Address) bool {
	if tx.Operation != OperationDelegateCall {
		return false
	}
	for _, addr := range trusted {
		if addr == tx.To {
			return false
		}
	}
	return true
}

// TxService reads pending multisig transactions from a Safe transaction service
type TxService struct {
	baseURL    string
	httpClient *http.Client
	logger     *shared.Logger
}

// NewTxService creates a client for baseURL, e.g. https://safe-transaction.example.org/api
func NewTxService(baseURL string, timeout time.Duration, logger *shared.Logger) *TxService {
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &TxService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Transaction fetches the multisig transaction with safeTxHash
func (s *TxService) Transaction(ctx context.Context, safeTxHash common.Hash) (*MultisigTransaction, error) {
	endpoint := fmt.Sprintf("%s/v1/multisig-transactions/%s/", s.baseURL, safeTxHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch safe transaction: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read safe transaction: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.WithRequest(requestID).Warn("Safe transaction lookup failed",
			zap.Int("status", resp.StatusCode),
			zap.String("hash", safeTxHash.Hex()))
		return nil, fmt.Errorf("safe transaction service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tx MultisigTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode safe transaction: %w", err)
	}
	return &tx, nil
}

// DelegateCallWarning returns the email warning prefix for safeTxHash, or "" when
// the transaction has no untrusted delegatecall
func (s *TxService) DelegateCallWarning(ctx context.Context, safeTxHash common.Hash, trusted []common.Address) (string, error) {
	tx, err := s.Transaction(ctx, safeTxHash)
	if err != nil {
		return "", err
	}
	if tx.HasUntrustedDelegateCall(trusted) {
		s.logger.Warn("Pending transaction delegatecalls an untrusted target",
			zap.String("hash", safeTxHash.Hex()),
			zap.String("to", tx.To.Hex()))
		return shared.UntrustedDelegateCallWarning, nil
	}
	return "", nil
}
