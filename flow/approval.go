package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"email-signer/poller"
	"email-signer/shared"
)

// Outcome messages for requests rejected before any network call
const (
	MsgAllFieldsRequired  = "All fields are required"
	MsgNoAccountCode      = "You need to generate an account code first"
	MsgWalletNotConnected = "Wallet not connected. Please connect your wallet first."
	MsgApprovalError      = "An error occurred during the approval process"
	MsgTimedOut           = "Timed out waiting for email proof"
	MsgCancelled          = "Approval cancelled"
)

// ApprovalInput is the approval form. AccountCode and SafeAddress fall back to
// the values stored for Email when left empty.
type ApprovalInput struct {
	Email       string `json:"email"`
	AccountCode string `json:"accountCode,omitempty"`
	SafeAddress string `json:"safeAddress,omitempty"`
	Hash        string `json:"hash"`
}

// ApprovalKey identifies the logical approval behind a validated request. Forms
// that resolve to the same email, vault and hash share a key, so a new request
// replaces the old one however the form was filled in.
func ApprovalKey(req *shared.ApprovalRequest) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(req.EmailAddress)),
		strings.ToLower(req.VaultAddress.Hex()),
		req.HashToApprove.Hex(),
	}, "|")
}

// ValidateApproval checks the form before any network call is made.
// It returns the resolved request fields or a PreconditionError.
func (c *Controller) ValidateApproval(in ApprovalInput) (*shared.ApprovalRequest, error) {
	email := strings.TrimSpace(in.Email)
	accountCode := strings.TrimSpace(in.AccountCode)
	safeAddr := strings.TrimSpace(in.SafeAddress)
	hash := strings.TrimSpace(in.Hash)

	var storedCode string
	var hasAccountCode bool
	if email != "" {
		code, ok, err := c.store.AccountCode(email)
		if err != nil {
			return nil, err
		}
		storedCode, hasAccountCode = code, ok
		if accountCode == "" {
			accountCode = storedCode
		}
		if safeAddr == "" {
			if addr, ok, err := c.store.SafeAddress(email); err == nil && ok {
				safeAddr = addr.Hex()
			}
		}
	}

	if email == "" || accountCode == "" || safeAddr == "" || hash == "" {
		return nil, shared.NewPreconditionError("form", MsgAllFieldsRequired)
	}
	if !hasAccountCode {
		return nil, shared.NewPreconditionError("accountCode", MsgNoAccountCode)
	}
	if c.wallet == nil {
		return nil, shared.NewPreconditionError("wallet", MsgWalletNotConnected)
	}
	if !shared.IsHexString(safeAddr) || !common.IsHexAddress(safeAddr) {
		return nil, shared.NewPreconditionError("safeAddress", fmt.Sprintf("Invalid safe address: %s", safeAddr))
	}
	hashBytes, err := hexutil.Decode(hash)
	if err != nil || len(hashBytes) != common.HashLength {
		return nil, shared.NewPreconditionError("hash", fmt.Sprintf("Invalid hash: %s", hash))
	}

	return &shared.ApprovalRequest{
		EmailAddress:    email,
		AccountCode:     accountCode,
		VaultAddress:    common.HexToAddress(safeAddr),
		HashToApprove:   common.BytesToHash(hashBytes),
		CommandTemplate: shared.SignHashCommandTemplate,
		Subject:         shared.SignatureRequestSubject,
	}, nil
}

// Approve runs the approval flow inside session and returns its outcome:
// submit the signature request, poll for the proof, then approve on chain.
// Every failure ends as an unsuccessful outcome; nothing is returned as an error.
func (c *Controller) Approve(ctx context.Context, session *Session, in ApprovalInput) shared.ApprovalOutcome {
	outcome := c.approve(ctx, session, in)
	session.Finish(outcome)
	return outcome
}

func (c *Controller) approve(ctx context.Context, session *Session, in ApprovalInput) shared.ApprovalOutcome {
	logger := c.logger.WithSession(session.ID)
	steps := session.Steps()

	req, err := c.ValidateApproval(in)
	if err != nil {
		var precondition *shared.PreconditionError
		if errors.As(err, &precondition) {
			logger.Debug("Approval rejected", zap.String("field", precondition.Field))
			return shared.FailedOutcome(precondition.Message)
		}
		logger.Error("Approval validation failed", zap.Error(err))
		return shared.FailedOutcome(MsgApprovalError)
	}

	signerAddr, err := c.resolveSigner(ctx, req.EmailAddress, req.AccountCode, steps)
	if err != nil {
		logger.Error("Failed to resolve email signer", zap.Error(err))
		return shared.FailedOutcome(MsgApprovalError)
	}
	req.SignerAddress = signerAddr

	handle, err := c.requestSignature(ctx, req, steps)
	if err != nil {
		steps.Addf("Error requesting signature: %v", err)
		logger.Error("Signature request failed", zap.Error(err))
		return shared.FailedOutcome(MsgApprovalError)
	}

	p := session.newPoller(c.relayer, poller.Config{
		Interval:   c.options.PollInterval,
		MaxRetries: c.options.PollMaxRetries,
	}, c.logger)
	result := p.Poll(ctx, handle)

	switch result.State {
	case poller.StateSucceeded:
		return c.submitter.Approve(ctx, req, result.Material, c.wallet, steps)
	case poller.StateTimedOut:
		return shared.FailedOutcome(MsgTimedOut)
	case poller.StateCancelled:
		return shared.FailedOutcome(MsgCancelled)
	default:
		logger.Warn("Proof request failed", zap.Error(result.Err), zap.Int("retries", result.Retries))
		return shared.FailedOutcome(fmt.Sprintf("Proof request failed: %v", result.Err))
	}
}

func (c *Controller) requestSignature(ctx context.Context, req *shared.ApprovalRequest, steps *shared.StepLog) (string, error) {
	steps.Add("Requesting email signature...")

	warning := ""
	if c.inspector != nil {
		w, err := c.inspector.DelegateCallWarning(ctx, req.HashToApprove, c.options.TrustedDelegateCall)
		if err != nil {
			return "", err
		}
		warning = w
	}

	steps.Addf("Getting template ID from email signer at %s...", req.SignerAddress.Hex())
	templateID, err := c.chain.TemplateID(ctx, req.SignerAddress)
	if err != nil {
		steps.Addf("Error getting template ID: %v", err)
		return "", err
	}
	req.TemplateID = templateID
	steps.Addf("Retrieved template ID: %s", templateID.String())
	steps.Addf("Template ID (hex): %s", req.TemplateIDHex())

	steps.Add("Getting DKIM contract address...")
	dkim, err := c.chain.DKIMRegistry(ctx, req.SignerAddress)
	if err != nil {
		steps.Addf("Error getting DKIM contract address: %v", err)
		return "", err
	}
	steps.Addf("DKIM registry address: %s", dkim.Hex())

	req.Body = shared.SignatureRequestBody(warning, req.HashToApprove)

	handle, err := c.relayer.SubmitSignatureRequest(ctx, req)
	if err != nil {
		return "", err
	}
	steps.Addf("Email sent! Proof ID: %s", handle)
	return handle, nil
}
