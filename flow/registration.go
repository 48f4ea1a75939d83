package flow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"email-signer/accountcode"
	"email-signer/shared"
)

// vault owners are the wallet and the email signer, both must approve
const vaultThreshold = 2

// RegistrationInput is the registration form
type RegistrationInput struct {
	Email     string   `json:"email"`
	NewCode   bool     `json:"newCode,omitempty"`
	SaltNonce *big.Int `json:"saltNonce,omitempty"`
}

// Registration is the result of a completed registration
type Registration struct {
	Email          string         `json:"email"`
	AccountCode    string         `json:"accountCode"`
	ReusedCode     bool           `json:"reusedCode"`
	SignerAddress  common.Address `json:"signerAddress"`
	SignerDeployed bool           `json:"signerDeployed"`
	SafeAddress    common.Address `json:"safeAddress"`
	SafeExisting   bool           `json:"safeExisting"`
}

// AccountInfo is what the store knows about an email
type AccountInfo struct {
	Email         string          `json:"email"`
	AccountCode   string          `json:"accountCode,omitempty"`
	SignerAddress *common.Address `json:"signerAddress,omitempty"`
	SafeAddress   *common.Address `json:"safeAddress,omitempty"`
}

// RegistrationKey identifies the registration for email; a new registration for
// the same email replaces a running one
func RegistrationKey(email string) string {
	return "register|" + strings.ToLower(strings.TrimSpace(email))
}

// Lookup returns the stored account data for email. An empty email falls back to
// the last email used.
func (c *Controller) Lookup(email string) (*AccountInfo, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		last, ok, err := c.store.EmailAddress()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, shared.NewPreconditionError("email", "Email address is required")
		}
		email = last
	}

	info := &AccountInfo{Email: email}
	if code, ok, err := c.store.AccountCode(email); err != nil {
		return nil, err
	} else if ok {
		info.AccountCode = code
	}
	if addr, ok, err := c.store.SignerAddress(email); err != nil {
		return nil, err
	} else if ok {
		info.SignerAddress = &addr
	}
	if addr, ok, err := c.store.SafeAddress(email); err != nil {
		return nil, err
	} else if ok {
		info.SafeAddress = &addr
	}
	return info, nil
}

// Register resolves the account code for an email, deploys (or reuses) the email
// signer and the vault, and registers the account with the backend.
func (c *Controller) Register(ctx context.Context, session *Session, in RegistrationInput) (*Registration, error) {
	reg, err := c.register(ctx, session, in)
	if err != nil {
		session.Steps().Addf("Deployment failed: %v", err)
		session.Finish(shared.FailedOutcome(fmt.Sprintf("Deployment failed: %v", err)))
		return nil, err
	}
	session.Finish(shared.ApprovalOutcome{Success: true, Message: "Setup completed successfully"})
	return reg, nil
}

func (c *Controller) register(ctx context.Context, session *Session, in RegistrationInput) (*Registration, error) {
	logger := c.logger.WithSession(session.ID)
	steps := session.Steps()

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, shared.NewPreconditionError("email", "Email address is required")
	}
	if c.wallet == nil || c.vaults == nil || c.backend == nil {
		return nil, shared.NewPreconditionError("wallet", "Missing required information")
	}

	steps.Addf("Using email: %s", email)
	if err := c.store.SaveEmailAddress(email); err != nil {
		logger.Warn("Failed to save email address", zap.Error(err))
	} else {
		steps.Addf("Saved email address: %s", email)
	}

	resolved, err := accountcode.Resolve(c.store, email, in.NewCode)
	if err != nil {
		return nil, err
	}
	if resolved.Reuse {
		steps.Addf("Found existing account code for %s", email)
		steps.Addf("Using existing account code: %s", resolved.Code)
	} else {
		steps.Addf("Generated new account code: %s", resolved.Code)
		steps.Addf("Saved account code for %s", email)
	}

	steps.Add("Starting deployment process...")
	steps.Addf("Using email address: %s", email)
	steps.Addf("Using account code: %s", resolved.Code)

	signerAddr, deployed, err := c.getOrDeploySigner(ctx, email, resolved.Code, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy email signer: %w", err)
	}

	owners := []common.Address{c.wallet.Address, signerAddr}
	deployment, err := c.vaults.Deploy(ctx, c.wallet, owners, vaultThreshold, in.SaltNonce, steps)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy Safe: %w", err)
	}
	if err := c.store.SaveSafeAddress(email, deployment.Address); err != nil {
		logger.Warn("Failed to save Safe address", zap.Error(err))
	} else {
		steps.Addf("Saved Safe address: %s", deployment.Address.Hex())
	}

	if err := c.backend.RegisterAccount(ctx, email, resolved.Code, c.options.ChainID, deployment.Address); err != nil {
		return nil, err
	}

	steps.Add("Setup completed successfully!")
	steps.Addf("Email Signer Address: %s", signerAddr.Hex())
	steps.Addf("Safe Address: %s", deployment.Address.Hex())

	logger.Info("Registration complete",
		zap.String("email", email),
		zap.String("signer", signerAddr.Hex()),
		zap.String("safe", deployment.Address.Hex()))

	return &Registration{
		Email:          email,
		AccountCode:    resolved.Code,
		ReusedCode:     resolved.Reuse,
		SignerAddress:  signerAddr,
		SignerDeployed: deployed,
		SafeAddress:    deployment.Address,
		SafeExisting:   deployment.Existing,
	}, nil
}

// getOrDeploySigner returns the email signer for the account, deploying it when
// the predicted address has no code. deployed reports whether a deployment was sent.
func (c *Controller) getOrDeploySigner(ctx context.Context, email, accountCode string, steps *shared.StepLog) (common.Address, bool, error) {
	if c.wallet == nil {
		return common.Address{}, false, shared.ErrWalletNotConnected
	}

	signerAddr, salt, err := c.deriveSigner(ctx, email, accountCode, steps)
	if err != nil {
		return common.Address{}, false, err
	}
	if err := c.store.SaveSignerAddress(email, signerAddr); err != nil {
		c.logger.Warn("Failed to save email signer address", zap.Error(err))
	}

	exists, err := c.chain.HasCode(ctx, signerAddr)
	if err != nil {
		return common.Address{}, false, err
	}
	steps.Addf("Email signer contract deployed: %t", exists)
	if exists {
		return signerAddr, false, nil
	}

	steps.Add("Deploying email signer contract...")
	txHash, err := c.chain.DeploySigner(ctx, c.wallet, salt)
	if err != nil {
		return common.Address{}, false, err
	}
	steps.Addf("Deployment transaction hash: %s", txHash.Hex())
	if _, err := c.chain.WaitMined(ctx, txHash); err != nil {
		return common.Address{}, false, err
	}
	steps.Add("Email signer contract deployed successfully")
	return signerAddr, true, nil
}

// IsPrecondition reports whether err was raised before any network call
func IsPrecondition(err error) bool {
	var precondition *shared.PreconditionError
	return errors.As(err, &precondition)
}
