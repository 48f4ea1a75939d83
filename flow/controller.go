// Package flow runs the user-facing flows: registering an email-backed vault
// and approving a pending vault transaction hash with an email co-signature.
// Every flow runs inside a Session and records its steps there.
package flow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"email-signer/poller"
	"email-signer/safe"
	"email-signer/shared"
	"email-signer/signer"
)

// Relayer is the relayer surface the flows use
type Relayer interface {
	AccountSalt(ctx context.Context, accountCode, emailAddress string) (common.Hash, error)
	SubmitSignatureRequest(ctx context.Context, req *shared.ApprovalRequest) (string, error)
	poller.StatusSource
}

// Store persists per-email account data
type Store interface {
	AccountCode(email string) (string, bool, error)
	SaveAccountCode(email, code string) error
	SignerAddress(email string) (common.Address, bool, error)
	SaveSignerAddress(email string, addr common.Address) error
	SafeAddress(email string) (common.Address, bool, error)
	SaveSafeAddress(email string, addr common.Address) error
	EmailAddress() (string, bool, error)
	SaveEmailAddress(email string) error
}

// TxInspector checks a pending vault transaction before a signature is requested
type TxInspector interface {
	DelegateCallWarning(ctx context.Context, safeTxHash common.Hash, trusted []common.Address) (string, error)
}

// VaultDeployer deploys or reuses the 2-of-2 vault
type VaultDeployer interface {
	Deploy(ctx context.Context, wallet *signer.Wallet, owners []common.Address, threshold int64, saltNonce *big.Int, steps *shared.StepLog) (*safe.Deployment, error)
}

// Registrar registers a finished account with the backend
type Registrar interface {
	RegisterAccount(ctx context.Context, email, accountCode string, chainID int64, safe common.Address) error
}

// Dependencies wires the controller to its collaborators. Inspector, Vaults and
// Backend may be nil when only the approval flow is used without them.
type Dependencies struct {
	Relayer   Relayer
	Chain     signer.Chain
	Store     Store
	Inspector TxInspector
	Vaults    VaultDeployer
	Backend   Registrar
	Wallet    *signer.Wallet
}

// Options tune the controller
type Options struct {
	ChainID             int64
	PollInterval        time.Duration
	PollMaxRetries      int
	TrustedDelegateCall []common.Address
}

// Controller orchestrates the flows
type Controller struct {
	relayer   Relayer
	chain     signer.Chain
	submitter *signer.Submitter
	store     Store
	inspector TxInspector
	vaults    VaultDeployer
	backend   Registrar
	wallet    *signer.Wallet
	options   Options
	logger    *shared.Logger
}

// NewController creates a flow controller
func NewController(deps Dependencies, options Options, logger *shared.Logger) *Controller {
	if logger == nil {
		logger = shared.NopLogger()
	}
	if options.PollInterval <= 0 {
		options.PollInterval = poller.DefaultInterval
	}
	if options.PollMaxRetries <= 0 {
		options.PollMaxRetries = poller.DefaultMaxRetries
	}
	if options.ChainID == 0 {
		options.ChainID = shared.SepoliaChainID
	}
	return &Controller{
		relayer:   deps.Relayer,
		chain:     deps.Chain,
		submitter: signer.NewSubmitter(deps.Chain, logger),
		store:     deps.Store,
		inspector: deps.Inspector,
		vaults:    deps.Vaults,
		backend:   deps.Backend,
		wallet:    deps.Wallet,
		options:   options,
		logger:    logger,
	}
}

// Wallet returns the connected wallet, or nil
func (c *Controller) Wallet() *signer.Wallet {
	return c.wallet
}

// resolveSigner derives the email signer address from the relayer salt and the
// factory prediction, recording it in the store. When derivation fails the
// stored address is used if there is one.
func (c *Controller) resolveSigner(ctx context.Context, email, accountCode string, steps *shared.StepLog) (common.Address, error) {
	derived, _, err := c.deriveSigner(ctx, email, accountCode, steps)
	if err == nil {
		if err := c.store.SaveSignerAddress(email, derived); err != nil {
			c.logger.Warn("Failed to save email signer address", zap.Error(err))
		}
		return derived, nil
	}

	steps.Addf("Error: %v", err)
	stored, ok, storeErr := c.store.SignerAddress(email)
	if storeErr != nil || !ok {
		return common.Address{}, err
	}
	steps.Addf("Found email signer address: %s", stored.Hex())
	return stored, nil
}

// deriveSigner returns the predicted signer address and the account salt it was derived from
func (c *Controller) deriveSigner(ctx context.Context, email, accountCode string, steps *shared.StepLog) (common.Address, common.Hash, error) {
	steps.Add("Fetching account salt from relayer...")
	salt, err := c.relayer.AccountSalt(ctx, accountCode, email)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	steps.Addf("Account salt: %s", salt.Hex())

	steps.Add("Predicting email signer address...")
	addr, err := c.chain.PredictSignerAddress(ctx, salt)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	steps.Addf("Email signer address: %s", addr.Hex())
	return addr, salt, nil
}
