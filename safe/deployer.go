// Package safe deploys the 2-of-2 vault (a Safe 1.3.0 proxy) owned by the
// wallet and the email signer, and reads pending transactions from the Safe
// transaction service.
package safe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"email-signer/shared"
	"email-signer/signer"
)

// Config names the Safe deployment to use
type Config struct {
	ProxyFactory    common.Address
	Singleton       common.Address
	FallbackHandler common.Address
}

// ConfigFromApp picks the Safe addresses out of the application config
func ConfigFromApp(cfg *shared.AppConfig) Config {
	return Config{
		ProxyFactory:    cfg.SafeProxyFactory,
		Singleton:       cfg.SafeSingleton,
		FallbackHandler: cfg.SafeFallbackHandler,
	}
}

// Deployment is the result of Deploy
type Deployment struct {
	Address   common.Address
	Predicted common.Address
	TxHash    common.Hash
	SaltNonce *big.Int
	Existing  bool
}

// Deployer predicts and deploys vault proxies
type Deployer struct {
	backend signer.Backend
	config  Config
	factory *bind.BoundContract
	logger  *shared.Logger

	mu           sync.Mutex
	creationCode []byte
}

// NewDeployer binds the proxy factory on backend
func NewDeployer(backend signer.Backend, config Config, logger *shared.Logger) *Deployer {
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Deployer{
		backend: backend,
		config:  config,
		factory: bind.NewBoundContract(config.ProxyFactory, ProxyFactoryABI, backend, backend, backend),
		logger:  logger,
	}
}

// NewSaltNonce returns the default salt nonce, the current unix time in milliseconds
func NewSaltNonce() *big.Int {
	return big.NewInt(time.Now().UnixMilli())
}

// EncodeSetup builds the setup() initializer for owners and threshold
func EncodeSetup(owners []common.Address, threshold int64, fallbackHandler common.Address) ([]byte, error) {
	if len(owners) == 0 {
		return nil, errors.New("at least one owner is required")
	}
	if threshold < 1 || threshold > int64(len(owners)) {
		return nil, fmt.Errorf("threshold %d out of range for %d owners", threshold, len(owners))
	}
	return SafeABI.Pack("setup",
		owners,
		big.NewInt(threshold),
		common.Address{},
		[]byte{},
		fallbackHandler,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
}

// ProxyAddress computes the CREATE2 address of a proxy deployed by factory
// with createProxyWithNonce(singleton, initializer, saltNonce)
func ProxyAddress(factory, singleton common.Address, creationCode, initializer []byte, saltNonce *big.Int) common.Address {
	salt := crypto.Keccak256Hash(crypto.Keccak256(initializer), common.LeftPadBytes(saltNonce.Bytes(), 32))

	initCode := make([]byte, 0, len(creationCode)+32)
	initCode = append(initCode, creationCode...)
	initCode = append(initCode, common.LeftPadBytes(singleton.Bytes(), 32)...)

	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}

// PredictAddress returns the address the proxy for initializer and saltNonce will have
func (d *Deployer) PredictAddress(ctx context.Context, initializer []byte, saltNonce *big.Int) (common.Address, error) {
	code, err := d.proxyCreationCode(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return ProxyAddress(d.config.ProxyFactory, d.config.Singleton, code, initializer, saltNonce), nil
}

// Deploy reuses the predicted vault when it already has code, otherwise
// deploys it and reads the address from the ProxyCreation event
func (d *Deployer) Deploy(ctx context.Context, wallet *signer.Wallet, owners []common.Address, threshold int64, saltNonce *big.Int, steps *shared.StepLog) (*Deployment, error) {
	if wallet == nil {
		return nil, shared.ErrWalletNotConnected
	}
	if steps == nil {
		steps = shared.NewStepLog()
	}
	if saltNonce == nil {
		saltNonce = NewSaltNonce()
	}

	steps.Add("Setting up Safe account...")
	initializer, err := EncodeSetup(owners, threshold, d.config.FallbackHandler)
	if err != nil {
		return nil, fmt.Errorf("failed to encode safe setup: %w", err)
	}

	steps.Add("Initializing Safe deployment...")
	predicted, err := d.PredictAddress(ctx, initializer, saltNonce)
	if err != nil {
		return nil, err
	}
	steps.Addf("Predicted Safe address: %s", predicted.Hex())

	code, err := d.backend.CodeAt(ctx, predicted, nil)
	if err != nil {
		return nil, shared.NewChainError("getCode", err)
	}
	deployed := len(code) > 0
	steps.Addf("Safe already deployed: %t", deployed)
	if deployed {
		steps.Addf("Using existing Safe at: %s", predicted.Hex())
		return &Deployment{Address: predicted, Predicted: predicted, SaltNonce: saltNonce, Existing: true}, nil
	}

	steps.Add("Sending Safe deployment transaction...")
	opts, err := wallet.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := d.factory.Transact(opts, "createProxyWithNonce", d.config.Singleton, initializer, saltNonce)
	if err != nil {
		return nil, shared.NewChainError("createProxyWithNonce", err)
	}
	steps.Addf("Safe deployment transaction hash: %s", tx.Hash().Hex())

	steps.Add("Waiting for transaction confirmation...")
	receipt, err := signer.WaitForReceipt(ctx, d.backend, tx.Hash())
	if err != nil {
		return nil, err
	}

	addr, err := ProxyFromReceipt(receipt, d.config.ProxyFactory)
	if err != nil {
		return nil, err
	}
	if addr != predicted {
		d.logger.Warn("Deployed Safe differs from prediction",
			zap.String("predicted", predicted.Hex()),
			zap.String("deployed", addr.Hex()))
	}
	steps.Addf("Safe deployed at: %s", addr.Hex())

	d.logger.WithContract("safe_proxy_factory", d.config.ProxyFactory.Hex()).Info("Safe deployed",
		zap.String("safe", addr.Hex()),
		zap.String("tx_hash", tx.Hash().Hex()))

	return &Deployment{
		Address:   addr,
		Predicted: predicted,
		TxHash:    tx.Hash(),
		SaltNonce: saltNonce,
	}, nil
}

// ProxyFromReceipt extracts the proxy address from the factory's ProxyCreation log
func ProxyFromReceipt(receipt *types.Receipt, factory common.Address) (common.Address, error) {
	event := ProxyFactoryABI.Events["ProxyCreation"]
	for _, log := range receipt.Logs {
		if log.Address != factory || len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}
		values, err := event.Inputs.Unpack(log.Data)
		if err != nil {
			return common.Address{}, shared.NewChainError("ProxyCreation", err)
		}
		if len(values) == 0 {
			break
		}
		if proxy, ok := values[0].(common.Address); ok {
			return proxy, nil
		}
	}
	return common.Address{}, shared.NewChainError("ProxyCreation",
		fmt.Errorf("no ProxyCreation event in transaction %s", receipt.TxHash.Hex()))
}

func (d *Deployer) proxyCreationCode(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.creationCode != nil {
		return d.creationCode, nil
	}

	var out []interface{}
	if err := d.factory.Call(&bind.CallOpts{Context: ctx}, &out, "proxyCreationCode"); err != nil {
		return nil, shared.NewChainError("proxyCreationCode", err)
	}
	if len(out) != 1 {
		return nil, shared.NewChainError("proxyCreationCode", fmt.Errorf("unexpected output count %d", len(out)))
	}
	code, ok := out[0].([]byte)
	if !ok || len(code) == 0 {
		return nil, shared.NewChainError("proxyCreationCode", errors.New("empty proxy creation code"))
	}
	d.creationCode = code
	return code, nil
}
