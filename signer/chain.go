package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"email-signer/shared"
)

const (
	inmemorySignerReads = 256 // per-signer immutable values kept in the ARC cache
	receiptPollInterval = time.Second
)

// Backend is the RPC surface used for contract reads, writes and receipts
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Chain is the email signer contract surface used by the flows
type Chain interface {
	PredictSignerAddress(ctx context.Context, accountSalt common.Hash) (common.Address, error)
	DeploySigner(ctx context.Context, wallet *Wallet, accountSalt common.Hash) (common.Hash, error)
	TemplateID(ctx context.Context, signer common.Address) (*big.Int, error)
	DKIMRegistry(ctx context.Context, signer common.Address) (common.Address, error)
	HasCode(ctx context.Context, addr common.Address) (bool, error)
	ApproveHash(ctx context.Context, wallet *Wallet, signer common.Address, hash common.Hash, signature []byte, vault common.Address) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthChain implements Chain over a JSON-RPC backend
type EthChain struct {
	backend     Backend
	factoryAddr common.Address
	factory     *bind.BoundContract
	reads       *lru.ARCCache // "<kind>:<signer>" -> value; templateId and dkimRegistryAddr never change
	logger      *shared.Logger
}

var _ Chain = (*EthChain)(nil)

// Dial connects to rpcURL and binds the signer factory
func Dial(ctx context.Context, rpcURL string, factory common.Address, logger *shared.Logger) (*EthChain, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RPC %s: %v", rpcURL, err)
	}
	return NewEthChain(client, factory, logger), client, nil
}

// NewEthChain binds the signer factory on an existing backend
func NewEthChain(backend Backend, factory common.Address, logger *shared.Logger) *EthChain {
	if logger == nil {
		logger = shared.NopLogger()
	}
	reads, _ := lru.NewARC(inmemorySignerReads)
	return &EthChain{
		backend:     backend,
		factoryAddr: factory,
		factory:     bind.NewBoundContract(factory, FactoryABI, backend, backend, backend),
		reads:       reads,
		logger:      logger,
	}
}

// PredictSignerAddress returns the CREATE2 address the factory would deploy for accountSalt
func (c *EthChain) PredictSignerAddress(ctx context.Context, accountSalt common.Hash) (common.Address, error) {
	var out []interface{}
	if err := c.factory.Call(&bind.CallOpts{Context: ctx}, &out, "predictAddress", accountSalt); err != nil {
		return common.Address{}, shared.NewChainError("predictAddress", err)
	}
	return firstAddress(out, "predictAddress")
}

// DeploySigner sends factory.deploy(accountSalt) and returns the transaction hash
func (c *EthChain) DeploySigner(ctx context.Context, wallet *Wallet, accountSalt common.Hash) (common.Hash, error) {
	if wallet == nil {
		return common.Hash{}, shared.ErrWalletNotConnected
	}
	opts, err := wallet.TransactOpts(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.factory.Transact(opts, "deploy", accountSalt)
	if err != nil {
		return common.Hash{}, shared.NewChainError("deploy", err)
	}
	c.logger.WithContract("factory", c.factoryAddr.Hex()).Info("Signer deployment sent",
		zap.String("tx_hash", tx.Hash().Hex()))
	return tx.Hash(), nil
}

// TemplateID reads templateId() from a signer
func (c *EthChain) TemplateID(ctx context.Context, signer common.Address) (*big.Int, error) {
	key := "templateId:" + signer.Hex()
	if cached, ok := c.reads.Get(key); ok {
		return new(big.Int).Set(cached.(*big.Int)), nil
	}

	var out []interface{}
	if err := c.signerContract(signer).Call(&bind.CallOpts{Context: ctx}, &out, "templateId"); err != nil {
		return nil, shared.NewChainError("templateId", err)
	}
	if len(out) != 1 {
		return nil, shared.NewChainError("templateId", fmt.Errorf("unexpected output count %d", len(out)))
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return nil, shared.NewChainError("templateId", fmt.Errorf("unexpected output type %T", out[0]))
	}

	c.reads.Add(key, new(big.Int).Set(id))
	return id, nil
}

// DKIMRegistry reads dkimRegistryAddr() from a signer
func (c *EthChain) DKIMRegistry(ctx context.Context, signer common.Address) (common.Address, error) {
	key := "dkimRegistryAddr:" + signer.Hex()
	if cached, ok := c.reads.Get(key); ok {
		return cached.(common.Address), nil
	}

	var out []interface{}
	if err := c.signerContract(signer).Call(&bind.CallOpts{Context: ctx}, &out, "dkimRegistryAddr"); err != nil {
		return common.Address{}, shared.NewChainError("dkimRegistryAddr", err)
	}
	addr, err := firstAddress(out, "dkimRegistryAddr")
	if err != nil {
		return common.Address{}, err
	}

	c.reads.Add(key, addr)
	return addr, nil
}

// HasCode reports whether addr has deployed bytecode
func (c *EthChain) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, shared.NewChainError("getCode", err)
	}
	return len(code) > 0, nil
}

// ApproveHash sends signer.approveHash(hash, signature, vault)
func (c *EthChain) ApproveHash(ctx context.Context, wallet *Wallet, signer common.Address, hash common.Hash, signature []byte, vault common.Address) (common.Hash, error) {
	if wallet == nil {
		return common.Hash{}, shared.ErrWalletNotConnected
	}
	opts, err := wallet.TransactOpts(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.signerContract(signer).Transact(opts, "approveHash", hash, signature, vault)
	if err != nil {
		return common.Hash{}, shared.NewChainError("approveHash", err)
	}
	return tx.Hash(), nil
}

// WaitMined blocks until txHash has a receipt and fails if it reverted
func (c *EthChain) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return WaitForReceipt(ctx, c.backend, txHash)
}

func (c *EthChain) signerContract(signer common.Address) *bind.BoundContract {
	return bind.NewBoundContract(signer, EmailSignerABI, c.backend, c.backend, c.backend)
}

// ReceiptReader is the subset of Backend needed to wait for receipts
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls for a receipt until it exists or ctx ends
func WaitForReceipt(ctx context.Context, backend ReceiptReader, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, shared.NewChainError("receipt", fmt.Errorf("transaction %s reverted", txHash.Hex()))
			}
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, shared.NewChainError("receipt", err)
		}

		select {
		case <-ctx.Done():
			return nil, shared.NewChainError("receipt", ctx.Err())
		case <-ticker.C:
		}
	}
}

func firstAddress(out []interface{}, method string) (common.Address, error) {
	if len(out) != 1 {
		return common.Address{}, shared.NewChainError(method, fmt.Errorf("unexpected output count %d", len(out)))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, shared.NewChainError(method, fmt.Errorf("unexpected output type %T", out[0]))
	}
	return addr, nil
}
