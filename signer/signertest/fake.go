// Package signertest provides an in-memory signer.Chain for tests.
package signertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"email-signer/signer"
)

// ApproveCall records one approveHash write
type ApproveCall struct {
	Signer    common.Address
	Hash      common.Hash
	Signature []byte
	Vault     common.Address
	From      common.Address
}

// FakeChain is a scriptable signer.Chain
type FakeChain struct {
	mu sync.Mutex

	Predicted   map[common.Hash]common.Address
	Code        map[common.Address]bool
	TemplateIDs map[common.Address]*big.Int
	DKIMAddr    common.Address

	ApproveErr error
	DeployErr  error
	ReceiptErr error

	Approvals []ApproveCall
	Deploys   []common.Hash
	Reads     int
	nonce     uint64
}

var _ signer.Chain = (*FakeChain)(nil)

// NewFakeChain returns an empty fake chain
func NewFakeChain() *FakeChain {
	return &FakeChain{
		Predicted:   make(map[common.Hash]common.Address),
		Code:        make(map[common.Address]bool),
		TemplateIDs: make(map[common.Address]*big.Int),
	}
}

func (f *FakeChain) PredictSignerAddress(ctx context.Context, accountSalt common.Hash) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if addr, ok := f.Predicted[accountSalt]; ok {
		return addr, nil
	}
	addr := common.BytesToAddress(crypto.Keccak256(accountSalt.Bytes()))
	f.Predicted[accountSalt] = addr
	return addr, nil
}

func (f *FakeChain) DeploySigner(ctx context.Context, wallet *signer.Wallet, accountSalt common.Hash) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeployErr != nil {
		return common.Hash{}, f.DeployErr
	}
	f.Deploys = append(f.Deploys, accountSalt)
	if addr, ok := f.Predicted[accountSalt]; ok {
		f.Code[addr] = true
	}
	return f.nextTxHash(), nil
}

func (f *FakeChain) TemplateID(ctx context.Context, signerAddr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if id, ok := f.TemplateIDs[signerAddr]; ok {
		return new(big.Int).Set(id), nil
	}
	return big.NewInt(1), nil
}

func (f *FakeChain) DKIMRegistry(ctx context.Context, signerAddr common.Address) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	return f.DKIMAddr, nil
}

func (f *FakeChain) HasCode(ctx context.Context, addr common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	return f.Code[addr], nil
}

func (f *FakeChain) ApproveHash(ctx context.Context, wallet *signer.Wallet, signerAddr common.Address, hash common.Hash, signature []byte, vault common.Address) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ApproveErr != nil {
		return common.Hash{}, f.ApproveErr
	}
	call := ApproveCall{Signer: signerAddr, Hash: hash, Signature: signature, Vault: vault}
	if wallet != nil {
		call.From = wallet.Address
	}
	f.Approvals = append(f.Approvals, call)
	return f.nextTxHash(), nil
}

func (f *FakeChain) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReceiptErr != nil {
		return nil, f.ReceiptErr
	}
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil
}

// ApprovalCount returns the number of approveHash writes
func (f *FakeChain) ApprovalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Approvals)
}

func (f *FakeChain) nextTxHash() common.Hash {
	f.nonce++
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", f.nonce)))
}
