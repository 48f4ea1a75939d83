package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is the connected account that pays for and signs chain writes
type Wallet struct {
	Address common.Address
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewWallet loads a wallet from a 0x-prefixed hex private key
func NewWallet(hexKey string, chainID int64) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(hexKey, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	return NewWalletFromKey(key, chainID), nil
}

// NewWalletFromKey wraps an existing key
func NewWalletFromKey(key *ecdsa.PrivateKey, chainID int64) *Wallet {
	return &Wallet{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
		chainID: big.NewInt(chainID),
	}
}

// ChainID returns the chain the wallet signs for
func (w *Wallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

// TransactOpts returns signing options bound to ctx
func (w *Wallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}
	opts.Context = ctx
	return opts, nil
}
