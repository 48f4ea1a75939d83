package signer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"email-signer/shared"
)

// Submitter turns proof material into an on-chain hash approval
type Submitter struct {
	chain  Chain
	logger *shared.Logger
}

// NewSubmitter creates an approval submitter
func NewSubmitter(chain Chain, logger *shared.Logger) *Submitter {
	if logger == nil {
		logger = shared.NopLogger()
	}
	return &Submitter{chain: chain, logger: logger}
}

// SubmitApproval calls approveHash on the signer and waits for confirmation.
// A nil wallet fails before any network call.
func (s *Submitter) SubmitApproval(ctx context.Context, signerAddr common.Address, hash common.Hash, signature []byte, vault common.Address, wallet *Wallet) (*types.Receipt, error) {
	if wallet == nil {
		return nil, shared.ErrWalletNotConnected
	}

	txHash, err := s.chain.ApproveHash(ctx, wallet, signerAddr, hash, signature, vault)
	if err != nil {
		return nil, err
	}

	s.logger.WithContract("email_signer", signerAddr.Hex()).Info("Approval transaction sent",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("hash", hash.Hex()),
		zap.String("safe", vault.Hex()))

	receipt, err := s.chain.WaitMined(ctx, txHash)
	if err != nil {
		return receipt, err
	}
	if receipt == nil {
		receipt = &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}
	}
	if receipt.TxHash == (common.Hash{}) {
		receipt.TxHash = txHash
	}
	return receipt, nil
}

// Approve encodes material and submits the approval for req, recording each step.
// Failures become an unsuccessful outcome carrying the underlying message.
func (s *Submitter) Approve(ctx context.Context, req *shared.ApprovalRequest, material *shared.ProofMaterial, wallet *Wallet, steps *shared.StepLog) shared.ApprovalOutcome {
	if steps == nil {
		steps = shared.NewStepLog()
	}
	if wallet == nil {
		steps.Add("Error approving hash: " + shared.ErrWalletNotConnected.Error())
		return shared.FailedOutcome("Failed to approve hash: " + shared.ErrWalletNotConnected.Error())
	}

	signature, err := EncodeSignature(material)
	if err != nil {
		steps.Addf("Error approving hash: %v", err)
		return shared.FailedOutcome(fmt.Sprintf("Failed to approve hash: %v", err))
	}
	steps.Addf("Signature generated: %s...", truncate(hexutil.Encode(signature), 20))

	steps.Add("Approving hash with email signer...")
	receipt, err := s.SubmitApproval(ctx, req.SignerAddress, req.HashToApprove, signature, req.VaultAddress, wallet)
	if err != nil {
		s.logger.Warn("Hash approval failed", zap.Error(err), zap.String("hash", req.HashToApprove.Hex()))
		if receipt != nil {
			steps.Addf("Approval transaction hash: %s", receipt.TxHash.Hex())
		}
		steps.Addf("Error approving hash: %v", err)
		return shared.FailedOutcome(fmt.Sprintf("Failed to approve hash: %v", err))
	}

	steps.Addf("Approval transaction hash: %s", receipt.TxHash.Hex())
	steps.Add("Hash approved successfully!")
	return shared.ApprovalOutcome{
		Success:         true,
		TransactionHash: receipt.TxHash.Hex(),
		Message:         "Hash approved successfully",
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
