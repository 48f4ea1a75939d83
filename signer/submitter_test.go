package signer_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"email-signer/shared"
	"email-signer/signer"
	"email-signer/signer/signertest"
)

func testWallet(t *testing.T) *signer.Wallet {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return signer.NewWalletFromKey(key, shared.SepoliaChainID)
}

func testMaterial() *shared.ProofMaterial {
	return &shared.ProofMaterial{
		TemplateID:           big.NewInt(5),
		CommandParams:        [][]byte{{0x01}},
		SkippedCommandPrefix: big.NewInt(0),
		Proof: shared.EmailProof{
			DomainName: "example.com",
			Timestamp:  big.NewInt(1),
			Proof:      []byte{0x01, 0x02},
		},
	}
}

func testRequest() *shared.ApprovalRequest {
	return &shared.ApprovalRequest{
		EmailAddress:  "a@b.com",
		SignerAddress: common.HexToAddress("0x5151"),
		VaultAddress:  common.HexToAddress("0x5afe"),
		HashToApprove: common.HexToHash("0xabc"),
	}
}

func TestSubmitApprovalRequiresWallet(t *testing.T) {
	chain := signertest.NewFakeChain()
	submitter := signer.NewSubmitter(chain, shared.WrapLogger(zaptest.NewLogger(t), "submitter-test"))

	_, err := submitter.SubmitApproval(context.Background(), common.Address{}, common.Hash{}, nil, common.Address{}, nil)
	require.ErrorIs(t, err, shared.ErrWalletNotConnected)
	require.Zero(t, chain.ApprovalCount())

	steps := shared.NewStepLog()
	outcome := submitter.Approve(context.Background(), testRequest(), testMaterial(), nil, steps)
	require.False(t, outcome.Success)
	require.Zero(t, chain.ApprovalCount())
}

func TestApproveSuccess(t *testing.T) {
	chain := signertest.NewFakeChain()
	submitter := signer.NewSubmitter(chain, nil)
	wallet := testWallet(t)
	req := testRequest()
	steps := shared.NewStepLog()

	outcome := submitter.Approve(context.Background(), req, testMaterial(), wallet, steps)

	require.True(t, outcome.Success)
	require.NotEmpty(t, outcome.TransactionHash)
	require.Equal(t, 1, chain.ApprovalCount())

	call := chain.Approvals[0]
	require.Equal(t, req.SignerAddress, call.Signer)
	require.Equal(t, req.HashToApprove, call.Hash)
	require.Equal(t, req.VaultAddress, call.Vault)
	require.Equal(t, wallet.Address, call.From)

	expected, err := signer.EncodeSignature(testMaterial())
	require.NoError(t, err)
	require.Equal(t, expected, call.Signature)

	entries := steps.Entries()
	require.True(t, strings.HasSuffix(entries[len(entries)-1], "Hash approved successfully!"))
}

func TestApproveChainFailures(t *testing.T) {
	t.Run("WriteRejected", func(t *testing.T) {
		chain := signertest.NewFakeChain()
		chain.ApproveErr = shared.NewChainError("approveHash", errors.New("user rejected"))
		submitter := signer.NewSubmitter(chain, nil)

		outcome := submitter.Approve(context.Background(), testRequest(), testMaterial(), testWallet(t), nil)
		require.False(t, outcome.Success)
		require.Contains(t, outcome.Message, "user rejected")
	})

	t.Run("ConfirmationFailed", func(t *testing.T) {
		chain := signertest.NewFakeChain()
		chain.ReceiptErr = shared.NewChainError("receipt", errors.New("reverted"))
		submitter := signer.NewSubmitter(chain, nil)

		outcome := submitter.Approve(context.Background(), testRequest(), testMaterial(), testWallet(t), nil)
		require.False(t, outcome.Success)
		require.Contains(t, outcome.Message, "reverted")
		require.Equal(t, 1, chain.ApprovalCount())
	})
}
