package signer

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"email-signer/shared"
)

func sampleMaterial() *shared.ProofMaterial {
	return &shared.ProofMaterial{
		TemplateID:           big.NewInt(31),
		CommandParams:        [][]byte{common.LeftPadBytes([]byte{0x0a, 0xbc}, 32)},
		SkippedCommandPrefix: big.NewInt(0),
		Proof: shared.EmailProof{
			DomainName:     "gmail.com",
			PublicKeyHash:  common.HexToHash("0x0ea9c777dc7110e5a9e89b13f0cfc540e3845ba120b2b6dc24024d61488d4788"),
			Timestamp:      big.NewInt(1715000000),
			MaskedCommand:  "signHash 2748",
			EmailNullifier: common.HexToHash("0x11"),
			AccountSalt:    common.HexToHash("0x22"),
			IsCodeExist:    true,
			Proof:          []byte{0xde, 0xad, 0xbe, 0xef},
		},
	}
}

func TestEncodeSignatureDeterministic(t *testing.T) {
	first, err := EncodeSignature(sampleMaterial())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := EncodeSignature(sampleMaterial())
		require.NoError(t, err)
		require.True(t, bytes.Equal(first, again), "encoding differs on run %d", i)
	}
}

func TestEncodeSignatureLayout(t *testing.T) {
	material := sampleMaterial()
	encoded, err := EncodeSignature(material)
	require.NoError(t, err)

	// The tuple is dynamic, so the head is a single offset word pointing at 0x20,
	// followed by templateId in the first slot of the tuple body.
	require.Equal(t, common.LeftPadBytes([]byte{0x20}, 32), encoded[:32])
	require.Equal(t, common.LeftPadBytes([]byte{31}, 32), encoded[32:64])
	require.Zero(t, len(encoded)%32)

	decoded, err := DecodeSignature(encoded)
	require.NoError(t, err)
	require.Equal(t, 0, material.TemplateID.Cmp(decoded.TemplateID))
	require.Equal(t, material.CommandParams, decoded.CommandParams)
	require.Equal(t, 0, material.SkippedCommandPrefix.Cmp(decoded.SkippedCommandPrefix))
	require.Equal(t, material.Proof.DomainName, decoded.Proof.DomainName)
	require.Equal(t, material.Proof.PublicKeyHash, decoded.Proof.PublicKeyHash)
	require.Equal(t, 0, material.Proof.Timestamp.Cmp(decoded.Proof.Timestamp))
	require.Equal(t, material.Proof.MaskedCommand, decoded.Proof.MaskedCommand)
	require.Equal(t, material.Proof.EmailNullifier, decoded.Proof.EmailNullifier)
	require.Equal(t, material.Proof.AccountSalt, decoded.Proof.AccountSalt)
	require.Equal(t, material.Proof.IsCodeExist, decoded.Proof.IsCodeExist)
	require.Equal(t, material.Proof.Proof, decoded.Proof.Proof)
}

func TestEncodeSignatureFieldSensitivity(t *testing.T) {
	base, err := EncodeSignature(sampleMaterial())
	require.NoError(t, err)

	changed := sampleMaterial()
	changed.Proof.IsCodeExist = false
	other, err := EncodeSignature(changed)
	require.NoError(t, err)
	require.False(t, bytes.Equal(base, other))
}

func TestEncodeSignatureRejectsIncompleteMaterial(t *testing.T) {
	_, err := EncodeSignature(nil)
	require.Error(t, err)

	m := sampleMaterial()
	m.Proof.Timestamp = nil
	_, err = EncodeSignature(m)
	require.Error(t, err)

	m = sampleMaterial()
	m.CommandParams = nil
	_, err = EncodeSignature(m)
	require.NoError(t, err)
}
