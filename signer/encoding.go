package signer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"email-signer/shared"
)

// emailAuthMsgComponents is the layout of the signature blob passed to approveHash.
// Field order and nesting must match the signer contract exactly.
var emailAuthMsgComponents = []abi.ArgumentMarshaling{
	{Name: "templateId", Type: "uint256"},
	{Name: "commandParams", Type: "bytes[]"},
	{Name: "skippedCommandPrefix", Type: "uint256"},
	{Name: "proof", Type: "tuple", Components: []abi.ArgumentMarshaling{
		{Name: "domainName", Type: "string"},
		{Name: "publicKeyHash", Type: "bytes32"},
		{Name: "timestamp", Type: "uint256"},
		{Name: "maskedCommand", Type: "string"},
		{Name: "emailNullifier", Type: "bytes32"},
		{Name: "accountSalt", Type: "bytes32"},
		{Name: "isCodeExist", Type: "bool"},
		{Name: "proof", Type: "bytes"},
	}},
}

var signatureArguments abi.Arguments

func init() {
	tupleType, err := abi.NewType("tuple", "", emailAuthMsgComponents)
	if err != nil {
		panic(fmt.Sprintf("invalid email auth tuple type: %v", err))
	}
	signatureArguments = abi.Arguments{{Type: tupleType}}
}

// EncodeSignature ABI-encodes proof material as the single tuple argument expected
// by the signer's verification function. The output is deterministic.
func EncodeSignature(material *shared.ProofMaterial) ([]byte, error) {
	if material == nil {
		return nil, fmt.Errorf("proof material is nil")
	}
	if material.TemplateID == nil || material.SkippedCommandPrefix == nil || material.Proof.Timestamp == nil {
		return nil, fmt.Errorf("proof material has unset integer fields")
	}
	params := material.CommandParams
	if params == nil {
		params = [][]byte{}
	}

	m := *material
	m.CommandParams = params
	packed, err := signatureArguments.Pack(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature: %w", err)
	}
	return packed, nil
}

// DecodeSignature reverses EncodeSignature
func DecodeSignature(data []byte) (*shared.ProofMaterial, error) {
	values, err := signatureArguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("expected one tuple, got %d values", len(values))
	}

	material := new(shared.ProofMaterial)
	converted := abi.ConvertType(values[0], material)
	out, ok := converted.(*shared.ProofMaterial)
	if !ok {
		return nil, fmt.Errorf("unexpected decoded type %T", converted)
	}
	return out, nil
}
